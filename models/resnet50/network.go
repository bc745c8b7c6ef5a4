// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"strings"
	"time"

	"github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/gomlx/resnet50/pkg/ml/weights"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Network is a built ResNet50: a compiled graph from one input, the images, to one output, and its parameters.
//
// After it is built, its parameters are only changed by LoadWeights, and Predict can be called
// concurrently.
type Network struct {
	ctx           *context.Context
	config        Config
	graph         *graph.Graph
	input, output *graph.Node
	parameters    []*context.Variable
	blocks        []Block
	layers        []LayerInfo
}

// addLayer registers a named layer and the parameters it owns.
func (net *Network) addLayer(name, layerType string, output *graph.Node) {
	net.layers = append(net.layers, LayerInfo{Name: name, Type: layerType, Output: output})
	net.parameters = append(net.parameters, layerParameters(net.ctx, name)...)
}

// Graph returns the compiled computation graph.
func (net *Network) Graph() *graph.Graph { return net.graph }

// Input returns the input node, shaped `[batch, height, width, channels]` with a dynamic batch axis.
func (net *Network) Input() *graph.Node { return net.input }

// Output returns the output node: the probabilities `[batch, numClasses]` if the head is included, otherwise
// the features.
func (net *Network) Output() *graph.Node { return net.output }

// InputShape returns the shape of the input, with a dynamic batch axis.
func (net *Network) InputShape() shapes.Shape { return net.input.Shape() }

// OutputShape returns the shape of the output, with a dynamic batch axis.
func (net *Network) OutputShape() shapes.Shape { return net.output.Shape() }

// IncludeTop returns whether the network includes the classification head.
func (net *Network) IncludeTop() bool { return net.config.includeTop }

// Pooling returns the pooling of the features, used when the head is not included.
func (net *Network) Pooling() Pooling { return net.config.pooling }

// NumClasses returns the number of classes of the classification head.
func (net *Network) NumClasses() int { return net.config.numClasses }

// Blocks returns the residual blocks, in order.
func (net *Network) Blocks() []Block { return net.blocks }

// Layers returns the named layers, in order.
func (net *Network) Layers() []LayerInfo { return net.layers }

// Parameters returns the parameters of the network, in creation order.
func (net *Network) Parameters() []*context.Variable { return net.parameters }

// ParameterNames returns the names of the parameters ("<layer>/<weight>"), in creation order.
func (net *Network) ParameterNames() []string {
	names := make([]string, len(net.parameters))
	for ii, v := range net.parameters {
		names[ii] = v.ParameterName()
	}
	return names
}

// NumParameters returns the total number of values of all the parameters.
func (net *Network) NumParameters() int {
	var total int
	for _, v := range net.parameters {
		total += v.Shape().Size()
	}
	return total
}

// LoadWeights binds the weights of store to the parameters of the network, by name.
// Names in store are relative to the context scope where the network was built.
//
// Store names without a parameter, and parameters without a weight in the store, are listed in the report
// and otherwise ignored. A weight with a different shape from its parameter is an error, and
// then no parameter is changed.
func (net *Network) LoadWeights(store weights.Store) (*weights.Report, error) {
	start := time.Now()
	prefix := strings.TrimPrefix(net.ctx.Scope(), context.ScopeSeparator)
	report, err := weights.Bind(net.parameters, weights.WithPrefix(store, prefix))
	if err != nil {
		return nil, errors.WithMessage(err, "resnet50.LoadWeights")
	}
	klog.V(1).Infof("resnet50: loaded %d weights in %s", len(report.Matched), time.Since(start))
	return report, nil
}

// Predict runs the network on a batch of preprocessed images, shaped `[batch, height, width, channels]`,
// see Preprocess.
//
// It returns the output of the network for each image: the classes probabilities if the head is included,
// otherwise the features.
func (net *Network) Predict(images *tensors.Tensor) (*tensors.Tensor, error) {
	if images == nil {
		return nil, errors.New("resnet50.Predict: nil images")
	}
	if !net.input.Shape().Matches(images.Shape()) {
		return nil, errors.Errorf("resnet50.Predict: images shape %s doesn't match the input shape %s",
			images.Shape(), net.input.Shape())
	}
	params := graph.ParamsMap{net.input: images}
	net.ctx.ExecSetVariablesInParams(params, net.graph)
	start := time.Now()
	outputs, err := net.graph.RunWithMap(params)
	if err != nil {
		return nil, errors.WithMessage(err, "resnet50.Predict")
	}
	klog.V(1).Infof("resnet50: predicted %d images in %s", images.Shape().Dim(0), time.Since(start))
	return outputs[0], nil
}

// LayerSummary describes the output shape and the number of parameter values of one layer.
type LayerSummary struct {
	Name, Type    string
	OutputShape   shapes.Shape
	NumParameters int
}

// Summary returns the description of all named layers, in order.
func (net *Network) Summary() []LayerSummary {
	summary := make([]LayerSummary, 0, len(net.layers))
	for _, layer := range net.layers {
		var numParams int
		for _, v := range layerParameters(net.ctx, layer.Name) {
			numParams += v.Shape().Size()
		}
		summary = append(summary, LayerSummary{
			Name:          layer.Name,
			Type:          layer.Type,
			OutputShape:   layer.Output.Shape(),
			NumParameters: numParams,
		})
	}
	return summary
}
