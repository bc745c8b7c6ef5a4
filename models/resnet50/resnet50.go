// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package resnet50 builds the ResNet50 image classification model, binds Keras pretrained weights to it by
// layer name, and runs inference.
//
// Example:
//
//	ctx := context.New()
//	network, err := resnet50.New(ctx).PreTrained(weights.NpyDir(dir)).Done()
//	...
//	probs, err := network.Predict(resnet50.PreprocessImage(img, resnet50.DefaultImageSize))
//	predictions, err := resnet50.DecodePredictions(probs, labels, 5)
//
// Based on "Deep Residual Learning for Image Recognition" (Kaiming He, Xiangyu Zhang, Shaoqing Ren, Jian Sun),
// https://arxiv.org/abs/1512.03385, with the layer names of the Keras implementation.
package resnet50

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/gomlx/resnet50/pkg/ml/layers"
	"github.com/gomlx/resnet50/pkg/ml/layers/activations"
	"github.com/gomlx/resnet50/pkg/ml/layers/batchnorm"
	"github.com/gomlx/resnet50/pkg/ml/weights"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultImageSize is the height and width of the images the pretrained model was trained on.
	DefaultImageSize = 224

	// MinimumImageSize is the smallest height or width accepted: below that the final feature map
	// collapses before the 7x7 average pooling of the head.
	MinimumImageSize = 197

	// DefaultNumClasses is the number of ImageNet classes of the pretrained head.
	DefaultNumClasses = 1000

	// NumChannels of the input images (RGB).
	NumChannels = 3

	// NumFeatures is the number of channels of the last stage, the size of the pooled embedding.
	NumFeatures = 2048

	// InputName is the name of the graph parameter fed with the images.
	InputName = "image"
)

// Context hyperparameters, see SetDefaultParams and FromContext.
const (
	ParamImageSize  = "image_size"
	ParamNumClasses = "num_classes"
	ParamIncludeTop = "include_top"
	ParamPooling    = "pooling"
	ParamTopK       = "top_k"
)

// SetDefaultParams sets the default values of the hyperparameters used by FromContext, and the
// batch normalization epsilon.
func SetDefaultParams(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamImageSize:  DefaultImageSize,
		ParamNumClasses: DefaultNumClasses,
		ParamIncludeTop: true,
		ParamPooling:    PoolingNone.String(),
		ParamTopK:       DefaultTopK,

		batchnorm.ParamEpsilon: batchnorm.DefaultEpsilon,
	})
}

// Pooling applied to the final feature map when the classification head is not included.
type Pooling int

const (
	// PoolingNone outputs the final feature map, shaped `[batch, height/32, width/32, 2048]`.
	PoolingNone Pooling = iota

	// PoolingAverage averages the final feature map over the spatial axes, outputting `[batch, 2048]`.
	PoolingAverage

	// PoolingMax takes the maximum of the final feature map over the spatial axes, outputting `[batch, 2048]`.
	PoolingMax
)

var poolingNames = []string{"none", "avg", "max"}

// String implements fmt.Stringer.
func (p Pooling) String() string {
	if p < 0 || int(p) >= len(poolingNames) {
		return fmt.Sprintf("Pooling(%d)", int(p))
	}
	return poolingNames[p]
}

// ParsePooling converts a pooling name ("none", "avg" or "average", "max") to Pooling.
func ParsePooling(name string) (Pooling, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return PoolingNone, nil
	case "avg", "average":
		return PoolingAverage, nil
	case "max":
		return PoolingMax, nil
	}
	return PoolingNone, errors.Errorf("unknown pooling %q, valid values are %v", name, poolingNames)
}

// UnmarshalText implements encoding.TextUnmarshaler, so pooling can be given as a string hyperparameter.
func (p *Pooling) UnmarshalText(text []byte) error {
	var err error
	*p, err = ParsePooling(string(text))
	return err
}

// stage of the residual network.
type stage struct {
	filters   [3]int
	numBlocks int
	stride    int
}

// stagePlan of ResNet50, using the Keras stage numbering, starting at 2 (stage 1 is the stem).
var stagePlan = []stage{
	{filters: [3]int{64, 64, 256}, numBlocks: 3, stride: 1},
	{filters: [3]int{128, 128, 512}, numBlocks: 4, stride: 2},
	{filters: [3]int{256, 256, 1024}, numBlocks: 6, stride: 2},
	{filters: [3]int{512, 512, 2048}, numBlocks: 3, stride: 2},
}

const firstStage = 2

// Config for building a ResNet50 Network. Create it with New, set the desired options, and call Done.
type Config struct {
	ctx        *context.Context
	inputShape [3]int
	includeTop bool
	pooling    Pooling
	numClasses int
	store      weights.Store
}

// New creates a configuration to build ResNet50 on the given context: variables are created in ctx's current
// scope, under the Keras layer names.
//
// The default is an input of 224x224x3 with the 1000 classes classification head, and no pretrained weights:
// variables are initialized deterministically (see context.New).
func New(ctx *context.Context) *Config {
	return &Config{
		ctx:        ctx,
		inputShape: [3]int{DefaultImageSize, DefaultImageSize, NumChannels},
		includeTop: true,
		numClasses: DefaultNumClasses,
	}
}

// FromContext creates a Config with the values of the context hyperparameters, see SetDefaultParams.
// Hyperparameters not set use New defaults.
func FromContext(ctx *context.Context) (cfg *Config, err error) {
	err = exceptions.TryCatch[error](func() {
		size := context.GetParamOr(ctx, ParamImageSize, DefaultImageSize)
		cfg = New(ctx).
			InputShape(size, size, NumChannels).
			IncludeTop(context.GetParamOr(ctx, ParamIncludeTop, true)).
			NumClasses(context.GetParamOr(ctx, ParamNumClasses, DefaultNumClasses)).
			Pooling(context.GetParamOr(ctx, ParamPooling, PoolingNone))
	})
	if err != nil {
		return nil, errors.WithMessage(err, "resnet50.FromContext")
	}
	return cfg, nil
}

// InputShape sets the shape of one image: height, width and channels. The batch dimension is left dynamic.
// Height and width must be >= MinimumImageSize.
func (cfg *Config) InputShape(height, width, channels int) *Config {
	cfg.inputShape = [3]int{height, width, channels}
	return cfg
}

// IncludeTop sets whether to include the classification head: a 7x7 average pooling, followed by a dense layer
// to NumClasses and a softmax. Default is true.
func (cfg *Config) IncludeTop(includeTop bool) *Config {
	cfg.includeTop = includeTop
	return cfg
}

// Pooling sets the pooling of the final feature map when the head is not included. Default is PoolingNone.
func (cfg *Config) Pooling(pooling Pooling) *Config {
	cfg.pooling = pooling
	return cfg
}

// NumClasses sets the number of classes of the classification head. Default is 1000.
func (cfg *Config) NumClasses(numClasses int) *Config {
	cfg.numClasses = numClasses
	return cfg
}

// PreTrained sets the store of pretrained weights, bound by name once the network is built.
// The store must match IncludeTop: use the weights without the head if the head is not included.
func (cfg *Config) PreTrained(store weights.Store) *Config {
	cfg.store = store
	return cfg
}

// Validate the configuration.
func (cfg *Config) Validate() error {
	height, width, channels := cfg.inputShape[0], cfg.inputShape[1], cfg.inputShape[2]
	if height < MinimumImageSize || width < MinimumImageSize {
		return errors.Errorf("resnet50: input shape %v is too small, height and width must be >= %d",
			cfg.inputShape, MinimumImageSize)
	}
	if channels <= 0 {
		return errors.Errorf("resnet50: input shape %v must have a positive number of channels", cfg.inputShape)
	}
	if cfg.pooling < PoolingNone || cfg.pooling > PoolingMax {
		return errors.Errorf("resnet50: invalid pooling %s", cfg.pooling)
	}
	if cfg.includeTop && cfg.numClasses <= 0 {
		return errors.Errorf("resnet50: invalid number of classes %d", cfg.numClasses)
	}
	if cfg.store != nil {
		if channels != NumChannels {
			return errors.Errorf("resnet50: pretrained weights require %d input channels, got input shape %v",
				NumChannels, cfg.inputShape)
		}
		if cfg.includeTop {
			if height != DefaultImageSize || width != DefaultImageSize {
				return errors.Errorf("resnet50: pretrained weights with the classification head require input "+
					"shape [%d %d %d], got %v", DefaultImageSize, DefaultImageSize, NumChannels, cfg.inputShape)
			}
			if cfg.numClasses != DefaultNumClasses {
				return errors.Errorf("resnet50: pretrained weights with the classification head require %d classes, "+
					"got %d", DefaultNumClasses, cfg.numClasses)
			}
		}
	}
	return nil
}

// Done builds the Network, and if a store of pretrained weights was given, binds them to its parameters.
func (cfg *Config) Done() (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	net := &Network{
		ctx:    cfg.ctx,
		config: *cfg,
		graph:  NewGraph("resnet50"),
	}
	net.config.store = nil
	err := exceptions.TryCatch[error](func() {
		shape := MakeShape(1, cfg.inputShape[0], cfg.inputShape[1], cfg.inputShape[2]).WithDynamicAxis(0, "batch")
		net.input = Parameter(net.graph, InputName, shape)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "resnet50: creating input")
	}
	if err = net.build(); err != nil {
		return nil, err
	}
	if err = net.checkUniqueParameters(); err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() { net.graph.Compile(net.output) })
	if err != nil {
		return nil, errors.WithMessage(err, "resnet50: compiling graph")
	}
	klog.V(1).Infof("resnet50: built %d layers, %d parameters (%d values), output shape %s",
		len(net.layers), len(net.parameters), net.NumParameters(), net.output.Shape())

	if cfg.store != nil {
		report, err := net.LoadWeights(cfg.store)
		if err != nil {
			return nil, err
		}
		if len(report.MissingInStore) > 0 {
			klog.Warningf("resnet50: %d parameters not found in the pretrained weights: %v",
				len(report.MissingInStore), report.MissingInStore)
		}
	}
	return net, nil
}

// build the stem, the residual stages and the head.
func (net *Network) build() error {
	ctx := net.ctx
	var x *Node
	err := exceptions.TryCatch[error](func() {
		x = Pad(net.input, 0, PadAxis{}, PadAxis{Start: 3, End: 3}, PadAxis{Start: 3, End: 3})
		conv, bn := convBatchNorm(ctx, x, StemConvName, StemBatchNormName, 64, 7, 2)
		net.addLayer(StemConvName, LayerTypeConv, conv)
		net.addLayer(StemBatchNormName, LayerTypeBatchNorm, bn)
		x = MaxPool(activations.Apply(activations.TypeRelu, bn)).Window(3).Strides(2).NoPadding().Done()
	})
	if err != nil {
		return errors.WithMessage(err, "resnet50: building stem")
	}

	for stageIdx, st := range stagePlan {
		stageNum := firstStage + stageIdx
		for blockIdx := range st.numBlocks {
			label := BlockLabel(blockIdx)
			var (
				b   Block
				err error
			)
			if blockIdx == 0 {
				b, err = ProjectionBlock(ctx, x, 3, st.filters, stageNum, label, st.stride)
			} else {
				b, err = IdentityBlock(ctx, x, 3, st.filters, stageNum, label)
			}
			if err != nil {
				return errors.WithMessage(err, "resnet50")
			}
			net.blocks = append(net.blocks, b)
			for _, layer := range b.Layers {
				net.addLayer(layer.Name, layer.Type, layer.Output)
			}
			x = b.Output
		}
	}

	err = exceptions.TryCatch[error](func() {
		switch {
		case net.config.includeTop:
			x = MeanPool(x).Window(7).NoPadding().Done()
			net.addLayer(AvgPoolName, LayerTypeAvgPool, x)
			x = Flatten(x)
			x = layers.Dense(ctx.In(HeadDenseName), x, true, net.config.numClasses)
			net.addLayer(HeadDenseName, LayerTypeDense, x)
			x = activations.Apply(activations.TypeSoftmax, x)
		case net.config.pooling == PoolingAverage:
			x = ReduceMean(x, 1, 2)
			net.addLayer("global_average_pooling", LayerTypeGlobalAvg, x)
		case net.config.pooling == PoolingMax:
			x = ReduceMax(x, 1, 2)
			net.addLayer("global_max_pooling", LayerTypeGlobalMax, x)
		}
	})
	if err != nil {
		return errors.WithMessage(err, "resnet50: building head")
	}
	net.output = x
	return nil
}

// checkUniqueParameters asserts that no two parameters share a name.
func (net *Network) checkUniqueParameters() error {
	seen := make(map[string]bool, len(net.parameters))
	for _, v := range net.parameters {
		name := v.ParameterName()
		if seen[name] {
			return errors.Errorf("resnet50: duplicate parameter name %q", name)
		}
		seen[name] = true
	}
	return nil
}
