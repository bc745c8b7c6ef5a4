// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/gomlx/resnet50/pkg/ml/layers"
	"github.com/gomlx/resnet50/pkg/ml/layers/activations"
	"github.com/gomlx/resnet50/pkg/ml/layers/batchnorm"
	"github.com/pkg/errors"
)

// Block is a residual block: one input, one output, and the parameters it owns.
type Block struct {
	// Name of the block, e.g. "3b".
	Name string

	Input, Output *Node

	// Parameters owned by the block, in creation order.
	Parameters []*context.Variable

	// Layers of the block, convolutions and batch normalizations, in creation order.
	Layers []LayerInfo
}

// LayerInfo describes one named layer of the network.
type LayerInfo struct {
	Name, Type string

	// Output of the layer, before any activation.
	Output *Node
}

// Layer types, used by LayerInfo.
const (
	LayerTypeConv      = "Convolution"
	LayerTypeBatchNorm = "BatchNormalization"
	LayerTypeAvgPool   = "AveragePooling"
	LayerTypeDense     = "Dense"
	LayerTypeGlobalAvg = "GlobalAveragePooling"
	LayerTypeGlobalMax = "GlobalMaxPooling"
)

// IdentityBlock builds a residual block whose shortcut is the input itself:
//
//	1x1 conv (2a) -> BN -> ReLU -> kxk conv, same padding (2b) -> BN -> ReLU -> 1x1 conv (2c) -> BN
//	-> Add(input) -> ReLU
//
// x must be shaped `[batch, height, width, channels]`, and filters[2] must equal the channels, since the
// output shape is the same as the input shape. Otherwise, an error is returned before any variable is created.
func IdentityBlock(ctx *context.Context, x *Node, kernelSize int, filters [3]int, stage int, block string) (Block, error) {
	if err := checkBlockArgs(x, kernelSize, filters, 1); err != nil {
		return Block{}, errors.WithMessagef(err, "IdentityBlock(%s)", BlockName(stage, block))
	}
	if channels := x.Shape().Dim(-1); channels != filters[2] {
		return Block{}, errors.Errorf("IdentityBlock(%s): input has %d channels, but filters[2]=%d: they must be equal "+
			"for the residual Add", BlockName(stage, block), channels, filters[2])
	}
	return buildBlock(ctx, x, kernelSize, filters, stage, block, 1, false)
}

// ProjectionBlock builds a residual block whose shortcut is a strided 1x1 convolution (branch "1") followed by
// batch normalization, projecting the input to filters[2] channels:
//
//	main: 1x1 conv, stride (2a) -> BN -> ReLU -> kxk conv, same padding (2b) -> BN -> ReLU -> 1x1 conv (2c) -> BN
//	shortcut: 1x1 conv, stride (1) -> BN
//	output: ReLU(main + shortcut)
//
// The output spatial dimensions are `(in-1)/stride+1` (that is `in/stride` when divisible), and the channels are
// filters[2]. It's used as the first block of every stage.
func ProjectionBlock(ctx *context.Context, x *Node, kernelSize int, filters [3]int, stage int, block string, stride int) (Block, error) {
	if err := checkBlockArgs(x, kernelSize, filters, stride); err != nil {
		return Block{}, errors.WithMessagef(err, "ProjectionBlock(%s)", BlockName(stage, block))
	}
	return buildBlock(ctx, x, kernelSize, filters, stage, block, stride, true)
}

func checkBlockArgs(x *Node, kernelSize int, filters [3]int, stride int) error {
	if x.Rank() != 4 {
		return errors.Errorf("input must be shaped [batch, height, width, channels], got %s", x.Shape())
	}
	for axis := 1; axis < 4; axis++ {
		if x.Shape().Dim(axis) == shapes.DynamicDim {
			return errors.Errorf("input shape %s must have static spatial and channels dimensions", x.Shape())
		}
	}
	if kernelSize <= 0 || kernelSize%2 == 0 {
		return errors.Errorf("kernelSize must be a positive odd number, got %d", kernelSize)
	}
	for _, f := range filters {
		if f <= 0 {
			return errors.Errorf("filters must be positive, got %v", filters)
		}
	}
	if stride <= 0 {
		return errors.Errorf("stride must be positive, got %d", stride)
	}
	return nil
}

// buildBlock builds either block template, converting graph building panics to errors.
func buildBlock(ctx *context.Context, x *Node, kernelSize int, filters [3]int, stage int, block string,
	stride int, projection bool) (Block, error) {
	b := Block{Name: BlockName(stage, block), Input: x}
	err := exceptions.TryCatch[error](func() {
		convBN := func(input *Node, branch string, channels, kernel, stride int, relu bool) *Node {
			convName := LayerName(KindConv, stage, block, branch)
			bnName := LayerName(KindBatchNorm, stage, block, branch)
			conv, bn := convBatchNorm(ctx, input, convName, bnName, channels, kernel, stride)
			b.Layers = append(b.Layers, LayerInfo{convName, LayerTypeConv, conv}, LayerInfo{bnName, LayerTypeBatchNorm, bn})
			if relu {
				return activations.Apply(activations.TypeRelu, bn)
			}
			return bn
		}
		main := convBN(x, Branch2a, filters[0], 1, stride, true)
		main = convBN(main, Branch2b, filters[1], kernelSize, 1, true)
		main = convBN(main, Branch2c, filters[2], 1, 1, false)
		shortcut := x
		if projection {
			shortcut = convBN(x, BranchShortcut, filters[2], 1, stride, false)
		}
		b.Output = activations.Apply(activations.TypeRelu, Add(main, shortcut))
	})
	if err != nil {
		return Block{}, errors.WithMessagef(err, "building block %s", b.Name)
	}
	for _, layer := range b.Layers {
		b.Parameters = append(b.Parameters, layerParameters(ctx, layer.Name)...)
	}
	return b, nil
}

// convBatchNorm adds a convolution layer (with bias) followed by batch normalization, and returns the output
// of both. The convolution uses "same" padding for kernels larger than 1 in residual blocks.
func convBatchNorm(ctx *context.Context, x *Node, convName, bnName string, channels, kernelSize, stride int) (conv, bn *Node) {
	builder := layers.Convolution(ctx.In(convName), x).Filters(channels).KernelSize(kernelSize).Strides(stride).CurrentScope()
	if kernelSize > 1 && convName != StemConvName {
		builder = builder.PadSame()
	}
	conv = builder.Done()
	bn = batchnorm.New(ctx.In(bnName), conv, -1).CurrentScope().Done()
	return conv, bn
}

// layerParameters returns the variables of the layer, in creation order.
func layerParameters(ctx *context.Context, layer string) []*context.Variable {
	var vars []*context.Variable
	for v := range ctx.In(layer).IterVariablesInScope() {
		vars = append(vars, v)
	}
	return vars
}
