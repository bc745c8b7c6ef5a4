// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/ml/context"
)

// ConvBuilder is a helper to build a convolution computation. Create it with Convolution, set the desired parameters,
// and when all is set, call Done.
type ConvBuilder struct {
	ctx            *context.Context
	graph          *Graph
	x              *Node
	outputChannels int
	kernelSize     [2]int
	bias           bool
	strides        [2]int
	padSame        bool
	newScope       bool
}

// Convolution prepares one 2D convolution on x, shaped `[batch, height, width, channels]`.
//
// It returns a ConvBuilder object for configuration.
// Once it is set up, call `ConvBuilder.Done` and it will return the convolved x.
//
// Two parameters need setting: Channels and KernelSize. It will fail if they are not set.
// The defaults are strides 1, no padding ("valid") and a bias term.
func Convolution(ctx *context.Context, x *Node) *ConvBuilder {
	if x.Rank() != 4 {
		exceptions.Panicf("layers.Convolution: x must be shaped [batch, height, width, channels], got %s", x.Shape())
	}
	conv := &ConvBuilder{
		ctx:      ctx,
		graph:    x.Graph(),
		x:        x,
		newScope: true,
	}
	return conv.NoPadding().UseBias(true).Strides(1)
}

// Channels sets the number of output channels.
// There is no default, and this number must be set before Done is called.
func (conv *ConvBuilder) Channels(channels int) *ConvBuilder {
	if channels <= 0 {
		exceptions.Panicf("number of output channels must be > 0, it was set to %d", channels)
	}
	conv.outputChannels = channels
	return conv
}

// Filters is an alias for Channels.
func (conv *ConvBuilder) Filters(filters int) *ConvBuilder {
	return conv.Channels(filters)
}

// KernelSize sets the kernel size for both spatial axes.
// There is no default, and this value must be set before Done is called.
func (conv *ConvBuilder) KernelSize(size int) *ConvBuilder {
	return conv.KernelSizePerAxis(size, size)
}

// KernelSizePerAxis sets the kernel size for the height and width axes.
func (conv *ConvBuilder) KernelSizePerAxis(height, width int) *ConvBuilder {
	if height <= 0 || width <= 0 {
		exceptions.Panicf("invalid kernel size (%d, %d)", height, width)
	}
	conv.kernelSize = [2]int{height, width}
	return conv
}

// UseBias sets whether to add a bias term to the convolution. Default is true.
func (conv *ConvBuilder) UseBias(useBias bool) *ConvBuilder {
	conv.bias = useBias
	return conv
}

// PadSame adds paddings on the edges of x such that in the end the output
// of the convolution has the same shape as the input (assuming strides=1).
//
// The default is NoPadding.
func (conv *ConvBuilder) PadSame() *ConvBuilder {
	conv.padSame = true
	return conv
}

// NoPadding removes any paddings, so if the kernel spatial dimensions > 1,
// the output shape will be reduced on the edges.
//
// This is the default.
func (conv *ConvBuilder) NoPadding() *ConvBuilder {
	conv.padSame = false
	return conv
}

// Strides sets the strides of the convolution, the same for both spatial axes.
// The default is 1.
//
// A value of 2 will half the input size, since a convolution will be done at every other position.
func (conv *ConvBuilder) Strides(strides int) *ConvBuilder {
	return conv.StridePerAxis(strides, strides)
}

// StridePerAxis sets the strides for the height and width axes.
func (conv *ConvBuilder) StridePerAxis(height, width int) *ConvBuilder {
	if height <= 0 || width <= 0 {
		exceptions.Panicf("invalid strides (%d, %d)", height, width)
	}
	conv.strides = [2]int{height, width}
	return conv
}

// CurrentScope configures the convolution not to create a sub-scope for the kernel weights it needs,
// and instead use the current one provided in Convolution.
//
// By default, Convolution will create a sub-scope named "conv".
func (conv *ConvBuilder) CurrentScope() *ConvBuilder {
	conv.newScope = false
	return conv
}

// Done indicates that the Convolution layer is finished being configured. It then
// creates the convolution and its kernel (variables) and returns the resulting Node.
//
// The kernel is shaped `[kernel_height, kernel_width, input_channels, output_channels]`, and the
// bias `[output_channels]`.
func (conv *ConvBuilder) Done() *Node {
	ctx := conv.ctx
	if conv.newScope {
		ctx = ctx.In("conv")
	}
	if conv.kernelSize == [2]int{} || conv.outputChannels <= 0 {
		exceptions.Panicf("layers.Convolution requires Channels and KernelSize to be set")
	}
	inputChannels := conv.x.Shape().Dim(-1)
	if inputChannels == shapes.DynamicDim {
		exceptions.Panicf("layers.Convolution: x shape %s must have a static channels axis", conv.x.Shape())
	}
	dtype := conv.x.Shape().DType
	kernelVar := ctx.WithInitializer(context.GlorotUniformFn(0)).VariableWithShape(KernelName,
		shapes.Make(dtype, conv.kernelSize[0], conv.kernelSize[1], inputChannels, conv.outputChannels))
	builder := Convolve(conv.x, kernelVar.ValueGraph(conv.graph)).Strides(conv.strides[0], conv.strides[1])
	if conv.padSame {
		builder = builder.PadSame()
	} else {
		builder = builder.NoPadding()
	}
	output := builder.Done()
	if conv.bias {
		biasVar := ctx.WithInitializer(context.Zero).VariableWithShape(BiasName, shapes.Make(dtype, conv.outputChannels))
		output = AddBias(output, biasVar.ValueGraph(conv.graph))
	}
	return output
}
