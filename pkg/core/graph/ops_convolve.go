// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// This file contains all parts of the Convolve implementation.

// ConvolutionBuilder is a helper to build a convolution computation.
// Create it with Convolve, set the desired parameters and
// when set, call Done.
type ConvolutionBuilder struct {
	graph     *Graph
	x, kernel *Node
	strides   [2]int
	padSame   bool
}

// Convolve prepares a 2D convolution on x with the given kernel.
//
// It returns a ConvolutionBuilder object that can be further configured. Once the
// configuration is finished, call ConvolutionBuilder.Done, and it will return
// the convolved x. The defaults are strides 1 and no padding.
//
// The shape of x should be [batch, height, width, input_channels] (channels last), and
// the shape of the kernel should be [kernel_height, kernel_width, input_channels, output_channels].
// The batch axis may be dynamic.
//
// We follow the Keras convention of calling "channels" the axis that is sometimes referred to by "features" or "depth".
func Convolve(x, kernel *Node) *ConvolutionBuilder {
	conv := &ConvolutionBuilder{
		graph:   validateBuildingGraphFromInputs(x, kernel),
		x:       x,
		kernel:  kernel,
		strides: [2]int{1, 1},
	}
	if x.Rank() != 4 {
		exceptions.Panicf("Convolve: x must be shaped [batch, height, width, channels], got shape %s", x.Shape())
	}
	if kernel.Rank() != 4 {
		exceptions.Panicf("Convolve: kernel must be shaped [height, width, input_channels, output_channels], got shape %s",
			kernel.Shape())
	}
	return conv
}

// Strides sets the strides of the convolution. If one value is given, it is used for both spatial axes,
// otherwise two values (height and width) must be given.
//
// It returns the modified Config object, so calls can be cascaded.
func (conv *ConvolutionBuilder) Strides(strides ...int) *ConvolutionBuilder {
	conv.strides = spatialPair("Convolve.Strides", strides)
	return conv
}

// PadSame adds paddings on the edges of x such that in the end the output
// of the convolution has the same spatial shape as the input, divided by the strides (rounded up).
// Extra padding, if the total is odd, goes to the end, as in TensorFlow and Keras.
//
// It returns the modified Config object, so calls can be cascaded.
func (conv *ConvolutionBuilder) PadSame() *ConvolutionBuilder {
	conv.padSame = true
	return conv
}

// NoPadding removes any paddings, so if the kernel spatial dimensions > 1,
// the output shape will be reduced on the edges ("valid" padding). This is the default.
//
// It returns the modified Config object, so calls can be cascaded.
func (conv *ConvolutionBuilder) NoPadding() *ConvolutionBuilder {
	conv.padSame = false
	return conv
}

// Done indicates that the convolve operation is finished being configured,
// and it updates the computation graph with convolution, and returns the resulting
// Node.
func (conv *ConvolutionBuilder) Done() *Node {
	return newNode(conv.graph, &nodeInputsConvolve{
		strides: conv.strides,
		padSame: conv.padSame,
	}, []*Node{conv.x, conv.kernel})
}

type nodeInputsConvolve struct {
	strides [2]int
	padSame bool
}

func (ni *nodeInputsConvolve) Type() NodeType { return NodeTypeConvolve }

func (ni *nodeInputsConvolve) String() string {
	padding := "valid"
	if ni.padSame {
		padding = "same"
	}
	return fmt.Sprintf("Convolve(strides=%v, padding=%s)", ni.strides, padding)
}

// resolvePaddings returns the paddings for the given spatial input dimensions and kernel sizes.
func (ni *nodeInputsConvolve) resolvePaddings(inputDims, kernelDims [2]int) (paddings [2]PadAxis) {
	if !ni.padSame {
		return
	}
	for axis := range 2 {
		paddings[axis] = samePadding(inputDims[axis], kernelDims[axis], ni.strides[axis])
	}
	return
}

func (ni *nodeInputsConvolve) outputShape(inputs []shapes.Shape) shapes.Shape {
	x, kernel := inputs[0], inputs[1]
	var inputDims, kernelDims [2]int
	for axis := range 2 {
		inputDims[axis] = staticDim(NodeTypeConvolve, x, axis+1, "spatial")
		kernelDims[axis] = kernel.Dimensions[axis]
	}
	inChannels := staticDim(NodeTypeConvolve, x, 3, "channels")
	if kernel.Dimensions[2] != inChannels {
		exceptions.Panicf("Convolve: x shape %s has %d channels, but kernel shape %s expects %d",
			x, inChannels, kernel, kernel.Dimensions[2])
	}
	paddings := ni.resolvePaddings(inputDims, kernelDims)
	output := x.Clone()
	for axis := range 2 {
		output.Dimensions[axis+1] = windowOutputDim(NodeTypeConvolve, inputDims[axis], kernelDims[axis],
			ni.strides[axis], paddings[axis])
	}
	output.Dimensions[3] = kernel.Dimensions[3]
	return output
}

func (ni *nodeInputsConvolve) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	x, kernel := inputs[0].Shape(), inputs[1].Shape()
	paddings := ni.resolvePaddings([2]int{x.Dimensions[1], x.Dimensions[2]},
		[2]int{kernel.Dimensions[0], kernel.Dimensions[1]})
	execConvolve(output, inputs[0], inputs[1], ni.strides, paddings)
}

// spatialPair expands one or two values to the two spatial axes.
func spatialPair(method string, values []int) (pair [2]int) {
	switch len(values) {
	case 1:
		pair = [2]int{values[0], values[0]}
	case 2:
		pair = [2]int{values[0], values[1]}
	default:
		exceptions.Panicf("%s: requires 1 or 2 values, got %v", method, values)
	}
	if pair[0] <= 0 || pair[1] <= 0 {
		exceptions.Panicf("%s: values must be > 0, got %v", method, values)
	}
	return
}

// samePadding returns the padding TensorFlow uses for "same" padding: the output has ceil(input/stride) elements,
// and if the total padding is odd the extra element goes at the end.
func samePadding(inputDim, windowDim, stride int) PadAxis {
	outputDim := (inputDim + stride - 1) / stride
	total := max((outputDim-1)*stride+windowDim-inputDim, 0)
	return PadAxis{Start: total / 2, End: total - total/2}
}

// windowOutputDim returns the number of positions of a sliding window over the padded input.
func windowOutputDim(op NodeType, inputDim, windowDim, stride int, padding PadAxis) int {
	padded := inputDim + padding.Start + padding.End
	if padded < windowDim {
		exceptions.Panicf("%s: window of size %d larger than the (padded) input dimension %d", op, windowDim, padded)
	}
	return (padded-windowDim)/stride + 1
}
