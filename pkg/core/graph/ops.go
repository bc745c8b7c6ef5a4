// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// sameDimensions checks that the shapes have the same dimensions, including the position of dynamic axes.
func sameDimensions(op NodeType, s1, s2 shapes.Shape) {
	if s1.DType != s2.DType || !slices.Equal(s1.Dimensions, s2.Dimensions) {
		exceptions.Panicf("%s: incompatible shapes %s and %s", op, s1, s2)
	}
}

// staticDim returns shape.Dim(axis), and panics if it is dynamic.
func staticDim(op NodeType, shape shapes.Shape, axis int, axisDesc string) int {
	dim := shape.Dim(axis)
	if dim == shapes.DynamicDim {
		exceptions.Panicf("%s: the %s axis of shape %s must be static", op, axisDesc, shape)
	}
	return dim
}

// PadAxis defines the amount of padding preceding and following an axis.
type PadAxis struct {
	Start, End int
}

type nodeInputsPad struct {
	fillValue  float32
	axesConfig []PadAxis
}

// Pad x at start and end of each axis, with the given fillValue.
// If fewer axesConfig values are given than the rank of x, the remaining axes are not padded.
//
// Dynamic axes cannot be padded.
//
// Example: ZeroPadding2D((3,3)) on a [batch, height, width, channels] image:
//
//	Pad(x, 0, PadAxis{}, PadAxis{Start: 3, End: 3}, PadAxis{Start: 3, End: 3})
func Pad(x *Node, fillValue float32, axesConfig ...PadAxis) *Node {
	g := validateBuildingGraphFromInputs(x)
	if len(axesConfig) > x.Rank() {
		exceptions.Panicf("Pad: %d axes configured for x with rank %d", len(axesConfig), x.Rank())
	}
	axesConfig = slices.Clone(axesConfig)
	for len(axesConfig) < x.Rank() {
		axesConfig = append(axesConfig, PadAxis{})
	}
	return newNode(g, &nodeInputsPad{fillValue: fillValue, axesConfig: axesConfig}, []*Node{x})
}

func (ni *nodeInputsPad) Type() NodeType { return NodeTypePad }

func (ni *nodeInputsPad) String() string {
	return fmt.Sprintf("Pad(%v, fill=%g)", ni.axesConfig, ni.fillValue)
}

func (ni *nodeInputsPad) outputShape(inputs []shapes.Shape) shapes.Shape {
	output := inputs[0].Clone()
	for axis, pad := range ni.axesConfig {
		if pad.Start < 0 || pad.End < 0 {
			exceptions.Panicf("Pad: negative padding %v for axis %d", pad, axis)
		}
		if pad.Start == 0 && pad.End == 0 {
			continue
		}
		output.Dimensions[axis] = staticDim(NodeTypePad, output, axis, "padded") + pad.Start + pad.End
	}
	return output
}

func (ni *nodeInputsPad) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	execPad(output, inputs[0], ni.fillValue, ni.axesConfig)
}

type nodeInputsAdd struct{}

// Add returns the element-wise sum of x and y, which must have the same shape.
func Add(x, y *Node) *Node {
	g := validateBuildingGraphFromInputs(x, y)
	return newNode(g, &nodeInputsAdd{}, []*Node{x, y})
}

func (ni *nodeInputsAdd) Type() NodeType { return NodeTypeAdd }

func (ni *nodeInputsAdd) String() string { return "Add" }

func (ni *nodeInputsAdd) outputShape(inputs []shapes.Shape) shapes.Shape {
	sameDimensions(NodeTypeAdd, inputs[0], inputs[1])
	return inputs[0].Clone()
}

func (ni *nodeInputsAdd) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	out, x, y := mutableFlat(output), constFlat(inputs[0]), constFlat(inputs[1])
	for ii := range out {
		out[ii] = x[ii] + y[ii]
	}
}

type nodeInputsAddBias struct{}

// AddBias adds the rank-1 bias to the last axis of x.
func AddBias(x, bias *Node) *Node {
	g := validateBuildingGraphFromInputs(x, bias)
	return newNode(g, &nodeInputsAddBias{}, []*Node{x, bias})
}

func (ni *nodeInputsAddBias) Type() NodeType { return NodeTypeAddBias }

func (ni *nodeInputsAddBias) String() string { return "AddBias" }

func (ni *nodeInputsAddBias) outputShape(inputs []shapes.Shape) shapes.Shape {
	x, bias := inputs[0], inputs[1]
	if x.Rank() < 1 || bias.Rank() != 1 || bias.Dimensions[0] != staticDim(NodeTypeAddBias, x, -1, "last") {
		exceptions.Panicf("AddBias: bias shape %s incompatible with x shape %s", bias, x)
	}
	return x.Clone()
}

func (ni *nodeInputsAddBias) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	out, x, bias := mutableFlat(output), constFlat(inputs[0]), constFlat(inputs[1])
	n := len(bias)
	for ii := range out {
		out[ii] = x[ii] + bias[ii%n]
	}
}

type nodeInputsRelu struct{}

// Relu returns max(x, 0), element-wise.
func Relu(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return newNode(g, &nodeInputsRelu{}, []*Node{x})
}

func (ni *nodeInputsRelu) Type() NodeType { return NodeTypeRelu }

func (ni *nodeInputsRelu) String() string { return "Relu" }

func (ni *nodeInputsRelu) outputShape(inputs []shapes.Shape) shapes.Shape { return inputs[0].Clone() }

func (ni *nodeInputsRelu) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	out, x := mutableFlat(output), constFlat(inputs[0])
	for ii, v := range x {
		out[ii] = max(v, 0)
	}
}

type nodeInputsBatchNormInference struct {
	epsilon     float32
	featureAxis int
}

// BatchNormInference normalizes x with the given running statistics, the way batch normalization works at
// inference time:
//
//	(x - mean) / sqrt(variance + epsilon) * scale + offset
//
// scale, offset, mean and variance are rank-1 with the dimension of x's featureAxis.
func BatchNormInference(x, scale, offset, mean, variance *Node, epsilon float32, featureAxis int) *Node {
	g := validateBuildingGraphFromInputs(x, scale, offset, mean, variance)
	if featureAxis < 0 {
		featureAxis += x.Rank()
	}
	if featureAxis < 0 || featureAxis >= x.Rank() {
		exceptions.Panicf("BatchNormInference: featureAxis %d out of bounds for x shape %s", featureAxis, x.Shape())
	}
	if epsilon <= 0 {
		exceptions.Panicf("BatchNormInference: epsilon must be > 0, got %g", epsilon)
	}
	return newNode(g, &nodeInputsBatchNormInference{epsilon: epsilon, featureAxis: featureAxis},
		[]*Node{x, scale, offset, mean, variance})
}

func (ni *nodeInputsBatchNormInference) Type() NodeType { return NodeTypeBatchNormInference }

func (ni *nodeInputsBatchNormInference) String() string {
	return fmt.Sprintf("BatchNormInference(epsilon=%g, axis=%d)", ni.epsilon, ni.featureAxis)
}

func (ni *nodeInputsBatchNormInference) outputShape(inputs []shapes.Shape) shapes.Shape {
	x := inputs[0]
	numFeatures := staticDim(NodeTypeBatchNormInference, x, ni.featureAxis, "feature")
	for ii, name := range []string{"scale", "offset", "mean", "variance"} {
		if err := inputs[ii+1].CheckDims(numFeatures); err != nil {
			exceptions.Panicf("BatchNormInference: %s shape %s incompatible with x shape %s: %v", name, inputs[ii+1], x, err)
		}
	}
	return x.Clone()
}

func (ni *nodeInputsBatchNormInference) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	execBatchNormInference(output, inputs, ni.epsilon, ni.featureAxis)
}

type nodeInputsReduce struct {
	opType NodeType
	axes   []int
}

// ReduceMean returns the mean of x over the given axes. If no axes are given, it reduces over all of them.
func ReduceMean(x *Node, axes ...int) *Node {
	return reduce(NodeTypeReduceMean, x, axes)
}

// ReduceMax returns the maximum of x over the given axes. If no axes are given, it reduces over all of them.
func ReduceMax(x *Node, axes ...int) *Node {
	return reduce(NodeTypeReduceMax, x, axes)
}

func reduce(opType NodeType, x *Node, axes []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	var adjusted []int
	if len(axes) == 0 {
		for axis := range x.Rank() {
			adjusted = append(adjusted, axis)
		}
	} else {
		for _, axis := range axes {
			if axis < 0 {
				axis += x.Rank()
			}
			if axis < 0 || axis >= x.Rank() {
				exceptions.Panicf("%s: axis %v out of bounds for shape %s", opType, axes, x.Shape())
			}
			if !slices.Contains(adjusted, axis) {
				adjusted = append(adjusted, axis)
			}
		}
		slices.Sort(adjusted)
	}
	return newNode(g, &nodeInputsReduce{opType: opType, axes: adjusted}, []*Node{x})
}

func (ni *nodeInputsReduce) Type() NodeType { return ni.opType }

func (ni *nodeInputsReduce) String() string { return fmt.Sprintf("%s(axes=%v)", ni.opType, ni.axes) }

func (ni *nodeInputsReduce) outputShape(inputs []shapes.Shape) shapes.Shape {
	x := inputs[0]
	output := shapes.Shape{DType: x.DType}
	for axis, dim := range x.Dimensions {
		if slices.Contains(ni.axes, axis) {
			continue
		}
		output.Dimensions = append(output.Dimensions, dim)
		if x.AxisNames != nil {
			output.AxisNames = append(output.AxisNames, x.AxisNames[axis])
		}
	}
	return output
}

func (ni *nodeInputsReduce) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	execReduce(output, inputs[0], ni.axes, ni.opType == NodeTypeReduceMax)
}

type nodeInputsReshape struct {
	dimensions []int
}

// Reshape x to the given dimensions: the total size must be the same.
// One of the dimensions may be shapes.DynamicDim, in which case it is inferred from the size of x,
// at execution time if x itself has dynamic axes.
func Reshape(x *Node, dimensions ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	numInferred := 0
	for _, dim := range dimensions {
		if dim == shapes.DynamicDim {
			numInferred++
		} else if dim <= 0 {
			exceptions.Panicf("Reshape(%v): invalid dimension", dimensions)
		}
	}
	if numInferred > 1 {
		exceptions.Panicf("Reshape(%v): only one dimension can be inferred", dimensions)
	}
	return newNode(g, &nodeInputsReshape{dimensions: slices.Clone(dimensions)}, []*Node{x})
}

// Flatten reshapes x to rank 2, keeping the leading (batch) axis and merging all the others.
func Flatten(x *Node) *Node {
	if x.Rank() < 2 {
		exceptions.Panicf("Flatten: x must have rank >= 2, got shape %s", x.Shape())
	}
	size := 1
	for axis := 1; axis < x.Rank(); axis++ {
		size *= staticDim(NodeTypeReshape, x.Shape(), axis, "flattened")
	}
	return Reshape(x, x.Shape().Dimensions[0], size)
}

func (ni *nodeInputsReshape) Type() NodeType { return NodeTypeReshape }

func (ni *nodeInputsReshape) String() string { return fmt.Sprintf("Reshape(%v)", ni.dimensions) }

func (ni *nodeInputsReshape) outputShape(inputs []shapes.Shape) shapes.Shape {
	x := inputs[0]
	output := shapes.Make(x.DType, ni.dimensions...)
	inferAxis := slices.Index(ni.dimensions, shapes.DynamicDim)
	if x.IsDynamic() {
		if inferAxis < 0 {
			exceptions.Panicf("Reshape(%v): x shape %s is dynamic, one output dimension must be dynamic", ni.dimensions, x)
		}
		if inferAxis == 0 && x.Dimensions[0] == shapes.DynamicDim && x.AxisNames != nil {
			output = output.WithDynamicAxis(0, x.AxisNames[0])
		}
		return output
	}
	if inferAxis >= 0 {
		known := 1
		for _, dim := range ni.dimensions {
			if dim != shapes.DynamicDim {
				known *= dim
			}
		}
		if x.Size()%known != 0 {
			exceptions.Panicf("Reshape(%v): cannot infer dimension for x shape %s", ni.dimensions, x)
		}
		output.Dimensions[inferAxis] = x.Size() / known
	}
	if output.Size() != x.Size() {
		exceptions.Panicf("Reshape(%v): x shape %s has a different size", ni.dimensions, x)
	}
	return output
}

func (ni *nodeInputsReshape) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	copy(mutableFlat(output), constFlat(inputs[0]))
}

type nodeInputsDot struct{}

// Dot returns the matrix multiplication of x, shaped [batch, k], and y, shaped [k, n].
func Dot(x, y *Node) *Node {
	g := validateBuildingGraphFromInputs(x, y)
	return newNode(g, &nodeInputsDot{}, []*Node{x, y})
}

func (ni *nodeInputsDot) Type() NodeType { return NodeTypeDot }

func (ni *nodeInputsDot) String() string { return "Dot" }

func (ni *nodeInputsDot) outputShape(inputs []shapes.Shape) shapes.Shape {
	x, y := inputs[0], inputs[1]
	if x.Rank() != 2 || y.Rank() != 2 {
		exceptions.Panicf("Dot: only matrix multiplication supported, got shapes %s and %s", x, y)
	}
	if staticDim(NodeTypeDot, x, 1, "contracting") != staticDim(NodeTypeDot, y, 0, "contracting") {
		exceptions.Panicf("Dot: contracting dimensions don't match for shapes %s and %s", x, y)
	}
	output := shapes.Make(x.DType, x.Dimensions[0], staticDim(NodeTypeDot, y, 1, "output"))
	if x.AxisNames != nil {
		output.AxisNames = []string{x.AxisNames[0], ""}
	}
	return output
}

func (ni *nodeInputsDot) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	x, y := inputs[0].Shape(), inputs[1].Shape()
	gemm(x.Dimensions[0], x.Dimensions[1], y.Dimensions[1], constFlat(inputs[0]), constFlat(inputs[1]), mutableFlat(output))
}

type nodeInputsSoftmax struct{}

// Softmax computes exp(x)/sum(exp(x)) over the last axis of x.
// It is numerically stable: the maximum value is subtracted before exponentiation.
func Softmax(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	if x.Rank() < 1 {
		exceptions.Panicf("Softmax: x must have rank >= 1")
	}
	return newNode(g, &nodeInputsSoftmax{}, []*Node{x})
}

func (ni *nodeInputsSoftmax) Type() NodeType { return NodeTypeSoftmax }

func (ni *nodeInputsSoftmax) String() string { return "Softmax" }

func (ni *nodeInputsSoftmax) outputShape(inputs []shapes.Shape) shapes.Shape {
	staticDim(NodeTypeSoftmax, inputs[0], -1, "last")
	return inputs[0].Clone()
}

func (ni *nodeInputsSoftmax) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	execSoftmax(mutableFlat(output), constFlat(inputs[0]), inputs[0].Shape().Dim(-1))
}

// MakeShape is a shortcut to shapes.Make for Float32, the only dtype supported by the graph ops.
func MakeShape(dimensions ...int) shapes.Shape {
	return shapes.Make(dtypes.Float32, dimensions...)
}
