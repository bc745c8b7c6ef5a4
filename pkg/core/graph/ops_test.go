// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"math"
	"testing"

	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// iota returns a tensor with values 0, 1, 2, ... in row-major order.
func iota(dims ...int) *tensors.Tensor {
	t := tensors.FromShape(MakeShape(dims...))
	t.MutableFlatData(func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii)
		}
	})
	return t
}

// testFuncOneInput builds a graph with one parameter fed with input, and checks the output against want.
func testFuncOneInput(t *testing.T, name string, input *tensors.Tensor, buildFn func(x *Node) *Node, want any) {
	t.Run(name, func(t *testing.T) {
		g := NewGraph(name)
		x := Parameter(g, "x", input.Shape())
		g.Compile(buildFn(x))
		outputs, err := g.Run(input)
		require.NoError(t, err)
		assert.Equal(t, want, outputs[0].Value())
	})
}

func TestPad(t *testing.T) {
	testFuncOneInput(t, "Pad", iota(2, 2), func(x *Node) *Node {
		return Pad(x, -1, PadAxis{Start: 1}, PadAxis{End: 1})
	}, [][]float32{{-1, -1, -1}, {0, 1, -1}, {2, 3, -1}})

	g := NewGraph("dynamic")
	x := Parameter(g, "x", MakeShape(1, 4, 4, 3).WithDynamicAxis(0, "batch"))
	padded := Pad(x, 0, PadAxis{}, PadAxis{Start: 3, End: 3}, PadAxis{Start: 3, End: 3})
	assert.Equal(t, []int{shapes.DynamicDim, 10, 10, 3}, padded.Shape().Dimensions)
	require.Panics(t, func() { Pad(x, 0, PadAxis{Start: 1}) }, "dynamic axes cannot be padded")
}

func TestAddBiasAndRelu(t *testing.T) {
	testFuncOneInput(t, "AddBias", iota(2, 3), func(x *Node) *Node {
		bias := Const(x.Graph(), tensors.FromFlatDataAndDimensions([]float32{-1, -3, -5}, 3))
		return Relu(AddBias(x, bias))
	}, [][]float32{{0, 0, 0}, {2, 1, 0}})

	g := NewGraph("mismatch")
	x := Parameter(g, "x", MakeShape(2, 3))
	require.Panics(t, func() { AddBias(x, Parameter(g, "b", MakeShape(2))) })
	require.Panics(t, func() { Add(x, Parameter(g, "y", MakeShape(3, 2))) })
}

func TestBatchNormInference(t *testing.T) {
	testFuncOneInput(t, "BatchNormInference", tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2), func(x *Node) *Node {
		g := x.Graph()
		scale := Const(g, tensors.FromFlatDataAndDimensions([]float32{2, 1}, 2))
		offset := Const(g, tensors.FromFlatDataAndDimensions([]float32{0, 10}, 2))
		mean := Const(g, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
		variance := Const(g, tensors.FromFlatDataAndDimensions([]float32{3, 0}, 2))
		return BatchNormInference(x, scale, offset, mean, variance, 1, -1)
	}, [][]float32{{0, 10}, {2, 12}})
}

func TestReduce(t *testing.T) {
	testFuncOneInput(t, "ReduceMean", iota(1, 2, 2, 3), func(x *Node) *Node {
		return ReduceMean(x, 1, 2)
	}, [][]float32{{4.5, 5.5, 6.5}})
	testFuncOneInput(t, "ReduceMax", iota(1, 2, 2, 3), func(x *Node) *Node {
		return ReduceMax(x, 1, 2)
	}, [][]float32{{9, 10, 11}})
	testFuncOneInput(t, "ReduceMax-all", iota(2, 3), func(x *Node) *Node {
		return ReduceMax(x)
	}, float32(5))
}

func TestReshapeAndFlatten(t *testing.T) {
	testFuncOneInput(t, "Flatten", iota(2, 1, 1, 3), Flatten, [][]float32{{0, 1, 2}, {3, 4, 5}})
	testFuncOneInput(t, "Reshape", iota(2, 3), func(x *Node) *Node {
		return Reshape(x, shapes.DynamicDim, 2)
	}, [][]float32{{0, 1}, {2, 3}, {4, 5}})

	g := NewGraph("dynamic")
	x := Parameter(g, "x", MakeShape(1, 1, 1, 2048).WithDynamicAxis(0, "batch"))
	flat := Flatten(x)
	assert.Equal(t, []int{shapes.DynamicDim, 2048}, flat.Shape().Dimensions)
	g.Compile(flat)
	outputs, err := g.Run(tensors.FromShape(MakeShape(3, 1, 1, 2048)))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2048}, outputs[0].Shape().Dimensions)
}

func TestDotAndSoftmax(t *testing.T) {
	testFuncOneInput(t, "Dot", iota(2, 3), func(x *Node) *Node {
		return Dot(x, Const(x.Graph(), iota(3, 2)))
	}, [][]float32{{10, 13}, {28, 40}})

	g := NewGraph("softmax")
	x := Parameter(g, "x", MakeShape(2, 3))
	g.Compile(Softmax(x))
	outputs, err := g.Run(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 1000, 1000, 1000}, 2, 3))
	require.NoError(t, err)
	probs := outputs[0].Value().([][]float32)
	for _, row := range probs {
		var sum float64
		for _, p := range row {
			sum += float64(p)
			assert.False(t, math.IsNaN(float64(p)))
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	assert.InDelta(t, 0.6652409, probs[0][2], 1e-5)
	assert.InDelta(t, 1.0/3.0, probs[1][0], 1e-5)
}
