// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"testing"

	"github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWithContext builds a graph with one input x, using buildFn, and executes it with the variables in ctx.
func runWithContext(t *testing.T, ctx *context.Context, input *tensors.Tensor, buildFn func(x *graph.Node) *graph.Node) *tensors.Tensor {
	g := graph.NewGraph(t.Name())
	x := graph.Parameter(g, "x", input.Shape())
	g.Compile(buildFn(x))
	params := graph.ParamsMap{x: input}
	ctx.ExecSetVariablesInParams(params, g)
	outputs, err := g.RunWithMap(params)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	return outputs[0]
}

func iota(dims ...int) *tensors.Tensor {
	t := tensors.FromShape(graph.MakeShape(dims...))
	t.MutableFlatData(func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii)
		}
	})
	return t
}

func TestDense(t *testing.T) {
	ctx := context.New()
	fcCtx := ctx.In("fc1000")
	output := runWithContext(t, ctx, iota(2, 3), func(x *graph.Node) *graph.Node {
		return Dense(fcCtx, x, true, 2)
	})
	assert.Equal(t, []int{2, 2}, output.Shape().Dimensions)

	kernel := ctx.InspectVariable("/fc1000", KernelName)
	bias := ctx.InspectVariable("/fc1000", BiasName)
	require.NotNil(t, kernel)
	require.NotNil(t, bias)
	assert.Equal(t, "fc1000/kernel", kernel.ParameterName())
	assert.Equal(t, []int{3, 2}, kernel.Shape().Dimensions)
	assert.Equal(t, []int{2}, bias.Shape().Dimensions)

	// Set known weights and re-run.
	require.NoError(t, kernel.SetValue(tensors.FromFlatDataAndDimensions([]float32{1, 0, 0, 1, 1, 1}, 3, 2)))
	require.NoError(t, bias.SetValue(tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2)))
	output = runWithContext(t, ctx, iota(2, 3), func(x *graph.Node) *graph.Node {
		return Dense(fcCtx.Reuse(), x, true, 2)
	})
	assert.Equal(t, [][]float32{{12, 23}, {18, 29}}, output.Value())

	// Dense requires rank-2 inputs.
	g := graph.NewGraph("rank3")
	x := graph.Parameter(g, "x", graph.MakeShape(1, 2, 3))
	require.Panics(t, func() { Dense(context.New(), x, true, 2) })
}

func TestConvolution(t *testing.T) {
	ctx := context.New()
	convCtx := ctx.In("conv1")
	output := runWithContext(t, ctx, iota(1, 3, 3, 1), func(x *graph.Node) *graph.Node {
		return Convolution(convCtx, x).Filters(1).KernelSize(2).CurrentScope().Done()
	})
	assert.Equal(t, []int{1, 2, 2, 1}, output.Shape().Dimensions)

	kernel := ctx.InspectVariable("/conv1", KernelName)
	require.NotNil(t, kernel)
	assert.Equal(t, []int{2, 2, 1, 1}, kernel.Shape().Dimensions)
	require.NoError(t, kernel.SetValue(tensors.FromScalarAndDimensions(1, 2, 2, 1, 1)))
	require.NoError(t, ctx.InspectVariable("/conv1", BiasName).SetValue(tensors.FromScalarAndDimensions(0.5, 1)))

	output = runWithContext(t, ctx, iota(1, 3, 3, 1), func(x *graph.Node) *graph.Node {
		return Convolution(convCtx.Reuse(), x).Filters(1).KernelSize(2).CurrentScope().Done()
	})
	assert.Equal(t, [][][][]float32{{{{8.5}, {12.5}}, {{20.5}, {24.5}}}}, output.Value())
}

func TestConvolutionOptions(t *testing.T) {
	ctx := context.New()
	g := graph.NewGraph("options")
	x := graph.Parameter(g, "x", graph.MakeShape(1, 8, 8, 3).WithDynamicAxis(0, "batch"))

	// Default sub-scope "conv", without bias.
	y := Convolution(ctx, x).Channels(4).KernelSize(3).UseBias(false).PadSame().Strides(2).Done()
	assert.Equal(t, []int{shapes.DynamicDim, 4, 4, 4}, y.Shape().Dimensions)
	assert.NotNil(t, ctx.InspectVariable("/conv", KernelName))
	assert.Nil(t, ctx.InspectVariable("/conv", BiasName))

	y = Convolution(ctx.In("branch"), x).Channels(2).KernelSizePerAxis(1, 3).StridePerAxis(1, 2).Done()
	assert.Equal(t, []int{shapes.DynamicDim, 8, 3, 2}, y.Shape().Dimensions)

	// Missing configuration.
	require.Panics(t, func() { Convolution(ctx.In("missing"), x).KernelSize(3).Done() })
	require.Panics(t, func() { Convolution(ctx.In("missing"), x).Channels(0) })
}
