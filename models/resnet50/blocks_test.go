// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"testing"

	"github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockInput returns a graph with a [batch, size, size, channels] input, with a dynamic batch axis.
func blockInput(name string, size, channels int) (*graph.Graph, *graph.Node) {
	g := graph.NewGraph(name)
	shape := graph.MakeShape(1, size, size, channels).WithDynamicAxis(0, "batch")
	return g, graph.Parameter(g, "x", shape)
}

func TestIdentityBlock(t *testing.T) {
	ctx := context.New()
	g, x := blockInput(t.Name(), 8, 16)
	b, err := IdentityBlock(ctx, x, 3, [3]int{4, 4, 16}, 2, "b")
	require.NoError(t, err)
	assert.Equal(t, "2b", b.Name)
	assert.Same(t, x, b.Input)
	assert.True(t, x.Shape().Equal(b.Output.Shape()), "identity block must preserve the shape, got %s", b.Output.Shape())

	// 3 convolutions (kernel, bias) and 3 batch normalizations (gamma, beta, moving mean and variance).
	require.Len(t, b.Parameters, 18)
	assert.Equal(t, "res2b_branch2a/kernel", b.Parameters[0].ParameterName())
	assert.Equal(t, []int{1, 1, 16, 4}, b.Parameters[0].Shape().Dimensions)
	var layerNames []string
	for _, layer := range b.Layers {
		layerNames = append(layerNames, layer.Name)
	}
	assert.Equal(t, []string{
		"res2b_branch2a", "bn2b_branch2a",
		"res2b_branch2b", "bn2b_branch2b",
		"res2b_branch2c", "bn2b_branch2c",
	}, layerNames)
	kernel2b := ctx.InspectVariable("/res2b_branch2b", "kernel")
	require.NotNil(t, kernel2b)
	assert.Equal(t, []int{3, 3, 4, 4}, kernel2b.Shape().Dimensions)

	// The output goes through a ReLU.
	g.Compile(b.Output)
	input := tensors.FromScalarAndDimensions(1, 2, 8, 8, 16)
	params := graph.ParamsMap{x: input}
	ctx.ExecSetVariablesInParams(params, g)
	outputs, err := g.RunWithMap(params)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8, 8, 16}, outputs[0].Shape().Dimensions)
	outputs[0].ConstFlatData(func(flat []float32) {
		for _, v := range flat {
			require.GreaterOrEqual(t, v, float32(0))
		}
	})
}

func TestIdentityBlockChannelsMismatch(t *testing.T) {
	ctx := context.New()
	_, x := blockInput(t.Name(), 8, 16)
	_, err := IdentityBlock(ctx, x, 3, [3]int{4, 4, 8}, 2, "b")
	require.ErrorContains(t, err, "channels")
	assert.Zero(t, ctx.NumVariables(), "no variables should be created on error")

	_, err = IdentityBlock(ctx, x, 2, [3]int{4, 4, 16}, 2, "b")
	require.ErrorContains(t, err, "kernelSize")
	_, err = IdentityBlock(ctx, x, 3, [3]int{0, 4, 16}, 2, "b")
	require.ErrorContains(t, err, "filters")
}

func TestProjectionBlock(t *testing.T) {
	testCases := []struct {
		name           string
		size, stride   int
		wantOutputSize int
	}{
		{"stride2", 8, 2, 4},
		{"stride1", 8, 1, 8},
		{"odd", 7, 2, 4},
		{"stride3", 9, 3, 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.New()
			_, x := blockInput(tc.name, tc.size, 6)
			b, err := ProjectionBlock(ctx, x, 3, [3]int{4, 4, 12}, 3, "a", tc.stride)
			require.NoError(t, err)
			assert.Equal(t, "3a", b.Name)
			dims := b.Output.Shape().Dimensions
			assert.Equal(t, []int{-1, tc.wantOutputSize, tc.wantOutputSize, 12}, dims)
			// 4 convolutions and 4 batch normalizations, including the shortcut.
			assert.Len(t, b.Parameters, 24)
			shortcut := ctx.InspectVariable("/res3a_branch1", "kernel")
			require.NotNil(t, shortcut)
			assert.Equal(t, []int{1, 1, 6, 12}, shortcut.Shape().Dimensions)
			require.NotNil(t, ctx.InspectVariable("/bn3a_branch1", "moving_variance"))
		})
	}

	_, x := blockInput(t.Name(), 8, 6)
	_, err := ProjectionBlock(context.New(), x, 3, [3]int{4, 4, 12}, 3, "a", 0)
	require.ErrorContains(t, err, "stride")
}

func TestBlockRequiresRank4(t *testing.T) {
	g := graph.NewGraph(t.Name())
	x := graph.Parameter(g, "x", graph.MakeShape(8, 16))
	_, err := IdentityBlock(context.New(), x, 3, [3]int{4, 4, 16}, 2, "b")
	require.Error(t, err)
	_, err = ProjectionBlock(context.New(), x, 3, [3]int{4, 4, 16}, 2, "a", 1)
	require.Error(t, err)
}
