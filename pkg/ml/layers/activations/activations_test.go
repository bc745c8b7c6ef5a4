// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package activations

import (
	"testing"

	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromName(t *testing.T) {
	assert.Equal(t, TypeNone, FromName(""))
	assert.Equal(t, TypeRelu, FromName("relu"))
	assert.Equal(t, TypeSoftmax, FromName("Softmax"))
	require.Panics(t, func() { FromName("gelu") })

	var act Type
	require.NoError(t, act.UnmarshalText([]byte("softmax")))
	assert.Equal(t, TypeSoftmax, act)
	require.Error(t, act.UnmarshalText([]byte("swish")))
	assert.Equal(t, "relu", TypeRelu.String())
}

func TestApply(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{-1, 0, 2, 3}, 2, 2)
	run := func(buildFn func(x *Node) *Node) any {
		g := NewGraph(t.Name())
		x := Parameter(g, "x", input.Shape())
		g.Compile(buildFn(x))
		outputs, err := g.Run(input)
		require.NoError(t, err)
		return outputs[0].Value()
	}
	assert.Equal(t, [][]float32{{-1, 0}, {2, 3}}, run(func(x *Node) *Node { return Apply(TypeNone, x) }))
	assert.Equal(t, [][]float32{{0, 0}, {2, 3}}, run(func(x *Node) *Node { return Apply(TypeRelu, x) }))

	softmax := run(func(x *Node) *Node { return Apply(TypeSoftmax, x) }).([][]float32)
	for _, row := range softmax {
		assert.InDelta(t, 1.0, row[0]+row[1], 1e-6)
	}

	ctx := context.New()
	ctx.SetParam(ParamActivation, "none")
	assert.Equal(t, [][]float32{{-1, 0}, {2, 3}}, run(func(x *Node) *Node { return ApplyFromContext(ctx, x) }))
}
