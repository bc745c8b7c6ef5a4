// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

func TestConvolveParallelismInvariant(t *testing.T) {
	x := tensors.FromShape(MakeShape(3, 9, 7, 4))
	x.MutableFlatData(func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii%13) - 6
		}
	})
	kernel := tensors.FromShape(MakeShape(3, 3, 4, 5))
	kernel.MutableFlatData(func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii%7) * 0.25
		}
	})
	run := func(parallelism int) *tensors.Tensor {
		SetMaxParallelism(parallelism)
		defer SetMaxParallelism(-1)
		g := NewGraph("conv")
		xNode := Parameter(g, "x", x.Shape())
		kNode := Parameter(g, "kernel", kernel.Shape())
		g.Compile(Convolve(xNode, kNode).Strides(2).PadSame().Done())
		outputs, err := g.Run(x, kernel)
		require.NoError(t, err)
		return outputs[0]
	}
	serial := run(0)
	require.Equal(t, []int{3, 5, 4, 5}, serial.Shape().Dimensions)
	require.True(t, serial.InDelta(run(4), 1e-5))
	require.True(t, serial.InDelta(run(16), 1e-5))
}

func TestSamePadding(t *testing.T) {
	require.Equal(t, PadAxis{Start: 1, End: 1}, samePadding(56, 3, 1))
	require.Equal(t, PadAxis{Start: 0, End: 1}, samePadding(5, 2, 2))
	require.Equal(t, PadAxis{Start: 2, End: 3}, samePadding(224, 7, 2))
	require.Equal(t, PadAxis{}, samePadding(7, 1, 1))
}
