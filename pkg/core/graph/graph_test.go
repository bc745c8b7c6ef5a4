// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"sync"
	"testing"

	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterAndRun(t *testing.T) {
	g := NewGraph("test")
	x := Parameter(g, "x", MakeShape(2, 3).WithDynamicAxis(0, "batch"))
	y := Parameter(g, "y", MakeShape(2, 3).WithDynamicAxis(0, "batch"))
	sum := Add(x, y).WithAlias("sum")
	relu := Relu(sum)
	assert.Equal(t, shapes.DynamicDim, relu.Shape().Dimensions[0])
	assert.Equal(t, sum, g.GetNodeByAlias("sum"))
	require.Panics(t, func() { Parameter(g, "x", MakeShape(1)) }, "duplicate parameter names must fail")

	g.Compile(relu)
	require.Panics(t, func() { Relu(x) }, "compiled graphs are immutable")

	outputs, err := g.Run(
		tensors.FromFlatDataAndDimensions([]float32{1, -2, 3}, 1, 3),
		tensors.FromFlatDataAndDimensions([]float32{1, 1, -4}, 1, 3))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, [][]float32{{2, 0, 0}}, outputs[0].Value())

	// Batch of 2, resolved at execution time.
	outputs, err = g.RunWithMap(ParamsMap{
		x: tensors.FromScalarAndDimensions(1, 2, 3),
		y: tensors.FromScalarAndDimensions(2, 2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, outputs[0].Shape().Dimensions)

	// Errors are returned, not panicked.
	_, err = g.RunWithMap(ParamsMap{x: tensors.FromScalarAndDimensions(1, 2, 3)})
	require.ErrorContains(t, err, `missing value for parameter "y"`)
	_, err = g.RunWithMap(ParamsMap{
		x: tensors.FromScalarAndDimensions(1, 2, 4),
		y: tensors.FromScalarAndDimensions(2, 2, 4),
	})
	require.Error(t, err)
	_, err = g.RunWithMap(ParamsMap{
		x: tensors.FromScalarAndDimensions(1, 2, 3),
		y: tensors.FromScalarAndDimensions(2, 1, 3),
	})
	require.Error(t, err, "mismatching batch sizes must fail at execution")
}

func TestCompileSchedulesOnlyNeededNodes(t *testing.T) {
	g := NewGraph("partial")
	x := Parameter(g, "x", MakeShape(3))
	unused := Parameter(g, "unused", MakeShape(3))
	_ = Add(unused, unused)
	out := Relu(x)
	g.Compile(out)
	outputs, err := g.RunWithMap(ParamsMap{x: tensors.FromFlatDataAndDimensions([]float32{-1, 0, 1}, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, outputs[0].Value())
	assert.True(t, g.IsCompiled())
	require.Contains(t, g.String(), "Relu")
}

func TestMultipleOutputsAndReuse(t *testing.T) {
	g := NewGraph("multi")
	x := Parameter(g, "x", MakeShape(2))
	c := Const(g, tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2))
	sum := Add(x, c)
	double := Add(sum, sum)
	g.Compile(sum, double)
	outputs, err := g.Run(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22}, outputs[0].Value())
	assert.Equal(t, []float32{22, 44}, outputs[1].Value())
}

func TestNotCompiled(t *testing.T) {
	g := NewGraph("")
	_ = Parameter(g, "x", MakeShape(2))
	_, err := g.RunWithMap(nil)
	require.Error(t, err)
	require.Panics(t, func() { g.Compile() })
}

func TestConcurrentRuns(t *testing.T) {
	g := NewGraph("concurrent")
	x := Parameter(g, "x", MakeShape(1, 9, 9, 2).WithDynamicAxis(0, "batch"))
	kernel := Const(g, tensors.FromFlatDataAndDimensions(
		func() []float32 {
			values := make([]float32, 3*3*2*4)
			for ii := range values {
				values[ii] = float32(ii%7) - 3
			}
			return values
		}(), 3, 3, 2, 4))
	conv := Relu(Convolve(x, kernel).Strides(2).PadSame().Done())
	pooled := MaxPool(conv).Window(3).Strides(2).NoPadding().Done()
	logits := Dot(Flatten(pooled), Const(g, tensors.FromScalarAndDimensions(0.01, 16, 3)))
	g.Compile(Softmax(logits))

	const numRuns = 16
	input := func(run int) *tensors.Tensor {
		batchSize := run%3 + 1
		values := make([]float32, batchSize*9*9*2)
		for ii := range values {
			values[ii] = float32((ii*(run+1))%11) / 11
		}
		return tensors.FromFlatDataAndDimensions(values, batchSize, 9, 9, 2)
	}
	want := make([]*tensors.Tensor, numRuns)
	for run := range numRuns {
		outputs, err := g.RunWithMap(ParamsMap{x: input(run)})
		require.NoError(t, err)
		want[run] = outputs[0]
	}

	got := make([]*tensors.Tensor, numRuns)
	errs := make([]error, numRuns)
	var wg sync.WaitGroup
	for run := range numRuns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs, err := g.RunWithMap(ParamsMap{x: input(run)})
			if err == nil {
				got[run] = outputs[0]
			}
			errs[run] = err
		}()
	}
	wg.Wait()
	for run := range numRuns {
		require.NoError(t, errs[run], "run #%d", run)
		assert.Equal(t, []int{run%3 + 1, 3}, got[run].Shape().Dimensions)
		assert.True(t, want[run].Equal(got[run]), "run #%d: got %v, want %v", run, got[run], want[run])
	}
}
