// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// PoolBuilder is a helper to build a pool computation.
// Create it with MaxPool or MeanPool, set the desired parameters and
// when all is set, call Done.
type PoolBuilder struct {
	graph   *Graph
	x       *Node
	opType  NodeType
	window  [2]int
	strides [2]int
	// stridesSet indicates whether strides were configured, otherwise they default to the window size.
	stridesSet bool
	padSame    bool
}

// MaxPool prepares a max pooling on x over its two spatial axes. The shape of x should be
// [batch, height, width, channels].
//
// It returns a PoolBuilder object that can be further configured. Once the
// configuration is finished, call PoolBuilder.Done, and it will return
// the pooled x. Browse through PoolBuilder to see the capabilities and defaults:
// the window size must be set, strides default to the window size, and there is no padding.
func MaxPool(x *Node) *PoolBuilder {
	return newPoolBuilder(x, NodeTypeMaxPool)
}

// MeanPool prepares a mean pooling on x over its two spatial axes. See MaxPool for details.
//
// With padding, the mean is taken only over the elements of the window that fall inside the input.
func MeanPool(x *Node) *PoolBuilder {
	return newPoolBuilder(x, NodeTypeMeanPool)
}

func newPoolBuilder(x *Node, opType NodeType) *PoolBuilder {
	pool := &PoolBuilder{graph: validateBuildingGraphFromInputs(x), x: x, opType: opType}
	if x.Rank() != 4 {
		exceptions.Panicf("%s: x must be shaped [batch, height, width, channels], got shape %s", opType, x.Shape())
	}
	return pool
}

// Window sets the pooling window size. If one value is given, it is used for both spatial axes,
// otherwise two values (height and width) must be given.
//
// It returns itself, so calls can be cascaded.
func (pool *PoolBuilder) Window(windowSizes ...int) *PoolBuilder {
	pool.window = spatialPair(pool.opType.String()+".Window", windowSizes)
	return pool
}

// Strides sets the strides of the pooling. The default is the window size.
//
// It returns itself, so calls can be cascaded.
func (pool *PoolBuilder) Strides(strides ...int) *PoolBuilder {
	pool.strides = spatialPair(pool.opType.String()+".Strides", strides)
	pool.stridesSet = true
	return pool
}

// PadSame pads the input such that the output spatial dimensions are the input ones divided by the strides
// (rounded up).
//
// It returns itself, so calls can be cascaded.
func (pool *PoolBuilder) PadSame() *PoolBuilder {
	pool.padSame = true
	return pool
}

// NoPadding sets no padding ("valid" pooling). This is the default.
//
// It returns itself, so calls can be cascaded.
func (pool *PoolBuilder) NoPadding() *PoolBuilder {
	pool.padSame = false
	return pool
}

// Done builds the pooling node and returns it.
func (pool *PoolBuilder) Done() *Node {
	if pool.window == [2]int{} {
		exceptions.Panicf("%s: window size not set", pool.opType)
	}
	strides := pool.strides
	if !pool.stridesSet {
		strides = pool.window
	}
	return newNode(pool.graph, &nodeInputsPool{
		opType:  pool.opType,
		window:  pool.window,
		strides: strides,
		padSame: pool.padSame,
	}, []*Node{pool.x})
}

type nodeInputsPool struct {
	opType  NodeType
	window  [2]int
	strides [2]int
	padSame bool
}

func (ni *nodeInputsPool) Type() NodeType { return ni.opType }

func (ni *nodeInputsPool) String() string {
	padding := "valid"
	if ni.padSame {
		padding = "same"
	}
	return fmt.Sprintf("%s(window=%v, strides=%v, padding=%s)", ni.opType, ni.window, ni.strides, padding)
}

func (ni *nodeInputsPool) resolvePaddings(inputDims [2]int) (paddings [2]PadAxis) {
	if ni.padSame {
		for axis := range 2 {
			paddings[axis] = samePadding(inputDims[axis], ni.window[axis], ni.strides[axis])
		}
	}
	return
}

func (ni *nodeInputsPool) outputShape(inputs []shapes.Shape) shapes.Shape {
	x := inputs[0]
	var inputDims [2]int
	for axis := range 2 {
		inputDims[axis] = staticDim(ni.opType, x, axis+1, "spatial")
	}
	paddings := ni.resolvePaddings(inputDims)
	output := x.Clone()
	for axis := range 2 {
		output.Dimensions[axis+1] = windowOutputDim(ni.opType, inputDims[axis], ni.window[axis], ni.strides[axis], paddings[axis])
	}
	return output
}

func (ni *nodeInputsPool) execute(output *tensors.Tensor, inputs []*tensors.Tensor) {
	dims := inputs[0].Shape().Dimensions
	paddings := ni.resolvePaddings([2]int{dims[1], dims[2]})
	execPool(output, inputs[0], ni.window, ni.strides, paddings, ni.opType == NodeTypeMaxPool)
}
