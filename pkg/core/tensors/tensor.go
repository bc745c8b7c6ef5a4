// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a representation of a multidimensional array.
//
// Tensors here are always local (stored in Go memory) float32 arrays in row-major order, which is
// what the CPU kernels in package graph operate on.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions(value float32, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions(data []float32, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromNumbers(data []T, dimensions ...int): like FromFlatDataAndDimensions, but converts from any
//     Go numeric type (e.g. the uint8 pixels of an image, or float64 weights).
//
// Once created, a Tensor produced by a graph execution is treated as immutable.
package tensors

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/shapes"
)

// Tensor represents a multidimensional array of float32 values.
type Tensor struct {
	shape shapes.Shape
	flat  []float32
}

// FromShape returns a zero-initialized Tensor with the given shape.
//
// The shape must be fully defined (no dynamic axes) and of dtype Float32.
func FromShape(shape shapes.Shape) *Tensor {
	if shape.DType != dtypes.Float32 {
		exceptions.Panicf("tensors.FromShape(%s): only Float32 tensors are supported", shape)
	}
	if shape.IsDynamic() {
		exceptions.Panicf("tensors.FromShape(%s): cannot create tensor with dynamic axes", shape)
	}
	return &Tensor{shape: shape.Clone(), flat: make([]float32, shape.Size())}
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, filled with value.
func FromScalarAndDimensions(value float32, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.Float32, dimensions...))
	for ii := range t.flat {
		t.flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a Tensor with the given dimensions, and copies over the flat data.
//
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions(data []float32, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.Float32, dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: data has %d elements, but dimensions %v require %d",
			len(data), dimensions, shape.Size())
	}
	return &Tensor{shape: shape, flat: slices.Clone(data)}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements of the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// AssertValid panics if the tensor is nil.
func (t *Tensor) AssertValid() {
	if t == nil || !t.shape.Ok() {
		exceptions.Panicf("tensor is nil or invalid")
	}
}

// ConstFlatData calls accessFn with the flat (row-major) data of the tensor.
// The data must not be modified nor retained after accessFn returns.
func (t *Tensor) ConstFlatData(accessFn func(flat []float32)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data of the tensor, which can be modified in place.
//
// Only use it on tensors owned by the caller: tensors produced by a graph execution or bound
// to a model variable are considered immutable.
func (t *Tensor) MutableFlatData(accessFn func(flat []float32)) {
	t.AssertValid()
	accessFn(t.flat)
}

// CopyFlatData returns a copy of the flat data of the tensor.
func (t *Tensor) CopyFlatData() []float32 {
	t.AssertValid()
	return slices.Clone(t.flat)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	return &Tensor{shape: t.shape.Clone(), flat: slices.Clone(t.flat)}
}

// Reshape returns a new tensor with the same data (copied) and the given dimensions.
// One dimension may be shapes.DynamicDim, in which case it is inferred from the size.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	t.AssertValid()
	dimensions = slices.Clone(dimensions)
	inferAxis := -1
	known := 1
	for axis, dim := range dimensions {
		if dim == shapes.DynamicDim {
			if inferAxis >= 0 {
				exceptions.Panicf("Tensor.Reshape(%v): only one axis can be inferred", dimensions)
			}
			inferAxis = axis
			continue
		}
		known *= dim
	}
	if inferAxis >= 0 {
		if known == 0 || t.Size()%known != 0 {
			exceptions.Panicf("Tensor.Reshape(%v): cannot infer axis for tensor of shape %s", dimensions, t.shape)
		}
		dimensions[inferAxis] = t.Size() / known
	}
	return FromFlatDataAndDimensions(t.flat, dimensions...)
}

// Equal checks whether t and otherTensor have the same shape and bit-identical values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return slices.Equal(t.flat, otherTensor.flat)
}

// InDelta checks whether Abs(t - otherTensor) <= delta for every element.
// If the shapes are different, it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	for ii, v := range t.flat {
		diff := float64(v) - float64(otherTensor.flat[ii])
		if diff > delta || diff < -delta {
			return false
		}
	}
	return true
}
