// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"golang.org/x/exp/constraints"
)

// Number is any Go numeric type that can be converted to the float32 storage of a Tensor.
type Number interface {
	constraints.Integer | constraints.Float
}

// FromNumbers creates a Tensor with the given dimensions, converting data to float32.
//
// It panics if the size of data doesn't match the dimensions.
func FromNumbers[T Number](data []T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.Float32, dimensions...))
	if len(data) != t.Size() {
		exceptions.Panicf("tensors.FromNumbers: data has %d elements, but dimensions %v require %d",
			len(data), dimensions, t.Size())
	}
	for ii, v := range data {
		t.flat[ii] = float32(v)
	}
	return t
}

// Value returns a multidimensional slice (except if the shape is a scalar) containing a copy of the values stored
// in the tensor: float32 for scalars, []float32 for rank 1, [][]float32 for rank 2, etc.
//
// This is expensive and usually only used for smaller tensors in tests and to print results.
func (t *Tensor) Value() any {
	t.AssertValid()
	if t.shape.IsScalar() {
		return t.flat[0]
	}
	flatCopyV := reflect.ValueOf(t.CopyFlatData())
	return convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
}

// convertDataToSlices takes data as a flat slice and creates a multidimensional slice with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := make([]int, len(dimensions))
	currentStride := 1
	for dim := len(dimensions) - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= dimensions[dim]
	}
	return createSlicesRecursively(resultT, dataV, dimensions, strides)
}

// createSlicesRecursively builds the nested slices pointing to the flat data.
func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		slice.Index(ii).Set(createSlicesRecursively(resultT.Elem(), subData, dimensions[1:], strides[1:]))
	}
	return slice
}
