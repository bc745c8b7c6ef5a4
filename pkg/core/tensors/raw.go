// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// FromRawBytes converts the raw (row-major) binary contents of an array stored with the given dtype
// and byte order into a float32 Tensor.
//
// It is used by the weight file readers (.npy, safetensors, HDF5), where tensors may be stored as
// float16, float64 or integers.
func FromRawBytes(dtype dtypes.DType, order binary.ByteOrder, raw []byte, dimensions ...int) (*Tensor, error) {
	shape := shapes.Make(dtypes.Float32, dimensions...)
	elemSize := dtype.Size()
	if elemSize <= 0 {
		return nil, errors.Errorf("tensors.FromRawBytes: unsupported dtype %s", dtype)
	}
	if len(raw) != elemSize*shape.Size() {
		return nil, errors.Errorf("tensors.FromRawBytes: %d bytes given, but %s with dtype %s requires %d bytes",
			len(raw), shape, dtype, elemSize*shape.Size())
	}
	t := FromShape(shape)
	for ii := range t.flat {
		b := raw[ii*elemSize : (ii+1)*elemSize]
		switch dtype {
		case dtypes.Float32:
			t.flat[ii] = math.Float32frombits(order.Uint32(b))
		case dtypes.Float64:
			t.flat[ii] = float32(math.Float64frombits(order.Uint64(b)))
		case dtypes.Float16:
			t.flat[ii] = float16.Frombits(order.Uint16(b)).Float32()
		case dtypes.Uint8:
			t.flat[ii] = float32(b[0])
		case dtypes.Int8:
			t.flat[ii] = float32(int8(b[0]))
		case dtypes.Int32:
			t.flat[ii] = float32(int32(order.Uint32(b)))
		case dtypes.Int64:
			t.flat[ii] = float32(int64(order.Uint64(b)))
		default:
			return nil, errors.Errorf("tensors.FromRawBytes: unsupported dtype %s", dtype)
		}
	}
	return t, nil
}

// ToRawBytes returns the tensor contents as little-endian float32 bytes.
func (t *Tensor) ToRawBytes() []byte {
	t.AssertValid()
	raw := make([]byte, 4*len(t.flat))
	for ii, v := range t.flat {
		binary.LittleEndian.PutUint32(raw[4*ii:], math.Float32bits(v))
	}
	return raw
}

// TransposeFromColumnMajor returns a row-major copy of a tensor whose flat data was filled in
// column-major (Fortran) order.
func (t *Tensor) TransposeFromColumnMajor() *Tensor {
	t.AssertValid()
	dims := t.shape.Dimensions
	out := FromShape(t.shape)
	if t.Rank() <= 1 {
		copy(out.flat, t.flat)
		return out
	}
	coordinates := make([]int, len(dims))
	for cIndex := range out.flat {
		tempIndex := cIndex
		for axis := len(dims) - 1; axis >= 0; axis-- {
			coordinates[axis] = tempIndex % dims[axis]
			tempIndex /= dims[axis]
		}
		fortranIndex, multiplier := 0, 1
		for axis := range dims {
			fortranIndex += coordinates[axis] * multiplier
			multiplier *= dims[axis]
		}
		out.flat[cIndex] = t.flat[fortranIndex]
	}
	return out
}
