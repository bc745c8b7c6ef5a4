// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromRawBytes(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1.5, -2, 3}, 3)
	back, err := FromRawBytes(dtypes.Float32, binary.LittleEndian, tensor.ToRawBytes(), 3)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(back))

	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw, math.Float64bits(0.25))
	binary.BigEndian.PutUint64(raw[8:], math.Float64bits(-4))
	back, err = FromRawBytes(dtypes.Float64, binary.BigEndian, raw, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.25}, {-4}}, back.Value())

	raw = make([]byte, 4)
	binary.LittleEndian.PutUint16(raw, float16.Fromfloat32(0.5).Bits())
	binary.LittleEndian.PutUint16(raw[2:], float16.Fromfloat32(2).Bits())
	back, err = FromRawBytes(dtypes.Float16, binary.LittleEndian, raw, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 2}, back.Value())

	_, err = FromRawBytes(dtypes.Float32, binary.LittleEndian, raw[:3], 1)
	require.Error(t, err)
}

func TestTransposeFromColumnMajor(t *testing.T) {
	// Column-major [[1,2,3],[4,5,6]] is stored as 1,4,2,5,3,6.
	fortran := FromFlatDataAndDimensions([]float32{1, 4, 2, 5, 3, 6}, 2, 3)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, fortran.TransposeFromColumnMajor().Value())
}
