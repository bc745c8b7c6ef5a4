// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weights

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKerasName(t *testing.T) {
	for path, want := range map[string]string{
		"/res2a_branch2a/res2a_branch2a/kernel:0":            "res2a_branch2a/kernel",
		"/model_weights/bn_conv1/bn_conv1/moving_variance:0": "bn_conv1/moving_variance",
		"/bn_conv1/bn_conv1_running_std:0":                   "bn_conv1/moving_variance",
		"/bn_conv1/bn_conv1_running_mean:0":                  "bn_conv1/moving_mean",
		"/fc1000/fc1000_W_1:0":                               "fc1000/kernel",
		"/conv1/conv1_b:0":                                   "conv1/bias",
		"/bn5c_branch2c/bn5c_branch2c/beta:0":                "bn5c_branch2c/beta",
	} {
		got, ok := CanonicalKerasName(path)
		assert.True(t, ok, "path %q", path)
		assert.Equal(t, want, got, "path %q", path)
	}
	for _, path := range []string{"/conv1", "/optimizer_weights/Adam/iterations:0", "/conv1/conv1/something:0"} {
		_, ok := CanonicalKerasName(path)
		assert.False(t, ok, "path %q", path)
	}
}

const h5ContentsSample = `HDF5 "resnet50.h5" {
FILE_CONTENTS {
 group      /
 group      /bn_conv1
 group      /bn_conv1/bn_conv1
 dataset    /bn_conv1/bn_conv1/gamma:0
 group      /conv1
 group      /conv1/conv1
 dataset    /conv1/conv1/kernel:0
 }
}
`

const h5HeadersSample = `HDF5 "resnet50.h5" {
DATASET "/bn_conv1/bn_conv1/gamma:0" {
   DATATYPE  H5T_IEEE_F32LE
   DATASPACE  SIMPLE { ( 64 ) / ( 64 ) }
}
DATASET "/conv1/conv1/kernel:0" {
   DATATYPE  H5T_IEEE_F32LE
   DATASPACE  SIMPLE { ( 7, 7, 3, 64 ) / ( 7, 7, 3, 64 ) }
}
DATASET "/conv1/conv1/step:0" {
   DATATYPE  H5T_STRING {
      STRSIZE H5T_VARIABLE;
   }
   DATASPACE  SCALAR
}
}
`

func TestParseH5(t *testing.T) {
	assert.Equal(t, []string{"/bn_conv1/bn_conv1/gamma:0", "/conv1/conv1/kernel:0"}, parseH5Contents(h5ContentsSample))

	datasets, err := parseH5Headers(h5HeadersSample)
	require.NoError(t, err)
	require.Len(t, datasets, 2, "string dataset must be skipped")
	assert.Equal(t, "/bn_conv1/bn_conv1/gamma:0", datasets[0].path)
	assert.Equal(t, dtypes.Float32, datasets[0].dtype)
	assert.Equal(t, []int{64}, datasets[0].dimensions)
	assert.Equal(t, []int{7, 7, 3, 64}, datasets[1].dimensions)
}

func TestOpenHDF5Errors(t *testing.T) {
	_, err := OpenHDF5(t.TempDir() + "/missing.h5")
	require.Error(t, err)
}
