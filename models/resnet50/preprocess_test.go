// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocess(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]float32{0, 127.5, 255, 51}, 2, 2, 1)
	output := Preprocess(img)
	assert.Equal(t, []int{1, 2, 2, 1}, output.Shape().Dimensions)
	output.ConstFlatData(func(flat []float32) {
		assert.InDeltaSlice(t, []float32{-1, 0, 1, -0.6}, flat, 1e-6)
	})
	// Input is not changed.
	img.ConstFlatData(func(flat []float32) {
		assert.Equal(t, []float32{0, 127.5, 255, 51}, flat)
	})
	assert.Panics(t, func() { Preprocess(tensors.FromScalarAndDimensions(0, 2, 2)) })
}

// uniformImage returns a 300x200 image filled with grey level v.
func uniformImage(v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: v, G: v, B: v, A: 255}), image.Point{}, draw.Src)
	return img
}

func flatCopy(t *tensors.Tensor) (flat []float32) {
	t.ConstFlatData(func(data []float32) { flat = append(flat, data...) })
	return
}

func TestPreprocessImage(t *testing.T) {
	for _, tc := range []struct {
		name  string
		level uint8
		want  float32
		delta float64
	}{
		{"black", 0, -1, 1e-6},
		{"white", 255, 1, 1e-6},
		{"grey", 128, 0, 5e-3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			output := PreprocessImage(uniformImage(tc.level), DefaultImageSize)
			assert.Equal(t, []int{1, DefaultImageSize, DefaultImageSize, 3}, output.Shape().Dimensions)
			for ii, v := range flatCopy(output) {
				if !assert.InDelta(t, tc.want, v, tc.delta, "value #%d", ii) {
					break
				}
			}
		})
	}
}

func TestPreprocessImages(t *testing.T) {
	imgs := []image.Image{uniformImage(0), uniformImage(200)}
	batch := PreprocessImages(imgs, DefaultImageSize)
	require.Equal(t, []int{2, DefaultImageSize, DefaultImageSize, 3}, batch.Shape().Dimensions)
	var stacked []float32
	for _, img := range imgs {
		stacked = append(stacked, flatCopy(PreprocessImage(img, DefaultImageSize))...)
	}
	assert.Equal(t, stacked, flatCopy(batch))
}
