// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorToFromImage(t *testing.T) {
	// 2x3 image, with values 0 to 5*40 on the red channel.
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := range 2 {
		for x := range 3 {
			img.Set(x, y, color.NRGBA{R: uint8((y*3 + x) * 40), G: 255, B: 0, A: 255})
		}
	}
	imgT := ToTensor().Single(img)
	assert.Equal(t, []int{2, 3, 3}, imgT.Shape().Dimensions)
	assert.Equal(t, []float32{120, 255, 0}, imgT.Value().([][][]float32)[1][0])

	withAlpha := ToTensor().WithAlpha().MaxValue(1.0).Single(img)
	assert.Equal(t, []float32{0, 1, 0, 1}, withAlpha.Value().([][][]float32)[0][0])

	batch := ToTensor().Batch([]image.Image{img, img})
	assert.Equal(t, []int{2, 2, 3, 3}, batch.Shape().Dimensions)

	back := ToImage().Single(imgT)
	require.Equal(t, img.Bounds(), back.Bounds())
	for y := range 2 {
		for x := range 3 {
			assert.Equal(t, img.At(x, y), back.At(x, y))
		}
	}
}

func TestBatchSizeMismatch(t *testing.T) {
	require.Panics(t, func() {
		ToTensor().Batch([]image.Image{image.NewNRGBA(image.Rect(0, 0, 2, 2)), image.NewNRGBA(image.Rect(0, 0, 3, 2))})
	})
	require.Panics(t, func() { ToImage().Single(tensors.FromScalarAndDimensions(0, 2, 2)) })
}

func TestLoadAndResize(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	filePath := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(filePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	loaded, err := Load(filePath)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 30), loaded.Bounds().Size())
	resized := Resize(loaded, 16, 16)
	assert.Equal(t, image.Pt(16, 16), resized.Bounds().Size())
	assert.Same(t, loaded, Resize(loaded, 40, 30))

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func TestResizeWithNearestNeighbor(t *testing.T) {
	red, blue := color.NRGBA{R: 255, A: 255}, color.NRGBA{B: 255, A: 255}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, red)
	img.Set(1, 0, blue)
	resized := ResizeWith(img, 4, 1, imaging.NearestNeighbor)
	require.Equal(t, image.Pt(4, 1), resized.Bounds().Size())
	for x, want := range []color.NRGBA{red, red, blue, blue} {
		assert.Equal(t, want, color.NRGBAModel.Convert(resized.At(x, 0)), "x=%d", x)
	}
}
