// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors, plus loading and resizing of image files.
package images

import (
	"image"
	_ "image/gif"  // Register GIF decoder.
	_ "image/jpeg" // Register JPEG decoder.
	_ "image/png"  // Register PNG decoder.
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
}

// ToTensor converts an image (or batch) to a tensors.Tensor.
//
// The default MaxValue is 255, which yields the pixel values expected by image model preprocessing.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
func ToTensor() *ToTensorConfig {
	return &ToTensorConfig{channels: 3, maxValue: 255.0}
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels. The default is dropping the alpha channel.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// MaxValue sets the value a fully saturated channel is mapped to. Default is 255.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Single converts the given img to a tensor shaped `[height, width, channels]`.
//
// It panics in case of error.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	size := img.Bounds().Size()
	t := tensors.FromScalarAndDimensions(0, size.Y, size.X, tt.channels)
	t.MutableFlatData(func(flat []float32) {
		tt.fill(flat, img, size)
	})
	return t
}

// Batch converts the given images to a tensor shaped `[batch_size, height, width, channels]`.
// All images must have the same size.
//
// It panics in case of error.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor().Batch() requires at least one image")
	}
	size := images[0].Bounds().Size()
	t := tensors.FromScalarAndDimensions(0, len(images), size.Y, size.X, tt.channels)
	imgSize := size.X * size.Y * tt.channels
	t.MutableFlatData(func(flat []float32) {
		for imgIdx, img := range images {
			if !img.Bounds().Size().Eq(size) {
				exceptions.Panicf(
					"image[%d] has size %s, but image[0] has size %s -- they must all be the same",
					imgIdx, img.Bounds().Size(), size)
			}
			tt.fill(flat[imgIdx*imgSize:(imgIdx+1)*imgSize], img, size)
		}
	})
	return t
}

func (tt *ToTensorConfig) fill(flat []float32, img image.Image, size image.Point) {
	// color.RGBA() returns 16 bits values packaged in uint32.
	scale := tt.maxValue / float64(0xFFFF)
	minPt := img.Bounds().Min
	pos := 0
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			r, g, b, a := img.At(minPt.X+x, minPt.Y+y).RGBA()
			channels := [4]uint32{r, g, b, a}
			for _, v := range channels[:tt.channels] {
				flat[pos] = float32(float64(v) * scale)
				pos++
			}
		}
	}
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	maxValue float64
}

// ToImage returns a configuration that can be used to convert tensors to Images.
// Use Single or Batch to convert single images or batch of images at once.
//
// For now, it only supports `*image.NRGBA` image type.
func ToImage() *ToImageConfig {
	return &ToImageConfig{maxValue: 255.0}
}

// MaxValue sets the tensor value that maps to a fully saturated channel. Default is 255.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// Single converts the given 3D tensor shaped as `[height, width, channels]` to an image.
func (ti *ToImageConfig) Single(t *tensors.Tensor) image.Image {
	if t.Rank() != 3 {
		exceptions.Panicf("images.ToImage().Single() requires a rank-3 tensor, got shape %s", t.Shape())
	}
	return ti.Batch(t.Reshape(append([]int{1}, t.Shape().Dimensions...)...))[0]
}

// Batch converts the given 4D tensor shaped as `[batch_size, height, width, channels]`
// to a collection of images.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) (images []image.Image) {
	if t.Rank() != 4 {
		exceptions.Panicf("images.ToImage().Batch() requires a rank-4 tensor, got shape %s", t.Shape())
	}
	dims := t.Shape().Dimensions
	numImages, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	if channels != 3 && channels != 4 {
		exceptions.Panicf("images.ToImage invalid tensor shape %s, with %d channels: only images with 3 or 4 channels are supported",
			t.Shape(), channels)
	}
	images = make([]image.Image, 0, numImages)
	t.ConstFlatData(func(flat []float32) {
		pos := 0
		for range numImages {
			img := image.NewNRGBA(image.Rect(0, 0, width, height))
			for h := 0; h < height; h++ {
				for w := 0; w < width; w++ {
					for d := 0; d < channels; d++ {
						v := math.Round(float64(flat[pos]) / ti.maxValue * 255.0)
						img.Pix[h*img.Stride+w*4+d] = uint8(max(0, min(255, v)))
						pos++
					}
					if channels == 3 {
						img.Pix[h*img.Stride+w*4+3] = 255
					}
				}
			}
			images = append(images, img)
		}
	})
	return images
}

// Load decodes the image file at filePath. JPEG, PNG and GIF are supported.
func Load(filePath string) (image.Image, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", filePath)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", filePath)
	}
	return img, nil
}

// Resize returns img resized to exactly width x height, with Lanczos resampling.
func Resize(img image.Image, width, height int) image.Image {
	return ResizeWith(img, width, height, imaging.Lanczos)
}

// ResizeWith is like Resize, but with the given resampling filter (e.g. imaging.NearestNeighbor).
// img is returned unchanged if it already has the requested size.
func ResizeWith(img image.Image, width, height int, filter imaging.ResampleFilter) image.Image {
	if b := img.Bounds().Size(); b.X == width && b.Y == height {
		return img
	}
	return imaging.Resize(img, width, height, filter)
}
