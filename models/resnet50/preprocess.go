// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	timages "github.com/gomlx/resnet50/pkg/core/tensors/images"
)

// Preprocess converts an image shaped `[height, width, channels]`, with values from 0 to 255, to the input
// expected by the pretrained weights: values are scaled to -1.0 to 1.0 (`(v/255 - 0.5) * 2`) and a batch axis
// of size 1 is prepended, so the output is shaped `[1, height, width, channels]`.
//
// It panics if img is not rank 3.
func Preprocess(img *tensors.Tensor) *tensors.Tensor {
	if img.Rank() != 3 {
		exceptions.Panicf("resnet50.Preprocess: image must be shaped [height, width, channels], got %s", img.Shape())
	}
	// Reshape returns a copy, the input is not changed.
	output := img.Reshape(append([]int{1}, img.Shape().Dimensions...)...)
	output.MutableFlatData(scalePixels)
	return output
}

// scalePixels from 0..255 to -1..1, in place.
func scalePixels(flat []float32) {
	for ii, v := range flat {
		flat[ii] = (v/255 - 0.5) * 2
	}
}

// ResizeFilter used by PreprocessImage and PreprocessImages. Nearest neighbour is what Keras
// `image.load_img(path, target_size=...)` uses, and the pretrained weights were evaluated with it.
var ResizeFilter = imaging.NearestNeighbor

// PreprocessImage resizes img to size x size (with ResizeFilter), converts it to a tensor and calls Preprocess.
// The alpha channel, if any, is dropped.
func PreprocessImage(img image.Image, size int) *tensors.Tensor {
	img = timages.ResizeWith(img, size, size, ResizeFilter)
	return Preprocess(timages.ToTensor().Single(img))
}

// PreprocessImages is like PreprocessImage, but for a batch of images: it returns a tensor shaped
// `[len(imgs), size, size, 3]`.
func PreprocessImages(imgs []image.Image, size int) *tensors.Tensor {
	resized := make([]image.Image, len(imgs))
	for ii, img := range imgs {
		resized[ii] = timages.ResizeWith(img, size, size, ResizeFilter)
	}
	batch := timages.ToTensor().Batch(resized)
	batch.MutableFlatData(scalePixels)
	return batch
}
