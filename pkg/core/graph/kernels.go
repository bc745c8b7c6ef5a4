// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"
	"slices"

	"github.com/gomlx/resnet50/internal/workerspool"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// This file holds the CPU implementation of the ops, on row-major float32 data.

func constFlat(t *tensors.Tensor) (flat []float32) {
	t.ConstFlatData(func(data []float32) { flat = data })
	return
}

func mutableFlat(t *tensors.Tensor) (flat []float32) {
	t.MutableFlatData(func(data []float32) { flat = data })
	return
}

// stridesFor returns the row-major strides of the given dimensions.
func stridesFor(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}

// forEachIndex calls fn for every element of a tensor with the given dimensions, in row-major order,
// with its flat position and multi-dimensional index. idx is reused between calls.
func forEachIndex(dims []int, fn func(flatIdx int, idx []int)) {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	idx := make([]int, len(dims))
	for flatIdx := range size {
		fn(flatIdx, idx)
		for axis := len(dims) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < dims[axis] {
				break
			}
			idx[axis] = 0
		}
	}
}

// gemm computes c = a·b, with a shaped [m, k], b shaped [k, n] and c shaped [m, n].
func gemm(m, k, n int, a, b, c []float32) {
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a[:m*k]},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b[:k*n]},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c[:m*n]})
}

func execPad(output, x *tensors.Tensor, fillValue float32, axesConfig []PadAxis) {
	out, in := mutableFlat(output), constFlat(x)
	for ii := range out {
		out[ii] = fillValue
	}
	outStrides := stridesFor(output.Shape().Dimensions)
	offset := 0
	for axis, pad := range axesConfig {
		offset += pad.Start * outStrides[axis]
	}
	forEachIndex(x.Shape().Dimensions, func(flatIdx int, idx []int) {
		pos := offset
		for axis, i := range idx {
			pos += i * outStrides[axis]
		}
		out[pos] = in[flatIdx]
	})
}

// kernelsPool limits the parallelism of the kernels.
var kernelsPool = workerspool.New()

// SetMaxParallelism sets the maximum number of goroutines used by the ops kernels. 0 disables parallelism,
// and a negative value uses runtime.NumCPU(), the default.
//
// It should not be called while a graph is being executed.
func SetMaxParallelism(maxParallelism int) {
	kernelsPool.SetMaxParallelism(maxParallelism)
}

// execConvolve implements the convolution by lowering the input patches to a matrix ("im2col"),
// and multiplying it by the kernel reshaped to [kernel_height*kernel_width*input_channels, output_channels].
//
// Output rows (batch and height positions) are split among the workers.
func execConvolve(output, x, kernel *tensors.Tensor, strides [2]int, paddings [2]PadAxis) {
	xDims, kDims, outDims := x.Shape().Dimensions, kernel.Shape().Dimensions, output.Shape().Dimensions
	batchSize, height, width, inChannels := xDims[0], xDims[1], xDims[2], xDims[3]
	kernelHeight, kernelWidth, outChannels := kDims[0], kDims[1], kDims[3]
	outHeight, outWidth := outDims[1], outDims[2]
	in, k, out := constFlat(x), constFlat(kernel), mutableFlat(output)

	if kernelHeight == 1 && kernelWidth == 1 && strides == [2]int{1, 1} && paddings == [2]PadAxis{} {
		// Pointwise convolution: the input is already the patches matrix.
		kernelsPool.ParallelFor(batchSize*height*width, 64, func(start, end int) {
			gemm(end-start, inChannels, outChannels, in[start*inChannels:], k, out[start*outChannels:])
		})
		return
	}

	patchSize := kernelHeight * kernelWidth * inChannels
	kernelsPool.ParallelFor(batchSize*outHeight, 1, func(start, end int) {
		patches := make([]float32, (end-start)*outWidth*patchSize)
		// Rows of the chunk are processed in segments that don't cross a batch example boundary.
		for segStart := start; segStart < end; {
			batchIdx := segStart / outHeight
			segEnd := min(end, (batchIdx+1)*outHeight)
			for item := segStart; item < segEnd; item++ {
				oh := item % outHeight
				for ow := range outWidth {
					patchIdx := (item-segStart)*outWidth + ow
					row := patches[patchIdx*patchSize : (patchIdx+1)*patchSize]
					for kh := range kernelHeight {
						ih := oh*strides[0] - paddings[0].Start + kh
						for kw := range kernelWidth {
							iw := ow*strides[1] - paddings[1].Start + kw
							dst := row[(kh*kernelWidth+kw)*inChannels : (kh*kernelWidth+kw+1)*inChannels]
							if ih < 0 || ih >= height || iw < 0 || iw >= width {
								clear(dst)
								continue
							}
							src := ((batchIdx*height+ih)*width + iw) * inChannels
							copy(dst, in[src:src+inChannels])
						}
					}
				}
			}
			gemm((segEnd-segStart)*outWidth, patchSize, outChannels, patches, k, out[segStart*outWidth*outChannels:])
			segStart = segEnd
		}
	})
}

func execPool(output, x *tensors.Tensor, window, strides [2]int, paddings [2]PadAxis, isMax bool) {
	xDims, outDims := x.Shape().Dimensions, output.Shape().Dimensions
	batchSize, height, width, channels := xDims[0], xDims[1], xDims[2], xDims[3]
	outHeight, outWidth := outDims[1], outDims[2]
	in, out := constFlat(x), mutableFlat(output)
	acc := make([]float32, channels)
	pos := 0
	for batchIdx := range batchSize {
		for oh := range outHeight {
			for ow := range outWidth {
				initial := float32(0)
				if isMax {
					initial = float32(math.Inf(-1))
				}
				for c := range acc {
					acc[c] = initial
				}
				count := 0
				for wh := range window[0] {
					ih := oh*strides[0] - paddings[0].Start + wh
					if ih < 0 || ih >= height {
						continue
					}
					for ww := range window[1] {
						iw := ow*strides[1] - paddings[1].Start + ww
						if iw < 0 || iw >= width {
							continue
						}
						count++
						src := in[((batchIdx*height+ih)*width+iw)*channels:]
						if isMax {
							for c := range acc {
								acc[c] = max(acc[c], src[c])
							}
						} else {
							for c := range acc {
								acc[c] += src[c]
							}
						}
					}
				}
				if !isMax && count > 0 {
					for c := range acc {
						acc[c] /= float32(count)
					}
				}
				copy(out[pos:pos+channels], acc)
				pos += channels
			}
		}
	}
}

func execBatchNormInference(output *tensors.Tensor, inputs []*tensors.Tensor, epsilon float32, featureAxis int) {
	x, scale, offset, mean, variance := constFlat(inputs[0]), constFlat(inputs[1]), constFlat(inputs[2]),
		constFlat(inputs[3]), constFlat(inputs[4])
	dims := inputs[0].Shape().Dimensions
	numFeatures := dims[featureAxis]
	innerSize := 1
	for _, dim := range dims[featureAxis+1:] {
		innerSize *= dim
	}
	multiplier := make([]float32, numFeatures)
	shift := make([]float32, numFeatures)
	for f := range numFeatures {
		multiplier[f] = scale[f] / float32(math.Sqrt(float64(variance[f]+epsilon)))
		shift[f] = offset[f] - mean[f]*multiplier[f]
	}
	out := mutableFlat(output)
	for ii, v := range x {
		f := (ii / innerSize) % numFeatures
		out[ii] = v*multiplier[f] + shift[f]
	}
}

func execReduce(output, x *tensors.Tensor, axes []int, isMax bool) {
	in, out := constFlat(x), mutableFlat(output)
	dims := x.Shape().Dimensions
	outStrides := stridesFor(output.Shape().Dimensions)
	// Map the strides of the output to the input axes: reduced axes don't move the output position.
	inToOutStrides := make([]int, len(dims))
	outAxis := 0
	count := 1
	for axis, dim := range dims {
		if slices.Contains(axes, axis) {
			count *= dim
			continue
		}
		inToOutStrides[axis] = outStrides[outAxis]
		outAxis++
	}
	if isMax {
		for ii := range out {
			out[ii] = float32(math.Inf(-1))
		}
	} else {
		clear(out)
	}
	forEachIndex(dims, func(flatIdx int, idx []int) {
		pos := 0
		for axis, i := range idx {
			pos += i * inToOutStrides[axis]
		}
		if isMax {
			out[pos] = max(out[pos], in[flatIdx])
		} else {
			out[pos] += in[flatIdx]
		}
	})
	if !isMax {
		for ii := range out {
			out[ii] /= float32(count)
		}
	}
}

func execSoftmax(out, x []float32, rowSize int) {
	for start := 0; start < len(x); start += rowSize {
		row, outRow := x[start:start+rowSize], out[start:start+rowSize]
		maxV := slices.Max(row)
		var sum float64
		for ii, v := range row {
			e := math.Exp(float64(v - maxV))
			outRow[ii] = float32(e)
			sum += e
		}
		for ii := range outRow {
			outRow[ii] = float32(float64(outRow[ii]) / sum)
		}
	}
}
