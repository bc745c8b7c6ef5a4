// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// VariableInitializer builds the initial value of a variable, given its parameter name and shape.
//
// The initializers in this package are deterministic: the random ones are seeded by the name of the variable
// (and an optional seed), so a model built twice has the same initial values, regardless of construction order.
type VariableInitializer func(name string, shape shapes.Shape) *tensors.Tensor

// Zero initializes variables with zeros.
func Zero(_ string, shape shapes.Shape) *tensors.Tensor {
	return tensors.FromShape(shape)
}

// One initializes variables with ones.
func One(_ string, shape shapes.Shape) *tensors.Tensor {
	return tensors.FromScalarAndDimensions(1, shape.Dimensions...)
}

// rngFor returns a random number generator seeded by name and seed.
func rngFor(name string, seed uint64) *rand.Rand {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(name))
	return rand.New(rand.NewPCG(hasher.Sum64(), seed))
}

// RandomUniformFn returns an initializer that generates values uniformly distributed in [minValue, maxValue).
func RandomUniformFn(seed uint64, minValue, maxValue float64) VariableInitializer {
	if maxValue < minValue {
		exceptions.Panicf("RandomUniformFn: maxValue (%g) < minValue (%g)", maxValue, minValue)
	}
	return func(name string, shape shapes.Shape) *tensors.Tensor {
		rng := rngFor(name, seed)
		t := tensors.FromShape(shape)
		t.MutableFlatData(func(flat []float32) {
			for ii := range flat {
				flat[ii] = float32(minValue + rng.Float64()*(maxValue-minValue))
			}
		})
		return t
	}
}

// computeFanInFanOut of a variable that is expected to be a kernel, shaped [<spatial...>, fanIn, fanOut]
// (convolution) or [fanIn, fanOut] (dense). The spatial dimensions multiply both fans, as in Keras.
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	switch rank {
	case 0:
		return 1, 1
	case 1:
		return shape.Dimensions[0], shape.Dimensions[0]
	}
	receptiveField := 1
	for _, dim := range shape.Dimensions[:rank-2] {
		receptiveField *= dim
	}
	return shape.Dimensions[rank-2] * receptiveField, shape.Dimensions[rank-1] * receptiveField
}

// GlorotUniformFn returns a Glorot (aka. Xavier) uniform initializer, the default for kernels in Keras:
// values are uniform in [-limit, limit], with limit = sqrt(6 / (fanIn + fanOut)).
func GlorotUniformFn(seed uint64) VariableInitializer {
	return func(name string, shape shapes.Shape) *tensors.Tensor {
		fanIn, fanOut := computeFanInFanOut(shape)
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		return RandomUniformFn(seed, -limit, limit)(name, shape)
	}
}
