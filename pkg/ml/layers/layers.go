// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds a collection of common modeling layers. Each layer creates its learnable variables
// in the context.Context scope given, and builds the computation graph for the layer.
//
// Variables are named after the Keras conventions ("kernel", "bias"), so the weights of Keras models can be
// bound to them by name.
package layers

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/ml/context"
)

const (
	// KernelName is the name of the variable holding the weights of a Dense or Convolution layer.
	KernelName = "kernel"

	// BiasName is the name of the variable holding the bias of a Dense or Convolution layer.
	BiasName = "bias"
)

// Dense adds a single dense linear layer, a learnable linear transformation, in the current scope of ctx.
// Optionally, it can include a bias term.
//
// The input must have shape `[batch_size, features]`, and the output will have
// shape `[batch_size, outputDim]`. The kernel variable is shaped `[features, outputDim]`.
func Dense(ctx *context.Context, input *Node, useBias bool, outputDim int) *Node {
	g := input.Graph()
	if input.Rank() != 2 {
		exceptions.Panicf("input for layers.Dense needs to be shaped [batch_size, features], got %s", input.Shape())
	}
	if outputDim <= 0 {
		exceptions.Panicf("layers.Dense requires outputDim > 0, got %d", outputDim)
	}
	inputDim := input.Shape().Dim(1)
	if inputDim == shapes.DynamicDim {
		exceptions.Panicf("layers.Dense: input shape %s must have a static features axis", input.Shape())
	}
	dtype := input.Shape().DType
	kernelVar := ctx.WithInitializer(context.GlorotUniformFn(0)).
		VariableWithShape(KernelName, shapes.Make(dtype, inputDim, outputDim))
	output := Dot(input, kernelVar.ValueGraph(g))
	if useBias {
		biasVar := ctx.WithInitializer(context.Zero).VariableWithShape(BiasName, shapes.Make(dtype, outputDim))
		output = AddBias(output, biasVar.ValueGraph(g))
	}
	return output
}
