// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package batchnorm implements the inference side of a batch normalization layer.
//
// Based on paper "Batch Normalization: Accelerating Deep Network Training by Reducing
// Internal Covariate Shift" (Sergey Ioffe, Christian Szegedy), https://arxiv.org/abs/1502.03167.
package batchnorm

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
)

const (
	// BatchNormalizationScopeName is used as sub-scope for all batch normalization variables, unless
	// Config.CurrentScope is used.
	BatchNormalizationScopeName = "batch_normalization"

	// ParamEpsilon is the context hyperparameter that overrides the default epsilon.
	// It is read from the scope where the layer is created, so it can be set per model or per layer.
	ParamEpsilon = "bn_epsilon"

	// DefaultEpsilon is the Keras default added to the variance.
	DefaultEpsilon = 1e-3
)

// Names of the variables, following the Keras conventions.
const (
	GammaName          = "gamma"
	BetaName           = "beta"
	MovingMeanName     = "moving_mean"
	MovingVarianceName = "moving_variance"
)

// Config for a batch normalization layer.
// Create it with New, set the desired parameters, and when all is set, call Done.
type Config struct {
	ctx           *context.Context
	x             *Node
	featureAxis   int
	epsilon       float64
	center, scale bool
	newScope      bool
}

// New creates a builder of a batch normalization layer on x, using the collected moving mean and variance:
//
//	y = gamma * (x - moving_mean) / sqrt(moving_variance + epsilon) + beta
//
// featureAxis is the axis holding the features being normalized, usually -1 (the channels of an image
// shaped `[batch_size, height, width, channels]`).
//
// It returns a Config object for configuration. Once it is set up call `Config.Done` and it will return the
// normalized x.
func New(ctx *context.Context, x *Node, featureAxis int) *Config {
	return &Config{
		ctx:         ctx,
		x:           x,
		featureAxis: featureAxis,
		epsilon:     context.GetParamOr(ctx, ParamEpsilon, DefaultEpsilon),
		center:      true,
		scale:       true,
		newScope:    true,
	}
}

// Epsilon is a small float added to variance to avoid dividing by zero.
// It defaults to 1e-3, or to the value of the ParamEpsilon hyperparameter if set.
//
// Notice Keras default is 1e-3 (the one we use), but PyTorch's default of 1e-05.
func (builder *Config) Epsilon(value float64) *Config {
	builder.epsilon = value
	return builder
}

// Center defines whether the batch normalization adds a learned offset, the β (beta) parameter.
// Default to true.
func (builder *Config) Center(value bool) *Config {
	builder.center = value
	return builder
}

// Scale defines whether the batch normalization multiplies by a learned scale, the γ (gamma) parameter.
// Default to true.
func (builder *Config) Scale(value bool) *Config {
	builder.scale = value
	return builder
}

// CurrentScope configures New not to create a new sub-scope named BatchNormalizationScopeName for its variables.
func (builder *Config) CurrentScope() *Config {
	builder.newScope = false
	return builder
}

// Done creates the batch normalization variables and the graph for the normalization, and returns the
// normalized x.
func (builder *Config) Done() *Node {
	ctx := builder.ctx
	if builder.newScope {
		ctx = ctx.In(BatchNormalizationScopeName)
	}
	x := builder.x
	g := x.Graph()
	if builder.epsilon <= 0 {
		exceptions.Panicf("batchnorm: epsilon must be > 0, got %g", builder.epsilon)
	}
	featureAxis := builder.featureAxis
	if featureAxis < 0 {
		featureAxis += x.Rank()
	}
	if featureAxis < 0 || featureAxis >= x.Rank() {
		exceptions.Panicf("batchnorm: invalid featureAxis %d for x shaped %s", builder.featureAxis, x.Shape())
	}
	featureDim := x.Shape().Dim(featureAxis)
	if featureDim == shapes.DynamicDim {
		exceptions.Panicf("batchnorm: feature axis of x shaped %s must be static", x.Shape())
	}
	varShape := shapes.Make(x.Shape().DType, featureDim)

	var gamma, beta *Node
	if builder.scale {
		gamma = ctx.WithInitializer(context.One).VariableWithShape(GammaName, varShape).ValueGraph(g)
	} else {
		gamma = Const(g, tensors.FromScalarAndDimensions(1, featureDim))
	}
	if builder.center {
		beta = ctx.WithInitializer(context.Zero).VariableWithShape(BetaName, varShape).ValueGraph(g)
	} else {
		beta = Const(g, tensors.FromScalarAndDimensions(0, featureDim))
	}
	mean := ctx.WithInitializer(context.Zero).VariableWithShape(MovingMeanName, varShape).ValueGraph(g)
	variance := ctx.WithInitializer(context.One).VariableWithShape(MovingVarianceName, varShape).ValueGraph(g)
	return BatchNormInference(x, gamma, beta, mean, variance, float32(builder.epsilon), featureAxis)
}
