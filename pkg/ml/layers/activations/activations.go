// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the activations used by the models, and includes a generic Apply method to
// apply an activation by its type.
//
// There is also FromName to convert an activation name (string) to its type, and ApplyFromContext that applies
// an activation based on the hyperparameter ParamActivation defined in a context.
package activations

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// ParamActivation context hyperparameter defines the activation to use, for models using ApplyFromContext.
	// Available values are: `none`, `relu` or `softmax`.
	// The default is `relu`.
	ParamActivation = "activation"
)

// Type is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: TypeRelu -> "relu"), and can be converted
// from string by using FromName or UnmarshalText.
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeSoftmax
)

var typeNames = []string{"none", "relu", "softmax"}

// TypeValues returns all valid values of Type.
func TypeValues() []Type {
	return []Type{TypeNone, TypeRelu, TypeSoftmax}
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// TypeString converts the name of an activation to its Type.
func TypeString(name string) (Type, error) {
	idx := slices.Index(typeNames, strings.ToLower(name))
	if idx < 0 {
		return TypeNone, errors.Errorf("%q is not a valid activation, options are %v", name, TypeValues())
	}
	return Type(idx), nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so the activation can be given as a string hyperparameter.
func (t *Type) UnmarshalText(text []byte) error {
	var err error
	*t, err = TypeString(string(text))
	return err
}

// ApplyFromContext picks an activation function from the context using [ParamActivation] parameter,
// and applies it to x.
//
// It defaults to "relu".
func ApplyFromContext(ctx *context.Context, x *Node) *Node {
	activationName := context.GetParamOr(ctx, ParamActivation, "relu")
	return Apply(FromName(activationName), x)
}

// Apply the given activation type.
// The TypeNone activation is a no-op.
func Apply(activation Type, x *Node) *Node {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return Relu(x)
	case TypeSoftmax:
		return Softmax(x)
	default:
		exceptions.Panicf("Apply got invalid activation value %q: options are %v", activation, TypeValues())
	}
	return nil
}

// FromName converts the name of an activation to its type.
// It panics with a helpful message if name is invalid.
//
// And empty string is converted to TypeNone.
func FromName(activationName string) Type {
	if activationName == "" {
		return TypeNone
	}
	activation, err := TypeString(activationName)
	if err != nil {
		exceptions.Panicf("invalid activation name %q: options are %v", activationName, TypeValues())
	}
	return activation
}
