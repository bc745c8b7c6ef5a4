// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/graph"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Variable is a value shared among computation graphs, or across multiple executions of the same graph.
// It's commonly used to store the weights (aka. parameters) of an ML model. It's defined in a scope in
// a Context.
//
// The value can be accessed in between graph executions by Value and SetValue methods.
//
// During the computation graph building, one can access the graph value (Node) of a variable with ValueGraph:
// it is fed to the graph as a parameter when executing.
type Variable struct {
	ctx         *Context
	name, scope string
	shape       shapes.Shape

	mu    sync.RWMutex
	value *tensors.Tensor

	// graphToNodes maps graphs in which this variable was used to its parameter Node.
	graphToNodes map[*graph.Graph]*graph.Node
}

// Name of the variable within the scope.
func (v *Variable) Name() string {
	v.AssertValid()
	return v.name
}

// Scope where the variable was created.
func (v *Variable) Scope() string {
	v.AssertValid()
	return v.scope
}

// ScopeAndName is a convenience function that returns the combined scope and name of the variable,
// e.g. "/res2a_branch2a/kernel".
func (v *Variable) ScopeAndName() string {
	return JoinScope(v.Scope(), v.Name())
}

// ParameterName is the name of the model parameter held by the variable: its scope (without the leading
// separator) joined with its name, e.g. "res2a_branch2a/kernel". It is also the name of the graph
// parameter node used to feed the variable to a graph.
func (v *Variable) ParameterName() string {
	return strings.TrimPrefix(v.ScopeAndName(), ScopeSeparator)
}

// Shape returns the variable shape.
func (v *Variable) Shape() shapes.Shape {
	v.AssertValid()
	return v.shape
}

// AssertValid panics if the variable is in an invalid state: if it's nil or its shape is not yet set.
func (v *Variable) AssertValid() {
	if v == nil {
		exceptions.Panicf("context.Variable is nil")
	}
	if !v.shape.Ok() {
		exceptions.Panicf("context.Variable has no shape")
	}
}

// String implements stringer.
func (v *Variable) String() string {
	if v == nil {
		return "Variable(nil)"
	}
	return fmt.Sprintf("%s: %s", v.ScopeAndName(), v.shape)
}

// Value returns the current value of the variable.
// The returned tensor must not be modified: use SetValue to change it.
func (v *Variable) Value() *tensors.Tensor {
	v.AssertValid()
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// CheckValue returns an error if value can't be assigned to the variable, because of a different shape.
func (v *Variable) CheckValue(value *tensors.Tensor) error {
	v.AssertValid()
	if value == nil {
		return errors.Errorf("nil value for variable %q", v.ParameterName())
	}
	if !v.shape.Equal(value.Shape()) {
		return errors.Errorf("variable %q has shape %s, but value has shape %s", v.ParameterName(), v.shape, value.Shape())
	}
	return nil
}

// SetValue of the variable. The variable takes ownership of the value, which must not be modified afterward.
//
// It returns an error, and doesn't change the variable, if the value shape is different from the variable shape.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	if err := v.CheckValue(value); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	return nil
}

// ValueGraph returns the Node of the Graph that holds the current value of the variable: a graph parameter
// named with ParameterName, created on the first call for each graph.
//
// Use Context.ExecSetVariablesInParams to feed the variables values when executing the graph.
func (v *Variable) ValueGraph(g *graph.Graph) *graph.Node {
	v.AssertValid()
	v.mu.Lock()
	defer v.mu.Unlock()
	node, found := v.graphToNodes[g]
	if !found {
		node = graph.Parameter(g, v.ParameterName(), v.shape)
		v.graphToNodes[g] = node
	}
	return node
}

// ParamNode returns the graph parameter node of the variable in g, or nil if the variable is not used in g.
func (v *Variable) ParamNode(g *graph.Graph) *graph.Node {
	v.AssertValid()
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.graphToNodes[g]
}
