// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph is used to create and run computation graphs of tensor operations on the CPU.
//
// The main elements in the package are:
//
//   - Graph holds the computation: the nodes, its parameters (inputs) and, once compiled, the
//     schedule used to execute it.
//
//   - Node represents a symbolic value in the computation. This can be an input parameter, a constant,
//     or the result of an operation ("op" for short, e.g.: Add, Convolve, Relu, Reshape, etc.).
//     Each node has a shape known in "graph building time", with the exception of dynamic axes (see
//     shapes.DynamicDim) that are only resolved when the graph is executed (usually the batch axis).
//
// # Error Handling
//
// Graph and Node methods "throw" errors with panic(). This prevents having to manage
// error returning for every operation (Add, Convolve, etc.) and makes the code much more readable.
// Shapes are checked as the graph is built, so most errors are reported before anything is computed.
// Graph.RunWithMap and Graph.Run convert panics back to errors.
//
// # Acyclicity
//
// A Node can only be created from nodes that already exist, so graphs are acyclic by construction.
// Graph.Compile still verifies it while computing the execution order.
package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// Graph with the operations and dependencies needed to run a computation.
type Graph struct {
	name string

	// nodes include all nodes known to Graph, in creation order.
	nodes []*Node

	// parameters keeps track of parameter nodes and a mapping of name to node.
	parameters       []*Node
	parameterByName  map[string]*Node
	aliasToNode      map[string]*Node
	compiledOutputs  []*Node
	compiledSchedule *schedule
}

// NewGraph constructs an empty Graph.
//
// After building a computation, it can be compiled (see Graph.Compile) and executed (see Graph.RunWithMap).
func NewGraph(name string) *Graph {
	if name == "" {
		name = "graph"
	}
	return &Graph{
		name:            name,
		parameterByName: make(map[string]*Node),
		aliasToNode:     make(map[string]*Node),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// AssertValid panics if graph is nil.
func (g *Graph) AssertValid() {
	if g == nil {
		exceptions.Panicf("the Graph is nil")
	}
}

// AssertBuilding panics if the graph has already been compiled, after which it is immutable.
func (g *Graph) AssertBuilding() {
	g.AssertValid()
	if g.compiledSchedule != nil {
		exceptions.Panicf("Graph %q has already been compiled, no more nodes can be added", g.name)
	}
}

// NumNodes returns the number of nodes created in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns all nodes of the graph, in creation order, which is also a valid topological order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Parameters returns the parameter nodes, in creation order.
func (g *Graph) Parameters() []*Node { return g.parameters }

// GetParameterByName returns the parameter node with the given name, or nil if there is none.
func (g *Graph) GetParameterByName(name string) *Node {
	return g.parameterByName[name]
}

// Parameter registers an input parameter for a computation Graph (e.g: a feature or a model variable).
// The shape may have dynamic axes, resolved from the values given at execution time.
//
// Parameter names must be unique in the graph.
func Parameter(g *Graph, name string, shape shapes.Shape) *Node {
	g.AssertBuilding()
	if name == "" {
		name = fmt.Sprintf("p#%d", len(g.parameters))
	}
	if _, found := g.parameterByName[name]; found {
		exceptions.Panicf("requested parameter with name %q for graph %q already exists", name, g.name)
	}
	if !shape.Ok() {
		exceptions.Panicf("Parameter(%q): invalid shape %s", name, shape)
	}
	node := newNode(g, &nodeInputsParameter{name: name, shape: shape.Clone()}, nil)
	g.parameters = append(g.parameters, node)
	g.parameterByName[name] = node
	return node
}

// Const creates a constant node in the graph with the value of the given tensor.
// The tensor is cloned, so later changes to it don't affect the graph.
func Const(g *Graph, value *tensors.Tensor) *Node {
	g.AssertBuilding()
	return newNode(g, &nodeInputsConst{value: value.Clone()}, nil)
}

// GetNodeByAlias returns the node with the given alias, or nil if there is none.
func (g *Graph) GetNodeByAlias(alias string) *Node {
	return g.aliasToNode[alias]
}

// String converts the Graph to a multiline string with a description of the full graph.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q: %d nodes, %d parameters\n", g.name, len(g.nodes), len(g.parameters))
	for _, node := range g.nodes {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", node)
	}
	return sb.String()
}
