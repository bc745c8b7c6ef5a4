// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
)

// NodeId is a unique identifier for a Node within its Graph. It's also its creation order.
type NodeId int

// NodeType identifies the operation of a Node.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeParameter
	NodeTypeConst
	NodeTypePad
	NodeTypeConvolve
	NodeTypeBatchNormInference
	NodeTypeRelu
	NodeTypeAdd
	NodeTypeAddBias
	NodeTypeMaxPool
	NodeTypeMeanPool
	NodeTypeReduceMean
	NodeTypeReduceMax
	NodeTypeReshape
	NodeTypeDot
	NodeTypeSoftmax
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeInvalid:            "Invalid",
	NodeTypeParameter:          "Parameter",
	NodeTypeConst:              "Const",
	NodeTypePad:                "Pad",
	NodeTypeConvolve:           "Convolve",
	NodeTypeBatchNormInference: "BatchNormInference",
	NodeTypeRelu:               "Relu",
	NodeTypeAdd:                "Add",
	NodeTypeAddBias:            "AddBias",
	NodeTypeMaxPool:            "MaxPool",
	NodeTypeMeanPool:           "MeanPool",
	NodeTypeReduceMean:         "ReduceMean",
	NodeTypeReduceMax:          "ReduceMax",
	NodeTypeReshape:            "Reshape",
	NodeTypeDot:                "Dot",
	NodeTypeSoftmax:            "Softmax",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if name, found := nodeTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Node represents the result of an operation in the computation graph, and can be used as input to further operations.
//
// Node.String allows for a pretty-printing of node. To see the full graph with all nodes, use Graph.String.
type Node struct {
	graph *Graph
	id    NodeId
	shape shapes.Shape

	// inputNodes are the edges of the computation graph.
	inputNodes []*Node

	// inputs hold the static parameters of the op, and how to evaluate it.
	inputs nodeInputs

	// alias is a name by which the Node can be referred to in the Graph.
	alias string
}

// nodeInputs represents the static inputs of an op, and its implementation.
//
// outputShape is used both at graph building time, where input shapes may have dynamic axes,
// and at execution time with the concrete shapes of the input values.
type nodeInputs interface {
	Type() NodeType

	// String prints a descriptive representation of the op, using its parameters.
	String() string

	// outputShape validates the input shapes and returns the shape of the result.
	outputShape(inputs []shapes.Shape) shapes.Shape

	// execute computes the op into output, already allocated with the shape returned by outputShape.
	execute(output *tensors.Tensor, inputs []*tensors.Tensor)
}

// newNode validates and creates a new node in the graph of the first input.
func newNode(g *Graph, inputs nodeInputs, inputNodes []*Node) *Node {
	g.AssertBuilding()
	inputShapes := make([]shapes.Shape, len(inputNodes))
	for ii, input := range inputNodes {
		input.AssertValid()
		if input.graph != g {
			exceptions.Panicf("%s: input #%d belongs to graph %q, but the op is being built in graph %q",
				inputs.Type(), ii, input.graph.name, g.name)
		}
		inputShapes[ii] = input.shape
	}
	node := &Node{
		graph:      g,
		id:         NodeId(len(g.nodes)),
		inputNodes: inputNodes,
		inputs:     inputs,
	}
	node.shape = inputs.outputShape(inputShapes)
	g.nodes = append(g.nodes, node)
	return node
}

// validateBuildingGraphFromInputs checks that all inputs are from the same graph, and returns the graph.
func validateBuildingGraphFromInputs(inputs ...*Node) *Graph {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes given")
	}
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("input node #%d is nil", ii)
		}
	}
	g := inputs[0].graph
	g.AssertBuilding()
	return g
}

// AssertValid panics if the node is nil or was not created in a graph.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	if n.graph == nil || n.inputs == nil {
		exceptions.Panicf("Node is invalid: it was not created by a graph operation")
	}
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Shape of the Node's output. Dynamic axes are marked with shapes.DynamicDim.
func (n *Node) Shape() shapes.Shape { return n.shape }

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int { return n.shape.Rank() }

// Id is the unique id of this node within the Graph.
func (n *Node) Id() NodeId { return n.id }

// Type of the operation that created the node.
func (n *Node) Type() NodeType { return n.inputs.Type() }

// Inputs are the other nodes that are direct inputs to the node.
func (n *Node) Inputs() []*Node { return n.inputNodes }

// GetParameterName returns the parameter name. It panics if node is not a parameter.
func (n *Node) GetParameterName() string {
	n.AssertValid()
	p, ok := n.inputs.(*nodeInputsParameter)
	if !ok {
		exceptions.Panicf("trying to get GetParameterName of a non-parameter node %q", n.Type())
	}
	return p.name
}

// WithAlias sets an alias for the node, by which it can be retrieved with Graph.GetNodeByAlias.
// Aliases must be unique within the graph.
//
// It returns the node itself, so calls can be cascaded.
func (n *Node) WithAlias(alias string) *Node {
	n.AssertValid()
	if other, found := n.graph.aliasToNode[alias]; found && other != n {
		exceptions.Panicf("alias %q already used by node #%d (%s)", alias, other.id, other.Type())
	}
	if n.alias != "" {
		delete(n.graph.aliasToNode, n.alias)
	}
	n.alias = alias
	n.graph.aliasToNode[alias] = n
	return n
}

// Alias returns the alias of the node, or "" if none was set.
func (n *Node) Alias() string { return n.alias }

// String implements the fmt.Stringer interface.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "#%d %s", n.id, n.inputs)
	if len(n.inputNodes) > 0 {
		ids := make([]string, len(n.inputNodes))
		for ii, input := range n.inputNodes {
			ids[ii] = fmt.Sprintf("#%d", input.id)
		}
		_, _ = fmt.Fprintf(&sb, "(%s)", strings.Join(ids, ", "))
	}
	_, _ = fmt.Fprintf(&sb, " -> %s", n.shape)
	if n.alias != "" {
		_, _ = fmt.Fprintf(&sb, " [%s]", n.alias)
	}
	return sb.String()
}

type nodeInputsParameter struct {
	name  string
	shape shapes.Shape
}

func (ni *nodeInputsParameter) Type() NodeType { return NodeTypeParameter }

func (ni *nodeInputsParameter) String() string { return fmt.Sprintf("Parameter(%q)", ni.name) }

func (ni *nodeInputsParameter) outputShape([]shapes.Shape) shapes.Shape { return ni.shape }

func (ni *nodeInputsParameter) execute(*tensors.Tensor, []*tensors.Tensor) {
	exceptions.Panicf("Parameter(%q) is fed, not executed", ni.name)
}

type nodeInputsConst struct {
	value *tensors.Tensor
}

func (ni *nodeInputsConst) Type() NodeType { return NodeTypeConst }

func (ni *nodeInputsConst) String() string { return "Const" }

func (ni *nodeInputsConst) outputShape([]shapes.Shape) shapes.Shape { return ni.value.Shape() }

func (ni *nodeInputsConst) execute(output *tensors.Tensor, _ []*tensors.Tensor) {
	copy(mutableFlat(output), constFlat(ni.value))
}
