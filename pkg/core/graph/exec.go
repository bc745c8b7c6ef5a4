// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/resnet50/pkg/core/shapes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamsMap maps parameter nodes to the values fed to them when executing a graph.
type ParamsMap map[*Node]*tensors.Tensor

// schedule is the execution plan of a compiled graph.
type schedule struct {
	// order of execution: every node comes after its inputs.
	order []*Node

	// lastUse is the position in order of the last node using each node (indexed by NodeId),
	// after which its value can be released. Outputs are never released.
	lastUse []int
}

const (
	visitNone = iota
	visitInProgress
	visitDone
)

// Compile fixes the outputs of the graph and computes its execution order: only nodes the outputs depend on
// are executed. After compilation the graph is immutable.
//
// It panics if no outputs are given or if the graph has a cycle.
func (g *Graph) Compile(outputs ...*Node) {
	g.AssertBuilding()
	if len(outputs) == 0 {
		exceptions.Panicf("Graph(%q).Compile() requires at least one output", g.name)
	}
	state := make([]uint8, len(g.nodes))
	sched := &schedule{lastUse: make([]int, len(g.nodes))}
	var visit func(node *Node)
	visit = func(node *Node) {
		switch state[node.id] {
		case visitDone:
			return
		case visitInProgress:
			exceptions.Panicf("Graph(%q) has a cycle through node %s", g.name, node)
		}
		state[node.id] = visitInProgress
		for _, input := range node.inputNodes {
			visit(input)
		}
		state[node.id] = visitDone
		sched.order = append(sched.order, node)
	}
	for ii, output := range outputs {
		output.AssertValid()
		if output.graph != g {
			exceptions.Panicf("Graph(%q).Compile(): output #%d belongs to a different graph", g.name, ii)
		}
		visit(output)
	}
	for pos, node := range sched.order {
		for _, input := range node.inputNodes {
			sched.lastUse[input.id] = pos
		}
	}
	for _, output := range outputs {
		sched.lastUse[output.id] = len(sched.order)
	}
	g.compiledOutputs = outputs
	g.compiledSchedule = sched
	klog.V(1).Infof("Graph(%q) compiled: %d of %d nodes scheduled, %d outputs", g.name, len(sched.order), len(g.nodes), len(outputs))
}

// IsCompiled returns whether Graph.Compile has been called.
func (g *Graph) IsCompiled() bool { return g.compiledSchedule != nil }

// Run executes the compiled graph, feeding the parameters in the order they were created.
// See RunWithMap.
func (g *Graph) Run(params ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	if len(params) != len(g.parameters) {
		return nil, errors.Errorf("Graph(%q).Run(): %d parameters given, but graph has %d", g.name, len(params), len(g.parameters))
	}
	paramsMap := make(ParamsMap, len(params))
	for ii, value := range params {
		paramsMap[g.parameters[ii]] = value
	}
	return g.RunWithMap(paramsMap)
}

// RunWithMap executes the compiled graph with the given parameter values, and returns the values of the outputs
// given to Compile.
//
// Every parameter the outputs depend on must be fed, with a value whose shape matches the parameter shape
// (dynamic axes match any dimension). Errors, including shape inconsistencies found during execution, are returned.
//
// Execution doesn't change the graph, so it is safe to call RunWithMap concurrently.
func (g *Graph) RunWithMap(params ParamsMap) (outputs []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() { outputs = g.run(params) })
	if err != nil {
		outputs = nil
	}
	return
}

func (g *Graph) run(params ParamsMap) []*tensors.Tensor {
	g.AssertValid()
	sched := g.compiledSchedule
	if sched == nil {
		exceptions.Panicf("Graph(%q) must be compiled before it is executed", g.name)
	}
	values := make([]*tensors.Tensor, len(g.nodes))
	start := time.Now()
	for pos, node := range sched.order {
		if node.Type() == NodeTypeParameter {
			value, found := params[node]
			if !found || value == nil {
				exceptions.Panicf("Graph(%q): missing value for parameter %q", g.name, node.GetParameterName())
			}
			value.AssertValid()
			if !node.shape.Matches(value.Shape()) {
				exceptions.Panicf("Graph(%q): value for parameter %q has shape %s, but the parameter was defined with shape %s",
					g.name, node.GetParameterName(), value.Shape(), node.shape)
			}
			values[node.id] = value
			continue
		}

		inputs := make([]*tensors.Tensor, len(node.inputNodes))
		inputShapes := make([]shapes.Shape, len(node.inputNodes))
		for ii, input := range node.inputNodes {
			inputs[ii] = values[input.id]
			inputShapes[ii] = inputs[ii].Shape()
		}
		nodeStart := time.Now()
		output := tensors.FromShape(node.inputs.outputShape(inputShapes))
		node.inputs.execute(output, inputs)
		values[node.id] = output
		if klog.V(3).Enabled() {
			klog.Infof("\t%s: %s", node, time.Since(nodeStart))
		}

		// Release values no longer needed.
		for _, input := range node.inputNodes {
			if sched.lastUse[input.id] == pos {
				values[input.id] = nil
			}
		}
	}
	klog.V(2).Infof("Graph(%q) executed %d ops in %s", g.name, len(sched.order), time.Since(start))

	outputs := make([]*tensors.Tensor, len(g.compiledOutputs))
	for ii, output := range g.compiledOutputs {
		outputs[ii] = values[output.id]
	}
	return outputs
}
