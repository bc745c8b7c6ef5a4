// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"fmt"
	"strconv"
)

// LayerKind is the kind of layer, used to build the layer names.
type LayerKind int

const (
	// KindConv is a convolution layer, named "res<stage><block>_branch<branch>".
	KindConv LayerKind = iota

	// KindBatchNorm is a batch normalization layer, named "bn<stage><block>_branch<branch>".
	KindBatchNorm
)

// Names of the layers outside the residual stages.
const (
	StemConvName      = "conv1"
	StemBatchNormName = "bn_conv1"
	AvgPoolName       = "avg_pool"
	HeadDenseName     = "fc1000"
)

// Branches of a residual block: "2a", "2b" and "2c" are the main path, "1" the projection shortcut.
const (
	Branch2a       = "2a"
	Branch2b       = "2b"
	Branch2c       = "2c"
	BranchShortcut = "1"
)

// LayerName returns the name of the layer of the given kind, for the block of the stage and the branch
// within the block, following the Keras naming. E.g.: LayerName(KindConv, 3, "b", "2b") = "res3b_branch2b".
//
// Parameters are named "<layer>/<weight>", e.g. "bn3b_branch2b/moving_variance".
func LayerName(kind LayerKind, stage int, block, branch string) string {
	var prefix string
	switch kind {
	case KindConv:
		prefix = "res"
	case KindBatchNorm:
		prefix = "bn"
	default:
		panic(fmt.Sprintf("resnet50.LayerName: unknown layer kind %d", kind))
	}
	return prefix + strconv.Itoa(stage) + block + "_branch" + branch
}

// BlockName returns the name of a residual block, e.g. "3b".
func BlockName(stage int, block string) string {
	return strconv.Itoa(stage) + block
}

// BlockLabel returns the label of the idx-th block within a stage: "a", "b", "c", ...
func BlockLabel(idx int) string {
	if idx < 0 || idx >= 26 {
		panic(fmt.Sprintf("resnet50.BlockLabel: block index %d out of range", idx))
	}
	return string(rune('a' + idx))
}
