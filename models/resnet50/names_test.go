// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayerName(t *testing.T) {
	assert.Equal(t, "res2a_branch2a", LayerName(KindConv, 2, "a", Branch2a))
	assert.Equal(t, "bn3b_branch2b", LayerName(KindBatchNorm, 3, "b", Branch2b))
	assert.Equal(t, "res4f_branch2c", LayerName(KindConv, 4, "f", Branch2c))
	assert.Equal(t, "bn5a_branch1", LayerName(KindBatchNorm, 5, "a", BranchShortcut))
	assert.Panics(t, func() { LayerName(LayerKind(7), 2, "a", Branch2a) })

	assert.Equal(t, "3b", BlockName(3, "b"))
	assert.Equal(t, "a", BlockLabel(0))
	assert.Equal(t, "f", BlockLabel(5))
	assert.Panics(t, func() { BlockLabel(-1) })
}
