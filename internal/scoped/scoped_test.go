// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoped_test

import (
	"testing"

	"github.com/gomlx/resnet50/internal/scoped"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedParams(t *testing.T) {
	p := scoped.New("/")
	p.Set("/", "image_size", 224)
	p.Set("/", "pooling", "none")
	p.Set("/head", "pooling", "avg")
	p.Set("/head/fc1000", "num_classes", 10)

	value, found := p.Get("/head/fc1000", "pooling")
	require.True(t, found)
	assert.Equal(t, "avg", value)

	value, found = p.Get("/head/fc1000", "image_size")
	require.True(t, found)
	assert.Equal(t, 224, value)

	value, found = p.Get("/stem/conv1", "pooling")
	require.True(t, found)
	assert.Equal(t, "none", value)

	_, found = p.Get("/stem", "num_classes")
	assert.False(t, found)
	_, found = p.Get("/", "top_k")
	assert.False(t, found)

	clone := p.Clone()
	clone.Set("/", "image_size", 299)
	value, _ = p.Get("/", "image_size")
	assert.Equal(t, 224, value, "changes to the clone must not affect the original")

	type entry struct {
		scope, key string
		value      any
	}
	var got []entry
	p.Enumerate(func(scope, key string, value any) {
		got = append(got, entry{scope, key, value})
	})
	assert.Equal(t, []entry{
		{"/", "image_size", 224},
		{"/", "pooling", "none"},
		{"/head", "pooling", "avg"},
		{"/head/fc1000", "num_classes", 10},
	}, got)
}
