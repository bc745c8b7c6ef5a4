// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package weights reads stored model weights and binds them, by name, to the variables of a context.
//
// Weights are identified by the variable's parameter name, "<layer>/<weight>" (e.g. "res3b_branch2b/kernel"
// or "bn_conv1/moving_variance"). A Store provides named tensors: from memory (Map), from a directory of
// ".npy" files (NpyDir), from a ".safetensors" file (LoadSafetensors) or from a Keras ".h5" file (OpenHDF5).
// Open picks one of them from the path.
package weights

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Store is a source of named weights.
type Store interface {
	// Names returns the names of all the tensors available in the store, sorted.
	Names() []string

	// Get returns the tensor with the given name. It returns an error if the name is not in the store,
	// or if it fails to read it.
	Get(name string) (*tensors.Tensor, error)
}

// Map is an in-memory Store.
type Map map[string]*tensors.Tensor

// Names implements Store.
func (m Map) Names() []string {
	return slices.Sorted(maps.Keys(m))
}

// Get implements Store.
func (m Map) Get(name string) (*tensors.Tensor, error) {
	t, found := m[name]
	if !found {
		return nil, errors.Errorf("weight %q not found", name)
	}
	return t, nil
}

// Open returns the Store for path: a directory is an NpyDir, files ending in ".safetensors" are
// loaded with LoadSafetensors, and files ending in ".h5" or ".hdf5" are opened with OpenHDF5.
// A "~" prefix is expanded to the user's home directory.
func Open(path string) (Store, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open weights in %q", path)
	}
	if info.IsDir() {
		return NpyDir(path), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		m, err := LoadSafetensors(path)
		if err != nil {
			return nil, err
		}
		return m, nil
	case ".h5", ".hdf5":
		h, err := OpenHDF5(path)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return nil, errors.Errorf("unknown weights format for %q: expected a directory of %q files, "+
		"a \".safetensors\" or a \".h5\" file", path, NpyExt)
}

// ReadAll loads all the tensors of store into memory.
func ReadAll(store Store) (Map, error) {
	m := make(Map)
	for _, name := range store.Names() {
		t, err := store.Get(name)
		if err != nil {
			return nil, err
		}
		m[name] = t
	}
	return m, nil
}

// prefixedStore renames the weights of a Store by prepending a scope prefix.
type prefixedStore struct {
	store  Store
	prefix string
}

// WithPrefix returns a Store with all the names of store prefixed by "<prefix>/".
// It is used to bind weights to a model built under a context sub-scope.
// An empty prefix returns store itself.
func WithPrefix(store Store, prefix string) Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &prefixedStore{store: store, prefix: prefix + "/"}
}

// Names implements Store.
func (p *prefixedStore) Names() []string {
	names := p.store.Names()
	prefixed := make([]string, len(names))
	for ii, name := range names {
		prefixed[ii] = p.prefix + name
	}
	return prefixed
}

// Get implements Store.
func (p *prefixedStore) Get(name string) (*tensors.Tensor, error) {
	unprefixed, found := strings.CutPrefix(name, p.prefix)
	if !found {
		return nil, errors.Errorf("weight %q not found", name)
	}
	return p.store.Get(unprefixed)
}
