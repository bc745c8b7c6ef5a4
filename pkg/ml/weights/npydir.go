// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weights

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
)

// NpyExt is the extension of the files in an NpyDir.
const NpyExt = ".npy"

// NpyDir is a Store backed by a directory with one ".npy" file per weight: the weight "<layer>/<weight>"
// is stored in "<dir>/<layer>/<weight>.npy".
//
// Tensors are read on demand.
type NpyDir string

// Path returns the path of the file holding the weight name.
func (dir NpyDir) Path(name string) string {
	return filepath.Join(string(dir), filepath.FromSlash(name)+NpyExt)
}

// Names implements Store. It returns nil if the directory doesn't exist or can't be read.
func (dir NpyDir) Names() []string {
	var names []string
	_ = filepath.WalkDir(string(dir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, NpyExt) {
			return nil
		}
		rel, err := filepath.Rel(string(dir), path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(strings.TrimSuffix(rel, NpyExt)))
		return nil
	})
	slices.Sort(names)
	return names
}

// Get implements Store.
func (dir NpyDir) Get(name string) (*tensors.Tensor, error) {
	return numpy.FromNpyFile(dir.Path(name))
}

// SaveNpyDir writes all the tensors of store into dir, one ".npy" file per weight.
// progressFn, if not nil, is called after each tensor is written.
func SaveNpyDir(store Store, dir string, progressFn func(name string)) error {
	npyDir := NpyDir(dir)
	for _, name := range store.Names() {
		t, err := store.Get(name)
		if err != nil {
			return err
		}
		filePath := npyDir.Path(name)
		if err = os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory for weight %q", name)
		}
		if err = numpy.ToNpyFile(t, filePath); err != nil {
			return errors.WithMessagef(err, "saving weight %q", name)
		}
		if progressFn != nil {
			progressFn(name)
		}
	}
	return nil
}
