// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ClassLabel identifies one class: the WordNet ID (e.g. "n01440764") and a human-readable label (e.g. "tench").
type ClassLabel struct {
	ID, Label string
}

// Labels maps the index of a class to its ClassLabel.
type Labels []ClassLabel

// LoadLabels reads the class labels in the Keras "imagenet_class_index.json" format:
//
//	{"0": ["n01440764", "tench"], "1": ["n01443537", "goldfish"], ...}
func LoadLabels(filePath string) (Labels, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open labels file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	labels, err := ReadLabels(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return labels, nil
}

// ReadLabels is like LoadLabels, but reads from r.
func ReadLabels(r io.Reader) (Labels, error) {
	var index map[string][2]string
	if err := json.NewDecoder(r).Decode(&index); err != nil {
		return nil, errors.Wrap(err, "failed to parse class index json")
	}
	labels := make(Labels, len(index))
	filled := make([]bool, len(index))
	for key, entry := range index {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(index) {
			return nil, errors.Errorf("invalid class index %q: indices must be 0 to %d", key, len(index)-1)
		}
		if filled[idx] {
			return nil, errors.Errorf("class index %d is defined more than once (key %q)", idx, key)
		}
		filled[idx] = true
		labels[idx] = ClassLabel{ID: entry[0], Label: entry[1]}
	}
	return labels, nil
}
