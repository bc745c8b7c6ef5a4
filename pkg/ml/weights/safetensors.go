// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weights

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
)

const safetensorsMetadataKey = "__metadata__"

// safetensorsMaxHeader bounds the JSON header size, to fail early on corrupt files.
const safetensorsMaxHeader = 100 << 20

var safetensorsDTypes = map[string]dtypes.DType{
	"F16": dtypes.Float16,
	"F32": dtypes.Float32,
	"F64": dtypes.Float64,
	"I8":  dtypes.Int8,
	"U8":  dtypes.Uint8,
	"I32": dtypes.Int32,
	"I64": dtypes.Int64,
}

type safetensorsEntry struct {
	DTypeName  string   `json:"dtype"`
	Dimensions []int    `json:"shape"`
	Offsets    []uint64 `json:"data_offsets"`

	// name is filled later, with the key to the tensor.
	name string
}

// LoadSafetensors reads all tensors of a ".safetensors" file into memory.
func LoadSafetensors(filePath string) (Map, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open safetensors file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	m, err := ReadSafetensors(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return m, nil
}

// ReadSafetensors reads all tensors of a ".safetensors" stream: an 8 bytes little-endian header length,
// a JSON header describing each tensor, and the contiguous tensor data.
//
// Values are converted to float32. Supported dtypes are F16, F32, F64, I8, U8, I32 and I64.
func ReadSafetensors(r io.Reader) (Map, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, errors.Wrapf(err, "failed to read safetensors header length")
	}
	if headerLen == 0 || headerLen > safetensorsMaxHeader {
		return nil, errors.Errorf("invalid safetensors header length %d", headerLen)
	}
	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, errors.Wrapf(err, "failed to read safetensors header")
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerBuf, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to parse safetensors json header")
	}

	entries := make([]*safetensorsEntry, 0, len(header))
	for name, raw := range header {
		if name == safetensorsMetadataKey {
			continue
		}
		entry := &safetensorsEntry{name: name}
		if err := json.Unmarshal(raw, entry); err != nil {
			return nil, errors.Wrapf(err, "failed to parse safetensors header for %q", name)
		}
		if len(entry.Offsets) != 2 || entry.Offsets[1] < entry.Offsets[0] {
			return nil, errors.Errorf("tensor %q: invalid data_offsets %v", name, entry.Offsets)
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b *safetensorsEntry) int {
		return cmp.Compare(a.Offsets[0], b.Offsets[0])
	})

	m := make(Map, len(entries))
	var position uint64
	for _, entry := range entries {
		dtype, found := safetensorsDTypes[entry.DTypeName]
		if !found {
			return nil, errors.Errorf("tensor %q: unsupported dtype %q", entry.name, entry.DTypeName)
		}
		if entry.Offsets[0] != position {
			return nil, errors.Errorf("tensor %q: data not contiguous, expected offset %d, got %d",
				entry.name, position, entry.Offsets[0])
		}
		raw := make([]byte, entry.Offsets[1]-entry.Offsets[0])
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, errors.Wrapf(err, "tensor %q: failed to read %d bytes", entry.name, len(raw))
		}
		t, err := tensors.FromRawBytes(dtype, binary.LittleEndian, raw, entry.Dimensions...)
		if err != nil {
			return nil, errors.WithMessagef(err, "tensor %q", entry.name)
		}
		m[entry.name] = t
		position = entry.Offsets[1]
	}
	return m, nil
}

// WriteSafetensors writes all tensors of store as F32 in the ".safetensors" format.
func WriteSafetensors(store Store, w io.Writer) error {
	names := store.Names()
	header := make(map[string]any, len(names)+1)
	header[safetensorsMetadataKey] = map[string]string{"format": "pt"}
	values := make([]*tensors.Tensor, 0, len(names))
	var position uint64
	for _, name := range names {
		t, err := store.Get(name)
		if err != nil {
			return err
		}
		size := uint64(4 * t.Size())
		header[name] = &safetensorsEntry{
			DTypeName:  "F32",
			Dimensions: t.Shape().Dimensions,
			Offsets:    []uint64{position, position + size},
		}
		position += size
		values = append(values, t)
	}
	headerBuf, err := json.Marshal(header)
	if err != nil {
		return errors.Wrapf(err, "failed to encode safetensors header")
	}
	// Header is padded with spaces to an 8 bytes boundary.
	for len(headerBuf)%8 != 0 {
		headerBuf = append(headerBuf, ' ')
	}
	if err = binary.Write(w, binary.LittleEndian, uint64(len(headerBuf))); err != nil {
		return errors.Wrapf(err, "failed to write safetensors header length")
	}
	if _, err = w.Write(headerBuf); err != nil {
		return errors.Wrapf(err, "failed to write safetensors header")
	}
	for ii, t := range values {
		if _, err = w.Write(t.ToRawBytes()); err != nil {
			return errors.Wrapf(err, "failed to write tensor %q", names[ii])
		}
	}
	return nil
}
