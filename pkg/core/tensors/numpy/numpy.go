// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy reads and writes tensors in Python's NumPy `.npy` file format.
//
// It is the on-disk format of the unpacked weights cache: one `.npy` file per model parameter.
package numpy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
)

const npyMagic = "\x93NUMPY"

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	t, err := FromNpyReader(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return t, nil
}

// FromNpyReader reads a .npy file from an io.Reader and returns a tensors.Tensor.
//
// Values are converted to float32. Supported NumPy dtypes are f2, f4, f8, u1, i1, i4 and i8, in either byte order.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	magic := make([]byte, len(npyMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrapf(err, "failed to read magic string")
	}
	if string(magic) != npyMagic {
		return nil, errors.Errorf("invalid .npy file format: magic string mismatch")
	}

	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrapf(err, "failed to read version")
	}
	var headerLen uint32
	switch {
	case version[0] == 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = uint32(binary.LittleEndian.Uint16(lenBytes))
	case version[0] >= 2:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v2.0+)")
		}
		headerLen = binary.LittleEndian.Uint32(lenBytes)
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", version[0], version[1])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	descr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse .npy header")
	}
	dtype, order, err := npyDType(descr)
	if err != nil {
		return nil, err
	}
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	raw := make([]byte, size*dtype.Size())
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor data (expected %d bytes)", len(raw))
	}
	t, err := tensors.FromRawBytes(dtype, order, raw, dims...)
	if err != nil {
		return nil, err
	}
	if fortranOrder {
		t = t.TransposeFromColumnMajor()
	}
	return t, nil
}

var (
	reNpyDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reNpyFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reNpyShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header string.
// Example header: "{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }"
func parseNpyHeader(header string) (descr string, dims []int, fortranOrder bool, err error) {
	m := reNpyDescr.FindStringSubmatch(header)
	if len(m) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	descr = m[1]

	m = reNpyFortran.FindStringSubmatch(header)
	if len(m) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = m[1] == "True"

	m = reNpyShape.FindStringSubmatch(header)
	if len(m) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	dims = []int{}
	for _, p := range strings.Split(m[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" { // Trailing comma, like in "(10,)".
			continue
		}
		dim, pErr := strconv.Atoi(p)
		if pErr != nil {
			err = errors.Wrapf(pErr, "invalid shape value %q in header", p)
			return
		}
		dims = append(dims, dim)
	}
	return
}

// npyDType converts a NumPy dtype string (e.g. "<f4") to a dtypes.DType and its byte order.
func npyDType(descr string) (dtypes.DType, binary.ByteOrder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if strings.HasPrefix(descr, ">") {
		order = binary.BigEndian
	}
	switch strings.TrimLeft(descr, "<>=|") {
	case "f2":
		return dtypes.Float16, order, nil
	case "f4":
		return dtypes.Float32, order, nil
	case "f8":
		return dtypes.Float64, order, nil
	case "u1":
		return dtypes.Uint8, order, nil
	case "i1":
		return dtypes.Int8, order, nil
	case "i4":
		return dtypes.Int32, order, nil
	case "i8":
		return dtypes.Int64, order, nil
	}
	return dtypes.InvalidDType, nil, errors.Errorf("unsupported NumPy dtype: %q", descr)
}

// ToNpyWriter serializes a tensors.Tensor to an io.Writer in .npy (version 1.0) format, as little-endian float32.
func ToNpyWriter(tensor *tensors.Tensor, w io.Writer) error {
	shape := tensor.Shape()
	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dimsStr := make([]string, shape.Rank())
		for ii, dim := range shape.Dimensions {
			dimsStr[ii] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}

	// Preamble is magic (6) + version (2) + header length (2): the whole header, terminated
	// by a newline, is padded with spaces to a multiple of 16 bytes.
	var headerBuf bytes.Buffer
	fmt.Fprintf(&headerBuf, "{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", shapeTuple)
	for (10+headerBuf.Len()+1)%16 != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')

	var preamble bytes.Buffer
	preamble.WriteString(npyMagic)
	preamble.Write([]byte{1, 0})
	_ = binary.Write(&preamble, binary.LittleEndian, uint16(headerBuf.Len()))
	if _, err := w.Write(preamble.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy preamble")
	}
	if _, err := w.Write(headerBuf.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy header")
	}
	if _, err := w.Write(tensor.ToRawBytes()); err != nil {
		return errors.Wrapf(err, "failed to write tensor data")
	}
	return nil
}

// ToNpyFile serializes a tensors.Tensor to a .npy file.
func ToNpyFile(tensor *tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npy file %q", filePath)
	}
	if err = ToNpyWriter(tensor, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	return errors.Wrapf(file.Close(), "failed to close %q", filePath)
}
