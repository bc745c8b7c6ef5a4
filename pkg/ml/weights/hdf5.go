// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weights

import (
	"bytes"
	"encoding/binary"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// H5DumpBinary is the tool used to read HDF5 files. It is part of the `hdf5-tools` package in most
// Linux distributions.
const H5DumpBinary = "h5dump"

// HDF5 is a Store backed by a Keras ".h5" weights file, read through the `h5dump` tool.
//
// Keras dataset paths (e.g. "/res2a_branch2a/res2a_branch2a/kernel:0", or the Keras 1 style
// "/res2a_branch2a/res2a_branch2a_W:0") are canonicalized to parameter names (e.g. "res2a_branch2a/kernel"),
// see CanonicalKerasName. Datasets that don't map to a known weight are ignored.
//
// Tensors are read on demand: for repeated use, consider unpacking it once with UnpackHDF5ToNpy.
type HDF5 struct {
	filePath string
	datasets map[string]*hdf5Dataset
}

type hdf5Dataset struct {
	path       string
	dtype      dtypes.DType
	dimensions []int
}

// OpenHDF5 lists the datasets of the HDF5 file and their shapes. It requires `h5dump` to be installed.
func OpenHDF5(filePath string) (*HDF5, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, errors.Wrapf(err, "cannot access HDF5 file in path %q", filePath)
	}
	contents, err := execH5Dump("--contents", filePath)
	if err != nil {
		return nil, err
	}
	paths := parseH5Contents(string(contents))
	if len(paths) == 0 {
		return nil, errors.Errorf("no datasets found in HDF5 file %q", filePath)
	}
	headerArgs := make([]string, 0, len(paths)+2)
	headerArgs = append(headerArgs, "--header")
	for _, p := range paths {
		headerArgs = append(headerArgs, "--dataset="+p)
	}
	headerArgs = append(headerArgs, filePath)
	headers, err := execH5Dump(headerArgs...)
	if err != nil {
		return nil, err
	}
	parsed, err := parseH5Headers(string(headers))
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing headers of %q", filePath)
	}
	h := &HDF5{filePath: filePath, datasets: make(map[string]*hdf5Dataset, len(parsed))}
	for _, ds := range parsed {
		name, ok := CanonicalKerasName(ds.path)
		if !ok {
			klog.V(1).Infof("HDF5 %q: ignoring dataset %q", filePath, ds.path)
			continue
		}
		if prev, found := h.datasets[name]; found {
			return nil, errors.Errorf("HDF5 %q: datasets %q and %q both map to weight %q", filePath, prev.path, ds.path, name)
		}
		h.datasets[name] = ds
	}
	klog.V(1).Infof("HDF5 %q: %d weights", filePath, len(h.datasets))
	return h, nil
}

// Names implements Store.
func (h *HDF5) Names() []string {
	names := make([]string, 0, len(h.datasets))
	for name := range h.datasets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get implements Store. It extracts the dataset with `h5dump` into a temporary file.
func (h *HDF5) Get(name string) (*tensors.Tensor, error) {
	ds, found := h.datasets[name]
	if !found {
		return nil, errors.Errorf("weight %q not found in HDF5 file %q", name, h.filePath)
	}
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
	}
	defer func() {
		if err := os.Remove(tmpFile.Name()); err != nil {
			klog.Warningf("Failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), err)
		}
	}()
	if _, err = execH5Dump("--dataset="+ds.path, "--binary=NATIVE", "--output="+tmpFile.Name(), h.filePath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read HDF5 dataset %q extracted to %q", ds.path, tmpFile.Name())
	}
	t, err := tensors.FromRawBytes(ds.dtype, binary.NativeEndian, raw, ds.dimensions...)
	if err != nil {
		return nil, errors.WithMessagef(err, "HDF5 dataset %q", ds.path)
	}
	return t, nil
}

var (
	regexpH5Datasets         = regexp.MustCompile(`(?m)^\s*dataset\s+(/\S.*?)\s*$`)
	regexpH5HeaderName       = regexp.MustCompile(`^\s*"(.*?)"\s*\{`)
	regexpH5HeaderDataType   = regexp.MustCompile(`DATATYPE\s+(\w+)`)
	regexpH5HeaderDataSpace  = regexp.MustCompile(`DATASPACE\s+(\w+)(\s*\{\s*\(([^)]*)\))?`)
	regexpKerasTrailingIndex = regexp.MustCompile(`_\d+$`)
)

// parseH5Contents returns the dataset paths listed by `h5dump --contents`.
func parseH5Contents(contents string) []string {
	var paths []string
	for _, match := range regexpH5Datasets.FindAllStringSubmatch(contents, -1) {
		paths = append(paths, match[1])
	}
	return paths
}

// parseH5Headers parses the output of `h5dump --header --dataset=...`.
// Datasets with unsupported dtypes or dataspaces are skipped.
func parseH5Headers(headers string) ([]*hdf5Dataset, error) {
	parts := strings.Split(headers, "DATASET")
	datasets := make([]*hdf5Dataset, 0, len(parts))
	for _, part := range parts[1:] {
		match := regexpH5HeaderName.FindStringSubmatch(part)
		if match == nil {
			return nil, errors.Errorf("failed to parse dataset header %q", part)
		}
		ds := &hdf5Dataset{path: match[1]}
		match = regexpH5HeaderDataType.FindStringSubmatch(part)
		if match == nil {
			klog.V(1).Infof("HDF5 dataset %q: no DATATYPE", ds.path)
			continue
		}
		ds.dtype = dtypeForH5T(match[1])
		if ds.dtype == dtypes.InvalidDType {
			klog.V(1).Infof("HDF5 dataset %q: unsupported DATATYPE %q", ds.path, match[1])
			continue
		}
		match = regexpH5HeaderDataSpace.FindStringSubmatch(part)
		if match == nil {
			klog.V(1).Infof("HDF5 dataset %q: no DATASPACE", ds.path)
			continue
		}
		switch match[1] {
		case "SCALAR":
		case "SIMPLE":
			for _, dimStr := range strings.Split(match[3], ",") {
				dim, err := strconv.Atoi(strings.TrimSpace(dimStr))
				if err != nil {
					return nil, errors.Wrapf(err, "HDF5 dataset %q: failed to parse DATASPACE %q", ds.path, match[0])
				}
				ds.dimensions = append(ds.dimensions, dim)
			}
		default:
			klog.V(1).Infof("HDF5 dataset %q: unsupported DATASPACE %q", ds.path, match[1])
			continue
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

// dtypeForH5T returns the DType corresponding to known HDF5 types, or dtypes.InvalidDType.
func dtypeForH5T(h5type string) dtypes.DType {
	switch h5type {
	case "H5T_IEEE_F16LE", "H5T_IEEE_F16BE":
		return dtypes.Float16
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	}
	return dtypes.InvalidDType
}

// kerasWeightAliases maps the Keras 1 weight suffixes to the current ones.
// Keras 1 "running_std" already held the variance.
var kerasWeightAliases = map[string]string{
	"W":            "kernel",
	"b":            "bias",
	"running_mean": "moving_mean",
	"running_std":  "moving_variance",
}

var kerasWeightNames = []string{"kernel", "bias", "gamma", "beta", "moving_mean", "moving_variance"}

// CanonicalKerasName converts a Keras HDF5 dataset path to a parameter name "<layer>/<weight>".
// It returns false if the path doesn't correspond to a known weight.
//
// Examples:
//
//	"/res2a_branch2a/res2a_branch2a/kernel:0" -> "res2a_branch2a/kernel"
//	"/model_weights/bn_conv1/bn_conv1/moving_variance:0" -> "bn_conv1/moving_variance"
//	"/bn_conv1/bn_conv1_running_std:0" -> "bn_conv1/moving_variance"
//	"/fc1000/fc1000_W_1:0" -> "fc1000/kernel"
func CanonicalKerasName(datasetPath string) (string, bool) {
	parts := strings.Split(strings.Trim(datasetPath, "/"), "/")
	if len(parts) > 0 && parts[0] == "model_weights" {
		parts = parts[1:]
	}
	if len(parts) < 2 {
		return "", false
	}
	layer := parts[0]
	weight := parts[len(parts)-1]
	if idx := strings.LastIndexByte(weight, ':'); idx >= 0 {
		weight = weight[:idx]
	}
	weight = strings.TrimPrefix(weight, layer+"_")
	weight = regexpKerasTrailingIndex.ReplaceAllString(weight, "")
	if alias, found := kerasWeightAliases[weight]; found {
		weight = alias
	}
	if !slices.Contains(kerasWeightNames, weight) {
		return "", false
	}
	return layer + "/" + weight, true
}

// UnpackHDF5ToNpy extracts all weights of the Keras ".h5" file into an NpyDir, so they can be loaded
// quickly later on, and without `h5dump`.
func UnpackHDF5ToNpy(h5Path, npyDir string, showProgressBar bool) error {
	h, err := OpenHDF5(h5Path)
	if err != nil {
		return err
	}
	var bar *progressbar.ProgressBar
	if showProgressBar {
		bar = progressbar.NewOptions(len(h.datasets),
			progressbar.OptionSetDescription("Unpacking weights"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII))
		defer func() { _ = bar.Finish() }()
	}
	return SaveNpyDir(h, npyDir, func(name string) {
		if bar != nil {
			_ = bar.Add(1)
		}
		klog.V(2).Infof("unpacked %q", name)
	})
}

// execH5Dump executes `h5dump`, and handles errors.
func execH5Dump(args ...string) ([]byte, error) {
	binPath, err := exec.LookPath(H5DumpBinary)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find %q binary in PATH, needed to read HDF5 files (\".h5\"): "+
			"please install hdf5-tools, or use an unpacked .npy directory", H5DumpBinary)
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	cmd := exec.Command(binPath, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	if err = cmd.Run(); err != nil {
		err = errors.Wrapf(err, "failed executing %q to access HDF5 file", cmd)
		return nil, errors.WithMessagef(err, "STDERR captured:\n%s\n", stderrBuf.String())
	}
	return stdoutBuf.Bytes(), nil
}
