// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/resnet50/pkg/ml/data"
	"github.com/gomlx/resnet50/pkg/ml/weights"
	"github.com/gomlx/resnet50/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	// WeightsURL is the URL of the Keras weights for the whole model, including the 1000 classes head.
	WeightsURL = "https://github.com/fchollet/deep-learning-models/releases/download/v0.2/resnet50_weights_tf_dim_ordering_tf_kernels.h5"

	// WeightsChecksum is the MD5 checksum of the file at WeightsURL, as published by Keras.
	WeightsChecksum = "a7b3fe01876f51b976af0dea6bc144eb"

	// WeightsNoTopURL is the URL of the Keras weights without the classification head.
	WeightsNoTopURL = "https://github.com/fchollet/deep-learning-models/releases/download/v0.2/resnet50_weights_tf_dim_ordering_tf_kernels_notop.h5"

	// WeightsNoTopChecksum is the MD5 checksum of the file at WeightsNoTopURL, as published by Keras.
	WeightsNoTopChecksum = "a268eb855778b3df3c7506639542a6af"

	// LabelsURL is the URL of the ImageNet class index, in the Keras format.
	LabelsURL = "https://storage.googleapis.com/download.tensorflow.org/data/imagenet_class_index.json"

	// LabelsChecksum is the MD5 checksum of the file at LabelsURL, as published by Keras.
	LabelsChecksum = "c2c37ea517e94d9795004a39431a14cb"

	// LabelsFileName is the name of the labels file in the data directory.
	LabelsFileName = "imagenet_class_index.json"
)

// weightsFiles returns the url, checksum, ".h5" file name and unpacked directory name for the variant.
func weightsFiles(includeTop bool) (url, checksum, h5Name, npyDirName string) {
	if includeTop {
		return WeightsURL, WeightsChecksum, "resnet50_weights.h5", "resnet50_weights"
	}
	return WeightsNoTopURL, WeightsNoTopChecksum, "resnet50_weights_notop.h5", "resnet50_weights_notop"
}

// WeightsDir returns the directory of unpacked ".npy" weights under dataDir, for the variant with or
// without the classification head.
func WeightsDir(dataDir string, includeTop bool) (string, error) {
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return "", err
	}
	_, _, _, npyDirName := weightsFiles(includeTop)
	return filepath.Join(dataDir, npyDirName), nil
}

// DownloadWeights downloads the Keras weights to dataDir, validates the checksum, and unpacks them into a
// directory of ".npy" files. It does nothing if they are already unpacked.
//
// It returns the store with the weights. Unpacking requires `h5dump`, see weights.OpenHDF5.
func DownloadWeights(dataDir string, includeTop bool) (weights.Store, error) {
	npyDir, err := WeightsDir(dataDir, includeTop)
	if err != nil {
		return nil, err
	}
	exists, err := fsutil.FileExists(npyDir)
	if err != nil {
		return nil, err
	}
	if exists {
		return weights.NpyDir(npyDir), nil
	}

	url, checksum, h5Name, _ := weightsFiles(includeTop)
	h5Path := filepath.Join(filepath.Dir(npyDir), h5Name)
	if err = data.DownloadIfMissing(url, h5Path, checksum); err != nil {
		return nil, errors.WithMessage(err, "resnet50.DownloadWeights")
	}
	fmt.Printf("Unpacking weights to %s:\n", npyDir)
	// Unpacked into a temporary directory first, so an interrupted unpacking is not taken as complete.
	tmpDir := npyDir + ".unpacking"
	if err = weights.UnpackHDF5ToNpy(h5Path, tmpDir, true); err != nil {
		return nil, errors.WithMessage(err, "resnet50.DownloadWeights")
	}
	if err = os.Rename(tmpDir, npyDir); err != nil {
		return nil, errors.Wrapf(err, "failed to move unpacked weights to %q", npyDir)
	}
	return weights.NpyDir(npyDir), nil
}

// DownloadLabels downloads the ImageNet class index to dataDir, if not there yet, and loads it.
func DownloadLabels(dataDir string) (Labels, error) {
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, err
	}
	labelsPath := filepath.Join(dataDir, LabelsFileName)
	if err = data.DownloadIfMissing(LabelsURL, labelsPath, LabelsChecksum); err != nil {
		return nil, errors.WithMessage(err, "resnet50.DownloadLabels")
	}
	return LoadLabels(labelsPath)
}
