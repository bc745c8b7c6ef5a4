// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package data holds tools to fetch and validate the files the models need: weights and label tables.
package data

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/resnet50/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ValidateChecksum verifies that the hash of the file in the given path matches checkHash (hex encoded).
// If it doesn't, the file is removed (!) and an error is returned.
//
// The hash algorithm is selected by the length of checkHash: 64 hex digits for SHA256, 32 for MD5
// (the checksums published for the Keras weights are MD5).
func ValidateChecksum(path, checkHash string) error {
	var hasher hash.Hash
	switch len(checkHash) {
	case 2 * sha256.Size:
		hasher = sha256.New()
	case 2 * md5.Size:
		hasher = md5.New()
	default:
		return errors.Errorf("checksum %q for %q is neither SHA256 nor MD5", checkHash, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q to validate checksum", path)
	}
	_, err = io.Copy(hasher, f)
	_ = f.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to read %q to validate checksum", path)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash != strings.ToLower(checkHash) {
		if e2 := os.Remove(path); e2 != nil {
			klog.Errorf("Failed to remove %q, which failed checksum test. Please remove it. %+v", path, e2)
		}
		return errors.Errorf("file %q hash is %q, but expected %q, file deleted", path, fileHash, checkHash)
	}
	return nil
}

// CopyWithProgressBar is similar to io.Copy, but displays a progress bar with the amount of data copied.
// contentLength may be -1 if unknown.
func CopyWithProgressBar(dst io.Writer, src io.Reader, contentLength int64) (int64, error) {
	description := "unknown size"
	if contentLength >= 0 {
		description = humanize.IBytes(uint64(contentLength))
	}
	bar := progressbar.NewOptions64(contentLength,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	n, err := io.Copy(io.MultiWriter(dst, bar), src)
	_ = bar.Finish()
	fmt.Println()
	return n, err
}

// Download the url and save it at filePath, creating its directory if needed.
// The file is first written to a temporary name, and only renamed when complete.
func Download(url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return 0, err
	}
	if err = fsutil.EnsureDir(filepath.Dir(filePath)); err != nil {
		return 0, err
	}
	resp, err := http.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: status %s", url, resp.Status)
	}

	tmpPath := filePath + ".downloading"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	if showProgressBar {
		size, err = CopyWithProgressBar(file, resp.Body, resp.ContentLength)
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed to move %q to %q", tmpPath, filePath)
	}
	klog.V(1).Infof("downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// DownloadIfMissing checks if filePath exists already, and if not it downloads it from the given URL.
//
// If checkHash is provided, it checks that the file has the given hash (see ValidateChecksum), or it deletes it and fails.
func DownloadIfMissing(url, filePath, checkHash string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Printf("Downloading %s ...\n", url)
		if _, err = Download(url, filePath, true); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return ValidateChecksum(filePath, checkHash)
}
