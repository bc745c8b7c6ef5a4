// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const content = "resnet50 weights placeholder"

func contentHash() string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

func TestDownloadIfMissing(t *testing.T) {
	var numRequests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		numRequests.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	defer server.Close()

	filePath := filepath.Join(t.TempDir(), "sub", "weights.h5")
	require.NoError(t, DownloadIfMissing(server.URL+"/weights.h5", filePath, contentHash()))
	got, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	// Second time it is not downloaded again.
	require.NoError(t, DownloadIfMissing(server.URL+"/weights.h5", filePath, contentHash()))
	assert.Equal(t, int32(1), numRequests.Load())

	// MD5 checksums are also accepted.
	md5Hash := md5.Sum([]byte(content))
	require.NoError(t, ValidateChecksum(filePath, hex.EncodeToString(md5Hash[:])))

	// Wrong checksum removes the file.
	require.Error(t, DownloadIfMissing(server.URL+"/weights.h5", filePath, strings.Repeat("0", 64)))
	_, err = os.Stat(filePath)
	assert.True(t, os.IsNotExist(err))

	// HTTP errors.
	_, err = Download(server.URL+"/missing", filepath.Join(t.TempDir(), "x"), false)
	require.Error(t, err)
}
