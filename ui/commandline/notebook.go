// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import "os"

// Environment variables set by the Jupyter kernels GoNB (https://github.com/janpfeifer/gonb) and
// bash_kernel (https://github.com/takluyver/bash_kernel).
const (
	goNBKernelEnv = "GONB_PIPE"
	bashKernelEnv = "NOTEBOOK_BASH_KERNEL_CAPABILITIES"
)

// inNotebook returns whether running inside a Jupyter notebook, where the cursor can't be moved back to
// redraw tables.
func inNotebook() bool {
	for _, env := range []string{goNBKernelEnv, bashKernelEnv} {
		if _, found := os.LookupEnv(env); found {
			return true
		}
	}
	return false
}
