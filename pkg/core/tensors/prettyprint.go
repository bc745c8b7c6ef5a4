// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"strings"
)

// maxPrintedValues is the number of leading values shown by String for large tensors.
const maxPrintedValues = 8

// String returns the shape and, for small tensors, the values. Large tensors are summarized.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	if t.Size() <= maxPrintedValues {
		return fmt.Sprintf("%s: %v", t.shape, t.Value())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: [", t.shape)
	for ii := 0; ii < maxPrintedValues; ii++ {
		if ii > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%g", t.flat[ii])
	}
	fmt.Fprintf(&sb, " ... (%d more)]", t.Size()-maxPrintedValues)
	return sb.String()
}
