// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weights

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Report of a Bind operation. All lists are sorted.
type Report struct {
	// Matched lists the parameter names that were found in the store and written.
	Matched []string

	// MissingInStore lists the parameter names not present in the store: they keep their current values.
	MissingInStore []string

	// UnusedInStore lists the store names that don't correspond to any parameter.
	UnusedInStore []string
}

// String implements fmt.Stringer.
func (r *Report) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%d matched, %d missing in store, %d unused in store",
		len(r.Matched), len(r.MissingInStore), len(r.UnusedInStore))
	for _, list := range []struct {
		title string
		names []string
	}{{"missing in store", r.MissingInStore}, {"unused in store", r.UnusedInStore}} {
		if len(list.names) > 0 {
			_, _ = fmt.Fprintf(&sb, "\n  %s: %s", list.title, strings.Join(list.names, ", "))
		}
	}
	return sb.String()
}

// Bind writes the weights of store into the given variables, matching the store names with the variables'
// ParameterName.
//
// Binding is done in two passes: first every matched tensor is read and checked against the variable shape,
// and only if all of them are compatible they are written. So on error no variable is modified.
// Variables without a matching weight keep their values, and are listed in Report.MissingInStore.
//
// Binding is idempotent and independent of the order of the variables or of the store.
func Bind(variables []*context.Variable, store Store) (*Report, error) {
	byName := make(map[string]*context.Variable, len(variables))
	for _, v := range variables {
		name := v.ParameterName()
		if _, found := byName[name]; found {
			return nil, errors.Errorf("weights.Bind: duplicate parameter name %q", name)
		}
		byName[name] = v
	}

	report := &Report{}
	storeNames := store.Names()
	inStore := make(map[string]bool, len(storeNames))
	values := make(map[string]*tensors.Tensor)
	for _, name := range storeNames {
		inStore[name] = true
		v, found := byName[name]
		if !found {
			report.UnusedInStore = append(report.UnusedInStore, name)
			continue
		}
		value, err := store.Get(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "weights.Bind: reading parameter %q", name)
		}
		if value == nil {
			return nil, errors.Errorf("weights.Bind: store returned no value for parameter %q", name)
		}
		if err = v.CheckValue(value); err != nil {
			return nil, errors.Errorf("weights.Bind: parameter %q has shape %s, but stored weights have shape %s",
				name, v.Shape(), value.Shape())
		}
		values[name] = value
		report.Matched = append(report.Matched, name)
	}
	for name := range byName {
		if !inStore[name] {
			report.MissingInStore = append(report.MissingInStore, name)
		}
	}
	slices.Sort(report.Matched)
	slices.Sort(report.MissingInStore)
	slices.Sort(report.UnusedInStore)

	// Second pass: all checked, write values.
	for _, name := range report.Matched {
		if err := byName[name].SetValue(values[name]); err != nil {
			return nil, errors.WithMessagef(err, "weights.Bind: setting parameter %q", name)
		}
		klog.V(2).Infof("weights.Bind: %s <- %s", name, values[name].Shape())
	}
	klog.V(1).Infof("weights.Bind: %d matched, %d missing in store, %d unused in store",
		len(report.Matched), len(report.MissingInStore), len(report.UnusedInStore))
	if len(report.UnusedInStore) > 0 {
		klog.Warningf("weights.Bind: %d weights in store not used: %v", len(report.UnusedInStore), report.UnusedInStore)
	}
	return report, nil
}
