// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience tools for command-line programs: parsing of context settings,
// rendering of predictions and model summaries as tables, and a progress bar.
package commandline

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/resnet50/models/resnet50"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	titleStyle        = lipgloss.NewStyle().Bold(true)
	tableBorderColor  = "#705090"
)

// newTable returns a table with the common style. The columns in rightAligned are aligned to the right.
func newTable(headers []string, rightAligned ...int) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			for _, c := range rightAligned {
				if c == col {
					return rightAlignedStyle
				}
			}
			return normalStyle
		})
}

// PredictionsTable renders the predictions for one image, titled with the image name, as a table
// with the rank, class ID, label and score (as a percentage).
func PredictionsTable(title string, predictions []resnet50.Prediction) string {
	table := newTable([]string{"#", "Class", "Label", "Score"}, 0, 3)
	for ii, p := range predictions {
		table.Row(fmt.Sprintf("%d", ii+1), p.ID, strings.ReplaceAll(p.Label, "_", " "),
			fmt.Sprintf("%.2f%%", 100*p.Score))
	}
	if title == "" {
		return table.String()
	}
	return titleStyle.Render(title) + "\n" + table.String()
}

// SummaryTable renders the summary of a network: each named layer with its type, output shape and
// number of parameter values, followed by the total.
func SummaryTable(summary []resnet50.LayerSummary) string {
	table := newTable([]string{"Layer", "Type", "Output Shape", "Parameters"}, 3)
	var total int
	for _, layer := range summary {
		table.Row(layer.Name, layer.Type, layer.OutputShape.String(), humanize.Comma(int64(layer.NumParameters)))
		total += layer.NumParameters
	}
	table.Row("Total", "", "", humanize.Comma(int64(total)))
	return table.String()
}
