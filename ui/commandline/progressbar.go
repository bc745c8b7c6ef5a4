// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBar displays the progress of processing a list of items (e.g. images being classified), with a
// table of stats above the bar, redrawn in place on each update.
//
// In a notebook, where the cursor can't be moved, the stats are printed as a suffix of the bar instead.
type ProgressBar struct {
	out        io.Writer
	bar        *progressbar.ProgressBar
	total      int
	count      int
	suffix     string
	inNotebook bool
	lastUpdate time.Time
	durations  []time.Duration

	// lipgloss-based rich display for the command-line.
	termenv       *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool
	numStatsLines int
}

// NewProgressBar creates a progress bar for total items, writing to os.Stdout.
func NewProgressBar(total int, description string) *ProgressBar {
	return newProgressBar(os.Stdout, total, description, inNotebook())
}

func newProgressBar(out io.Writer, total int, description string, notebook bool) *ProgressBar {
	pBar := &ProgressBar{
		out:        out,
		total:      total,
		inNotebook: notebook,
		lastUpdate: time.Now(),
	}
	if !pBar.inNotebook {
		pBar.isFirstOutput = true
		pBar.termenv = termenv.NewOutput(out)
		pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
		pBar.statsTable = lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
	}
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	return pBar
}

// Write implements io.Writer, and appends the current suffix to each write of the enclosed
// progressbar.ProgressBar, so that the bar and its suffix are written in the same operation: otherwise
// Jupyter Notebook may display them in different lines.
func (pBar *ProgressBar) Write(data []byte) (n int, err error) {
	n, err = pBar.out.Write(data)
	if err != nil {
		return n, err
	}
	_, err = io.WriteString(pBar.out, pBar.suffix)
	if err != nil {
		return 0, err
	}
	return
}

// Add marks one more item as processed, and displays the given stats as a list of (name, value) pairs.
// The median time per item is added to the stats.
func (pBar *ProgressBar) Add(stats ...[2]string) {
	now := time.Now()
	pBar.durations = append(pBar.durations, now.Sub(pBar.lastUpdate))
	pBar.lastUpdate = now
	pBar.count++
	stats = append(stats,
		[2]string{"Processed", fmt.Sprintf("%s of %s", humanize.Comma(int64(pBar.count)), humanize.Comma(int64(pBar.total)))},
		[2]string{"Median time per item", FormatDuration(medianDuration(pBar.durations))})

	if pBar.inNotebook {
		parts := make([]string, 0, len(stats)+1)
		for _, stat := range stats {
			parts = append(parts, fmt.Sprintf(" [%s=%s]", stat[0], stat[1]))
		}
		// Spaces erase left-overs of a previous longer suffix.
		parts = append(parts, "        ")
		pBar.suffix = strings.Join(parts, "")
		_ = pBar.bar.Add(1)
		return
	}

	pBar.suffix = "\033[J"
	pBar.statsTable.Data(lgtable.NewStringData())
	for _, stat := range stats {
		pBar.statsTable.Row(stat[0], stat[1])
	}
	rendered := pBar.statsStyle.Render(pBar.statsTable.String())

	// Move back over the previous table and bar to redraw them.
	pBar.termenv.HideCursor()
	if !pBar.isFirstOutput {
		pBar.termenv.CursorPrevLine(pBar.numStatsLines + 1)
	}
	pBar.isFirstOutput = false
	pBar.numStatsLines = strings.Count(rendered, "\n") + 1
	_, _ = fmt.Fprintln(pBar.out, rendered)
	_ = pBar.bar.Add(1)
	_, _ = fmt.Fprintln(pBar.out)
	pBar.termenv.ShowCursor()
}

// Done finishes the progress bar.
func (pBar *ProgressBar) Done() {
	_ = pBar.bar.Finish()
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	_, _ = fmt.Fprintln(pBar.out)
}
