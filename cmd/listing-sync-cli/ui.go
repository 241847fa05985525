// Package main provides UI utilities for the listing sync CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

// UI provides user-friendly output utilities.
type UI struct {
	out      io.Writer
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance writing to out.
func NewUI(out io.Writer, jsonMode, noColor bool) *UI {
	return &UI{
		out:      out,
		noColor:  noColor,
		jsonMode: jsonMode,
	}
}

func (ui *UI) printf(attr color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(ui.out, msg)
		return
	}
	color.New(attr).Fprint(ui.out, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.printf(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.printf(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.printf(color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (ui *UI) Step(format string, args ...interface{}) {
	ui.printf(color.FgBlue, "→", format, args...)
}

// JSON writes v as indented JSON. It is the only output in --json mode.
func (ui *UI) JSON(v interface{}) error {
	enc := json.NewEncoder(ui.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	if ui.noColor {
		fmt.Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	}
	fmt.Fprintln(ui.out)
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
	} else {
		color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
		fmt.Fprintf(ui.out, "%v\n", value)
	}
}

// Table prints a formatted table.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len([]rune(header))
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); i < len(widths) && n > widths[i] {
				widths[i] = n
			}
		}
	}

	border := func(left, mid, right string) {
		var b strings.Builder
		b.WriteString(left)
		for i, w := range widths {
			b.WriteString(strings.Repeat("─", w+2))
			if i < len(widths)-1 {
				b.WriteString(mid)
			}
		}
		b.WriteString(right + "\n")
		if ui.noColor {
			fmt.Fprint(ui.out, b.String())
		} else {
			color.New(color.FgCyan, color.Bold).Fprint(ui.out, b.String())
		}
	}
	line := func(cells []string) {
		var b strings.Builder
		b.WriteString("│")
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + cell + strings.Repeat(" ", w-len([]rune(cell))) + " │")
		}
		fmt.Fprintln(ui.out, b.String())
	}

	border("┌", "┬", "┐")
	line(headers)
	border("├", "┼", "┤")
	for _, row := range rows {
		line(row)
	}
	border("└", "┴", "┘")
}

// Spinner returns a started spinner on stderr, or nil in JSON mode or when
// stderr is not a terminal.
func (ui *UI) Spinner(message string) *spinner.Spinner {
	if ui.jsonMode || !IsTerminal(os.Stderr) {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s
}

// StopSpinner stops s if it is running.
func StopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}

// ProgressBar returns a progress bar on stderr, or nil in JSON mode.
func (ui *UI) ProgressBar(total int, description string) *progressbar.ProgressBar {
	if ui.jsonMode {
		return nil
	}
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("dealers"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Summary prints the counts of a reconciliation run.
func (ui *UI) Summary(s reconcile.Summary) {
	ui.KeyValue("Extracted", s.Extracted)
	ui.KeyValue("Existing", s.Existing)
	ui.KeyValue("Creates", s.Creates)
	ui.KeyValue("Updates", s.Updates)
	ui.KeyValue("Unchanged", s.Unchanged)
	ui.KeyValue("Deletes", s.Deletes)
	if s.Retained > 0 {
		ui.KeyValue("Retained", s.Retained)
	}
	ui.KeyValue("Matched (exact/composite/fuzzy)", fmt.Sprintf("%d/%d/%d", s.Exact, s.Composite, s.Fuzzy))
}

// Matches prints engine decisions as a table.
func (ui *UI) Matches(matches []reconcile.ListingMatch) {
	rows := make([][]string, len(matches))
	for i, m := range matches {
		rows[i] = matchRow(i, m, "")
	}
	ui.Table(matchHeaders(false), rows)
}

// Decisions prints stored decisions, including their review status.
func (ui *UI) Decisions(decisions []*storage.Decision) {
	rows := make([][]string, len(decisions))
	for i, d := range decisions {
		rows[i] = matchRow(d.Position, d.Match, string(d.ReviewStatus))
	}
	ui.Table(matchHeaders(true), rows)
}

func matchHeaders(withReview bool) []string {
	h := []string{"#", "Action", "Vehicle", "Method", "Confidence", "Changes"}
	if withReview {
		h = append(h, "Review")
	}
	return h
}

func matchRow(pos int, m reconcile.ListingMatch, review string) []string {
	row := []string{
		fmt.Sprintf("%d", pos),
		strings.ToUpper(string(m.ChangeType)),
		vehicleLabel(m),
		string(m.MatchMethod),
		fmt.Sprintf("%.2f", m.Confidence),
		m.ChangeSummary,
	}
	if review != "" {
		row = append(row, review)
	}
	return row
}

func vehicleLabel(m reconcile.ListingMatch) string {
	var spec reconcile.CarSpec
	switch {
	case m.Extracted != nil:
		spec = m.Extracted.CarSpec
	case m.Existing != nil:
		spec = m.Existing.CarSpec
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", spec.Make, spec.Model, spec.Variant))
}

// IsTerminal checks if f is a terminal.
func IsTerminal(f *os.File) bool {
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
