// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/kernelbench/services/bench/baseline"
	"github.com/AleutianAI/kernelbench/services/bench/driver"
	"github.com/AleutianAI/kernelbench/services/bench/kernel"
	"github.com/AleutianAI/kernelbench/services/bench/runner"
	"github.com/AleutianAI/kernelbench/services/bench/throughput"
)

var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorGold  = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
)

// printer renders results as styled tables on a terminal and as plain
// aligned text otherwise.
type printer struct {
	w      io.Writer
	styled bool

	title  lipgloss.Style
	header lipgloss.Style
	border lipgloss.Style
	muted  lipgloss.Style
	good   lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, styled: isTerminal(w)}
	r := lipgloss.NewRenderer(w)
	p.title = r.NewStyle().Bold(true).Foreground(colorTeal)
	p.header = r.NewStyle().Bold(true).Foreground(colorTeal).Padding(0, 1)
	p.border = r.NewStyle().Foreground(colorDeep)
	p.muted = r.NewStyle().Foreground(colorSlate)
	p.good = r.NewStyle().Foreground(colorTeal)
	p.warn = r.NewStyle().Foreground(colorGold)
	p.bad = r.NewStyle().Foreground(colorRed)
	return p
}

// isTerminal reports whether w is a terminal that accepts color.
func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// table prints headers and rows. statusCol, when non-negative, is colored
// by its value.
func (p *printer) table(headers []string, rows [][]string, statusCol int) {
	if !p.styled {
		p.plainTable(headers, rows)
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			cell := lipgloss.NewStyle().Padding(0, 1)
			if col == statusCol && row >= 0 && row < len(rows) {
				switch rows[row][col] {
				case "ok", string(baseline.StatusUnchanged), string(baseline.StatusImproved):
					return p.good.Padding(0, 1)
				case string(baseline.StatusMissing), "capped":
					return p.warn.Padding(0, 1)
				default:
					return p.bad.Padding(0, 1)
				}
			}
			return cell
		})
	fmt.Fprintln(p.w, t.Render())
}

func (p *printer) plainTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := len([]rune(cell)); i < len(widths) && n > widths[i] {
				widths[i] = n
			}
		}
	}
	line := func(cells []string) {
		var b strings.Builder
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len([]rune(cell))))
			}
		}
		fmt.Fprintln(p.w, b.String())
	}
	line(headers)
	for _, row := range rows {
		line(row)
	}
}

// printRun renders a run, one row per size in request order.
func (p *printer) printRun(res *runner.Result) {
	fmt.Fprintln(p.w, p.render(p.title, fmt.Sprintf("%s  min-time %v  warmup %d  %d B/element",
		res.Kernel, res.MinTime, res.Warmup, res.BytesPerElement)))

	rows := make([][]string, len(res.Records))
	for i, rec := range res.Records {
		rows[i] = recordRow(rec, res.Throughput[i])
	}
	p.table([]string{"Size", "Avg", "Iterations", "Ops/s", "Throughput", "Status"}, rows, 5)

	failed := 0
	for _, rec := range res.Records {
		if !rec.OK() {
			failed++
		}
	}
	summary := fmt.Sprintf("%d sizes in %v", len(res.Records), res.Elapsed.Round(time.Millisecond))
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	fmt.Fprintln(p.w, p.render(p.muted, summary))
}

func recordRow(rec driver.Record, m *throughput.Metrics) []string {
	size := strconv.Itoa(rec.Size)
	if !rec.OK() {
		return []string{size, "-", "-", "-", "-", rec.Error}
	}
	status := "ok"
	if rec.Measurement.Capped {
		status = "capped"
	}
	row := []string{
		size,
		throughput.FormatNanos(rec.Measurement.AverageNanos),
		strconv.Itoa(rec.Measurement.Repetitions),
		"-", "-",
		status,
	}
	if m != nil {
		row[3] = throughput.FormatOps(m.OpsPerSecond)
		row[4] = throughput.FormatMBps(m.MBPerSecond)
	}
	return row
}

// printReport renders a baseline comparison.
func (p *printer) printReport(r *baseline.Report) {
	fmt.Fprintln(p.w, p.render(p.title, fmt.Sprintf("compared with %s (threshold %.0f%%)", r.Baseline, r.Threshold*100)))

	rows := make([][]string, len(r.Deltas))
	for i, d := range r.Deltas {
		rows[i] = []string{
			strconv.Itoa(d.Size),
			nanosOrDash(d.BaselineNanos),
			nanosOrDash(d.CurrentNanos),
			changeOrDash(d),
			string(d.Status),
		}
	}
	p.table([]string{"Size", "Baseline", "Current", "Change", "Status"}, rows, 4)

	summary := fmt.Sprintf("%d regressed, %d improved, %d failed", r.Regressed, r.Improved, r.Failed)
	style := p.good
	if r.HasRegression() {
		style = p.bad
	}
	fmt.Fprintln(p.w, p.render(style, summary))
}

func nanosOrDash(ns float64) string {
	if ns <= 0 {
		return "-"
	}
	return throughput.FormatNanos(ns)
}

func changeOrDash(d baseline.Delta) string {
	if d.BaselineNanos <= 0 || d.CurrentNanos <= 0 {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", d.Change*100)
}

// printKernels renders the registered kernels.
func (p *printer) printKernels(ds []kernel.Descriptor) {
	rows := make([][]string, len(ds))
	for i, d := range ds {
		rows[i] = []string{d.Name, strconv.Itoa(d.BytesPerElement), d.Description}
	}
	p.table([]string{"Kernel", "B/element", "Description"}, rows, -1)
}

// printBaselines renders stored baselines.
func (p *printer) printBaselines(entries []*baseline.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.w, p.render(p.muted, "no baselines stored"))
		return
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.Name,
			e.Kernel,
			strconv.Itoa(len(e.Records)),
			e.MinTime.String(),
			e.CreatedAt.Local().Format(time.DateTime),
		}
	}
	p.table([]string{"Name", "Kernel", "Sizes", "Min time", "Created"}, rows, -1)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
