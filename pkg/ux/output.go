// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders operator-facing CLI output with lipgloss.
//
// A Printer has two modes. Styled output uses the Aleutian palette and
// rounded boxes; plain output is tab-separated with no escape codes and is
// chosen automatically when the writer is not a terminal.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary).Width(18),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box:     lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	Header: lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright).Padding(0, 1),
	Cell:   lipgloss.NewStyle().Padding(0, 1),
}

// Status classifies a value for coloring.
type Status int

const (
	StatusNone Status = iota
	StatusOK
	StatusWarning
	StatusError
)

// Field is one labelled value in a Section.
type Field struct {
	Label  string
	Value  string
	Status Status
}

// Printer writes styled or plain output.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter returns a Printer for w. Output is plain when w is not a
// terminal or when plain is forced.
func NewPrinter(w io.Writer, plain bool) *Printer {
	if !plain {
		plain = !isTerminal(w)
	}
	return &Printer{w: w, plain: plain}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether output carries no styling.
func (p *Printer) Plain() bool { return p.plain }

// Title prints a heading.
func (p *Printer) Title(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "# %s\n", text)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Section prints labelled values, boxed when styled.
func (p *Printer) Section(title string, fields []Field) {
	if p.plain {
		fmt.Fprintf(p.w, "[%s]\n", title)
		for _, f := range fields {
			fmt.Fprintf(p.w, "%s\t%s\n", f.Label, f.Value)
		}
		return
	}
	var b strings.Builder
	b.WriteString(Styles.Title.Render(title))
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(Styles.Label.Render(f.Label))
		b.WriteString(statusStyle(f.Status).Render(f.Value))
	}
	fmt.Fprintln(p.w, Styles.Box.Render(b.String()))
}

// Table prints rows under headers.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.plain {
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, r := range rows {
			fmt.Fprintln(p.w, strings.Join(r, "\t"))
		}
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			return Styles.Cell
		})
	fmt.Fprintln(p.w, t.Render())
}

// Info prints a single line of secondary text.
func (p *Printer) Info(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
}

func statusStyle(s Status) lipgloss.Style {
	switch s {
	case StatusOK:
		return Styles.Success
	case StatusWarning:
		return Styles.Warning
	case StatusError:
		return Styles.Error
	default:
		return lipgloss.NewStyle()
	}
}
