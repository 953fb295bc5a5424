// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrinter_NonTerminalIsPlain(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, NewPrinter(&buf, false).Plain())
}

func TestPrinter_PlainOutput(t *testing.T) {
	tests := []struct {
		name  string
		print func(p *Printer)
		want  string
	}{
		{
			name:  "title",
			print: func(p *Printer) { p.Title("Last boot") },
			want:  "# Last boot\n",
		},
		{
			name: "section",
			print: func(p *Printer) {
				p.Section("Fault", []Field{{Label: "modid", Value: "0x120"}, {Label: "core", Value: "CP", Status: StatusWarning}})
			},
			want: "[Fault]\nmodid\t0x120\ncore\tCP\n",
		},
		{
			name:  "table",
			print: func(p *Printer) { p.Table([]string{"idx", "core"}, [][]string{{"0", "AP"}, {"1", "CP"}}) },
			want:  "idx\tcore\n0\tAP\n1\tCP\n",
		},
		{
			name:  "warning",
			print: func(p *Printer) { p.Warning("region is cold") },
			want:  "WARN: region is cold\n",
		},
		{
			name:  "info",
			print: func(p *Printer) { p.Info("listening") },
			want:  "listening\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.print(NewPrinter(&buf, true))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_StyledTableContainsCells(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf}
	p.Table([]string{"core", "length"}, [][]string{{"HIFI", "32768"}})
	out := buf.String()
	assert.Contains(t, out, "HIFI")
	assert.Contains(t, out, "32768")
	assert.Contains(t, out, "╭")
}
