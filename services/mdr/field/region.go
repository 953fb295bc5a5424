// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package field

// Region is the reserved memory backing the persistent record. Bytes must
// return the same slice for the lifetime of the region; writes to it are
// writes to the record.
type Region interface {
	Bytes() []byte
	Sync() error
	Close() error
}

// MemoryRegion is a heap-backed Region. Its contents survive only as long
// as the value, which is enough for tests and for simulating a warm boot
// by reopening a State over the same region.
type MemoryRegion struct {
	buf []byte
}

// NewMemoryRegion allocates a zeroed region of size bytes.
func NewMemoryRegion(size int) *MemoryRegion {
	if size < 0 {
		size = 0
	}
	return &MemoryRegion{buf: make([]byte, size)}
}

func (m *MemoryRegion) Bytes() []byte { return m.buf }
func (m *MemoryRegion) Sync() error   { return nil }
func (m *MemoryRegion) Close() error  { return nil }

var _ Region = (*MemoryRegion)(nil)
