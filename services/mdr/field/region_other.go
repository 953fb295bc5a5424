// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package field

// FileRegion is unavailable without mmap support.
type FileRegion struct{}

// MapFile always fails on platforms without mmap.
func MapFile(path string, size, maxSize int64) (*FileRegion, error) {
	return nil, ErrMmapUnsupported
}

func (r *FileRegion) Bytes() []byte { return nil }
func (r *FileRegion) Sync() error   { return nil }
func (r *FileRegion) Close() error  { return nil }
