// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package field

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileRegion maps a file with MAP_SHARED so the record is persisted by the
// page cache and survives a process restart. Pointed at a device node that
// exposes reserved RAM, it survives a warm reboot as well.
type FileRegion struct {
	file *os.File
	data []byte
}

// MapFile opens (creating if needed) path, sizes it to size bytes and maps
// it read-write.
//
// Description:
//
//	A size of zero fails with ErrRegionEmpty. A size above maxSize fails
//	with ErrRegionTooLarge; maxSize <= 0 disables the bound. Regular
//	files shorter or longer than size are truncated to size, which
//	preserves the prefix so a warm boot over an unchanged size keeps
//	every byte.
func MapFile(path string, size, maxSize int64) (*FileRegion, error) {
	if size <= 0 {
		return nil, ErrRegionEmpty
	}
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrRegionTooLarge, size, maxSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening region %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat region %s: %w", path, err)
	}
	if info.Mode().IsRegular() && info.Size() != size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("sizing region %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mapping region %s: %w", path, err)
	}
	return &FileRegion{file: file, data: data}, nil
}

func (r *FileRegion) Bytes() []byte { return r.data }

// Sync flushes dirty pages to the backing file.
func (r *FileRegion) Sync() error {
	if r.data == nil {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}

// Close syncs, unmaps and closes the file. Safe to call twice.
func (r *FileRegion) Close() error {
	if r.data == nil {
		return nil
	}
	syncErr := unix.Msync(r.data, unix.MS_SYNC)
	unmapErr := unix.Munmap(r.data)
	r.data = nil
	closeErr := r.file.Close()
	for _, err := range []error{syncErr, unmapErr, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

var _ Region = (*FileRegion)(nil)
