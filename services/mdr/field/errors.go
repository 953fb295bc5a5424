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

import "errors"

var (
	// Region errors are fatal to engine startup.
	ErrRegionEmpty     = errors.New("reserved region size is zero")
	ErrRegionTooLarge  = errors.New("reserved region size exceeds declared bounds")
	ErrRegionTooSmall  = errors.New("reserved region too small for header and base info")
	ErrMmapUnsupported = errors.New("memory-mapped regions are not supported on this platform")

	// Layout errors come from a malformed per-domain capacity table.
	ErrNoAreas          = errors.New("capacity table is empty")
	ErrTooManyAreas     = errors.New("capacity table exceeds area table slots")
	ErrCapacityExceeded = errors.New("domain capacities exceed reserved region")

	// Header validation errors trigger a cold-boot reinitialization.
	ErrBadMagic         = errors.New("persistent header magic mismatch")
	ErrVersionMismatch  = errors.New("persistent header version mismatch")
	ErrChecksumMismatch = errors.New("persistent header checksum mismatch")
	ErrLayoutChanged    = errors.New("persistent area table does not match configured capacities")

	ErrAreaIndex = errors.New("area index out of range")
)
