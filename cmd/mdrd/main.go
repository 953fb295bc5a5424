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
	"errors"
	"fmt"
	"os"
)

// Exit codes. ExitRestart tells a supervisor that the daemon stopped for a
// coordinated system restart and should be started again.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitRestart = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errRestart):
		return ExitRestart
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
}
