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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianMDR/pkg/ux"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handlers"
)

const defaultServerURL = "http://127.0.0.1:8087"

func newRaiseCmd(opts *rootOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "raise modid [arg1 arg2]",
		Short: "Ask a running daemon to raise a fault",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseRaiseArgs(args)
			if err != nil {
				return err
			}
			status, err := postRaise(cmd.Context(), &http.Client{Timeout: 10 * time.Second}, url, vals)
			if err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout(), opts.plain).Info(status)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultServerURL, "Base URL of the daemon")
	return cmd
}

// parseRaiseArgs parses modid and optional arguments, accepting 0x
// prefixes.
func parseRaiseArgs(args []string) ([3]uint32, error) {
	var vals [3]uint32
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return vals, fmt.Errorf("argument %d (%q): %w", i+1, a, err)
		}
		vals[i] = uint32(v)
	}
	return vals, nil
}

func postRaise(ctx context.Context, client *http.Client, baseURL string, vals [3]uint32) (string, error) {
	modid := vals[0]
	body, err := json.Marshal(handlers.RaiseRequest{ModID: &modid, Arg1: vals[1], Arg2: vals[2]})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/v1/mdr/faults"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("raise request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("raise rejected: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	var out struct {
		Pending int `json:"pending"`
	}
	_ = json.Unmarshal(payload, &out)
	return fmt.Sprintf("fault 0x%x queued (%d pending)", modid, out.Pending), nil
}
