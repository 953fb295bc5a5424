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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianMDR/pkg/ux"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
)

const defaultHandoffURL = "ws://127.0.0.1:8087/v1/mdr/handoff"

// savedAcks are sent, in order, after each record is written.
var savedAcks = []handoff.Code{
	handoff.CodeGeneralSaved,
	handoff.CodeHistorySaved,
	handoff.CodeSubsystemSaved,
}

func newListenCmd(opts *rootOptions) *cobra.Command {
	var (
		url  string
		out  string
		pid  int
		once bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Act as the user-space log daemon: store records and acknowledge them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f, err := os.OpenFile(out, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
			if err != nil {
				return fmt.Errorf("open record log: %w", err)
			}
			defer f.Close()

			client, err := handoff.Dial(ctx, url)
			if err != nil {
				return err
			}
			defer client.Close()

			p := ux.NewPrinter(cmd.OutOrStdout(), opts.plain)
			p.Info(fmt.Sprintf("listening on %s as pid %d, records to %s", url, pid, out))
			return listen(ctx, client, f, pid, once, p)
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultHandoffURL, "Handoff websocket URL")
	cmd.Flags().StringVar(&out, "out", "mdr-records.log", "File the records are appended to")
	cmd.Flags().IntVar(&pid, "pid", os.Getpid(), "PID to announce")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the first record")
	return cmd
}

// handoffConn is the client side of the handoff channel.
type handoffConn interface {
	Announce(pid int) error
	Ack(code handoff.Code) error
	Next(ctx context.Context) (handoff.Envelope, error)
}

// listen announces pid, then appends every record to out and acknowledges
// it. It returns nil when ctx is done.
func listen(ctx context.Context, conn handoffConn, out io.Writer, pid int, once bool, p *ux.Printer) error {
	if err := conn.Announce(pid); err != nil {
		return err
	}
	for {
		env, err := conn.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if env.Type != handoff.CodeRecord {
			continue
		}
		line := env.Payload
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		if _, err := io.WriteString(out, line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if s, ok := out.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
		for _, code := range savedAcks {
			if err := conn.Ack(code); err != nil {
				return err
			}
		}
		p.Info(fmt.Sprintf("record %d saved: %s", env.Seq, strings.TrimSpace(env.Payload)))
		if once {
			return nil
		}
	}
}
