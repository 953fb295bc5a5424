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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianMDR/pkg/ux"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
)

var errNoRegion = errors.New("no region file: pass --region or set region.path in the config")

func newShowCmd(opts *rootOptions) *cobra.Command {
	var regionPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Decode a region file and print the last fault and the area table",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := regionPath
			if path == "" && opts.configPath != "" {
				cfg, err := loadConfig(opts.configPath)
				if err != nil {
					return err
				}
				path = cfg.Region.Path
			}
			if path == "" {
				return errNoRegion
			}
			buf, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read region: %w", err)
			}
			return renderRegion(ux.NewPrinter(cmd.OutOrStdout(), opts.plain), path, buf)
		},
	}
	cmd.Flags().StringVar(&regionPath, "region", "", "Region file to decode")
	return cmd
}

// renderRegion prints what a stopped daemon left in its region.
func renderRegion(p *ux.Printer, path string, buf []byte) error {
	hdr, areas, err := field.DecodeHeader(buf)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if len(buf) < field.AreasOffset {
		return fmt.Errorf("decode %s: %w", path, field.ErrRegionTooSmall)
	}
	info := field.DecodeBaseInfo(buf[field.BaseInfoOffset:field.AreasOffset])
	cf := info.CurrentFault

	p.Title("MDR region " + path)
	p.Section("Product", []ux.Field{
		{Label: "name", Value: hdr.Product.Name},
		{Label: "version", Value: hdr.Product.Version},
		{Label: "build", Value: hdr.Product.BuildID},
		{Label: "size", Value: strconv.Itoa(len(buf))},
	})

	if cf.Empty() {
		p.Info("no fault recorded")
	} else {
		p.Section("Last fault", []ux.Field{
			{Label: "modid", Value: fmt.Sprintf("0x%x", cf.ModID)},
			{Label: "args", Value: fmt.Sprintf("0x%x 0x%x", cf.Arg1, cf.Arg2)},
			{Label: "origin", Value: cf.Origin.String()},
			{Label: "type", Value: cf.FaultType.String()},
			{Label: "module", Value: cf.ModuleName},
			{Label: "description", Value: cf.Description},
			{Label: "time", Value: cf.Timestamp},
			{Label: "started", Value: cf.Started.String(), Status: sentinelStatus(cf.Started)},
			{Label: "log saved", Value: cf.LogSaved.String(), Status: sentinelStatus(cf.LogSaved)},
			{Label: "reboot done", Value: cf.RebootDone.String(), Status: sentinelStatus(cf.RebootDone)},
			{Label: "reboot reason", Value: info.RebootReason.String()},
		})
	}

	rows := make([][]string, 0, len(areas))
	for _, a := range areas {
		rows = append(rows, []string{
			strconv.Itoa(a.Index),
			a.Core.String(),
			fmt.Sprintf("0x%x", a.Offset),
			strconv.FormatUint(a.Length, 10),
		})
	}
	p.Table([]string{"idx", "core", "offset", "length"}, rows)
	return nil
}

func sentinelStatus(s field.Sentinel) ux.Status {
	switch s {
	case field.SentinelDone:
		return ux.StatusOK
	case field.SentinelStart:
		return ux.StatusWarning
	default:
		return ux.StatusNone
	}
}
