// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
)

// LoadPolicy reads only the policy section of the file at path.
// A file without a policy section yields ok == false.
func LoadPolicy(path string) (sw policy.Switches, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.Switches{}, false, fmt.Errorf("%w: %s: %v", ErrReadConfig, path, err)
	}
	var doc struct {
		Policy *policy.Switches `yaml:"policy"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return policy.Switches{}, false, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if doc.Policy == nil {
		return policy.Switches{}, false, nil
	}
	return *doc.Policy, true, nil
}

// PolicyWatcher reloads the reset-policy switches when the config file
// changes.
//
// # Description
//
// The parent directory is watched so that editors which replace the file
// by rename are seen. Parse failures are logged and the previous switches
// stay in effect.
//
// # Thread Safety
//
// Start must be called once. Stop may be called from any goroutine.
type PolicyWatcher struct {
	path    string
	source  *policy.Source
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	onApply func(policy.Switches)
}

// NewPolicyWatcher creates a watcher that stores reloaded switches in src.
func NewPolicyWatcher(path string, src *policy.Source, logger *slog.Logger) (*PolicyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyWatcher{path: abs, source: src, watcher: w, logger: logger}, nil
}

// OnApply registers fn to run after each successful reload.
func (p *PolicyWatcher) OnApply(fn func(policy.Switches)) {
	p.onApply = fn
}

// Start blocks until ctx is done or the watcher is stopped.
func (p *PolicyWatcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleEvent(event)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("policy watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (p *PolicyWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != p.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	p.Reload()
}

// Reload reads the file now and applies its policy section.
func (p *PolicyWatcher) Reload() {
	sw, ok, err := LoadPolicy(p.path)
	if err != nil {
		p.logger.Warn("policy reload failed, keeping previous switches", "path", p.path, "error", err)
		return
	}
	if !ok {
		return
	}
	prev := p.source.Store(sw)
	if prev != sw {
		p.logger.Info("reset policy updated",
			"soc_coprocessors", sw.SoCCoprocessors, "modem", sw.Modem, "wireless", sw.Wireless)
	}
	if p.onApply != nil {
		p.onApply(sw)
	}
}

// Stop releases the watcher. Safe to call more than once.
func (p *PolicyWatcher) Stop() error {
	return p.watcher.Close()
}
