// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the mdrd configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianMDR/pkg/logging"
	"github.com/AleutianAI/AleutianMDR/services/mdr"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
	"github.com/AleutianAI/AleutianMDR/services/mdr/observability"
	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
	"github.com/AleutianAI/AleutianMDR/services/mdr/upload"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrReadConfig    = errors.New("failed to read configuration")
)

// Config is the top-level mdrd configuration.
type Config struct {
	Region       RegionConfig                  `yaml:"region"`
	Product      ProductConfig                 `yaml:"product"`
	Areas        map[string]uint64             `yaml:"areas" validate:"dive,keys,core,endkeys"`
	Policy       policy.Switches               `yaml:"policy"`
	Worker       WorkerConfig                  `yaml:"worker"`
	DumpDir      string                        `yaml:"dump_dir"`
	Category     string                        `yaml:"category" validate:"required,max=32,excludesall=0x2C="`
	History      HistoryConfig                 `yaml:"history"`
	Server       ServerConfig                  `yaml:"server"`
	Logging      LoggingConfig                 `yaml:"logging"`
	Telemetry    observability.TelemetryConfig `yaml:"telemetry"`
	Upload       upload.Config                 `yaml:"upload"`
	Restart      RestartConfig                 `yaml:"restart"`
	FaultClasses []datatypes.FaultDescriptor   `yaml:"fault_classes"`
	Domains      []DomainConfig                `yaml:"domains" validate:"dive"`
}

// RegionConfig describes the reserved persistent region. An empty Path
// keeps the region in memory, so nothing survives a restart.
type RegionConfig struct {
	Path     string `yaml:"path"`
	Size     uint64 `yaml:"size" validate:"gt=0"`
	MaxSize  uint64 `yaml:"max_size" validate:"gtefield=Size"`
	ColdBoot bool   `yaml:"cold_boot"`
}

type ProductConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	BuildID string `yaml:"build_id"`
}

// Product converts to the header identity.
func (p ProductConfig) Product() field.Product {
	return field.Product{Name: p.Name, Version: p.Version, BuildID: p.BuildID}
}

type WorkerConfig struct {
	IdleWait    time.Duration `yaml:"idle_wait" validate:"gte=0"`
	AckTimeout  time.Duration `yaml:"ack_timeout" validate:"gte=0"`
	DumpTimeout time.Duration `yaml:"dump_timeout" validate:"gte=0"`
	MaxPending  int           `yaml:"max_pending" validate:"gte=0"`
}

type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" validate:"required_without_all=Disabled InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir         string `yaml:"dir"`
	Format      string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	WindowLines int    `yaml:"window_lines" validate:"gte=0"`
	WindowBytes int    `yaml:"window_bytes" validate:"gte=0"`
}

type RestartConfig struct {
	// Mode is "log" (stay up and keep serving), "exit" (exit with
	// ExitRestart so a supervisor restarts) or "reboot".
	Mode string `yaml:"mode" validate:"oneof=log exit reboot"`
}

// DomainConfig binds commands to a non-AP core.
type DomainConfig struct {
	Core    string        `yaml:"core" validate:"required,core"`
	Dump    []string      `yaml:"dump"`
	Reset   []string      `yaml:"reset"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		Region: RegionConfig{
			Size:    1 << 20,
			MaxSize: 16 << 20,
		},
		Product: ProductConfig{Name: "aleutian-mdr", Version: "dev"},
		Areas: map[string]uint64{
			"CP":   64 << 10,
			"HIFI": 32 << 10,
			"LPM3": 16 << 10,
			"CONN": 16 << 10,
		},
		Worker: WorkerConfig{
			IdleWait:    mdr.DefaultIdleWait,
			AckTimeout:  mdr.DefaultAckTimeout,
			DumpTimeout: mdr.DefaultDumpTimeout,
		},
		DumpDir:  mdr.DefaultDumpDir,
		Category: mdr.DefaultCategory,
		History:  HistoryConfig{InMemory: true},
		Server:   ServerConfig{Listen: "127.0.0.1:8087"},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "auto",
			WindowLines: 512,
			WindowBytes: logging.DefaultWindowBytes,
		},
		Telemetry: observability.TelemetryConfig{Exporter: "none", ServiceName: "mdrd"},
		Restart:   RestartConfig{Mode: "log"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrReadConfig, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("core", func(fl validator.FieldLevel) bool {
			_, err := datatypes.ParseCore(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate runs tag validation and the cross-field checks: area names must
// name non-AP cores, areas must fit the region, and every fault class must
// be a valid descriptor.
func (c *Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Capacities(); err != nil {
		return err
	}
	if _, err := field.Layout(c.Region.Size, mustCapacities(c)); err != nil {
		return fmt.Errorf("%w: areas: %v", ErrInvalidConfig, err)
	}
	for i := range c.FaultClasses {
		d := c.FaultClasses[i].Normalized()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: fault_classes[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	for i, d := range c.Domains {
		core, _ := datatypes.ParseCore(d.Core)
		if core == datatypes.CoreAP {
			return fmt.Errorf("%w: domains[%d]: the AP domain is built in", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Capacities returns the per-area capacity table indexed by core index.
func (c *Config) Capacities() ([]uint64, error) {
	caps := make([]uint64, datatypes.CoreCount)
	for name, size := range c.Areas {
		core, err := datatypes.ParseCore(name)
		if err != nil {
			return nil, fmt.Errorf("%w: areas: %v", ErrInvalidConfig, err)
		}
		if core == datatypes.CoreAP {
			return nil, fmt.Errorf("%w: areas: AP takes the remaining space and has no capacity entry", ErrInvalidConfig)
		}
		caps[core.Index()] = size
	}
	return caps, nil
}

func mustCapacities(c *Config) []uint64 {
	caps, _ := c.Capacities()
	return caps
}

// EngineConfig returns the worker settings.
func (c *Config) EngineConfig() mdr.Config {
	return mdr.Config{
		AckTimeout:  c.Worker.AckTimeout,
		DumpTimeout: c.Worker.DumpTimeout,
		IdleWait:    c.Worker.IdleWait,
		DumpDir:     c.DumpDir,
		MaxPending:  c.Worker.MaxPending,
		Category:    c.Category,
	}
}

// LoggerConfig returns the logger settings for service.
func (c *Config) LoggerConfig(service string) (logging.Config, error) {
	level := logging.LevelInfo
	if c.Logging.Level != "" {
		l, err := logging.ParseLevel(c.Logging.Level)
		if err != nil {
			return logging.Config{}, fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
		}
		level = l
	}
	format := logging.FormatAuto
	switch c.Logging.Format {
	case "text":
		format = logging.FormatText
	case "json":
		format = logging.FormatJSON
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		Format:  format,
	}, nil
}
