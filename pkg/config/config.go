// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the aubogo runtime.
type Config struct {
	LogLevel    string            `yaml:"log_level" env:"AUBOGO_LOG_LEVEL"`
	Module      ModuleConfig      `yaml:"module"`
	Hooks       HooksConfig       `yaml:"hooks"`
	Stats       StatsConfig       `yaml:"stats"`
	Export      ExportConfig      `yaml:"export"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ModuleConfig controls where the decision module and its own
// configuration are found.
type ModuleConfig struct {
	SearchPaths []string `yaml:"search_paths"`
	ConfigPath  string   `yaml:"config_path"`
}

// HooksConfig controls which libc entry points are intercepted and in
// which processes.
type HooksConfig struct {
	Enabled          bool           `yaml:"enabled"`
	Library          string         `yaml:"library"`
	Functions        []HookFunction `yaml:"functions"`
	EnforceConnect   bool           `yaml:"enforce_connect"` // Forge ECONNREFUSED for blocked connects (default: observe only)
	TargetProcesses  []string       `yaml:"target_processes"`
	ExcludeProcesses []string       `yaml:"exclude_processes"`
}

// HookFunction names one entry point to intercept. Higher priority
// installs first.
type HookFunction struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Priority uint32 `yaml:"priority"`
}

// EnabledFunctions returns the enabled hook functions ordered by
// descending priority. Order is stable for equal priorities.
func (h *HooksConfig) EnabledFunctions() []HookFunction {
	out := make([]HookFunction, 0, len(h.Functions))
	for _, fn := range h.Functions {
		if fn.Enabled {
			out = append(out, fn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// StatsConfig controls the periodic statistics snapshot file.
type StatsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	File     string        `yaml:"file"`
	Interval time.Duration `yaml:"interval"`
}

// ExportConfig groups telemetry exporters.
type ExportConfig struct {
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig configures the OTLP gRPC metrics exporter.
type OTLPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// DiagnosticsConfig configures out-of-band diagnostics.
type DiagnosticsConfig struct {
	KmsgPath string `yaml:"kmsg_path"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Module: ModuleConfig{
			SearchPaths: []string{
				"/data/adb/modules/aubo_rs/lib/libaubo_rs.so",
				"/data/adb/modules/aubo_rs/aubo_rs.so",
				"libaubo_rs.so",
			},
			ConfigPath: "/data/adb/aubo-rs/aubo-rs.toml",
		},
		Hooks: HooksConfig{
			Enabled: true,
			Library: "libc.so",
			Functions: []HookFunction{
				{Name: "getaddrinfo", Enabled: true, Priority: 100},
				{Name: "gethostbyname", Enabled: true, Priority: 90},
				{Name: "connect", Enabled: true, Priority: 80},
			},
			EnforceConnect: false,
		},
		Stats: StatsConfig{
			Enabled:  true,
			File:     "/data/adb/aubo-rs/stats.json",
			Interval: 30 * time.Second,
		},
		Export: ExportConfig{
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
		},
		Diagnostics: DiagnosticsConfig{
			KmsgPath: "/dev/kmsg",
		},
	}
}

// ApplyEnvOverrides reads AUBOGO_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"AUBOGO_LOG_LEVEL":            func(v string) { c.LogLevel = v },
		"AUBOGO_MODULE_CONFIG_PATH":   func(v string) { c.Module.ConfigPath = v },
		"AUBOGO_HOOKS_LIBRARY":        func(v string) { c.Hooks.Library = v },
		"AUBOGO_STATS_FILE":           func(v string) { c.Stats.File = v },
		"AUBOGO_EXPORT_OTLP_ENDPOINT": func(v string) { c.Export.OTLP.Endpoint = v },
	}

	boolOverrides := map[string]*bool{
		"AUBOGO_HOOKS_ENABLED":         &c.Hooks.Enabled,
		"AUBOGO_HOOKS_ENFORCE_CONNECT": &c.Hooks.EnforceConnect,
		"AUBOGO_STATS_ENABLED":         &c.Stats.Enabled,
		"AUBOGO_EXPORT_OTLP_ENABLED":   &c.Export.OTLP.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Module.SearchPaths) == 0 {
		return fmt.Errorf("module.search_paths must list at least one candidate")
	}

	if c.Hooks.Enabled {
		if c.Hooks.Library == "" {
			return fmt.Errorf("hooks.library is required when hooks are enabled")
		}
		for _, fn := range c.Hooks.Functions {
			if fn.Name == "" {
				return fmt.Errorf("hooks.functions entries must have a name")
			}
		}
	}

	if c.Stats.Enabled {
		if c.Stats.File == "" {
			return fmt.Errorf("stats.file is required when stats are enabled")
		}
		if c.Stats.Interval < time.Second {
			return fmt.Errorf("stats.interval must be at least 1s")
		}
	}

	if c.Export.OTLP.Enabled && c.Export.OTLP.Endpoint == "" {
		return fmt.Errorf("export.otlp.endpoint is required when OTLP is enabled")
	}

	return nil
}
