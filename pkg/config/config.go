// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config defines the host's configuration schema (§10.2) and the
// helpers for loading and validating it.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feature: HOST_CONFIG
// Spec: spec/host/config.md

// ErrConfigNotFound is returned when the config file does not exist at the given path.
var ErrConfigNotFound = errors.New("host config not found")

// HostOptions is the top-level configuration a host process loads at
// startup: the genesis data a fresh world starts from, the scheduler's
// default effect timeout, and devtools toggles. The schema itself is
// never configured this way — it is always loaded through the schema
// loader, never embedded in this file (§6).
type HostOptions struct {
	Project   ProjectOptions   `yaml:"project"`
	Initial   InitialOptions   `yaml:"initial,omitempty"`
	Scheduler SchedulerOptions `yaml:"scheduler,omitempty"`
	Devtools  DevtoolsOptions  `yaml:"devtools,omitempty"`
	Storage   StorageOptions   `yaml:"storage,omitempty"`
	Policy    PolicyOptions    `yaml:"policy,omitempty"`
}

// ProjectOptions describes project-level identification.
type ProjectOptions struct {
	Name string `yaml:"name"`
}

// InitialOptions seeds a freshly initialized genesis world.
type InitialOptions struct {
	Data map[string]any `yaml:"data,omitempty"`
}

// SchedulerOptions configures the host loop's effect dispatch defaults.
type SchedulerOptions struct {
	DefaultTimeoutMs int `yaml:"default_timeout_ms,omitempty"`
	DefaultRetries   int `yaml:"default_retries,omitempty"`
}

// DevtoolsOptions toggles optional diagnostic surfaces.
type DevtoolsOptions struct {
	TraceEnabled bool `yaml:"trace_enabled,omitempty"`
	Verbose      bool `yaml:"verbose,omitempty"`
}

// StorageOptions selects and configures the WorldStore backend.
type StorageOptions struct {
	// Engine is "memory" (default) or "postgres".
	Engine string `yaml:"engine,omitempty"`
	// DatabaseURLEnv names the environment variable holding the Postgres
	// connection string, never the connection string itself.
	DatabaseURLEnv string `yaml:"database_url_env,omitempty"`
}

// PolicyOptions configures the default PolicyAuthority's registered
// provider/condition ids, resolved against an application-supplied
// registry at boot time — this file only records which ids a deployment
// expects to exist, not their implementations.
type PolicyOptions struct {
	DefaultDecisionApproved bool     `yaml:"default_decision_approved,omitempty"`
	CustomConditionIDs      []string `yaml:"custom_condition_ids,omitempty"`
}

// DefaultConfigPath returns the default config path for the current working directory.
func DefaultConfigPath() string {
	return "melrun.yml"
}

// Exists reports whether a config file exists at the given path.
// It returns (false, nil) if the file does not exist.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Load reads and validates HostOptions from the given path.
//
// It returns ErrConfigNotFound if the file does not exist.
func Load(path string) (*HostOptions, error) {
	exists, err := Exists(path)
	if err != nil {
		return nil, fmt.Errorf("checking config existence: %w", err)
	}
	if !exists {
		return nil, ErrConfigNotFound
	}

	// nolint:gosec // G304: reading config file from user-specified path is expected behavior
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var opts HostOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func validate(opts *HostOptions) error {
	if opts.Project.Name == "" {
		return errors.New("config: project.name must be non-empty")
	}

	if opts.Scheduler.DefaultTimeoutMs < 0 {
		return errors.New("config: scheduler.default_timeout_ms must be non-negative")
	}
	if opts.Scheduler.DefaultRetries < 0 {
		return errors.New("config: scheduler.default_retries must be non-negative")
	}

	switch opts.Storage.Engine {
	case "", "memory":
	case "postgres":
		if opts.Storage.DatabaseURLEnv == "" {
			return errors.New("config: storage.database_url_env is required when storage.engine is \"postgres\"")
		}
	default:
		return fmt.Errorf("config: unknown storage.engine %q", opts.Storage.Engine)
	}

	return nil
}

// DefaultScheduler returns the scheduler defaults applied when a loaded
// config omits the section entirely.
func DefaultScheduler() SchedulerOptions {
	return SchedulerOptions{DefaultTimeoutMs: 30000, DefaultRetries: 0}
}
