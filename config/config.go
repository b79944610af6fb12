// Package config loads the draftgate configuration file. The file is
// plain YAML; everything has a workable default so an empty file is a
// valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/draftgate/draftgate/conflict"
)

// Config is the top-level configuration.
type Config struct {
	Version string `yaml:"version"`

	// AuditPath is the JSONL audit log location.
	AuditPath string `yaml:"audit_path"`
	// StoreDir holds the draft document store.
	StoreDir string `yaml:"store_dir"`
	// StagingDir is where overlay workspaces are created. Empty means
	// the system temp directory.
	StagingDir string `yaml:"staging_dir,omitempty"`

	// Excludes are glob patterns omitted from overlay copies.
	Excludes []string `yaml:"excludes,omitempty"`

	// ConflictPolicy is the default apply behavior when the live
	// source drifted: abort, force_overwrite or merge.
	ConflictPolicy string `yaml:"conflict_policy,omitempty"`
	// MergeCommand is the external merge tool used under the merge
	// policy, command plus leading arguments.
	MergeCommand []string `yaml:"merge_command,omitempty"`

	// EscalateVerbs are verb classes that require approval even when a
	// grant allows them.
	EscalateVerbs []string `yaml:"escalate_verbs,omitempty"`
	// PolicyDir holds optional rego escalation policies.
	PolicyDir string `yaml:"policy_dir,omitempty"`

	Daemon Daemon `yaml:"daemon,omitempty"`
}

// Daemon configures the background sweep loop.
type Daemon struct {
	// Interval between audit/store health sweeps.
	Interval time.Duration `yaml:"interval,omitempty"`
	// MetricsPort serves the prometheus endpoint.
	MetricsPort int `yaml:"metrics_port,omitempty"`
	// OTELEndpoint receives traces and metrics when set.
	OTELEndpoint string `yaml:"otel_endpoint,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version:        "1",
		AuditPath:      "draftgate-audit.jsonl",
		StoreDir:       ".draftgate-store",
		ConflictPolicy: string(conflict.PolicyAbort),
		Excludes:       []string{".git", ".git/**", "node_modules", "node_modules/**"},
		Daemon: Daemon{
			Interval:    5 * time.Minute,
			MetricsPort: 9090,
		},
	}
}

// Load reads a configuration file, filling unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.AuditPath == "" {
		return fmt.Errorf("audit_path is required")
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store_dir is required")
	}
	if !conflict.ValidPolicy(conflict.Policy(c.ConflictPolicy)) {
		return fmt.Errorf("unknown conflict_policy %q", c.ConflictPolicy)
	}
	if conflict.Policy(c.ConflictPolicy) == conflict.PolicyMerge && len(c.MergeCommand) == 0 {
		return fmt.Errorf("conflict_policy merge requires merge_command")
	}
	if c.Daemon.Interval < 0 {
		return fmt.Errorf("daemon interval must not be negative")
	}
	if c.Daemon.MetricsPort < 0 || c.Daemon.MetricsPort > 65535 {
		return fmt.Errorf("daemon metrics_port %d out of range", c.Daemon.MetricsPort)
	}
	return nil
}
