// Package config loads and validates backupd's TOML configuration file:
// global defaults plus a list of backup sets. Parsing itself is an input
// contract, not core logic, but it still gets real validation and tests.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/cuemby/backupd/internal/paths"
)

// RetentionPolicy mirrors the keep_* fields accepted by the engine's prune
// (forget) subcommand. A nil field means "no limit specified for this unit".
type RetentionPolicy struct {
	KeepLast    *int `toml:"keep_last,omitempty"`
	KeepDaily   *int `toml:"keep_daily,omitempty"`
	KeepWeekly  *int `toml:"keep_weekly,omitempty"`
	KeepMonthly *int `toml:"keep_monthly,omitempty"`
}

// HasKeepRule reports whether the policy has at least one keep_* value set,
// the safety rule pruning relies on (spec invariant: never "forget everything").
func (r *RetentionPolicy) HasKeepRule() bool {
	if r == nil {
		return false
	}
	return r.KeepLast != nil || r.KeepDaily != nil || r.KeepWeekly != nil || r.KeepMonthly != nil
}

// BackupSet is one configured backup target as read from TOML, before
// ~/ expansion and validation.
type BackupSet struct {
	Name            string            `toml:"name"`
	Source          *string           `toml:"source,omitempty"`
	Sources         []string          `toml:"sources,omitempty"`
	Target          string            `toml:"target"`
	Exclude         []string          `toml:"exclude,omitempty"`
	DebounceSeconds *uint64           `toml:"debounce_seconds,omitempty"`
	Retention       *RetentionPolicy  `toml:"retention,omitempty"`
}

// ResolvedSources returns the set's source directories regardless of
// whether the TOML used `source` or `sources`.
func (b *BackupSet) ResolvedSources() []string {
	if b.Source != nil {
		return []string{*b.Source}
	}
	return b.Sources
}

// GlobalConfig holds the [global] table.
type GlobalConfig struct {
	DebounceSeconds uint64            `toml:"debounce_seconds"`
	Retention       *RetentionPolicy  `toml:"retention,omitempty"`
}

// DefaultDebounceSeconds is used when [global] omits debounce_seconds.
const DefaultDebounceSeconds = 60

// Config is the parsed, validated configuration document.
type Config struct {
	Global     GlobalConfig `toml:"global"`
	BackupSets []BackupSet  `toml:"backup_set"`
}

// Load reads and validates the config file at path, defaulting to
// paths.ConfigPath() when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = paths.ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Global.DebounceSeconds == 0 {
		cfg.Global.DebounceSeconds = DefaultDebounceSeconds
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces unique names, exactly one of source/sources, a
// nonempty sources set, and applies ~/ expansion to every path in place.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.BackupSets))
	for i := range c.BackupSets {
		set := &c.BackupSets[i]

		if set.Name == "" {
			return fmt.Errorf("config: backup set at index %d has no name", i)
		}
		if !isValidSetName(set.Name) {
			return fmt.Errorf("config: backup set %q has an invalid name (alphanumerics, '_', '-' only)", set.Name)
		}
		if seen[set.Name] {
			return fmt.Errorf("config: duplicate backup set name %q", set.Name)
		}
		seen[set.Name] = true

		if set.Source != nil && len(set.Sources) > 0 {
			return fmt.Errorf("config: set %q cannot have both 'source' and 'sources'", set.Name)
		}
		if set.Source == nil && len(set.Sources) == 0 {
			return fmt.Errorf("config: set %q must have either 'source' or 'sources'", set.Name)
		}

		if set.Target == "" {
			return fmt.Errorf("config: set %q has no target", set.Name)
		}
		set.Target = paths.ExpandHome(set.Target)

		if set.Source != nil {
			expanded := paths.ExpandHome(*set.Source)
			set.Source = &expanded
		}
		for j, s := range set.Sources {
			set.Sources[j] = paths.ExpandHome(s)
		}
	}
	return nil
}

func isValidSetName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// EffectiveRetention returns the set's own retention policy, falling back
// to the global policy when the set has none configured.
func EffectiveRetention(set *BackupSet, global *RetentionPolicy) *RetentionPolicy {
	if set.Retention != nil {
		return set.Retention
	}
	return global
}
