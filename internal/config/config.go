// Package config manages no-wing global configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	ConfigDirName   = ".no-wing"
	ConfigFileName  = "config.json"
	DefaultLogLevel = "info"
)

// Config holds user-level configuration for the no-wing CLI.
type Config struct {
	DefaultRegion string `json:"default_region"`
	LogLevel      string `json:"log_level"`
	DataDir       string `json:"data_dir"` // Base directory for state and audit databases

	// ActiveProfile selects whose credentials back AWS calls: "user"
	// (ambient developer credentials) or "agent" (vault-held service
	// credentials).
	ActiveProfile string `json:"active_profile"`

	// AgentIdentity is the identity string recorded in audit events for
	// agent-initiated actions.
	AgentIdentity string `json:"agent_identity"`

	// ProductionMarkers are substrings that mark a resource as
	// production. Any action touching a matching resource classifies as
	// high risk regardless of verb.
	ProductionMarkers []string `json:"production_markers"`

	// CapabilityLevels maps a capability-level identifier to the ordered
	// set of actions it adds. Levels are cumulative: a level grants its
	// own actions plus everything granted by the levels listed before it
	// in CapabilityOrder.
	CapabilityLevels map[string][]string `json:"capability_levels"`
	CapabilityOrder  []string            `json:"capability_order"`

	// PendingRequestTTLHours ages out permission requests left pending.
	// 0 disables expiry.
	PendingRequestTTLHours int `json:"pending_request_ttl_hours"`

	// MaxUnverifiedCommits caps unverified commits per feature branch.
	MaxUnverifiedCommits int `json:"max_unverified_commits"`

	RateLimitPerService int `json:"rate_limit_per_service"` // req/s
	CacheTTLSeconds     int `json:"cache_ttl_seconds"`

	// LearnedPatternCapacity bounds the elevation method hint cache.
	LearnedPatternCapacity int `json:"learned_pattern_capacity"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DefaultRegion: "us-east-1",
		LogLevel:      DefaultLogLevel,
		DataDir:       filepath.Join(home, ConfigDirName),
		ActiveProfile: "user",
		AgentIdentity: "no-wing-agent",
		ProductionMarkers: []string{
			"prod",
			"production",
		},
		CapabilityLevels: map[string][]string{
			"observer": {
				"sts:GetCallerIdentity",
				"iam:ListRoles",
				"cloudtrail:LookupEvents",
			},
			"contributor": {
				"s3:GetObject",
				"s3:PutObject",
				"lambda:UpdateFunctionCode",
			},
			"maintainer": {
				"cloudformation:CreateStack",
				"cloudformation:UpdateStack",
				"lambda:CreateFunction",
			},
		},
		CapabilityOrder:        []string{"observer", "contributor", "maintainer"},
		PendingRequestTTLHours: 0,
		MaxUnverifiedCommits:   10,
		RateLimitPerService:    10,
		CacheTTLSeconds:        300,
		LearnedPatternCapacity: 128,
	}
}

// ConfigDir returns the global no-wing config directory path.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// Load reads the config from ~/.no-wing/config.json, merging over
// defaults. A missing file yields defaults without error.
func Load() (Config, error) {
	return LoadFrom(filepath.Join(ConfigDir(), ConfigFileName))
}

// LoadFrom reads a config file at an explicit path.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save persists the config to ~/.no-wing/config.json.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0600)
}

// ActionsForLevel returns the cumulative set of allowed actions for a
// capability level, in declaration order. Unknown levels return nil.
func (c Config) ActionsForLevel(level string) []string {
	found := false
	for _, l := range c.CapabilityOrder {
		if l == level {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	var actions []string
	for _, l := range c.CapabilityOrder {
		actions = append(actions, c.CapabilityLevels[l]...)
		if l == level {
			break
		}
	}
	return actions
}
