package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFromMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("loading missing file: %v", err)
	}
	def := DefaultConfig()
	if cfg.DefaultRegion != def.DefaultRegion || cfg.ActiveProfile != "user" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxUnverifiedCommits != 10 {
		t.Errorf("unexpected commit cap: %d", cfg.MaxUnverifiedCommits)
	}
	if cfg.PendingRequestTTLHours != 0 {
		t.Errorf("pending TTL should default to disabled, got %d", cfg.PendingRequestTTLHours)
	}
}

func TestLoadFromMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"default_region": "eu-west-1", "active_profile": "agent"}`), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if cfg.DefaultRegion != "eu-west-1" || cfg.ActiveProfile != "agent" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.AgentIdentity != "no-wing-agent" || cfg.RateLimitPerService != 10 {
		t.Errorf("defaults lost in merge: %+v", cfg)
	}
}

func TestLoadFromRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	if _, err := LoadFrom(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestActionsForLevelIsCumulative(t *testing.T) {
	cfg := DefaultConfig()

	observer := cfg.ActionsForLevel("observer")
	contributor := cfg.ActionsForLevel("contributor")
	maintainer := cfg.ActionsForLevel("maintainer")

	if len(observer) == 0 {
		t.Fatal("observer level empty")
	}
	if len(contributor) <= len(observer) || len(maintainer) <= len(contributor) {
		t.Errorf("levels not cumulative: %d / %d / %d", len(observer), len(contributor), len(maintainer))
	}

	// Contributor starts with everything observer has.
	if !reflect.DeepEqual(contributor[:len(observer)], observer) {
		t.Errorf("contributor does not include observer grants")
	}
}

func TestActionsForLevelUnknown(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ActionsForLevel("root"); got != nil {
		t.Errorf("unknown level must return nil, got %v", got)
	}
}
