package config

import (
	"strings"
	"testing"
)

const sampleCondarc = `
channels:
  - conda-forge
  - bioconda
concurrency_limit: 16
channel_config:
  conda-forge:
    zstd_enabled: true
    cache_action: use_cache_only
  bioconda:
    sharded_enabled: false
`

func TestParseChannelsAndKnobs(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleCondarc))
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"conda-forge", "bioconda"}; !equalSlices(cfg.Channels, want) {
		t.Fatalf("got channels %v, want %v", cfg.Channels, want)
	}
	if cfg.ConcurrencyLimit != 16 {
		t.Fatalf("got concurrency_limit %d, want 16", cfg.ConcurrencyLimit)
	}

	cf := cfg.ChannelConfigFor("conda-forge")
	if !cf.ZstdEnabled || cf.CacheAction != UseCacheOnly {
		t.Fatalf("got %+v", cf)
	}

	bc := cfg.ChannelConfigFor("bioconda")
	if bc.ShardedEnabled {
		t.Fatalf("expected sharded_enabled: false to override default, got %+v", bc)
	}
	if !bc.ZstdEnabled {
		t.Fatalf("expected unset knobs to keep channel defaults, got %+v", bc)
	}
}

func TestChannelConfigForUnknownChannelUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("channels:\n  - conda-forge\n"))
	if err != nil {
		t.Fatal(err)
	}
	cc := cfg.ChannelConfigFor("unknown")
	if !cc.ZstdEnabled || !cc.Bz2Enabled || !cc.JlapEnabled || !cc.ShardedEnabled || cc.CacheAction != CacheOrFetch {
		t.Fatalf("got %+v, want all-enabled defaults", cc)
	}
}

func TestDiscoverFallsBackToDefaultsWithNoCondarc(t *testing.T) {
	t.Setenv("CONDARC", "")
	t.Setenv("CONDA_ROOT", "")
	t.Setenv("HOME", t.TempDir())
	cfg, err := Discover()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConcurrencyLimit != DefaultConcurrencyLimit {
		t.Fatalf("got %d, want %d", cfg.ConcurrencyLimit, DefaultConcurrencyLimit)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
