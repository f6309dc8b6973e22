// Package config resolves CONDARC configuration: channel lists, per-channel
// repodata knobs, and the default concurrency limit.
//
// CONDARC files are YAML in the wild, but the subset this core actually
// reads — a top-level channel list plus a narrow, fixed set of scalar
// knobs — does not warrant pulling in a general YAML library; config.go
// hand-rolls a small line-oriented decoder for exactly this subset instead.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CacheAction controls how a RepodataGateway source treats its local cache.
type CacheAction string

const (
	CacheOrFetch   CacheAction = "cache_or_fetch"
	UseCacheOnly   CacheAction = "use_cache_only"
	ForceCacheOnly CacheAction = "force_cache_only"
	NoCache        CacheAction = "no_cache"
)

// ChannelConfig holds the per-channel repodata-source knobs.
type ChannelConfig struct {
	ZstdEnabled    bool
	Bz2Enabled     bool
	JlapEnabled    bool
	ShardedEnabled bool
	CacheAction    CacheAction
}

// defaultChannelConfig matches upstream conda's defaults: all decoders
// enabled, cache used opportunistically.
func defaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		ZstdEnabled:    true,
		Bz2Enabled:     true,
		JlapEnabled:    true,
		ShardedEnabled: true,
		CacheAction:    CacheOrFetch,
	}
}

// Config is the resolved configuration from a .condarc file.
type Config struct {
	Channels         []string
	ChannelConfig    map[string]ChannelConfig // keyed by channel URL or name
	ConcurrencyLimit int
}

// DefaultConcurrencyLimit is used when a .condarc does not specify one.
const DefaultConcurrencyLimit = 8

// ChannelConfigFor returns the resolved configuration for a channel,
// applying defaults for any knob the file did not set.
func (c *Config) ChannelConfigFor(channel string) ChannelConfig {
	if c.ChannelConfig != nil {
		if cc, ok := c.ChannelConfig[channel]; ok {
			return cc
		}
	}
	return defaultChannelConfig()
}

// Discover resolves a .condarc by trying, in order: the explicit CONDARC
// environment variable, "$CONDA_ROOT/.condarc", then "$HOME/.condarc". The
// first path that exists is parsed; if none exist, an empty Config with
// defaults is returned.
func Discover() (*Config, error) {
	var candidates []string
	if p := os.Getenv("CONDARC"); p != "" {
		candidates = append(candidates, p)
	}
	if root := os.Getenv("CONDA_ROOT"); root != "" {
		candidates = append(candidates, filepath.Join(root, ".condarc"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".condarc"))
	}

	for _, p := range candidates {
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: opening %s: %w", p, err)
		}
		defer f.Close()
		return Parse(f)
	}
	return &Config{ConcurrencyLimit: DefaultConcurrencyLimit, ChannelConfig: map[string]ChannelConfig{}}, nil
}

// Parse decodes a .condarc from r.
//
// Supported subset:
//
//	channels:
//	  - conda-forge
//	  - bioconda
//	concurrency_limit: 8
//	channel_config:
//	  conda-forge:
//	    zstd_enabled: true
//	    cache_action: use_cache_only
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{ConcurrencyLimit: DefaultConcurrencyLimit, ChannelConfig: map[string]ChannelConfig{}}

	sc := bufio.NewScanner(r)
	var section string       // "", "channels", "channel_config"
	var currentChannel string
	var currentCC ChannelConfig
	flushChannel := func() {
		if currentChannel != "" {
			cfg.ChannelConfig[currentChannel] = currentCC
		}
		currentChannel = ""
		currentCC = ChannelConfig{}
	}

	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" || strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))
		content := strings.TrimSpace(trimmed)

		switch {
		case indent == 0 && strings.HasSuffix(content, ":"):
			flushChannel()
			section = strings.TrimSuffix(content, ":")
			continue
		case indent == 0:
			flushChannel()
			section = ""
			key, val, ok := strings.Cut(content, ":")
			if !ok {
				continue
			}
			key, val = strings.TrimSpace(key), strings.TrimSpace(val)
			if key == "concurrency_limit" {
				if n, err := strconv.Atoi(val); err == nil {
					cfg.ConcurrencyLimit = n
				}
			}
			continue
		}

		switch section {
		case "channels":
			if strings.HasPrefix(content, "- ") {
				cfg.Channels = append(cfg.Channels, strings.TrimSpace(strings.TrimPrefix(content, "-")))
			}
		case "channel_config":
			if indent <= 2 && strings.HasSuffix(content, ":") {
				flushChannel()
				currentChannel = strings.TrimSuffix(content, ":")
				currentCC = defaultChannelConfig()
				continue
			}
			key, val, ok := strings.Cut(content, ":")
			if !ok {
				continue
			}
			key, val = strings.TrimSpace(key), strings.TrimSpace(val)
			b := val == "true"
			switch key {
			case "zstd_enabled":
				currentCC.ZstdEnabled = b
			case "bz2_enabled":
				currentCC.Bz2Enabled = b
			case "jlap_enabled":
				currentCC.JlapEnabled = b
			case "sharded_enabled":
				currentCC.ShardedEnabled = b
			case "cache_action":
				currentCC.CacheAction = CacheAction(val)
			}
		}
	}
	flushChannel()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: scanning: %w", err)
	}
	return cfg, nil
}
