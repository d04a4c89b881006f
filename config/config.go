// Package config decodes and validates the gateway's YAML configuration
// tree, styled after the teacher's x/config package: a small set of typed
// structs plus per-scheme dispatch, but using github.com/goccy/go-yaml
// (the same dependency the teacher's own x/go.mod carries) instead of the
// pipe-separated dialer strings x/config parses.
package config

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config is the root of the decoded configuration tree.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Inbounds   []HandlerConfig  `yaml:"inbounds"`
	Outbounds  []HandlerConfig  `yaml:"outbounds"`
	Router     RouterConfig     `yaml:"router"`
	DNS        DNSConfig        `yaml:"dns"`
	NAT        NATConfig        `yaml:"nat"`
	Stats      StatsConfig      `yaml:"stats"`
	RuntimeCfg RuntimeTunConfig `yaml:"runtime"`
}

// LogConfig configures the structured logger (component 12).
type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error, defaults to info
	File  string `yaml:"file"`  // optional path; empty means stderr
}

// HandlerConfig is one entry in the inbounds or outbounds list: a tag, a
// protocol name, and a protocol-specific settings blob. The settings blob
// is decoded twice: once into a generic map for dedup/canonicalization,
// once into the protocol's own typed struct by the owning proxy package.
type HandlerConfig struct {
	Tag      string         `yaml:"tag"`
	Protocol string         `yaml:"protocol"`
	Settings map[string]any `yaml:"settings"`
}

// RouterConfig holds the ordered rule list plus the default outbound tag
// used when no rule matches.
type RouterConfig struct {
	Default string       `yaml:"default"`
	Rules   []RuleConfig `yaml:"rules"`
}

// RuleConfig is one predicate -> outbound-tag pair, decoded generically
// since the predicate shape varies by Type (domain-suffix, ip-cidr, ...).
type RuleConfig struct {
	Type     string   `yaml:"type"`
	Values   []string `yaml:"values"`
	Outbound string   `yaml:"outbound"`
}

// DNSConfig configures the DNS client (component 4.4).
type DNSConfig struct {
	Servers    []string          `yaml:"servers"`
	Hosts      map[string]string `yaml:"hosts"`
	CacheSize  int               `yaml:"cache_size"`
	TimeoutSec int               `yaml:"timeout_seconds"`
}

// NATConfig configures the NAT manager (component 4.5).
type NATConfig struct {
	IdleTimeoutSec int `yaml:"idle_timeout_seconds"`
}

// StatsConfig mirrors the original Rust source's `#[cfg(feature = "stat")]`
// StatManager switch. Enabled is decoded, but no component reads it and
// no per-session byte counter exists.
type StatsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RuntimeTunConfig carries the worker-thread knobs from the CLI/original
// RuntimeOption enum that have a (possibly partial) Go mapping.
type RuntimeTunConfig struct {
	SingleThread    bool `yaml:"single_thread"`
	ThreadStackSize int  `yaml:"thread_stack_size"`
}

// Load reads and decodes the YAML config file at path, then runs
// structural validation. Router rules naming an outbound tag the config
// does not define are not rejected here or when the managers build: the
// -T check in cmd/ostrich reports them, and at run time the dispatcher
// fails a session routed to such a tag. Composite inbound handlers whose
// layers cannot be resolved fail when the inbound manager builds.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

// Decode parses YAML bytes into a validated Config.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Inbounds)+len(cfg.Outbounds))
	for _, in := range cfg.Inbounds {
		if in.Tag == "" {
			return fmt.Errorf("inbound with protocol %q has no tag", in.Protocol)
		}
		if in.Protocol == "" {
			return fmt.Errorf("inbound %q has no protocol", in.Tag)
		}
		if seen[in.Tag] {
			return fmt.Errorf("duplicate inbound tag %q", in.Tag)
		}
		seen[in.Tag] = true
	}
	seen = make(map[string]bool, len(cfg.Outbounds))
	for _, out := range cfg.Outbounds {
		if out.Tag == "" {
			return fmt.Errorf("outbound with protocol %q has no tag", out.Protocol)
		}
		if out.Protocol == "" {
			return fmt.Errorf("outbound %q has no protocol", out.Tag)
		}
		if seen[out.Tag] {
			return fmt.Errorf("duplicate outbound tag %q", out.Tag)
		}
		seen[out.Tag] = true
	}
	for i, rule := range cfg.Router.Rules {
		if rule.Type == "" {
			return fmt.Errorf("router rule %d has no type", i)
		}
		if rule.Outbound == "" {
			return fmt.Errorf("router rule %d has no outbound", i)
		}
	}
	return nil
}
