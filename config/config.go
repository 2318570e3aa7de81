// Package config loads the server configuration file.
//
// The file is YAML or JSON. It is decoded twice: into the typed Config used by
// the bootstrap, and into a raw tree that answers dotted-path lookups such as
// Get("cluster.requests.exchange") and Sections("extensions"). Environment
// variables prefixed with SIGNAL_ override the typed values after decoding.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrItemMissing reports a required configuration key that is absent or invalid.
var ErrItemMissing = errors.New("configuration item missing")

// Config is the typed view of the configuration file.
type Config struct {
	Host       string                     `yaml:"host" env:"SIGNAL_HOST"`
	Port       int                        `yaml:"port" env:"SIGNAL_PORT"`
	Log        LogConfig                  `yaml:"log"`
	Queue      QueueConfig                `yaml:"queue"`
	Broker     BrokerConfig               `yaml:"broker"`
	Cluster    ClusterConfig              `yaml:"cluster"`
	Cache      CacheConfig                `yaml:"cache"`
	Extensions map[string]ExtensionConfig `yaml:"extensions"`

	tree map[string]any
}

type LogConfig struct {
	Level       string `yaml:"level" env:"SIGNAL_LOG_LEVEL"`
	Development bool   `yaml:"development" env:"SIGNAL_LOG_DEVELOPMENT"`
}

type QueueConfig struct {
	// Service is memory, redis or nats.
	Service      string        `yaml:"service" env:"SIGNAL_QUEUE_SERVICE"`
	PollInterval time.Duration `yaml:"poll_interval" env:"SIGNAL_QUEUE_POLL_INTERVAL"`
}

type BrokerConfig struct {
	Host         string        `yaml:"host" env:"SIGNAL_BROKER_HOST"`
	VirtualHost  string        `yaml:"virtual_host" env:"SIGNAL_BROKER_VHOST"`
	Username     string        `yaml:"username" env:"SIGNAL_BROKER_USERNAME"`
	Password     string        `yaml:"password" env:"SIGNAL_BROKER_PASSWORD"`
	StreamLength int64         `yaml:"stream_length" env:"SIGNAL_BROKER_STREAM_LENGTH"`
	ReadBlock    time.Duration `yaml:"read_block" env:"SIGNAL_BROKER_READ_BLOCK"`
	MaxJobs      int           `yaml:"max_jobs" env:"SIGNAL_BROKER_MAX_JOBS"`
}

type ClusterConfig struct {
	Enabled bool `yaml:"enabled" env:"SIGNAL_CLUSTER_ENABLED"`
	// Topology is fanout or shared.
	Topology  string        `yaml:"topology" env:"SIGNAL_CLUSTER_TOPOLOGY"`
	NodeID    string        `yaml:"node_id" env:"SIGNAL_NODE_ID"`
	Requests  ChannelConfig `yaml:"requests"`
	Responses ChannelConfig `yaml:"responses"`
}

type ChannelConfig struct {
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
	// Type is the exchange kind, fanout or direct.
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

type CacheConfig struct {
	Service       string `yaml:"service" env:"SIGNAL_CACHE_SERVICE"`
	Addr          string `yaml:"addr" env:"SIGNAL_CACHE_ADDR"`
	DB            int    `yaml:"db"`
	Prefix        string `yaml:"prefix"`
	ExpirySeconds int    `yaml:"expiry_seconds"`
}

type ExtensionConfig struct {
	Path   string         `yaml:"path"`
	Module string         `yaml:"module"`
	Config map[string]any `yaml:"config"`
}

// Load reads and decodes the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON document, applies defaults and environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.tree = tree

	cfg.applyDefaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 1337
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Queue.Service == "" {
		c.Queue.Service = "memory"
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 20 * time.Millisecond
	}
	if c.Cluster.Topology == "" {
		c.Cluster.Topology = "fanout"
	}
	if c.Cache.Service == "" {
		c.Cache.Service = "memory"
	}
	if c.Cache.ExpirySeconds == 0 {
		c.Cache.ExpirySeconds = -1
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Validate reports every required key that is missing, each wrapping ErrItemMissing.
func (c *Config) Validate() error {
	var errs []error
	missing := func(path string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrItemMissing, path))
	}

	if c.Port <= 0 || c.Port > 65535 {
		missing("port")
	}
	if _, err := ParseEnum(c.Queue.Service, "memory", "redis", "nats"); err != nil {
		missing("queue.service")
	}
	if !strings.EqualFold(c.Queue.Service, "memory") && c.Broker.Host == "" {
		missing("broker.host")
	}
	if c.Cluster.Enabled {
		if _, err := ParseEnum(c.Cluster.Topology, "fanout", "shared"); err != nil {
			missing("cluster.topology")
		}
		for name, ch := range map[string]ChannelConfig{"requests": c.Cluster.Requests, "responses": c.Cluster.Responses} {
			if ch.Exchange == "" {
				missing("cluster." + name + ".exchange")
			}
			if ch.Queue == "" {
				missing("cluster." + name + ".queue")
			}
		}
	}
	for _, name := range sortedKeys(c.Extensions) {
		ext := c.Extensions[name]
		if ext.Path == "" && ext.Module == "" {
			missing("extensions." + name + ".path")
		}
	}
	return errors.Join(errs...)
}

// Get returns the value at a dotted path ("a.b.c"; ":" is accepted as a
// separator too) rendered as a string.
func (c *Config) Get(path string) (string, bool) {
	v, ok := c.lookup(path)
	if !ok || v == nil {
		return "", false
	}
	switch v.(type) {
	case map[string]any, []any:
		return "", false
	}
	return fmt.Sprint(v), true
}

// MustGet is Get that reports a missing key as ErrItemMissing.
func (c *Config) MustGet(path string) (string, error) {
	v, ok := c.Get(path)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrItemMissing, path)
	}
	return v, nil
}

func (c *Config) GetInt(path string) (int, error) {
	v, err := c.MustGet(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrItemMissing, path, err)
	}
	return n, nil
}

func (c *Config) GetBool(path string) (bool, error) {
	v, err := c.MustGet(path)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrItemMissing, path, err)
	}
	return b, nil
}

// Section is one child node of a mapping.
type Section struct {
	Key  string
	Path string
}

// Sections lists the children of the mapping at path, sorted by key.
func (c *Config) Sections(path string) []Section {
	v, ok := c.lookup(path)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	prefix := normalize(path)
	out := make([]Section, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, Section{Key: k, Path: prefix + "." + k})
	}
	return out
}

func (c *Config) lookup(path string) (any, bool) {
	var cur any = c.tree
	for _, part := range strings.Split(normalize(path), ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func normalize(path string) string {
	return strings.Trim(strings.ReplaceAll(path, ":", "."), ".")
}

// ParseEnum matches value case-insensitively against allowed.
func ParseEnum[T ~string](value string, allowed ...T) (T, error) {
	for _, a := range allowed {
		if strings.EqualFold(value, string(a)) {
			return a, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("config: %q is not one of %v", value, allowed)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
