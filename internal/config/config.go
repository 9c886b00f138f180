package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log         LogConfig         `koanf:"log" yaml:"log"`
	Memory      MemoryConfig      `koanf:"memory" yaml:"memory"`
	Session     SessionConfig     `koanf:"session" yaml:"session"`
	Local       LocalConfig       `koanf:"local" yaml:"local"`
	Browser     BrowserConfig     `koanf:"browser" yaml:"browser"`
	API         APIConfig         `koanf:"api" yaml:"api"`
	Prefetch    PrefetchConfig    `koanf:"prefetch" yaml:"prefetch"`
	Maintenance MaintenanceConfig `koanf:"maintenance" yaml:"maintenance"`
	Server      ServerConfig      `koanf:"server" yaml:"server"`
	Rules       RulesConfig       `koanf:"rules" yaml:"rules"`
}

// LogConfig controls logrus output
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "text" or "json"
}

// MemoryConfig sizes the in-process tier
type MemoryConfig struct {
	MaxSize int    `koanf:"max_size" yaml:"max_size"`
	TTL     string `koanf:"ttl" yaml:"ttl"`
}

// SessionConfig contains session-tier configuration
type SessionConfig struct {
	Prefix string `koanf:"prefix" yaml:"prefix"`
	TTL    string `koanf:"ttl" yaml:"ttl"`
	Quota  string `koanf:"quota" yaml:"quota"` // e.g. "5MB", empty for none
}

// LocalConfig contains durable-tier configuration
type LocalConfig struct {
	Folder  string `koanf:"folder" yaml:"folder"`
	Prefix  string `koanf:"prefix" yaml:"prefix"`
	MaxSize int    `koanf:"max_size" yaml:"max_size"`
	TTL     string `koanf:"ttl" yaml:"ttl"`
	Quota   string `koanf:"quota" yaml:"quota"`
}

// BrowserConfig contains network-response tier configuration
type BrowserConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Folder  string `koanf:"folder" yaml:"folder"`
	Name    string `koanf:"name" yaml:"name"`
	MaxAge  string `koanf:"max_age" yaml:"max_age"`
	Quota   string `koanf:"quota" yaml:"quota"`
}

// APIConfig contains the facade's memory TTLs
type APIConfig struct {
	PromoteTTL string `koanf:"promote_ttl" yaml:"promote_ttl"`
	WriteTTL   string `koanf:"write_ttl" yaml:"write_ttl"`
}

// PrefetchLink is one critical resource prefetched at startup
type PrefetchLink struct {
	URL string `koanf:"url" yaml:"url"`
	As  string `koanf:"as" yaml:"as"`
}

// PrefetchConfig lists the critical resources hinted during initialization
type PrefetchConfig struct {
	Warm        bool           `koanf:"warm" yaml:"warm"`
	BaseURL     string         `koanf:"base_url" yaml:"base_url"`
	Timeout     string         `koanf:"timeout" yaml:"timeout"`
	Links       []PrefetchLink `koanf:"links" yaml:"links"`
	Preconnect  []string       `koanf:"preconnect" yaml:"preconnect"`
	DNSPrefetch []string       `koanf:"dns_prefetch" yaml:"dns_prefetch"`
	// AssetConcurrency bounds parallel fetches when caching static assets
	AssetConcurrency int `koanf:"asset_concurrency" yaml:"asset_concurrency"`
}

// MaintenanceConfig schedules the periodic sweep
type MaintenanceConfig struct {
	Interval string `koanf:"interval" yaml:"interval"`
}

// ServerConfig contains proxy-host configuration
type ServerConfig struct {
	Port        int         `koanf:"port" yaml:"port"`
	MetricsPort int         `koanf:"metrics_port" yaml:"metrics_port"`
	HTTPS       HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig enables TLS interception with an optional CA
type HTTPSConfig struct {
	Intercept  bool   `koanf:"intercept" yaml:"intercept"`
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
}

// RulesConfig contains caching rules configuration
type RulesConfig struct {
	Mode  string      `koanf:"mode" yaml:"mode"` // "whitelist" or "blacklist"
	Rules []CacheRule `koanf:"rules" yaml:"rules"`
}

// CacheRule defines a caching rule
type CacheRule struct {
	BaseURI string   `koanf:"base_uri" yaml:"base_uri"`
	Methods []string `koanf:"methods" yaml:"methods"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Memory:  MemoryConfig{MaxSize: 100, TTL: "5m"},
		Session: SessionConfig{Prefix: "session_", TTL: "30m", Quota: "5MB"},
		Local: LocalConfig{
			Folder:  "./cache/local",
			Prefix:  "cache_",
			MaxSize: 50,
			TTL:     "168h",
			Quota:   "5MB",
		},
		Browser: BrowserConfig{
			Enabled: true,
			Folder:  "./cache/responses",
			Name:    "app-cache-v1",
			MaxAge:  "168h",
		},
		API:         APIConfig{PromoteTTL: "1m", WriteTTL: "5m"},
		Prefetch:    PrefetchConfig{Timeout: "10s", AssetConcurrency: 4},
		Maintenance: MaintenanceConfig{Interval: "1h"},
		Server:      ServerConfig{Port: 8080},
		Rules:       RulesConfig{Mode: "blacklist"},
	}
}

// defaultCritical is prefetched when the file names no critical resources
var defaultCritical = PrefetchConfig{
	Links: []PrefetchLink{
		{URL: "/api/user/profile", As: "fetch"},
		{URL: "/api/intake/forms", As: "fetch"},
		{URL: "/dashboard", As: "document"},
	},
	Preconnect:  []string{"https://fonts.googleapis.com", "https://fonts.gstatic.com"},
	DNSPrefetch: []string{"fonts.googleapis.com"},
}

// Load loads configuration from a YAML file on top of the defaults.
// An empty path loads the defaults alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	fromFile := koanf.New(".")
	if path != "" {
		if err := fromFile.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Merge(fromFile); err != nil {
			return nil, fmt.Errorf("merging config file: %w", err)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Set defaults
	if !fromFile.Exists("prefetch.links") && !fromFile.Exists("prefetch.preconnect") && !fromFile.Exists("prefetch.dns_prefetch") {
		config.Prefetch.Links = defaultCritical.Links
		config.Prefetch.Preconnect = defaultCritical.Preconnect
		config.Prefetch.DNSPrefetch = defaultCritical.DNSPrefetch
	}

	return &config, nil
}

// Dump renders the configuration as YAML
func (c *Config) Dump() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	durations := map[string]string{
		"memory.ttl":           c.Memory.TTL,
		"session.ttl":          c.Session.TTL,
		"local.ttl":            c.Local.TTL,
		"browser.max_age":      c.Browser.MaxAge,
		"api.promote_ttl":      c.API.PromoteTTL,
		"api.write_ttl":        c.API.WriteTTL,
		"prefetch.timeout":     c.Prefetch.Timeout,
		"maintenance.interval": c.Maintenance.Interval,
	}
	for name, value := range durations {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}

	for name, value := range map[string]string{
		"session.quota": c.Session.Quota,
		"local.quota":   c.Local.Quota,
		"browser.quota": c.Browser.Quota,
	} {
		if _, err := parseQuota(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Memory.MaxSize <= 0 {
		return fmt.Errorf("memory.max_size must be positive, got %d", c.Memory.MaxSize)
	}
	if c.Local.MaxSize <= 0 {
		return fmt.Errorf("local.max_size must be positive, got %d", c.Local.MaxSize)
	}
	if c.Local.Folder == "" {
		return fmt.Errorf("local folder is required")
	}
	if c.Browser.Enabled && c.Browser.Folder == "" {
		return fmt.Errorf("browser folder is required when the response tier is enabled")
	}

	if c.Rules.Mode != "whitelist" && c.Rules.Mode != "blacklist" {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// MemoryTTL parses and returns the memory tier's default TTL
func (c *Config) MemoryTTL() time.Duration {
	return mustDuration(c.Memory.TTL)
}

func (c *Config) SessionTTL() time.Duration {
	return mustDuration(c.Session.TTL)
}

func (c *Config) LocalTTL() time.Duration {
	return mustDuration(c.Local.TTL)
}

func (c *Config) ResponseMaxAge() time.Duration {
	return mustDuration(c.Browser.MaxAge)
}

func (c *Config) PromoteTTL() time.Duration {
	return mustDuration(c.API.PromoteTTL)
}

func (c *Config) WriteTTL() time.Duration {
	return mustDuration(c.API.WriteTTL)
}

func (c *Config) PrefetchTimeout() time.Duration {
	return mustDuration(c.Prefetch.Timeout)
}

// MaintenanceInterval parses and returns how often the sweep runs
func (c *Config) MaintenanceInterval() time.Duration {
	return mustDuration(c.Maintenance.Interval)
}

// SessionQuota returns the session store's byte quota, 0 for none
func (c *Config) SessionQuota() int64 {
	q, _ := parseQuota(c.Session.Quota)
	return q
}

// LocalQuota returns the durable store's byte quota, 0 for none
func (c *Config) LocalQuota() int64 {
	q, _ := parseQuota(c.Local.Quota)
	return q
}

// BrowserQuota returns the response store's byte quota, 0 for none
func (c *Config) BrowserQuota() int64 {
	q, _ := parseQuota(c.Browser.Quota)
	return q
}

func parseQuota(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
