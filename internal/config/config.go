package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/numera-app/edge/internal/cache"

	"gopkg.in/yaml.v3"
)

// Config represents the edge service configuration
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Rules    RulesConfig    `yaml:"rules"`
	DevProxy DevProxyConfig `yaml:"devproxy"`
	Warmup   WarmupConfig   `yaml:"warmup"`
}

// ServerConfig contains the listening side of the reverse proxy
type ServerConfig struct {
	Port int `yaml:"port"`
	// IdleTimeout is the keep-alive window for client connections
	IdleTimeout string `yaml:"idle_timeout"`
}

// UpstreamConfig points at the Numera backend
type UpstreamConfig struct {
	BaseURL      string `yaml:"base_url"`
	Timeout      string `yaml:"timeout"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// CacheConfig contains response-cache tuning
type CacheConfig struct {
	TTL    string `yaml:"ttl"`
	MaxAge string `yaml:"max_age"`
	// DisableRevalidate turns off stale-while-revalidate; stale entries
	// then force a synchronous refetch
	DisableRevalidate bool `yaml:"disable_revalidate"`
}

// RulesConfig contains cacheable-route rules
type RulesConfig struct {
	Mode  string      `yaml:"mode"` // "whitelist" or "blacklist"
	Rules []CacheRule `yaml:"rules"`
}

// CacheRule defines a cacheable route
type CacheRule struct {
	PathPrefix string   `yaml:"path_prefix"`
	Methods    []string `yaml:"methods"`
}

// DevProxyConfig configures the local development proxy
type DevProxyConfig struct {
	Port       int    `yaml:"port"`
	CACertFile string `yaml:"ca_cert_file"`
	CAKeyFile  string `yaml:"ca_key_file"`
	// HTTPSAddr enables the transparent HTTPS listener when set
	HTTPSAddr string `yaml:"https_addr"`
}

// WarmupConfig pre-fetches hot resources at startup, so the first page
// load after a deploy hits a warm cache
type WarmupConfig struct {
	Enabled      bool   `yaml:"enabled"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Set defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.IdleTimeout == "" {
		config.Server.IdleTimeout = "120s"
	}
	if config.Upstream.Timeout == "" {
		config.Upstream.Timeout = "30s"
	}
	if config.Upstream.MaxIdleConns == 0 {
		config.Upstream.MaxIdleConns = 16
	}
	if config.Cache.TTL == "" {
		config.Cache.TTL = "5m"
	}
	if config.Cache.MaxAge == "" {
		config.Cache.MaxAge = "30m"
	}
	if config.Rules.Mode == "" {
		config.Rules.Mode = "whitelist"
	}
	if config.DevProxy.Port == 0 {
		config.DevProxy.Port = 8081
	}

	return &config, nil
}

// GetCacheTTL parses and returns the cache TTL duration
func (c *Config) GetCacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// GetCacheMaxAge parses and returns the staleness threshold
func (c *Config) GetCacheMaxAge() (time.Duration, error) {
	return time.ParseDuration(c.Cache.MaxAge)
}

// CacheOptions builds the fetch options every config-driven cache reader
// uses, including the stale-while-revalidate switch
func (c *Config) CacheOptions() (cache.Options, error) {
	ttl, err := c.GetCacheTTL()
	if err != nil {
		return cache.Options{}, fmt.Errorf("invalid cache TTL format: %w", err)
	}
	maxAge, err := c.GetCacheMaxAge()
	if err != nil {
		return cache.Options{}, fmt.Errorf("invalid cache max age format: %w", err)
	}
	return cache.Options{
		TTL:          ttl,
		MaxAge:       maxAge,
		NoRevalidate: c.Cache.DisableRevalidate,
	}, nil
}

// GetIdleTimeout parses and returns the server keep-alive window
func (c *Config) GetIdleTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Server.IdleTimeout)
}

// GetUpstreamTimeout parses and returns the upstream request timeout
func (c *Config) GetUpstreamTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Upstream.Timeout)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream base URL: %s", c.Upstream.BaseURL)
	}

	if _, err := c.GetCacheTTL(); err != nil {
		return fmt.Errorf("invalid cache TTL format: %w", err)
	}
	if _, err := c.GetCacheMaxAge(); err != nil {
		return fmt.Errorf("invalid cache max age format: %w", err)
	}
	if _, err := c.GetIdleTimeout(); err != nil {
		return fmt.Errorf("invalid idle timeout format: %w", err)
	}
	if _, err := c.GetUpstreamTimeout(); err != nil {
		return fmt.Errorf("invalid upstream timeout format: %w", err)
	}

	if c.Rules.Mode != "whitelist" && c.Rules.Mode != "blacklist" {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}

	return nil
}

// Matches reports whether a request path and method match the rule
func (r CacheRule) Matches(path, method string) bool {
	if !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}

	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}

	return false
}

// ShouldCache applies the rule list in whitelist or blacklist mode
func (rc RulesConfig) ShouldCache(path, method string) bool {
	matched := false
	for _, rule := range rc.Rules {
		if rule.Matches(path, method) {
			matched = true
			break
		}
	}

	if rc.Mode == "whitelist" {
		return matched
	}
	return !matched
}
