package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080, IdleTimeout: "120s"},
		Upstream: UpstreamConfig{BaseURL: "https://api.numera.app", Timeout: "30s"},
		Cache:    CacheConfig{TTL: "5m", MaxAge: "30m"},
		Rules:    RulesConfig{Mode: "whitelist"},
	}
}

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
server:
  port: 9999
upstream:
  base_url: "https://api.numera.app"
cache:
  ttl: "30m"
rules:
  mode: "whitelist"
  rules:
    - path_prefix: "/v1/profile"
      methods: ["GET"]
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	// Test loading the config
	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if config.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", config.Server.Port)
	}

	if config.Cache.TTL != "30m" {
		t.Errorf("Expected TTL '30m', got '%s'", config.Cache.TTL)
	}

	if config.Rules.Mode != "whitelist" {
		t.Errorf("Expected mode 'whitelist', got '%s'", config.Rules.Mode)
	}

	if len(config.Rules.Rules) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(config.Rules.Rules))
	}

	// Unset fields get defaults
	if config.Cache.MaxAge != "30m" {
		t.Errorf("Expected default max age '30m', got '%s'", config.Cache.MaxAge)
	}
	if config.Upstream.Timeout != "30s" {
		t.Errorf("Expected default upstream timeout '30s', got '%s'", config.Upstream.Timeout)
	}
	if config.DevProxy.Port != 8081 {
		t.Errorf("Expected default devproxy port 8081, got %d", config.DevProxy.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: true,
		},
		{
			name:    "missing upstream",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "relative upstream URL",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "api.numera.app" },
			wantErr: true,
		},
		{
			name:    "invalid TTL",
			mutate:  func(c *Config) { c.Cache.TTL = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid max age",
			mutate:  func(c *Config) { c.Cache.MaxAge = "later" },
			wantErr: true,
		},
		{
			name:    "invalid mode",
			mutate:  func(c *Config) { c.Rules.Mode = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetCacheTTL(t *testing.T) {
	config := Config{
		Cache: CacheConfig{TTL: "1h30m"},
	}

	ttl, err := config.GetCacheTTL()
	if err != nil {
		t.Fatalf("GetCacheTTL() error = %v", err)
	}

	expected := time.Hour + 30*time.Minute
	if ttl != expected {
		t.Errorf("GetCacheTTL() = %v, want %v", ttl, expected)
	}
}

func TestCacheOptions(t *testing.T) {
	config := validConfig()
	config.Cache.DisableRevalidate = true

	opts, err := config.CacheOptions()
	if err != nil {
		t.Fatalf("CacheOptions() error = %v", err)
	}

	if opts.TTL != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", opts.TTL)
	}
	if opts.MaxAge != 30*time.Minute {
		t.Errorf("MaxAge = %v, want 30m", opts.MaxAge)
	}
	if !opts.NoRevalidate {
		t.Errorf("NoRevalidate = false, want true when disable_revalidate is set")
	}

	config.Cache.DisableRevalidate = false
	opts, err = config.CacheOptions()
	if err != nil {
		t.Fatalf("CacheOptions() error = %v", err)
	}
	if opts.NoRevalidate {
		t.Errorf("NoRevalidate = true, want false by default")
	}
}

func TestShouldCache(t *testing.T) {
	rules := []CacheRule{
		{PathPrefix: "/v1/profile", Methods: []string{"GET"}},
	}

	tests := []struct {
		name   string
		mode   string
		path   string
		method string
		want   bool
	}{
		{"whitelist match", "whitelist", "/v1/profile", "GET", true},
		{"whitelist match lowercase method", "whitelist", "/v1/profile", "get", true},
		{"whitelist longer path", "whitelist", "/v1/profiles/u42", "GET", true},
		{"whitelist wrong method", "whitelist", "/v1/profile", "POST", false},
		{"whitelist no match", "whitelist", "/v1/readings", "GET", false},
		{"blacklist match", "blacklist", "/v1/profile", "GET", false},
		{"blacklist no match", "blacklist", "/v1/readings", "GET", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RulesConfig{Mode: tt.mode, Rules: rules}
			if got := rc.ShouldCache(tt.path, tt.method); got != tt.want {
				t.Errorf("ShouldCache(%s %s) = %v, want %v", tt.method, tt.path, got, tt.want)
			}
		})
	}
}
