// Package config loads the apiclient command line configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "APICLIENT_"

// Cache backends.
const (
	CacheMemory = "memory"
	CacheNull   = "null"
	CacheRedis  = "redis"
)

// Config is the command line configuration.
type Config struct {
	BaseURL      string            `yaml:"base_url"`
	Token        string            `yaml:"token"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	TokenURL     string            `yaml:"token_url"`
	Scopes       string            `yaml:"scopes"`
	MaxTokenTTL  time.Duration     `yaml:"max_token_ttl"`
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
	Params       map[string]string `yaml:"params"`
	Cache        CacheConfig       `yaml:"cache"`
	TLS          TLSConfig         `yaml:"tls"`
	LogLevel     string            `yaml:"log_level"`
}

// CacheConfig selects the token cache backend.
type CacheConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis token cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TLSConfig configures TLS towards the API and the token endpoint.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Enabled reports whether any TLS setting deviates from the defaults.
func (t TLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.KeyFile != "" || t.InsecureSkipVerify
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		MaxTokenTTL: time.Hour,
		Timeout:     30 * time.Second,
		Cache:       CacheConfig{Backend: CacheMemory},
		LogLevel:    "warn",
	}
}

// Load reads the YAML file at path on top of the defaults and then applies APICLIENT_*
// environment variables. An empty path skips the file. ${VAR} references in the file are
// expanded from the environment before parsing.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		cfg, err = Parse(data, lookup)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults, expanding ${VAR} references with lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (Config, error) {
	expanded := os.Expand(string(data), func(name string) string {
		if lookup == nil {
			return ""
		}
		value, _ := lookup(name)
		return value
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from APICLIENT_* variables found with lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	get := func(name string) (string, bool) {
		return lookup(EnvPrefix + name)
	}

	stringFields := map[string]*string{
		"BASE_URL":       &c.BaseURL,
		"TOKEN":          &c.Token,
		"CLIENT_ID":      &c.ClientID,
		"CLIENT_SECRET":  &c.ClientSecret,
		"TOKEN_URL":      &c.TokenURL,
		"SCOPES":         &c.Scopes,
		"CACHE_BACKEND":  &c.Cache.Backend,
		"REDIS_ADDR":     &c.Cache.Redis.Addr,
		"REDIS_PASSWORD": &c.Cache.Redis.Password,
		"LOG_LEVEL":      &c.LogLevel,
		"TLS_CA_FILE":    &c.TLS.CAFile,
		"TLS_CERT_FILE":  &c.TLS.CertFile,
		"TLS_KEY_FILE":   &c.TLS.KeyFile,
	}
	for name, field := range stringFields {
		if value, ok := get(name); ok {
			*field = value
		}
	}

	durationFields := map[string]*time.Duration{
		"MAX_TOKEN_TTL": &c.MaxTokenTTL,
		"TIMEOUT":       &c.Timeout,
	}
	for name, field := range durationFields {
		value, ok := get(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*field = d
	}

	if value, ok := get("REDIS_DB"); ok {
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Cache.Redis.DB = db
	}
	if value, ok := get("TLS_INSECURE_SKIP_VERIFY"); ok {
		insecure, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %sTLS_INSECURE_SKIP_VERIFY: %w", EnvPrefix, err)
		}
		c.TLS.InsecureSkipVerify = insecure
	}

	return nil
}

// UsesClientCredentials reports whether tokens are obtained with the client credentials flow.
func (c Config) UsesClientCredentials() bool {
	return c.ClientID != "" || c.ClientSecret != "" || c.TokenURL != ""
}

// Validate checks the configuration for missing or conflicting settings.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: base_url %q must be an absolute URL", c.BaseURL)
	}

	if c.UsesClientCredentials() {
		if c.Token != "" {
			return errors.New("config: token and client credentials are mutually exclusive")
		}
		if c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "" {
			return errors.New("config: client_id, client_secret and token_url must be set together")
		}
	}

	if c.MaxTokenTTL < 0 {
		return errors.New("config: max_token_ttl must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("config: timeout must not be negative")
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheNull:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New("config: cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	return nil
}
