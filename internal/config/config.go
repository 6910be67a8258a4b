// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the quantfeed server.
// It handles loading and parsing the YAML configuration file and provides
// structured access to server settings, auth gate settings, provider
// credentials and preference rules.
package config

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/quantfeed/quantfeed/internal/rules"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface the API server binds. Empty binds
	// all interfaces; use "127.0.0.1" for local-only access.
	Host string `yaml:"host"`
	// Port is the network port the API server listens on.
	Port int `yaml:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile switches logs from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file"`

	// ExtensionsDir is the directory containing extension manifests.
	ExtensionsDir string `yaml:"extensions-dir"`

	// Auth nests the auth gate settings.
	Auth AuthConfig `yaml:"auth"`

	// ProviderPreference is the user-configured provider order applied
	// ahead of manifest priorities.
	ProviderPreference []string `yaml:"provider-preference"`

	// Rules are provider preference rules evaluated per request.
	Rules []rules.Rule `yaml:"rules"`

	// Credentials maps provider name to its credential entries. Environment
	// variables (QF_<PROVIDER>_<KEY>) fill anything left unset here.
	Credentials map[string]map[string]string `yaml:"credentials"`

	// RequestRetry bounds provider fallback attempts per request. Zero
	// means one attempt per eligible provider.
	RequestRetry int `yaml:"request-retry"`

	// FetchTimeoutSeconds bounds each provider fetch. Zero uses 30s.
	FetchTimeoutSeconds int `yaml:"fetch-timeout-seconds"`

	// ProxyURL routes provider traffic through an HTTP or SOCKS5 proxy.
	ProxyURL string `yaml:"proxy-url"`

	// Providers holds per-provider endpoint overrides, keyed by name.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// WebsocketAuth enables authentication for the WebSocket channel.
	WebsocketAuth bool `yaml:"ws-auth"`
}

// AuthConfig holds the auth gate settings.
type AuthConfig struct {
	// Secret is the HS256 signing secret for JWT bearer tokens.
	Secret string `yaml:"secret"`
	// APIKeys are bcrypt hashes of accepted static API keys. Generate with
	// the HashAPIKey helper.
	APIKeys []string `yaml:"api-keys"`
	// AllowAnonymous lets requests without credentials through. Intended
	// for local single-user deployments only.
	AllowAnonymous bool `yaml:"allow-anonymous"`
}

// ProviderConfig overrides a built-in provider's endpoint.
type ProviderConfig struct {
	// BaseURL replaces the provider's production endpoint, used for mirrors
	// and tests.
	BaseURL string `yaml:"base-url"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          8317,
		ExtensionsDir: "extensions",
		Auth:          AuthConfig{AllowAnonymous: true},
	}
}

// Load reads and parses the YAML configuration file. Unknown keys are
// rejected so typos surface at startup instead of silently defaulting.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	return cfg, nil
}

// HashAPIKey produces the bcrypt hash stored under auth.api-keys.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BaseURLFor returns the configured endpoint override for a provider.
func (c *Config) BaseURLFor(provider string) string {
	if c.Providers == nil {
		return ""
	}
	return c.Providers[provider].BaseURL
}
