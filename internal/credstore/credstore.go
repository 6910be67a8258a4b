// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package credstore resolves per-provider credentials from configuration and
// the environment. Credentials are looked up per request; nothing here is
// cached beyond the lifetime of one dispatch.
package credstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// EnvPrefix is the prefix for environment-sourced credentials:
// QF_<PROVIDER>_<KEY>, e.g. QF_POLYGON_API_KEY.
const EnvPrefix = "QF"

// Credentials is one provider's resolved secret material.
type Credentials map[string]string

// APIKey returns the conventional api_key entry.
func (c Credentials) APIKey() string { return c["api_key"] }

// MissingCredentialError reports a provider credential that could not be
// resolved from configuration or environment.
type MissingCredentialError struct {
	Provider string
	Key      string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("credstore: provider %s: missing credential %q (set %s)",
		e.Provider, e.Key, EnvVar(e.Provider, e.Key))
}

// EnvVar returns the environment variable name for a provider credential.
func EnvVar(provider, key string) string {
	normalize := func(s string) string {
		return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(s))
	}
	return EnvPrefix + "_" + normalize(provider) + "_" + normalize(key)
}

// Store resolves provider credentials. Configured entries take precedence
// over the environment so operators can pin credentials in the config file.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Credentials

	// tokenSources caches OAuth2 client-credentials token sources per
	// provider. The underlying tokens refresh themselves; the source itself
	// is configuration, not per-request state.
	tokenSources map[string]oauth2.TokenSource
}

// NewStore builds a store from configured provider credential entries.
func NewStore(configured map[string]map[string]string) *Store {
	entries := make(map[string]Credentials, len(configured))
	for provider, creds := range configured {
		entry := make(Credentials, len(creds))
		for k, v := range creds {
			entry[strings.ToLower(k)] = v
		}
		entries[strings.ToLower(provider)] = entry
	}
	return &Store{entries: entries, tokenSources: make(map[string]oauth2.TokenSource)}
}

// ForProvider resolves the named provider's credentials and verifies every
// required key is present. Environment variables fill gaps left by the
// configuration file.
func (s *Store) ForProvider(provider string, required []string) (Credentials, error) {
	s.mu.RLock()
	configured := s.entries[strings.ToLower(provider)]
	s.mu.RUnlock()

	resolved := make(Credentials, len(configured)+len(required))
	for k, v := range configured {
		resolved[k] = v
	}
	for _, key := range required {
		key = strings.ToLower(key)
		if resolved[key] != "" {
			continue
		}
		if v := os.Getenv(EnvVar(provider, key)); v != "" {
			resolved[key] = v
			continue
		}
		return nil, &MissingCredentialError{Provider: provider, Key: key}
	}
	return resolved, nil
}

// BearerToken returns a fresh OAuth2 bearer token for providers configured
// with client-credentials entries (client_id, client_secret, token_url).
// Providers using plain API keys never reach this path.
func (s *Store) BearerToken(ctx context.Context, provider string, creds Credentials) (string, error) {
	if creds["token_url"] == "" {
		return "", nil
	}

	s.mu.Lock()
	source, ok := s.tokenSources[provider]
	if !ok {
		cfg := &clientcredentials.Config{
			ClientID:     creds["client_id"],
			ClientSecret: creds["client_secret"],
			TokenURL:     creds["token_url"],
		}
		source = cfg.TokenSource(context.Background())
		s.tokenSources[provider] = source
	}
	s.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("credstore: provider %s: token refresh failed: %w", provider, err)
	}
	log.WithField("provider", provider).Debug("resolved OAuth2 bearer token")
	return token.AccessToken, nil
}

// Replace swaps the configured entries wholesale, used on config reload.
func (s *Store) Replace(configured map[string]map[string]string) {
	fresh := NewStore(configured)
	s.mu.Lock()
	s.entries = fresh.entries
	s.tokenSources = make(map[string]oauth2.TokenSource)
	s.mu.Unlock()
}
