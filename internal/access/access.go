// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package access is the auth gate: it maps a per-request bearer credential
// onto an identity and an allowed-provider set before dispatch. Token
// issuance lives outside this process; the gate only verifies.
package access

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	// Subject identifies the caller (JWT sub claim or "api-key").
	Subject string
	// Providers is the allowed-provider set. Empty means unrestricted.
	Providers []string
}

// AllowsProvider reports whether the identity may use the named provider.
func (id *Identity) AllowsProvider(name string) bool {
	if id == nil {
		return false
	}
	if len(id.Providers) == 0 {
		return true
	}
	for _, p := range id.Providers {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// InvalidCredentialError reports a bearer credential the gate rejected.
type InvalidCredentialError struct {
	Reason string
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("access: invalid credential: %s", e.Reason)
}

// Gate verifies bearer credentials. Two forms are accepted: an HS256 JWT
// signed with the configured secret, or a static API key checked against the
// configured bcrypt hashes.
type Gate struct {
	secret         []byte
	apiKeyHashes   []string
	allowAnonymous bool
}

// Config holds the gate settings taken from the application config.
type Config struct {
	// Secret is the HS256 signing secret for JWT verification. Empty
	// disables JWT acceptance.
	Secret string
	// APIKeyHashes are bcrypt hashes of accepted static API keys.
	APIKeyHashes []string
	// AllowAnonymous lets requests without credentials through with an
	// unrestricted identity. Intended for local single-user deployments.
	AllowAnonymous bool
}

// NewGate builds the auth gate.
func NewGate(cfg Config) *Gate {
	return &Gate{
		secret:         []byte(cfg.Secret),
		apiKeyHashes:   cfg.APIKeyHashes,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// claims is the JWT claim set the gate understands.
type claims struct {
	jwt.RegisteredClaims
	// Providers restricts the identity to the listed providers.
	Providers []string `json:"providers,omitempty"`
}

// Authenticate verifies a bearer credential and returns the caller identity.
// An empty token is accepted only when anonymous access is enabled.
func (g *Gate) Authenticate(token string) (*Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		if g.allowAnonymous {
			return &Identity{Subject: "anonymous"}, nil
		}
		return nil, &InvalidCredentialError{Reason: "missing bearer credential"}
	}

	if len(g.secret) > 0 && strings.Count(token, ".") == 2 {
		return g.verifyJWT(token)
	}
	return g.verifyAPIKey(token)
}

func (g *Gate) verifyJWT(token string) (*Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, &InvalidCredentialError{Reason: "jwt verification failed"}
	}
	subject := c.Subject
	if subject == "" {
		subject = "token"
	}
	return &Identity{Subject: subject, Providers: c.Providers}, nil
}

func (g *Gate) verifyAPIKey(token string) (*Identity, error) {
	for _, hash := range g.apiKeyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return &Identity{Subject: "api-key"}, nil
		}
	}
	return nil, &InvalidCredentialError{Reason: "unrecognized credential"}
}

// IssueToken signs an HS256 JWT for the given subject and provider scope.
// Exposed for local tooling and tests; production token issuance is an
// external concern.
func (g *Gate) IssueToken(subject string, providers []string) (string, error) {
	if len(g.secret) == 0 {
		return "", fmt.Errorf("access: no signing secret configured")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Providers:        providers,
	})
	return t.SignedString(g.secret)
}
