// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider defines the adapter contract every data provider
// implements and the shared HTTP client adapters fetch through. Adapters are
// stateless aside from configuration; credentials are passed per call and
// never cached inside an adapter.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/schema"
)

// Request is a provider-specific wire request built from a canonical query.
type Request struct {
	Provider string
	Command  string
	Method   string
	URL      string
	Query    url.Values
	Header   http.Header
	Body     []byte
}

// NewRequest initializes an empty GET request for a provider command.
func NewRequest(provider, command, rawURL string) *Request {
	return &Request{
		Provider: provider,
		Command:  command,
		Method:   http.MethodGet,
		URL:      rawURL,
		Query:    url.Values{},
		Header:   http.Header{},
	}
}

// Adapter binds a provider name to the commands it supports and the
// transforms between canonical and provider-specific shapes.
type Adapter interface {
	// Name returns the provider name used in registries and envelopes.
	Name() string

	// Supports reports whether the adapter implements the command path.
	Supports(command string) bool

	// RequiredCredentials names the credential keys the adapter needs,
	// resolved by the credential store before Fetch is invoked.
	RequiredCredentials() []string

	// BuildRequest translates a canonical query into a provider request.
	// Queries carrying fields the provider cannot honor fail with an
	// UnsupportedParameterError.
	BuildRequest(command string, q *schema.Query) (*Request, error)

	// Fetch executes the request. Transport failures surface as
	// ProviderUnavailableError, credential rejections as AuthenticationError.
	Fetch(ctx context.Context, req *Request, creds credstore.Credentials) ([]byte, error)

	// Parse normalizes the raw response into canonical records against the
	// given data spec. The spec belongs to the snapshot the request resolved
	// under, so adapters hold no schema state of their own. Contract
	// violations surface as SchemaValidationError.
	Parse(command string, spec *schema.DataSpec, raw []byte) ([]*schema.Record, error)
}

// CheckSupported verifies every set query field is accepted by the provider.
// Adapters call it at the top of BuildRequest.
func CheckSupported(name string, q *schema.Query) error {
	if rejected := q.Unsupported(name); len(rejected) > 0 {
		return &UnsupportedParameterError{Provider: name, Field: rejected[0]}
	}
	return nil
}

// UnsupportedParameterError reports a query field the provider cannot honor.
// It is terminal: the caller must adjust the query, not retry.
type UnsupportedParameterError struct {
	Provider string
	Field    string
}

func (e *UnsupportedParameterError) Error() string {
	return fmt.Sprintf("provider %s does not accept parameter %q", e.Provider, e.Field)
}

// ProviderUnavailableError reports a transport-level failure. The dispatch
// engine retries these against the next eligible provider.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// AuthenticationError reports a credential rejected by the provider, or a
// request that failed the auth gate. Terminal per request.
type AuthenticationError struct {
	Provider string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	}
	return fmt.Sprintf("provider %s rejected credentials: %s", e.Provider, e.Reason)
}
