// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const defaultTimeout = 30 * time.Second

// maxResponseBytes caps provider response bodies at 32 MiB.
const maxResponseBytes = 32 << 20

// Client is the HTTP transport shared by all built-in adapters. It handles
// response decompression, proxying, and the mapping from HTTP status codes to
// the provider error taxonomy.
type Client struct {
	httpClient *http.Client
}

// ClientOption customizes the shared HTTP client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout  time.Duration
	proxyURL string
}

// WithTimeout overrides the default 30s request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProxy routes provider traffic through an HTTP or SOCKS5 proxy URL.
func WithProxy(rawURL string) ClientOption {
	return func(c *clientConfig) { c.proxyURL = rawURL }
}

// NewClient builds the shared provider HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		// Decompression is handled explicitly so brotli works too.
		DisableCompression: true,
	}
	if cfg.proxyURL != "" {
		u, err := url.Parse(cfg.proxyURL)
		if err != nil {
			return nil, fmt.Errorf("provider: invalid proxy url: %w", err)
		}
		switch u.Scheme {
		case "socks5":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("provider: socks5 proxy: %w", err)
			}
			if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = ctxDialer.DialContext
			}
		default:
			transport.Proxy = http.ProxyURL(u)
		}
	}

	return &Client{httpClient: &http.Client{Transport: transport, Timeout: cfg.timeout}}, nil
}

// Do executes a provider request and returns the decompressed body.
// Status mapping: 401/403 -> AuthenticationError, everything else non-2xx
// (including 429 and 5xx) -> ProviderUnavailableError so the dispatch engine
// can fall back to the next eligible provider.
func (c *Client) Do(ctx context.Context, req *Request) ([]byte, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: req.Provider, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept-Encoding", "gzip, br")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: req.Provider, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := decodeBody(resp)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: req.Provider, Err: err}
	}

	log.WithFields(log.Fields{
		"provider": req.Provider,
		"command":  req.Command,
		"status":   resp.StatusCode,
		"elapsed":  time.Since(started).Round(time.Millisecond).String(),
	}).Debug("provider fetch completed")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthenticationError{Provider: req.Provider, Reason: trimForLog(payload)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &ProviderUnavailableError{
			Provider: req.Provider,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, trimForLog(payload)),
		}
	}
	return payload, nil
}

// decodeBody decompresses the response body according to Content-Encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(io.LimitReader(reader, maxResponseBytes))
}

func trimForLog(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
