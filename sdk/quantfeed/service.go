// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package quantfeed wraps the aggregation server lifecycle so external
// programs can embed it: build a Service from a config, optionally register
// extra provider adapters, and Run it under a context.
package quantfeed

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/access"
	"github.com/quantfeed/quantfeed/internal/api"
	"github.com/quantfeed/quantfeed/internal/config"
	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/dispatch"
	"github.com/quantfeed/quantfeed/internal/extension"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/provider/fmp"
	"github.com/quantfeed/quantfeed/internal/provider/polygon"
	"github.com/quantfeed/quantfeed/internal/rules"
)

// Hooks provides lifecycle callbacks for embedders.
type Hooks struct {
	// OnBeforeStart runs after all components are wired, before the HTTP
	// server starts listening.
	OnBeforeStart func(cfg *config.Config)
	// OnAfterStart runs once the server is accepting connections.
	OnAfterStart func(s *Service)
	// OnSnapshotSwap runs after an extension reload swaps the snapshot.
	OnSnapshotSwap func(snap *dispatch.Snapshot)
}

// Option customizes service construction.
type Option func(*Service)

// WithHooks installs lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithAdapters registers extra provider adapters alongside the built-ins.
// Embedders use this to plug in providers compiled into their own binary.
func WithAdapters(adapters ...provider.Adapter) Option {
	return func(s *Service) { s.extraAdapters = append(s.extraAdapters, adapters...) }
}

// WithoutWatcher disables hot reload of the extensions directory.
func WithoutWatcher() Option {
	return func(s *Service) { s.disableWatcher = true }
}

// Service owns the full server lifecycle: credential store, auth gate,
// extension loader, dispatch engine, HTTP/WebSocket server and the manifest
// watcher.
type Service struct {
	cfg   *config.Config
	hooks Hooks

	extraAdapters  []provider.Adapter
	disableWatcher bool

	server *api.Server
	creds  *credstore.Store
}

// New builds a service around a loaded configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Server returns the underlying API server once Run has started it. Tests
// and embedders use its Handler for in-process requests.
func (s *Service) Server() *api.Server { return s.server }

// Credentials returns the credential store, letting embedders replace
// provider credentials at runtime.
func (s *Service) Credentials() *credstore.Store { return s.creds }

// Run wires every component, starts the server and the manifest watcher, and
// blocks until ctx is canceled or the server fails.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("quantfeed: service is nil")
	}
	cfg := s.cfg

	ruleEngine, err := rules.NewEngine(cfg.Rules)
	if err != nil {
		return fmt.Errorf("quantfeed: compile preference rules: %w", err)
	}

	var clientOpts []provider.ClientOption
	if cfg.ProxyURL != "" {
		clientOpts = append(clientOpts, provider.WithProxy(cfg.ProxyURL))
	}
	if cfg.FetchTimeoutSeconds > 0 {
		clientOpts = append(clientOpts, provider.WithTimeout(time.Duration(cfg.FetchTimeoutSeconds)*time.Second))
	}
	client, err := provider.NewClient(clientOpts...)
	if err != nil {
		return fmt.Errorf("quantfeed: build provider client: %w", err)
	}

	builtins := append([]provider.Adapter{
		fmp.New(client, cfg.BaseURLFor(fmp.Name)),
		polygon.New(client, cfg.BaseURLFor(polygon.Name)),
	}, s.extraAdapters...)

	loader := extension.NewLoader(client, builtins, cfg.ProviderPreference, ruleEngine)
	snapshot, err := loader.BuildDir(cfg.ExtensionsDir)
	if err != nil {
		return fmt.Errorf("quantfeed: load extensions: %w", err)
	}
	log.WithFields(log.Fields{
		"version":  snapshot.Version,
		"commands": len(snapshot.Router.Leaves()),
	}).Info("extension snapshot built")

	s.creds = credstore.NewStore(cfg.Credentials)
	gate := access.NewGate(access.Config{
		Secret:         cfg.Auth.Secret,
		APIKeyHashes:   cfg.Auth.APIKeys,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
	})
	engine := dispatch.NewEngine(s.creds, cfg.RequestRetry,
		time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
	s.server = api.New(cfg, gate, engine, snapshot)

	if s.hooks.OnBeforeStart != nil {
		s.hooks.OnBeforeStart(cfg)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.server.Run(runCtx)
	}()

	if !s.disableWatcher {
		watcher := extension.NewWatcher(loader, cfg.ExtensionsDir, func(snap *dispatch.Snapshot) {
			s.server.Swap(snap)
			if s.hooks.OnSnapshotSwap != nil {
				s.hooks.OnSnapshotSwap(snap)
			}
		})
		go func() {
			if err := watcher.Run(runCtx); err != nil && runCtx.Err() == nil {
				log.Errorf("extension watcher stopped: %v", err)
			}
		}()
	}

	if s.hooks.OnAfterStart != nil {
		s.hooks.OnAfterStart(s)
	}

	select {
	case <-ctx.Done():
		cancel()
		return <-serverErr
	case err := <-serverErr:
		return err
	}
}
