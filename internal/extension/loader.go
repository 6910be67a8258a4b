// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extension

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/dispatch"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/provider/luascript"
	"github.com/quantfeed/quantfeed/internal/registry"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/rules"
	"github.com/quantfeed/quantfeed/internal/schema"
)

// Loader assembles snapshots from extension manifests. One loader lives for
// the process lifetime; each Build produces an independent snapshot with a
// fresh registry and command tree.
type Loader struct {
	client      *provider.Client
	builtins    map[string]provider.Adapter
	preferences []string
	rules       *rules.Engine
	version     atomic.Int64
}

// NewLoader wires the loader with the shared HTTP client, the built-in
// adapters available for binding, the user provider preference order and the
// compiled rule engine.
func NewLoader(client *provider.Client, builtins []provider.Adapter, preferences []string, ruleEngine *rules.Engine) *Loader {
	byName := make(map[string]provider.Adapter, len(builtins))
	for _, a := range builtins {
		byName[strings.ToLower(a.Name())] = a
	}
	return &Loader{
		client:      client,
		builtins:    byName,
		preferences: preferences,
		rules:       ruleEngine,
	}
}

// BuildDir loads every manifest in dir and builds a snapshot.
func (l *Loader) BuildDir(dir string) (*dispatch.Snapshot, error) {
	manifests, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return l.Build(manifests)
}

// Build constructs a fresh registry and command tree from the manifests.
// Registration errors (duplicate providers, conflicting routes, unknown
// adapters, broken scripts) are fatal: a broken extension must not silently
// degrade routing for the others.
func (l *Loader) Build(manifests []*Manifest) (*dispatch.Snapshot, error) {
	reg := registry.New(l.preferences)
	tree := router.New()
	scripted := make(map[string]provider.Adapter)

	type pendingLeaf struct {
		decl  *CommandDecl
		query *schema.QuerySpec
		data  *schema.DataSpec
	}
	var pending []pendingLeaf

	for _, m := range manifests {
		for i := range m.Commands {
			decl := &m.Commands[i]
			path := router.Normalize(decl.Path)

			querySpec, err := decl.querySpec()
			if err != nil {
				return nil, fmt.Errorf("extension %s: %w", m.Name, err)
			}
			dataSpec, err := decl.dataSpec()
			if err != nil {
				return nil, fmt.Errorf("extension %s: %w", m.Name, err)
			}

			for _, binding := range decl.Providers {
				adapter, err := l.resolveAdapter(m, binding, scripted)
				if err != nil {
					return nil, fmt.Errorf("extension %s: command %s: %w", m.Name, path, err)
				}
				if !adapter.Supports(path) {
					return nil, fmt.Errorf("extension %s: provider %q does not support command %s",
						m.Name, adapter.Name(), path)
				}
				if err := reg.Register(adapter, path, binding.Priority, binding.Override); err != nil {
					return nil, fmt.Errorf("extension %s: %w", m.Name, err)
				}
			}
			pending = append(pending, pendingLeaf{decl: decl, query: querySpec, data: dataSpec})
		}
	}

	reg.Freeze()

	for _, p := range pending {
		path := router.Normalize(p.decl.Path)
		providers := reg.ProvidersFor(path)
		names := make([]string, 0, len(providers))
		for _, a := range providers {
			names = append(names, a.Name())
		}
		leaf := &router.Leaf{
			Query:       p.query,
			Data:        p.data,
			Providers:   names,
			Unavailable: len(names) == 0,
			Streamable:  p.decl.Streamable,
		}
		if err := tree.RegisterPath(path, leaf); err != nil {
			return nil, err
		}
	}

	snap := dispatch.NewSnapshot(l.version.Add(1), tree, reg, l.rules)
	log.WithFields(log.Fields{
		"version":    snap.Version,
		"extensions": len(manifests),
		"commands":   len(reg.Commands()),
	}).Info("extension snapshot built")
	return snap, nil
}

// resolveAdapter maps a binding onto a built-in adapter or compiles its Lua
// script. Scripts are cached per path within one build so two commands can
// share one scripted provider.
func (l *Loader) resolveAdapter(m *Manifest, binding ProviderBinding, scripted map[string]provider.Adapter) (provider.Adapter, error) {
	if binding.Script != "" {
		path := binding.Script
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}
		if a, ok := scripted[path]; ok {
			return a, nil
		}
		a, err := luascript.New(l.client, path)
		if err != nil {
			return nil, err
		}
		scripted[path] = a
		return a, nil
	}
	a, ok := l.builtins[strings.ToLower(binding.Name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", binding.Name)
	}
	return a, nil
}
