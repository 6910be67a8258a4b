// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry holds the installed provider adapters keyed by name and
// resolves which providers serve a given command. Registration happens at
// startup or on explicit reload; the registry is read-only while serving, so
// concurrent reads need no locking.
package registry

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/provider"
)

// DuplicateProviderError reports the same provider registered twice for one
// command without the override flag. Registration errors are fatal to
// startup: a broken extension must be fixed, not retried.
type DuplicateProviderError struct {
	Provider string
	Command  string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("provider %q already registered for command %s", e.Provider, e.Command)
}

type entry struct {
	adapter  provider.Adapter
	priority int
	// declIndex is the global registration order, the final tie-break.
	declIndex int
}

// Registry maps commands onto their eligible provider adapters with a
// deterministic order: explicit user preference first, then manifest
// priority, then declaration order.
type Registry struct {
	preferences []string
	byCommand   map[string][]entry
	adapters    map[string]provider.Adapter
	declCount   int
	frozen      bool
}

// New creates an empty registry. preferences is the user-configured provider
// order applied ahead of manifest priorities.
func New(preferences []string) *Registry {
	return &Registry{
		preferences: preferences,
		byCommand:   make(map[string][]entry),
		adapters:    make(map[string]provider.Adapter),
	}
}

// Register binds an adapter to a command. A second registration of the same
// provider for the same command fails unless override is set, in which case
// the new binding replaces the old one.
func (r *Registry) Register(adapter provider.Adapter, command string, priority int, override bool) error {
	if r.frozen {
		return fmt.Errorf("registry: register %s after freeze", adapter.Name())
	}
	name := strings.ToLower(adapter.Name())
	for i, e := range r.byCommand[command] {
		if strings.ToLower(e.adapter.Name()) == name {
			if !override {
				return &DuplicateProviderError{Provider: adapter.Name(), Command: command}
			}
			r.byCommand[command][i] = entry{adapter: adapter, priority: priority, declIndex: e.declIndex}
			r.adapters[name] = adapter
			log.WithFields(log.Fields{"provider": name, "command": command}).
				Debug("provider binding overridden")
			return nil
		}
	}
	r.byCommand[command] = append(r.byCommand[command], entry{
		adapter:   adapter,
		priority:  priority,
		declIndex: r.declCount,
	})
	r.declCount++
	r.adapters[name] = adapter
	return nil
}

// Freeze sorts every command's provider list into its final deterministic
// order and marks the registry read-only.
func (r *Registry) Freeze() {
	for command, entries := range r.byCommand {
		sort.SliceStable(entries, func(i, j int) bool {
			pi, pj := r.prefIndex(entries[i].adapter.Name()), r.prefIndex(entries[j].adapter.Name())
			if pi != pj {
				return pi < pj
			}
			if entries[i].priority != entries[j].priority {
				return entries[i].priority < entries[j].priority
			}
			return entries[i].declIndex < entries[j].declIndex
		})
		r.byCommand[command] = entries
	}
	r.frozen = true
}

func (r *Registry) prefIndex(name string) int {
	for i, p := range r.preferences {
		if strings.EqualFold(p, name) {
			return i
		}
	}
	return len(r.preferences)
}

// ProvidersFor returns the eligible adapters for a command in deterministic
// preference order. The returned slice is a copy; callers may filter it.
func (r *Registry) ProvidersFor(command string) []provider.Adapter {
	entries := r.byCommand[command]
	out := make([]provider.Adapter, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.adapter)
	}
	return out
}

// Priority returns the position of a provider in a command's eligible list,
// used as the tie-break when merging multi-provider results.
func (r *Registry) Priority(command, providerName string) int {
	for i, e := range r.byCommand[command] {
		if strings.EqualFold(e.adapter.Name(), providerName) {
			return i
		}
	}
	return len(r.byCommand[command])
}

// DefaultProvider returns the first eligible adapter for a command.
func (r *Registry) DefaultProvider(command string) (provider.Adapter, bool) {
	entries := r.byCommand[command]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0].adapter, true
}

// Adapter looks up an installed adapter by provider name.
func (r *Registry) Adapter(name string) (provider.Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(name)]
	return a, ok
}

// Commands returns every command with at least one binding, sorted.
func (r *Registry) Commands() []string {
	out := make([]string, 0, len(r.byCommand))
	for cmd := range r.byCommand {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}
