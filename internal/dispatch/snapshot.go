// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"time"

	"github.com/quantfeed/quantfeed/internal/registry"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/rules"
)

// Snapshot is an immutable point-in-time view of the command tree, provider
// registry and preference rules. Reloads build a fresh snapshot and swap it
// atomically; requests keep the snapshot they started with, so an old
// snapshot stays valid until its last request completes.
type Snapshot struct {
	// Version increases monotonically across reloads.
	Version int64
	// BuiltAt records when the snapshot was assembled.
	BuiltAt time.Time

	Router   *router.Router
	Registry *registry.Registry
	Rules    *rules.Engine
}

// NewSnapshot assembles a snapshot. The registry must already be frozen.
func NewSnapshot(version int64, r *router.Router, reg *registry.Registry, eng *rules.Engine) *Snapshot {
	return &Snapshot{
		Version:  version,
		BuiltAt:  time.Now(),
		Router:   r,
		Registry: reg,
		Rules:    eng,
	}
}
