// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/quantfeed/internal/dispatch"
	"github.com/quantfeed/quantfeed/internal/provider"
)

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "equity.yaml", quoteManifest)

	loader := NewLoader(nil, []provider.Adapter{&stubAdapter{}}, nil, nil)
	_, err := loader.BuildDir(dir)
	require.NoError(t, err)

	swapped := make(chan *dispatch.Snapshot, 4)
	watcher := NewWatcher(loader, dir, func(snap *dispatch.Snapshot) { swapped <- snap })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Give fsnotify a moment to attach before mutating the directory.
	time.Sleep(200 * time.Millisecond)
	writeManifest(t, dir, "equity.yaml", quoteManifest)

	select {
	case snap := <-swapped:
		assert.Greater(t, snap.Version, int64(1))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for snapshot swap")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_BrokenManifestKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "equity.yaml", quoteManifest)

	loader := NewLoader(nil, []provider.Adapter{&stubAdapter{}}, nil, nil)
	_, err := loader.BuildDir(dir)
	require.NoError(t, err)

	swapped := make(chan *dispatch.Snapshot, 4)
	watcher := NewWatcher(loader, dir, func(snap *dispatch.Snapshot) { swapped <- snap })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	writeManifest(t, dir, "equity.yaml", `{{nope`)

	select {
	case <-swapped:
		t.Fatal("broken manifest must not swap the snapshot")
	case <-time.After(1 * time.Second):
	}
}
