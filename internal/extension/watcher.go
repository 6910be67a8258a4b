// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extension

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/dispatch"
)

// debounceWindow coalesces bursts of filesystem events (editors write
// manifests in several operations) into one rebuild.
const debounceWindow = 300 * time.Millisecond

// Watcher rebuilds the snapshot when extension manifests change and hands
// the fresh snapshot to the swap callback. A failed rebuild keeps the
// current snapshot serving: reload errors are logged, never propagated into
// request handling.
type Watcher struct {
	loader *Loader
	dir    string
	swap   func(*dispatch.Snapshot)
}

// NewWatcher wires a watcher over the extensions directory.
func NewWatcher(loader *Loader, dir string, swap func(*dispatch.Snapshot)) *Watcher {
	return &Watcher{loader: loader, dir: dir, swap: swap}
}

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	log.WithField("dir", w.dir).Info("watching extensions for reload")

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("extension watcher error: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	snap, err := w.loader.BuildDir(w.dir)
	if err != nil {
		log.Errorf("extension reload failed, keeping current snapshot: %v", err)
		return
	}
	w.swap(snap)
	log.WithField("version", snap.Version).Info("extension snapshot swapped")
}
