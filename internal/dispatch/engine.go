// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch executes one logical query against one or more provider
// adapters. The engine is a state machine: RESOLVING, AUTHORIZING,
// SELECTING_PROVIDER, FETCHING, VALIDATING, DONE, with FAILED reachable from
// any state. Default policy is first-eligible-succeeds with automatic
// fallback on transport failures and schema violations; pinning a provider
// disables fallback; comparison mode fans out concurrently and merges.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/access"
	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/rules"
	"github.com/quantfeed/quantfeed/internal/schema"
)

// State names one phase of a dispatch.
type State string

const (
	StateResolving   State = "RESOLVING"
	StateAuthorizing State = "AUTHORIZING"
	StateSelecting   State = "SELECTING_PROVIDER"
	StateFetching    State = "FETCHING"
	StateValidating  State = "VALIDATING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

const defaultFetchTimeout = 30 * time.Second

// Options customize one dispatch.
type Options struct {
	// Provider pins the dispatch to one provider; fallback is disabled and
	// any failure is terminal.
	Provider string
	// Compare names providers to query concurrently. Results are validated
	// independently, partial failures become warnings, and records merge in
	// deterministic order. Mutually exclusive with Provider.
	Compare []string
	// Timeout bounds each provider fetch. Zero uses the engine default.
	Timeout time.Duration
}

// Engine dispatches canonical queries against provider adapters. It holds no
// per-request state; all mutable inputs arrive as arguments, so one engine
// serves concurrent requests against different snapshots.
type Engine struct {
	creds        *credstore.Store
	maxAttempts  int
	fetchTimeout time.Duration
}

// NewEngine builds a dispatch engine. maxAttempts bounds fallback; zero
// means "as many attempts as there are eligible providers".
func NewEngine(creds *credstore.Store, maxAttempts int, fetchTimeout time.Duration) *Engine {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Engine{creds: creds, maxAttempts: maxAttempts, fetchTimeout: fetchTimeout}
}

// Dispatch runs one logical query through the state machine and returns the
// response envelope. Cancellation of ctx aborts outstanding fetches for this
// request only.
func (e *Engine) Dispatch(ctx context.Context, snap *Snapshot, identity *access.Identity,
	path string, params map[string]string, opts Options) (*ResponseEnvelope, error) {

	started := time.Now()
	requestID := newRequestID()
	logger := log.WithFields(log.Fields{"request_id": requestID, "command": router.Normalize(path)})

	fail := func(state State, err error) (*ResponseEnvelope, error) {
		logger.WithField("state", string(state)).Debugf("dispatch failed: %v", err)
		return nil, err
	}

	// RESOLVING
	node, err := snap.Router.Resolve(path)
	if err != nil {
		return fail(StateResolving, err)
	}
	leaf := node.Leaf
	if leaf.Unavailable {
		return fail(StateResolving, &CommandUnavailableError{Command: leaf.Path})
	}

	query, err := schema.NewQuery(leaf.Query, params)
	if err != nil {
		return fail(StateResolving, err)
	}

	// AUTHORIZING
	if identity == nil {
		return fail(StateAuthorizing, &provider.AuthenticationError{Reason: "no identity attached to request"})
	}

	// SELECTING_PROVIDER
	eligible, warnings, err := e.selectProviders(snap, identity, leaf, query, opts)
	if err != nil {
		return fail(StateSelecting, err)
	}

	if len(opts.Compare) > 0 {
		return e.compare(ctx, snap, leaf, query, eligible, warnings, started, requestID, opts)
	}

	maxAttempts := e.maxAttempts
	if maxAttempts <= 0 || maxAttempts > len(eligible) {
		maxAttempts = len(eligible)
	}
	if opts.Provider != "" {
		maxAttempts = 1
	}

	var failures []ProviderFailure
	attempts := 0
	for _, adapter := range eligible[:maxAttempts] {
		attempts++
		records, err := e.tryProvider(ctx, leaf, adapter, query, opts.Timeout)
		if err == nil {
			env := e.envelope(leaf, records, adapter.Name(), warnings, started, attempts, requestID, snap.Version)
			logger.WithFields(log.Fields{"provider": adapter.Name(), "records": len(records)}).
				Debug("dispatch done")
			return env, nil
		}

		if terminal(err) || opts.Provider != "" {
			return fail(classify(err), err)
		}
		// ProviderUnavailableError and SchemaValidationError trigger fallback.
		warnings = append(warnings, warnf(adapter.Name(), err))
		failures = append(failures, ProviderFailure{Provider: adapter.Name(), Err: err})
		logger.WithField("provider", adapter.Name()).Debugf("falling back: %v", err)

		if ctx.Err() != nil {
			return fail(StateFetching, ctx.Err())
		}
	}
	return fail(StateFetching, &AggregateError{Command: leaf.Path, Failures: failures})
}

// selectProviders produces the ordered eligible adapter list for this
// request: registry order, reordered by matching preference rules, filtered
// by the identity's provider scope and the query's per-provider field
// support. Pinning and comparison narrow the list further.
func (e *Engine) selectProviders(snap *Snapshot, identity *access.Identity, leaf *router.Leaf,
	query *schema.Query, opts Options) ([]provider.Adapter, []string, error) {

	ordered := snap.Registry.ProvidersFor(leaf.Path)
	if preferred := snap.Rules.Preferred(rules.Context{
		Command: leaf.Path,
		Subject: identity.Subject,
		Hour:    time.Now().Hour(),
	}); len(preferred) > 0 {
		ordered = reorder(ordered, preferred)
	}

	var warnings []string
	var unsupported []string
	filtered := ordered[:0:0]
	for _, a := range ordered {
		if !identity.AllowsProvider(a.Name()) {
			continue
		}
		if rejected := query.Unsupported(a.Name()); len(rejected) > 0 {
			unsupported = append(unsupported, a.Name())
			warnings = append(warnings, warnf(a.Name(),
				&provider.UnsupportedParameterError{Provider: a.Name(), Field: rejected[0]}))
			continue
		}
		filtered = append(filtered, a)
	}

	if opts.Provider != "" {
		for _, a := range filtered {
			if strings.EqualFold(a.Name(), opts.Provider) {
				return []provider.Adapter{a}, nil, nil
			}
		}
		if _, installed := snap.Registry.Adapter(opts.Provider); installed && !identity.AllowsProvider(opts.Provider) {
			return nil, nil, &provider.AuthenticationError{
				Provider: opts.Provider,
				Reason:   "caller identity does not allow this provider",
			}
		}
		for _, name := range unsupported {
			if strings.EqualFold(name, opts.Provider) {
				return nil, nil, &provider.UnsupportedParameterError{
					Provider: opts.Provider,
					Field:    query.Unsupported(opts.Provider)[0],
				}
			}
		}
		return nil, nil, &ProviderNotEligibleError{Provider: opts.Provider, Command: leaf.Path}
	}

	if len(opts.Compare) > 0 {
		var picked []provider.Adapter
		for _, name := range opts.Compare {
			found := false
			for _, a := range filtered {
				if strings.EqualFold(a.Name(), name) {
					picked = append(picked, a)
					found = true
					break
				}
			}
			if !found {
				return nil, nil, &ProviderNotEligibleError{Provider: name, Command: leaf.Path}
			}
		}
		return picked, warnings, nil
	}

	if len(filtered) == 0 {
		if len(unsupported) > 0 {
			// Every eligible provider rejected a query field: caller error.
			first := unsupported[0]
			return nil, nil, &provider.UnsupportedParameterError{
				Provider: first,
				Field:    query.Unsupported(first)[0],
			}
		}
		return nil, nil, &CommandUnavailableError{Command: leaf.Path}
	}
	return filtered, warnings, nil
}

// tryProvider runs FETCHING and VALIDATING for one adapter.
func (e *Engine) tryProvider(ctx context.Context, leaf *router.Leaf, adapter provider.Adapter,
	query *schema.Query, timeout time.Duration) ([]*schema.Record, error) {

	creds, err := e.creds.ForProvider(adapter.Name(), adapter.RequiredCredentials())
	if err != nil {
		// Unresolvable credentials make the provider unusable for this
		// request; fallback may still find a configured one.
		return nil, &provider.ProviderUnavailableError{Provider: adapter.Name(), Err: err}
	}
	if creds["token_url"] != "" {
		token, err := e.creds.BearerToken(ctx, adapter.Name(), creds)
		if err != nil {
			return nil, &provider.AuthenticationError{Provider: adapter.Name(), Reason: err.Error()}
		}
		creds["bearer_token"] = token
	}

	req, err := adapter.BuildRequest(leaf.Path, query)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = e.fetchTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// FETCHING: the suspension point.
	raw, err := adapter.Fetch(fetchCtx, req, creds)
	if err != nil {
		return nil, err
	}

	// VALIDATING: schema failure here is a contract violation, never retried
	// against the same provider. The leaf's spec is snapshot-owned, so a
	// reload never changes what an in-flight request validates against.
	return adapter.Parse(leaf.Path, leaf.Data, raw)
}

// compare fans out to the requested providers concurrently, validates each
// result independently and merges records deterministically.
func (e *Engine) compare(ctx context.Context, snap *Snapshot, leaf *router.Leaf, query *schema.Query,
	adapters []provider.Adapter, warnings []string, started time.Time, requestID string, opts Options) (*ResponseEnvelope, error) {

	type result struct {
		name     string
		priority int
		records  []*schema.Record
		err      error
	}
	results := make([]result, len(adapters))

	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(i int, adapter provider.Adapter) {
			defer wg.Done()
			records, err := e.tryProvider(ctx, leaf, adapter, query, opts.Timeout)
			results[i] = result{
				name:     adapter.Name(),
				priority: snap.Registry.Priority(leaf.Path, adapter.Name()),
				records:  records,
				err:      err,
			}
		}(i, adapter)
	}
	wg.Wait()

	type keyed struct {
		rec      *schema.Record
		priority int
		order    int
	}
	var merged []keyed
	var succeeded []string
	var failures []ProviderFailure
	for _, res := range results {
		if res.err != nil {
			warnings = append(warnings, warnf(res.name, res.err))
			failures = append(failures, ProviderFailure{Provider: res.name, Err: res.err})
			continue
		}
		succeeded = append(succeeded, res.name)
		for order, rec := range res.records {
			merged = append(merged, keyed{rec: rec, priority: res.priority, order: order})
		}
	}

	if len(succeeded) == 0 {
		return nil, &AggregateError{Command: leaf.Path, Failures: failures}
	}

	// Canonical sort: primary key first, then declared provider priority.
	// No provider's record overwrites another's; overlapping entities sit
	// adjacent in the output.
	sort.SliceStable(merged, func(i, j int) bool {
		if c := schema.CompareValues(merged[i].rec.Key(), merged[j].rec.Key()); c != 0 {
			return c < 0
		}
		if merged[i].priority != merged[j].priority {
			return merged[i].priority < merged[j].priority
		}
		return merged[i].order < merged[j].order
	})

	records := make([]*schema.Record, len(merged))
	for i, k := range merged {
		records[i] = k.rec
	}
	env := e.envelope(leaf, records, strings.Join(succeeded, ","), warnings, started, len(adapters), requestID, snap.Version)
	return env, nil
}

func (e *Engine) envelope(leaf *router.Leaf, records []*schema.Record, providerName string,
	warnings []string, started time.Time, attempts int, requestID string, version int64) *ResponseEnvelope {

	extra := 0
	for _, rec := range records {
		extra += rec.ExtraCount()
	}
	if warnings == nil {
		warnings = []string{}
	}
	return &ResponseEnvelope{
		Data:     records,
		Provider: providerName,
		Warnings: warnings,
		Metadata: Metadata{
			RequestID:       requestID,
			Command:         leaf.Path,
			DurationMS:      time.Since(started).Milliseconds(),
			Attempts:        attempts,
			ExtraCount:      extra,
			SnapshotVersion: version,
		},
		Chart: chartHints(leaf),
	}
}

// terminal reports errors that must not trigger fallback.
func terminal(err error) bool {
	var authErr *provider.AuthenticationError
	var unsupported *provider.UnsupportedParameterError
	return errors.As(err, &authErr) || errors.As(err, &unsupported) || errors.Is(err, context.Canceled)
}

func classify(err error) State {
	var schemaErr *schema.SchemaValidationError
	if errors.As(err, &schemaErr) {
		return StateValidating
	}
	var authErr *provider.AuthenticationError
	if errors.As(err, &authErr) {
		return StateAuthorizing
	}
	return StateFetching
}

// reorder applies a preferred provider order ahead of the registry order,
// keeping unlisted providers in their original relative positions.
func reorder(adapters []provider.Adapter, preferred []string) []provider.Adapter {
	rank := func(name string) int {
		for i, p := range preferred {
			if strings.EqualFold(p, name) {
				return i
			}
		}
		return len(preferred)
	}
	out := append([]provider.Adapter(nil), adapters...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Name()) < rank(out[j].Name())
	})
	return out
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
