// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router builds the hierarchical command namespace mapping paths like
// /equity/price/historical onto canonical operation signatures. The tree is
// built once from the union of all extension manifests and is read-only while
// serving; reloads rebuild it wholesale and swap the snapshot.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantfeed/quantfeed/internal/schema"
)

// CommandNotFoundError reports a path with no registered leaf.
type CommandNotFoundError struct {
	Path string
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("command not found: %s", e.Path)
}

// ConflictingRouteError reports two extensions declaring the same path with
// incompatible Query/Data schemas. Fatal to startup.
type ConflictingRouteError struct {
	Path   string
	Reason string
}

func (e *ConflictingRouteError) Error() string {
	return fmt.Sprintf("conflicting route %s: %s", e.Path, e.Reason)
}

// Leaf is the canonical operation signature attached to a leaf node.
type Leaf struct {
	// Path is the full command path.
	Path string
	// Query is the canonical input schema.
	Query *schema.QuerySpec
	// Data is the canonical output schema.
	Data *schema.DataSpec
	// Providers lists eligible provider names in registry order.
	Providers []string
	// Unavailable marks leaves with no eligible provider. They stay in the
	// tree so the surface can report them, but dispatch rejects them.
	Unavailable bool
	// Streamable marks commands subscribable over the WebSocket channel.
	Streamable bool
}

// CommandNode is one path segment: either an intermediate namespace node
// with children or a leaf holding the operation signature.
type CommandNode struct {
	Segment  string
	Children map[string]*CommandNode
	Leaf     *Leaf
}

// Router is the command path tree.
type Router struct {
	root *CommandNode
}

// New creates an empty command tree.
func New() *Router {
	return &Router{root: &CommandNode{Children: make(map[string]*CommandNode)}}
}

// Normalize canonicalizes a command path to /seg/seg form.
func Normalize(path string) string {
	parts := splitPath(path)
	return "/" + strings.Join(parts, "/")
}

func splitPath(path string) []string {
	raw := strings.Split(strings.Trim(strings.TrimSpace(path), "/"), "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, strings.ToLower(p))
		}
	}
	return parts
}

// RegisterPath attaches a leaf at the given path, creating intermediate
// nodes as needed. A second leaf at the same path is a deterministic merge:
// identical schema names merge provider lists; anything else conflicts.
func (r *Router) RegisterPath(path string, leaf *Leaf) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return &ConflictingRouteError{Path: path, Reason: "empty path"}
	}
	node := r.root
	for _, part := range parts {
		child, ok := node.Children[part]
		if !ok {
			child = &CommandNode{Segment: part, Children: make(map[string]*CommandNode)}
			node.Children[part] = child
		}
		node = child
	}
	leaf.Path = Normalize(path)

	if node.Leaf == nil {
		if len(node.Children) > 0 {
			return &ConflictingRouteError{Path: leaf.Path, Reason: "path is already a namespace"}
		}
		node.Leaf = leaf
		return nil
	}

	existing := node.Leaf
	if existing.Query.Name != leaf.Query.Name || existing.Data.Name != leaf.Data.Name {
		return &ConflictingRouteError{
			Path: leaf.Path,
			Reason: fmt.Sprintf("schema mismatch: %s/%s vs %s/%s",
				existing.Query.Name, existing.Data.Name, leaf.Query.Name, leaf.Data.Name),
		}
	}
	existing.Providers = mergeProviders(existing.Providers, leaf.Providers)
	existing.Unavailable = len(existing.Providers) == 0
	existing.Streamable = existing.Streamable || leaf.Streamable
	return nil
}

func mergeProviders(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, p := range a {
		seen[strings.ToLower(p)] = true
	}
	for _, p := range b {
		if !seen[strings.ToLower(p)] {
			out = append(out, p)
			seen[strings.ToLower(p)] = true
		}
	}
	return out
}

// Resolve walks the tree to the leaf at path.
func (r *Router) Resolve(path string) (*CommandNode, error) {
	parts := splitPath(path)
	node := r.root
	for _, part := range parts {
		child, ok := node.Children[part]
		if !ok {
			return nil, &CommandNotFoundError{Path: Normalize(path)}
		}
		node = child
	}
	if node.Leaf == nil {
		return nil, &CommandNotFoundError{Path: Normalize(path)}
	}
	return node, nil
}

// Walk visits every leaf in deterministic path order.
func (r *Router) Walk(fn func(leaf *Leaf)) {
	walk(r.root, fn)
}

func walk(node *CommandNode, fn func(leaf *Leaf)) {
	if node.Leaf != nil {
		fn(node.Leaf)
	}
	segments := make([]string, 0, len(node.Children))
	for seg := range node.Children {
		segments = append(segments, seg)
	}
	sort.Strings(segments)
	for _, seg := range segments {
		walk(node.Children[seg], fn)
	}
}

// Leaves returns every leaf in deterministic order.
func (r *Router) Leaves() []*Leaf {
	var out []*Leaf
	r.Walk(func(leaf *Leaf) { out = append(out, leaf) })
	return out
}
