// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/quantfeed/quantfeed/internal/dispatch"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/schema"
)

// reservedParams are transport-level parameters stripped before the query
// reaches the schema layer.
var reservedParams = map[string]bool{
	"provider":   true,
	"compare":    true,
	"timeout_ms": true,
}

// RouteDescriptor describes one generated route for surface discovery.
type RouteDescriptor struct {
	Path        string            `json:"path"`
	Method      string            `json:"method"`
	QuerySchema string            `json:"query_schema"`
	DataSchema  string            `json:"data_schema"`
	Providers   []string          `json:"providers"`
	Unavailable bool              `json:"unavailable,omitempty"`
	Streamable  bool              `json:"streamable,omitempty"`
	Fields      []FieldDescriptor `json:"fields"`
}

// FieldDescriptor describes one query parameter of a route.
type FieldDescriptor struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Required  bool     `json:"required,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// Generate walks the snapshot's command tree and emits one route descriptor
// per leaf, in deterministic path order.
func Generate(snap *dispatch.Snapshot) []RouteDescriptor {
	var out []RouteDescriptor
	snap.Router.Walk(func(leaf *router.Leaf) {
		fields := make([]FieldDescriptor, 0, len(leaf.Query.Fields))
		for _, f := range leaf.Query.Fields {
			fields = append(fields, FieldDescriptor{
				Name:      f.Name,
				Type:      string(f.Kind),
				Required:  f.Required,
				Providers: f.Providers,
			})
		}
		out = append(out, RouteDescriptor{
			Path:        "/api/v1" + leaf.Path,
			Method:      http.MethodGet,
			QuerySchema: leaf.Query.Name,
			DataSchema:  leaf.Data.Name,
			Providers:   leaf.Providers,
			Unavailable: leaf.Unavailable,
			Streamable:  leaf.Streamable,
			Fields:      fields,
		})
	})
	return out
}

// handleCommands serves the generated surface description.
func (s *Server) handleCommands(c *gin.Context) {
	snap := s.snapshot.Load()
	c.JSON(http.StatusOK, gin.H{
		"snapshot_version": snap.Version,
		"routes":           Generate(snap),
	})
}

// handleCommand dispatches one command request. The snapshot is captured
// once here; everything after runs against that snapshot even if a reload
// swaps in a new one mid-request.
func (s *Server) handleCommand(c *gin.Context) {
	snap := s.snapshot.Load()
	identity := identityFrom(c)
	path := c.Param("path")

	params, opts, err := bindRequest(c)
	if err != nil {
		apiError(c, err)
		return
	}

	env, err := s.engine.Dispatch(c.Request.Context(), snap, identity, path, params, opts)
	if err != nil {
		logRequestError(c, path, err)
		apiError(c, err)
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		apiError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

// bindRequest collects canonical query parameters from the URL query and an
// optional JSON body, plus the dispatch options from reserved parameters.
func bindRequest(c *gin.Context) (map[string]string, dispatch.Options, error) {
	params := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		params[key] = values[0]
	}

	if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, dispatch.Options{}, &schema.SchemaValidationError{
				Field: "(body)", Expected: "json object", Got: err.Error(),
			}
		}
		for key, value := range body {
			if reservedParams[key] {
				continue
			}
			switch v := value.(type) {
			case string:
				params[key] = v
			default:
				raw, _ := json.Marshal(v)
				params[key] = strings.Trim(string(raw), `"`)
			}
		}
	}

	opts := dispatch.Options{Provider: c.Query("provider")}
	if compare := c.Query("compare"); compare != "" {
		for _, name := range strings.Split(compare, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.Compare = append(opts.Compare, name)
			}
		}
	}
	if raw := c.Query("timeout_ms"); raw != "" {
		if d, err := time.ParseDuration(raw + "ms"); err == nil && d > 0 {
			opts.Timeout = d
		}
	}
	return params, opts, nil
}
