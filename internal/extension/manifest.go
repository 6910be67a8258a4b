// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package extension loads declarative extension manifests and assembles the
// provider registry and command tree from them. Extensions are YAML files:
// each declares the commands it provides, their canonical Query/Data schemas
// and the provider bindings serving them. Loading happens at startup before
// serving begins; any registration error aborts startup.
package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/quantfeed/quantfeed/internal/schema"
)

// Manifest is one extension's declaration file.
type Manifest struct {
	// Name identifies the extension in logs and errors.
	Name string `yaml:"name"`
	// Commands lists the operations this extension provides.
	Commands []CommandDecl `yaml:"commands"`

	// dir is the manifest's directory, used to resolve script paths.
	dir string
}

// CommandDecl declares one path-addressed operation.
type CommandDecl struct {
	// Path is the command path, e.g. /equity/price/historical.
	Path string `yaml:"path"`
	// Streamable marks the command subscribable over WebSocket.
	Streamable bool `yaml:"streamable"`
	// Query is the canonical input schema.
	Query SchemaDecl `yaml:"query"`
	// Data is the canonical output schema.
	Data SchemaDecl `yaml:"data"`
	// PrimaryKey names the data field used for deterministic ordering.
	PrimaryKey string `yaml:"primary_key"`
	// Providers binds providers to this command.
	Providers []ProviderBinding `yaml:"providers"`
}

// SchemaDecl declares a named field schema.
type SchemaDecl struct {
	Name   string      `yaml:"name"`
	Fields []FieldDecl `yaml:"fields"`
}

// FieldDecl declares one canonical field.
type FieldDecl struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	// Aliases lists provider-side names mapping onto this field, in
	// declaration order.
	Aliases []string `yaml:"aliases"`
	// Providers restricts an optional query field to the providers
	// accepting it.
	Providers []string `yaml:"providers"`
}

// ProviderBinding attaches a provider to a command.
type ProviderBinding struct {
	// Name selects a built-in adapter. Mutually exclusive with Script.
	Name string `yaml:"name"`
	// Script is a Lua provider script path, relative to the manifest.
	Script string `yaml:"script"`
	// Priority orders bindings within the command; lower wins.
	Priority int `yaml:"priority"`
	// Override permits replacing an earlier binding of the same provider.
	Override bool `yaml:"override"`
}

// LoadDir reads every *.yaml/*.yml manifest in dir, sorted by filename so
// declaration order is deterministic across reloads.
func LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("extension: read dir %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	manifests := make([]*Manifest, 0, len(paths))
	for _, path := range paths {
		m, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// LoadFile reads and validates a single manifest.
func LoadFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extension: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("extension: parse %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	m.dir = filepath.Dir(path)
	for i := range m.Commands {
		if err := m.Commands[i].validate(m.Name); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (c *CommandDecl) validate(extName string) error {
	if c.Path == "" {
		return fmt.Errorf("extension %s: command with empty path", extName)
	}
	if len(c.Data.Fields) == 0 {
		return fmt.Errorf("extension %s: command %s declares no data fields", extName, c.Path)
	}
	if c.PrimaryKey != "" {
		found := false
		for _, f := range c.Data.Fields {
			if f.Name == c.PrimaryKey {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("extension %s: command %s primary key %q is not a data field",
				extName, c.Path, c.PrimaryKey)
		}
	}
	for _, b := range c.Providers {
		if b.Name == "" && b.Script == "" {
			return fmt.Errorf("extension %s: command %s has a provider binding with neither name nor script",
				extName, c.Path)
		}
	}
	return nil
}

// querySpec converts the declaration into a canonical query spec.
func (c *CommandDecl) querySpec() (*schema.QuerySpec, error) {
	fields, err := convertFields(c.Query.Fields)
	if err != nil {
		return nil, fmt.Errorf("command %s query: %w", c.Path, err)
	}
	name := c.Query.Name
	if name == "" {
		name = c.Path + ":query"
	}
	return &schema.QuerySpec{Name: name, Fields: fields}, nil
}

// dataSpec converts the declaration into a canonical data spec.
func (c *CommandDecl) dataSpec() (*schema.DataSpec, error) {
	fields, err := convertFields(c.Data.Fields)
	if err != nil {
		return nil, fmt.Errorf("command %s data: %w", c.Path, err)
	}
	name := c.Data.Name
	if name == "" {
		name = c.Path + ":data"
	}
	return &schema.DataSpec{Name: name, PrimaryKey: c.PrimaryKey, Fields: fields}, nil
}

func convertFields(decls []FieldDecl) ([]schema.Field, error) {
	fields := make([]schema.Field, 0, len(decls))
	for _, d := range decls {
		kind, err := schema.ParseKind(d.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", d.Name, err)
		}
		fields = append(fields, schema.Field{
			Name:      d.Name,
			Kind:      kind,
			Required:  d.Required,
			Aliases:   d.Aliases,
			Providers: d.Providers,
		})
	}
	return fields, nil
}
