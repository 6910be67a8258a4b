// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/quantfeed/internal/schema"
)

func testLeaf(query, data string, providers ...string) *Leaf {
	return &Leaf{
		Query:     &schema.QuerySpec{Name: query},
		Data:      &schema.DataSpec{Name: data},
		Providers: providers,
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPath("/equity/price/historical", testLeaf("Q", "D", "fmp")))

	node, err := r.Resolve("/equity/price/historical")
	require.NoError(t, err)
	assert.Equal(t, "/equity/price/historical", node.Leaf.Path)

	// Paths normalize: case and surrounding slashes are irrelevant.
	node, err = r.Resolve("Equity/Price/Historical/")
	require.NoError(t, err)
	assert.Equal(t, "/equity/price/historical", node.Leaf.Path)
}

func TestResolve_NotFound(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPath("/equity/quote", testLeaf("Q", "D", "fmp")))

	_, err := r.Resolve("/equity/nope")
	var notFound *CommandNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "/equity/nope", notFound.Path)

	// An intermediate namespace node is not a command.
	_, err = r.Resolve("/equity")
	assert.ErrorAs(t, err, &notFound)
}

func TestRegisterPath_MergesIdenticalSchemas(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPath("/equity/quote", testLeaf("Q", "D", "fmp")))
	require.NoError(t, r.RegisterPath("/equity/quote", testLeaf("Q", "D", "polygon", "fmp")))

	node, err := r.Resolve("/equity/quote")
	require.NoError(t, err)
	assert.Equal(t, []string{"fmp", "polygon"}, node.Leaf.Providers)
}

func TestRegisterPath_SchemaConflict(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPath("/equity/quote", testLeaf("Q", "D", "fmp")))

	err := r.RegisterPath("/equity/quote", testLeaf("OtherQ", "D", "polygon"))
	var conflict *ConflictingRouteError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "/equity/quote", conflict.Path)
}

func TestRegisterPath_NamespaceConflict(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPath("/equity/price/historical", testLeaf("Q", "D", "fmp")))

	err := r.RegisterPath("/equity/price", testLeaf("Q2", "D2", "fmp"))
	var conflict *ConflictingRouteError
	assert.ErrorAs(t, err, &conflict)
}

func TestWalk_DeterministicOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterPath("/equity/quote", testLeaf("Q", "D", "fmp")))
	require.NoError(t, r.RegisterPath("/crypto/price/historical", testLeaf("Q2", "D2", "x")))
	require.NoError(t, r.RegisterPath("/equity/price/historical", testLeaf("Q3", "D3", "fmp")))

	var paths []string
	r.Walk(func(leaf *Leaf) { paths = append(paths, leaf.Path) })
	assert.Equal(t, []string{
		"/crypto/price/historical",
		"/equity/price/historical",
		"/equity/quote",
	}, paths)

	assert.Len(t, r.Leaves(), 3)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "/equity/quote", Normalize("Equity//Quote/"))
	assert.Equal(t, "/equity/quote", Normalize(" /equity/quote"))
}
