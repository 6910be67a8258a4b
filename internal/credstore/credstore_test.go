// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package credstore

import (
	"context"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "QF_POLYGON_API_KEY", EnvVar("polygon", "api_key"))
	assert.Equal(t, "QF_MY_FEED_CLIENT_ID", EnvVar("my-feed", "client.id"))
}

func TestForProvider_Configured(t *testing.T) {
	store := NewStore(map[string]map[string]string{
		"fmp": {"API_KEY": "cfg-key"},
	})

	creds, err := store.ForProvider("FMP", []string{"api_key"})
	require.NoError(t, err)
	assert.Equal(t, "cfg-key", creds.APIKey())
}

func TestForProvider_EnvFillsGaps(t *testing.T) {
	t.Setenv("QF_POLYGON_API_KEY", "env-key")
	store := NewStore(nil)

	creds, err := store.ForProvider("polygon", []string{"api_key"})
	require.NoError(t, err)
	assert.Equal(t, "env-key", creds.APIKey())
}

func TestForProvider_ConfigBeatsEnv(t *testing.T) {
	t.Setenv("QF_FMP_API_KEY", "env-key")
	store := NewStore(map[string]map[string]string{
		"fmp": {"api_key": "cfg-key"},
	})

	creds, err := store.ForProvider("fmp", []string{"api_key"})
	require.NoError(t, err)
	assert.Equal(t, "cfg-key", creds.APIKey())
}

func TestForProvider_Missing(t *testing.T) {
	store := NewStore(nil)

	_, err := store.ForProvider("polygon", []string{"api_key"})
	var missing *MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "polygon", missing.Provider)
	assert.Contains(t, missing.Error(), "QF_POLYGON_API_KEY")
}

func TestReplace(t *testing.T) {
	store := NewStore(map[string]map[string]string{
		"fmp": {"api_key": "old"},
	})
	store.Replace(map[string]map[string]string{
		"fmp": {"api_key": "new"},
	})

	creds, err := store.ForProvider("fmp", []string{"api_key"})
	require.NoError(t, err)
	assert.Equal(t, "new", creds.APIKey())
}

func TestBearerToken_NoTokenURL(t *testing.T) {
	store := NewStore(nil)
	token, err := store.BearerToken(context.Background(), "fmp", Credentials{"api_key": "k"})
	require.NoError(t, err)
	assert.Empty(t, token)
}
