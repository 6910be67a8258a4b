// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestWebsocket_SubscribeAndStream(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteJSON(wsRequest{
		Action:     "subscribe",
		ID:         "sub-1",
		Path:       "/equity/quote",
		Params:     map[string]string{"symbol": "AAPL"},
		IntervalMS: 600,
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, "subscribed", frame.Type)
	assert.Equal(t, "sub-1", frame.ID)

	frame = readFrame(t, conn)
	require.Equal(t, "data", frame.Type, "error: %s", frame.Error)
	require.NotNil(t, frame.Envelope)
	assert.Equal(t, "alpha", frame.Envelope.Provider)
	assert.Len(t, frame.Envelope.Data, 1)

	require.NoError(t, conn.WriteJSON(wsRequest{Action: "unsubscribe", ID: "sub-1"}))
	for {
		frame = readFrame(t, conn)
		if frame.Type == "unsubscribed" {
			break
		}
		// data frames already in flight are fine
		require.Equal(t, "data", frame.Type)
	}
}

func TestWebsocket_UnknownPath(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteJSON(wsRequest{
		Action: "subscribe", ID: "sub-1", Path: "/equity/nope",
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Contains(t, frame.Error, "command not found")
}

func TestWebsocket_Ping(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteJSON(wsRequest{Action: "ping", ID: "p1"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame.Type)
	assert.Equal(t, "p1", frame.ID)
}

func TestWebsocket_MalformedFrame(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
}
