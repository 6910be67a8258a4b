// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/access"
	"github.com/quantfeed/quantfeed/internal/dispatch"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second

	// minStreamInterval floors subscription polling so a client cannot turn
	// one socket into a request flood against upstream providers.
	minStreamInterval = 500 * time.Millisecond
	defaultInterval   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsRequest is one client frame on the stream channel.
type wsRequest struct {
	Action     string            `json:"action"` // subscribe | unsubscribe | ping
	ID         string            `json:"id"`
	Path       string            `json:"path"`
	Params     map[string]string `json:"params"`
	Provider   string            `json:"provider"`
	IntervalMS int               `json:"interval_ms"`
}

// wsFrame is one server frame: either a data envelope for a subscription or
// a control acknowledgement/error.
type wsFrame struct {
	ID       string                     `json:"id,omitempty"`
	Type     string                     `json:"type"` // data | subscribed | unsubscribed | error | pong
	Error    string                     `json:"error,omitempty"`
	Envelope *dispatch.ResponseEnvelope `json:"envelope,omitempty"`
}

// wsSession owns one socket: a single writer goroutine drains the outbound
// channel so subscription pollers never interleave writes.
type wsSession struct {
	conn *websocket.Conn
	out  chan wsFrame

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		conn: conn,
		out:  make(chan wsFrame, 32),
		subs: make(map[string]context.CancelFunc),
	}
}

func (ws *wsSession) enqueue(frame wsFrame) {
	select {
	case ws.out <- frame:
	default:
		log.Warn("websocket outbound queue full, dropping frame")
	}
}

func (ws *wsSession) cancel(id string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	stop, ok := ws.subs[id]
	if ok {
		stop()
		delete(ws.subs, id)
	}
	return ok
}

func (ws *wsSession) cancelAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, stop := range ws.subs {
		stop()
		delete(ws.subs, id)
	}
}

// handleWebsocket serves the streaming channel. Each subscription polls its
// command at the requested interval against the snapshot captured when the
// subscription was opened.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	identity := identityFrom(c)
	session := newWSSession(conn)
	defer session.cancelAll()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go s.wsWritePump(ctx, cancel, session)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("websocket closed: %v", err)
			}
			return
		}
		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			session.enqueue(wsFrame{Type: "error", Error: "malformed frame: " + err.Error()})
			continue
		}
		s.wsDispatch(ctx, session, identity, req)
	}
}

func (s *Server) wsDispatch(ctx context.Context, session *wsSession, identity *access.Identity, req wsRequest) {
	switch req.Action {
	case "ping":
		session.enqueue(wsFrame{Type: "pong", ID: req.ID})
	case "unsubscribe":
		if session.cancel(req.ID) {
			session.enqueue(wsFrame{Type: "unsubscribed", ID: req.ID})
		} else {
			session.enqueue(wsFrame{Type: "error", ID: req.ID, Error: "unknown subscription"})
		}
	case "subscribe":
		s.wsSubscribe(ctx, session, identity, req)
	default:
		session.enqueue(wsFrame{Type: "error", ID: req.ID, Error: "unknown action " + req.Action})
	}
}

func (s *Server) wsSubscribe(ctx context.Context, session *wsSession, identity *access.Identity, req wsRequest) {
	if req.ID == "" {
		session.enqueue(wsFrame{Type: "error", Error: "subscribe requires an id"})
		return
	}

	snap := s.snapshot.Load()
	node, err := snap.Router.Resolve(req.Path)
	if err != nil {
		session.enqueue(wsFrame{Type: "error", ID: req.ID, Error: err.Error()})
		return
	}
	if !node.Leaf.Streamable {
		session.enqueue(wsFrame{Type: "error", ID: req.ID, Error: "command is not streamable: " + req.Path})
		return
	}

	interval := defaultInterval
	if req.IntervalMS > 0 {
		interval = time.Duration(req.IntervalMS) * time.Millisecond
	}
	if interval < minStreamInterval {
		interval = minStreamInterval
	}

	subCtx, stop := context.WithCancel(ctx)
	session.mu.Lock()
	if prev, ok := session.subs[req.ID]; ok {
		prev()
	}
	session.subs[req.ID] = stop
	session.mu.Unlock()

	session.enqueue(wsFrame{Type: "subscribed", ID: req.ID})
	go s.wsPoll(subCtx, session, snap, identity, req, interval)
}

// wsPoll runs one subscription loop. Transient provider errors surface as
// error frames and the loop keeps going; only context cancellation ends it.
func (s *Server) wsPoll(ctx context.Context, session *wsSession, snap *dispatch.Snapshot, identity *access.Identity, req wsRequest, interval time.Duration) {
	opts := dispatch.Options{Provider: req.Provider}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		env, err := s.engine.Dispatch(ctx, snap, identity, req.Path, req.Params, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			session.enqueue(wsFrame{Type: "error", ID: req.ID, Error: err.Error()})
		} else {
			session.enqueue(wsFrame{Type: "data", ID: req.ID, Envelope: env})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) wsWritePump(ctx context.Context, cancel context.CancelFunc, session *wsSession) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-session.out:
			payload, err := json.Marshal(frame)
			if err != nil {
				log.Warnf("websocket frame marshal failed: %v", err)
				continue
			}
			_ = session.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := session.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = session.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := session.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
