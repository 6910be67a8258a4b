// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api serves the command tree over HTTP and WebSocket. Route paths
// mirror the command router one-to-one under /api/v1. The active snapshot
// sits behind an atomic pointer: each request captures it once on entry, so
// an extension reload never exposes a half-built tree to in-flight requests.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quantfeed/quantfeed/internal/access"
	"github.com/quantfeed/quantfeed/internal/config"
	"github.com/quantfeed/quantfeed/internal/dispatch"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/schema"
)

const identityKey = "qf-identity"
const requestIDKey = "qf-request-id"

// Server is the HTTP/WebSocket front end over the dispatch engine.
type Server struct {
	cfg      *config.Config
	gate     *access.Gate
	engine   *dispatch.Engine
	snapshot atomic.Pointer[dispatch.Snapshot]

	router  *gin.Engine
	httpSrv *http.Server
}

// New builds the server around an initial snapshot.
func New(cfg *config.Config, gate *access.Gate, engine *dispatch.Engine, initial *dispatch.Snapshot) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, gate: gate, engine: engine}
	s.snapshot.Store(initial)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestIDMiddleware())

	r.GET("/health", s.handleHealth)

	authed := r.Group("/", s.authMiddleware())
	authed.GET("/api/commands", s.handleCommands)
	authed.GET("/api/v1/*path", s.handleCommand)
	authed.POST("/api/v1/*path", s.handleCommand)

	if cfg.WebsocketAuth {
		r.GET("/ws", s.authMiddleware(), s.handleWebsocket)
	} else {
		r.GET("/ws", s.anonymousIdentity(), s.handleWebsocket)
	}

	s.router = r
	return s
}

// Swap atomically replaces the active snapshot. Requests already holding the
// old snapshot finish against it.
func (s *Server) Swap(snap *dispatch.Snapshot) {
	s.snapshot.Store(snap)
}

// Snapshot returns the active snapshot.
func (s *Server) Snapshot() *dispatch.Snapshot {
	return s.snapshot.Load()
}

// Handler exposes the gin engine, used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("quantfeed API listening on %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			if v7, err := uuid.NewV7(); err == nil {
				id = v7.String()
			} else {
				id = uuid.NewString()
			}
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// authMiddleware runs the auth gate before any provider can be contacted.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.gate.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// anonymousIdentity attaches an unrestricted identity for endpoints exempt
// from authentication.
func (s *Server) anonymousIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, &access.Identity{Subject: "anonymous"})
		c.Next()
	}
}

func identityFrom(c *gin.Context) *access.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(*access.Identity); ok {
			return id
		}
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.snapshot.Load()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"snapshot_version": snap.Version,
		"built_at":         snap.BuiltAt.UTC().Format(time.RFC3339),
	})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		notFound    *router.CommandNotFoundError
		unavailable *dispatch.CommandUnavailableError
		authErr     *provider.AuthenticationError
		credErr     *access.InvalidCredentialError
		paramErr    *provider.UnsupportedParameterError
		schemaErr   *schema.SchemaValidationError
		pinErr      *dispatch.ProviderNotEligibleError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &authErr), errors.As(err, &credErr):
		return http.StatusUnauthorized
	case errors.As(err, &paramErr), errors.As(err, &pinErr):
		return http.StatusBadRequest
	case errors.As(err, &schemaErr):
		// Schema failures on transport input are the caller's; failures on
		// provider payloads are upstream contract violations.
		if schemaErr.Provider == "" {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func apiError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(requestIDKey),
	})
}

func logRequestError(c *gin.Context, path string, err error) {
	log.WithFields(log.Fields{
		"request_id": c.GetString(requestIDKey),
		"command":    path,
	}).Warnf("request failed: %v", err)
}
