// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package adminapi exposes a small operator-facing HTTP surface over the
// outbox/inbox dead-letter tables and perspective checkpoints: list and
// retry dead-lettered rows, inspect and force-advance a stuck checkpoint.
// It is deliberately narrow — it does not replicate a full user-facing
// auth/session stack, only bearer-token + RBAC gating proportionate to
// an internal operator tool.
package adminapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/middleware"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// Store is the subset of *store.Store the admin API reads from and
// mutates. Defined here, rather than depending on *store.Store
// directly, so handlers can be exercised in tests against a fake
// without a real DuckDB file.
type Store interface {
	ListDeadLetterOutbox(ctx context.Context, limit, offset int) ([]store.DeadLetterRow, error)
	ListDeadLetterInbox(ctx context.Context, limit, offset int) ([]store.DeadLetterRow, error)
	RetryDeadLetterOutbox(ctx context.Context, messageId string) error
	RetryDeadLetterInbox(ctx context.Context, messageId string) error
	ListCheckpoints(ctx context.Context, streamId string) ([]store.CheckpointRow, error)
	ForceAdvanceCheckpoint(ctx context.Context, streamId, perspectiveName, lastEventId string, lastSequenceNumber int64) error
}

var _ Store = (*store.Store)(nil)

// routes builds the chi router: public login endpoint, then bearer-auth
// and RBAC-gated dead-letter/checkpoint endpoints, then the swagger UI.
func (s *Server) routes(cfg config.AdminAPIConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(cfg))
	r.Use(rateLimitMiddleware(cfg))

	r.With(middleware.Metrics(s.sink, "/api/v1/login")).Post("/api/v1/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.jwtManager))

		r.Route("/api/v1/dead-letter", func(r chi.Router) {
			r.With(requireRole(s.enforcer, "/api/v1/dead-letter/*", "read"), middleware.Metrics(s.sink, "/api/v1/dead-letter/outbox")).
				Get("/outbox", s.handleListDeadLetterOutbox)
			r.With(requireRole(s.enforcer, "/api/v1/dead-letter/*", "read"), middleware.Metrics(s.sink, "/api/v1/dead-letter/inbox")).
				Get("/inbox", s.handleListDeadLetterInbox)
			r.With(requireRole(s.enforcer, "/api/v1/dead-letter/*", "write"), middleware.Metrics(s.sink, "/api/v1/dead-letter/outbox/retry")).
				Post("/outbox/{messageId}/retry", s.handleRetryDeadLetterOutbox)
			r.With(requireRole(s.enforcer, "/api/v1/dead-letter/*", "write"), middleware.Metrics(s.sink, "/api/v1/dead-letter/inbox/retry")).
				Post("/inbox/{messageId}/retry", s.handleRetryDeadLetterInbox)
		})

		r.Route("/api/v1/checkpoints", func(r chi.Router) {
			r.With(requireRole(s.enforcer, "/api/v1/checkpoints/*", "read"), middleware.Metrics(s.sink, "/api/v1/checkpoints")).
				Get("/", s.handleListCheckpoints)
			r.With(requireRole(s.enforcer, "/api/v1/checkpoints/*", "write"), middleware.Metrics(s.sink, "/api/v1/checkpoints/advance")).
				Post("/{streamId}/{perspective}/advance", s.handleForceAdvanceCheckpoint)
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	return r
}
