// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

/*
Package middleware provides HTTP middleware for the admin API.

Key Components:

  - Request ID: UUID-based request tracking, integrated with internal/logging's
    correlation ID propagation
  - Prometheus Metrics: per-route request count/latency instrumentation via
    metrics.Sink

Both components use the standard func(http.Handler) http.Handler signature,
so they compose directly into a go-chi/chi/v5 middleware stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.With(middleware.Metrics(sink, "/api/v1/checkpoints")).Get("/", handler)

Usage Example - Request ID:

	r.Use(middleware.RequestID)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Usage Example - Metrics:

	// path identifies the route pattern, not the raw URL (which would blow
	// up cardinality on path parameters like message IDs)
	r.With(middleware.Metrics(sink, "/api/v1/dead-letter/outbox")).
	    Get("/outbox", handler)

Thread Safety:

Both middleware are safe for concurrent use:
  - Request ID uses context.Context (immutable)
  - Metrics delegates to metrics.Sink, whose implementations are safe for
    concurrent use

See Also:

  - internal/adminapi: the HTTP handlers wrapped by this middleware
  - internal/metrics: Sink definitions and the Prometheus implementation
*/
package middleware
