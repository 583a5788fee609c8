// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package middleware

import (
	"net/http"
	"time"

	"github.com/tomtom215/workcoordinator/internal/metrics"
)

// Metrics returns middleware that records every admin API request on sink.
// sink is injected by the caller rather than reached through a package
// singleton, so a test host and a production host never share counters.
// path identifies the route pattern (not the raw URL, which would blow up
// cardinality on path parameters like message IDs).
func Metrics(sink metrics.Sink, path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			sink.ObserveAdminAPIRequest(r.Method, path, wrapper.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
