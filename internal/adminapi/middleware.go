// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package adminapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/logging"
)

type contextKey string

const claimsKey contextKey = "adminapi_claims"

// corsMiddleware builds a go-chi/cors handler from AdminAPIConfig, the
// same library the host's own HTTP surface uses.
func corsMiddleware(cfg config.AdminAPIConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// rateLimitMiddleware rate-limits by remote IP via go-chi/httprate.
func rateLimitMiddleware(cfg config.AdminAPIConfig) func(http.Handler) http.Handler {
	reqs := cfg.RateLimitReqs
	window := cfg.RateLimitWindow
	if reqs <= 0 {
		reqs = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return httprate.LimitByIP(reqs, window)
}

// bearerAuth validates the Authorization: Bearer <token> header and
// stashes the parsed Claims in the request context for downstream
// handlers and the RBAC gate.
func bearerAuth(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := jwtManager.ParseToken(token)
			if err != nil {
				logging.Warn().Err(err).Msg("adminapi: rejected bearer token")
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// requireRole gates a handler behind the Casbin enforcer: the caller's
// roles must grant act on object. object/act match policy.csv's rows.
func requireRole(enforcer *Enforcer, object, act string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, "forbidden: no authentication context", http.StatusForbidden)
				return
			}
			allowed, err := enforcer.Allow(claims.Roles, object, act)
			if err != nil {
				logging.Error().Err(err).Msg("adminapi: authorization check failed")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
