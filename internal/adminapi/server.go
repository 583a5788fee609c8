// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package adminapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/metrics"
)

// Server wires the chi router and its dependencies (JWT issuance, the
// Casbin enforcer, operator credentials) and exposes the resulting
// *http.Server. It does not supervise its own lifecycle — the caller
// wraps HTTPServer() in a services.HTTPServerService alongside the
// host's other suture.Service instances.
type Server struct {
	httpServer *http.Server

	store      Store
	jwtManager *JWTManager
	apiKeys    *APIKeyStore
	enforcer   *Enforcer
	sink       metrics.Sink
}

// New wires a Server from configuration. operators supplies the bcrypt
// credential for each named operator allowed to exchange an API key for
// a bearer token. sink may be nil, in which case request metrics are
// discarded.
func New(cfg config.AdminAPIConfig, st Store, operators map[string]OperatorCredential, sink metrics.Sink) (*Server, error) {
	jwtManager, err := NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	enforcer, err := NewEnforcer()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}

	s := &Server{
		store:      st,
		jwtManager: jwtManager,
		apiKeys:    NewAPIKeyStore(operators),
		enforcer:   enforcer,
		sink:       sink,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// HTTPServer returns the underlying *http.Server for supervision.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }
