// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

/*
Package services provides suture.Service wrappers for components that do not
natively implement the suture.Service contract.

This package adapts existing application components to the suture v4 supervision
model, translating various lifecycle patterns (Start/Stop, Run, ListenAndServe)
into suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (Start/Stop to Serve pattern)
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

The messaging-layer workers (worker.PublisherWorker, worker.ConsumerWorker)
already implement suture.Service directly and are added to the tree without a
wrapper from this package.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections
  - Used to supervise adminapi.Server's HTTPServer()

WAL Services (WALRetryLoopService, WALCompactorService):
  - Wraps wal.RetryLoop and wal.Compactor
  - Handles BadgerDB lifecycle management for the durable buffer
  - Build tag: wal (disabled by default)

# Usage Example

Creating and registering services:

	import (
	    "time"

	    "github.com/tomtom215/workcoordinator/internal/supervisor"
	    "github.com/tomtom215/workcoordinator/internal/supervisor/services"
	)

	func setupSupervisor(adminSrv *adminapi.Server) {
	    tree, _ := supervisor.NewSupervisorTree(logger, config)

	    // Admin API HTTP server with 30s shutdown timeout
	    httpSvc := services.NewHTTPServerService(adminSrv.HTTPServer(), 30*time.Second)
	    tree.AddAPIService(httpSvc)

	    // Start supervision
	    tree.Serve(ctx)
	}

# Lifecycle Patterns

The package handles three common lifecycle patterns:

Start/Stop Pattern:

	type StartStopper interface {
	    Start(ctx context.Context) error
	    Stop() error
	}

	// Wrapped as:
	func (s *Service) Serve(ctx context.Context) error {
	    if err := s.component.Start(ctx); err != nil {
	        return err
	    }
	    <-ctx.Done()
	    return s.component.Stop()
	}

Run Pattern:

	type Runner interface {
	    Run() error  // Blocks until complete
	}

	// Wrapped as:
	func (s *Service) Serve(ctx context.Context) error {
	    errCh := make(chan error, 1)
	    go func() { errCh <- s.component.Run() }()
	    select {
	    case err := <-errCh: return err
	    case <-ctx.Done(): s.component.Shutdown(); return nil
	    }
	}

ListenAndServe Pattern:

	type Listener interface {
	    ListenAndServe() error
	    Shutdown(ctx context.Context) error
	}

	// Wrapped as:
	func (s *Service) Serve(ctx context.Context) error {
	    go s.server.ListenAndServe()
	    <-ctx.Done()
	    return s.server.Shutdown(shutdownCtx)
	}

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service stopped cleanly, will not restart
	error       -> Service crashed, supervisor will restart
	ctx.Err()   -> Shutdown requested, normal termination

# Service Identification

All services implement fmt.Stringer for logging:

	func (s *HTTPServerService) String() string {
	    return h.name // "http-server"
	}

Suture uses this for log messages:

	INFO http-server: starting
	INFO http-server: stopped
	ERROR http-server: restarting after failure

# Testing

Services can be tested with mock components:

	type MockServer struct {
	    started  bool
	    shutdown bool
	    stop     chan struct{}
	}

	func (m *MockServer) ListenAndServe() error {
	    m.started = true
	    <-m.stop // Block until Shutdown
	    return http.ErrServerClosed
	}

	func (m *MockServer) Shutdown(ctx context.Context) error {
	    m.shutdown = true
	    close(m.stop)
	    return nil
	}

	func TestHTTPService(t *testing.T) {
	    mock := &MockServer{stop: make(chan struct{})}
	    svc := services.NewHTTPServerService(mock, time.Second)

	    ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	    defer cancel()

	    svc.Serve(ctx)

	    if !mock.started { t.Error("server not started") }
	    if !mock.shutdown { t.Error("server not shutdown") }
	}

# Thread Safety

All service wrappers are safe for concurrent use:
  - State is protected by mutexes where needed
  - Context cancellation is handled atomically
  - Multiple Serve calls are not supported (undefined behavior)

# See Also

  - internal/supervisor: SupervisorTree that manages these services
  - github.com/thejerf/suture/v4: Underlying supervision library
*/
package services
