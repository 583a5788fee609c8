// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package transport

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs a self-contained NATS JetStream instance, for
// single-host deployments that do not want an external broker.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer starts an embedded NATS server rooted at storeDir.
func NewEmbeddedServer(storeDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "work-coordinator",
		Host:       "127.0.0.1",
		Port:       -1, // random free port, since this is meant for single-host use
		JetStream:  true,
		StoreDir:   storeDir,
		DontListen: false,
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the URL clients should dial.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// Shutdown stops the embedded server, waiting for in-flight work to
// finish or the given duration to elapse.
func (s *EmbeddedServer) Shutdown(wait time.Duration) {
	s.server.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
	}
}
