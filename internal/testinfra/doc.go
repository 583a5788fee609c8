// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to manage Docker containers for integration tests,
// providing realistic testing environments that closely match production.
//
// # NATS Container
//
// NATSContainer runs a real JetStream-enabled NATS server for testing
// internal/transport against a broker instead of its EmbeddedServer:
//
//	func TestTransportAgainstRealBroker(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    nc, err := testinfra.NewNATSContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, nc)
//
//	    tp, err := transport.NewNATSTransport(transport.Config{
//	        URL: nc.ClientURL(),
//	        // ...
//	    })
//	    // ...
//	}
//
// # Benefits Over Mocks
//
// Using a real broker provides several advantages:
//   - Tests validate actual JetStream semantics (ack/nack, redelivery, durables)
//   - No mock drift (mocks getting out of sync with the real NATS protocol)
//   - Tests run against production-equivalent services
//
// # CI Considerations
//
// These tests require Docker and network access. In CI:
//   - Self-hosted runners have Docker pre-installed
//   - Container images are cached between runs
//   - Tests are skipped gracefully if Docker is unavailable
//
// # Network Requirements
//
// First run may need to download container images. Subsequent runs use cached images.
package testinfra
