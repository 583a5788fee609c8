// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NATSContainer wraps a running NATS server with JetStream enabled, for
// integration tests that exercise internal/transport against a real
// broker instead of the in-process EmbeddedServer.
type NATSContainer struct {
	testcontainers.Container
	clientURL string
}

// NewNATSContainer starts a "nats:2-alpine" container with JetStream
// enabled and waits for it to accept client connections.
func NewNATSContainer(ctx context.Context) (*NATSContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:2-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testinfra: start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("testinfra: NATS container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		return nil, fmt.Errorf("testinfra: NATS container port: %w", err)
	}

	return &NATSContainer{
		Container: container,
		clientURL: fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}, nil
}

// ClientURL returns the nats:// URL internal/transport.Config.URL expects.
func (c *NATSContainer) ClientURL() string { return c.clientURL }
