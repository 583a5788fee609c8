// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

//go:build integration

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/testinfra"
)

// TestNATSTransportAgainstRealBroker exercises the production transport
// against an actual JetStream server rather than the in-process
// EmbeddedServer, catching drift between the embedded and real NATS
// behavior (auto-provisioning, durable consumer naming, ack/nack).
func TestNATSTransportAgainstRealBroker(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	nc, err := testinfra.NewNATSContainer(ctx)
	require.NoError(t, err)
	defer testinfra.CleanupContainer(t, ctx, nc)

	pub, err := NewNATSTransport(Config{URL: nc.ClientURL()})
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewNATSTransport(Config{URL: nc.ClientURL(), QueueGroup: "workers", SubscribeSubject: "work.>"})
	require.NoError(t, err)
	defer sub.Close()

	inbound, err := sub.Receive(ctx)
	require.NoError(t, err)

	env := envelope.Envelope{MessageType: "test.ping", StreamId: "stream-1"}
	result, err := pub.Publish(ctx, "work.ping", "msg-1", []byte(`{"ok":true}`), env)
	require.NoError(t, err)
	require.Equal(t, Delivered, result)

	select {
	case msg := <-inbound:
		require.Equal(t, "msg-1", msg.MessageId)
		require.Equal(t, "test.ping", msg.Envelope.MessageType)
		if msg.Ack != nil {
			msg.Ack()
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message from real NATS broker")
	}
}
