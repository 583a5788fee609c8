// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package transport abstracts the outbound/inbound message wire. The
// work coordinator's PublisherWorker and ConsumerWorker talk to a
// Transport, never directly to Watermill or NATS, so the claim/lease
// bookkeeping in the Store stays independent of the broker.
package transport

import (
	"context"
	"time"

	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/envelope"
)

// Result classifies the outcome of a single publish attempt, matching
// the three transport-layer outcomes the work coordinator distinguishes.
type Result int

const (
	// Delivered means the broker accepted the message.
	Delivered Result = iota
	// Transient means the attempt failed in a way that is likely to
	// succeed on retry (broker unavailable, timeout, connection reset).
	Transient
	// Permanent means the attempt failed in a way retrying will not fix
	// (message rejected, payload too large, auth failure).
	Permanent
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// InboundMessage is one message handed to a ConsumerWorker by Receive.
type InboundMessage struct {
	MessageId    string
	Topic        string
	PayloadBytes []byte
	Envelope     envelope.Envelope
	Ack          func()
	Nack         func()
}

// Transport is the minimal publish/receive contract PublisherWorker and
// ConsumerWorker depend on. Concrete implementations wrap a message
// broker client; NATSTransport is the production implementation.
type Transport interface {
	// Publish sends one message to topic. It returns Delivered,
	// Transient, or Permanent, and a non-nil error describing the
	// failure in the latter two cases.
	Publish(ctx context.Context, topic, messageId string, payload []byte, env envelope.Envelope) (Result, error)

	// Receive returns a channel of inbound messages for the configured
	// subscription. The channel closes when ctx is cancelled or the
	// underlying subscription ends.
	Receive(ctx context.Context) (<-chan InboundMessage, error)

	// Close releases the underlying connection.
	Close() error
}

// Config holds the dial-time parameters a Transport needs, independent
// of any one broker's SDK types.
type Config struct {
	URL            string
	EmbeddedServer bool
	StoreDir       string
	StreamName     string
	DurableName    string
	QueueGroup     string
	// SubscribeSubject is the NATS subject pattern to receive on
	// (e.g. "work.>"). Only meaningful when QueueGroup is set.
	SubscribeSubject string
	ConnectTimeout   time.Duration
}

// ConfigFromTransportConfig adapts the koanf-loaded TransportConfig into
// the broker-agnostic Config this package's constructors take.
func ConfigFromTransportConfig(c config.TransportConfig) Config {
	return Config{
		URL:              c.URL,
		EmbeddedServer:   c.EmbeddedServer,
		StoreDir:         c.StoreDir,
		StreamName:       c.StreamName,
		DurableName:      c.DurableName,
		QueueGroup:       c.QueueGroup,
		SubscribeSubject: c.SubscribeSubject,
	}
}
