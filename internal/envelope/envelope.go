// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package envelope defines MessageEnvelope, the header carried by every
// outbox/inbox row: identity, correlation, causation, stream, partition
// and the hop chain a message accumulates as it crosses service
// boundaries.
package envelope

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Hop records one service boundary crossing. Hops are append-only: a
// service appends its own hop and forwards the envelope, it never
// rewrites an earlier one.
type Hop struct {
	Service    string    `json:"service"`
	ReceivedAt time.Time `json:"received_at"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// Envelope is the shared header carried alongside every message payload.
type Envelope struct {
	MessageId       string    `json:"message_id"`
	CorrelationId   string    `json:"correlation_id"`
	CausationId     string    `json:"causation_id,omitempty"`
	MessageType     string    `json:"message_type"`
	StreamId        string    `json:"stream_id"`
	PartitionNumber int       `json:"partition_number"`
	SequenceOrder   int64     `json:"sequence_order,omitempty"`
	Hops            []Hop     `json:"hops,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewId returns a new time-sortable 128-bit id. UUIDv7 embeds a
// millisecond timestamp in its high bits, so lexicographic and
// byte-order comparisons agree with creation order.
func NewId() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source is broken; fall back to
		// NewRandom rather than panic on a degraded host.
		return uuid.New().String()
	}
	return id.String()
}

// PartitionFor derives the deterministic partition number for a stream,
// the stable non-cryptographic hash of streamId mod partitionCount.
func PartitionFor(streamId string, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	h := xxhash.Sum64String(streamId)
	return int(h % uint64(partitionCount))
}

// New builds an envelope for a freshly originated message. streamId may
// be empty for non-event commands, in which case it is set equal to the
// new MessageId per the StreamId convention for non-events.
func New(messageType, streamId, correlationId, causationId string, partitionCount int) Envelope {
	messageId := NewId()
	if streamId == "" {
		streamId = messageId
	}
	if correlationId == "" {
		correlationId = NewId()
	}
	return Envelope{
		MessageId:       messageId,
		CorrelationId:   correlationId,
		CausationId:     causationId,
		MessageType:     messageType,
		StreamId:        streamId,
		PartitionNumber: PartitionFor(streamId, partitionCount),
		CreatedAt:       time.Now().UTC(),
	}
}

// WithHop returns a copy of e with a new hop appended, recording a
// service boundary crossing. The original envelope's Hops slice is left
// untouched.
func (e Envelope) WithHop(service string, receivedAt, emittedAt time.Time) Envelope {
	hops := make([]Hop, len(e.Hops), len(e.Hops)+1)
	copy(hops, e.Hops)
	hops = append(hops, Hop{Service: service, ReceivedAt: receivedAt, EmittedAt: emittedAt})
	e.Hops = hops
	return e
}

// HopCount returns the number of recorded hops.
func (e Envelope) HopCount() int {
	return len(e.Hops)
}

// IsEvent reports whether a message with this envelope's MessageType
// qualifies as an event under the suffix convention: the explicit
// isEvent flag from the caller AND a MessageType ending in suffix must
// both hold (open question §3 of the governing spec resolved this way;
// see DESIGN.md).
func IsEvent(isEventFlag bool, messageType, suffix string) bool {
	if !isEventFlag {
		return false
	}
	if suffix == "" {
		return true
	}
	if len(messageType) < len(suffix) {
		return false
	}
	return messageType[len(messageType)-len(suffix):] == suffix
}

// AggregateType derives the aggregate type name from an event's
// MessageType by stripping the trailing event suffix, e.g.
// "OrderCreatedEvent" with suffix "Event" yields "OrderCreated".
func AggregateType(messageType, suffix string) string {
	if suffix != "" && len(messageType) > len(suffix) && messageType[len(messageType)-len(suffix):] == suffix {
		return messageType[:len(messageType)-len(suffix)]
	}
	return messageType
}
