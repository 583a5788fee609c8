// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package worker implements PublisherWorker (C5) and ConsumerWorker
// (C6): the two long-running loops that move messages between the
// Store's outbox/inbox tables and the Transport. Both are suture
// services (Serve/String), following the lifecycle of the teacher's
// WAL services.
package worker

import "sync/atomic"

// State is a worker's lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateBox is an atomically-readable State shared by Serve and any
// inspector (e.g. a health endpoint).
type stateBox struct {
	v int32
}

func (b *stateBox) set(s State)  { atomic.StoreInt32(&b.v, int32(s)) }
func (b *stateBox) get() State   { return State(atomic.LoadInt32(&b.v)) }
