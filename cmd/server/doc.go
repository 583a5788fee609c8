// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package main is the entry point for the work coordinator service.
//
// The work coordinator gives a fleet of service instances a shared,
// durable outbox/inbox over DuckDB, a CQRS read-model projection layer,
// and a transactional transport bridge to NATS JetStream, so that a
// partition of work can move between instances without ever losing or
// duplicating a message.
//
// # Application Architecture
//
// The server wires its components bottom-up:
//
//  1. Configuration: Koanf v2, layered (defaults, optional config.yaml, env)
//  2. Store: DuckDB-backed outbox/inbox/event-store/checkpoint tables
//  3. Strategy: buffers ProcessWorkBatch calls (immediate/scoped/interval),
//     optionally wrapped in a BadgerDB-backed durable buffer
//  4. Transport: an embedded or external NATS JetStream connection
//  5. Workers: PublisherWorker/ConsumerWorker pairs moving rows to/from
//     the transport
//  6. Admin API: an operator-facing HTTP surface over dead-letter rows
//     and checkpoints, gated by JWT bearer auth and Casbin RBAC
//  7. Supervisor tree: a three-layer suture hierarchy (data/messaging/api)
//     supervising the workers and the admin HTTP server; the durable
//     buffer is replayed once at startup and has no supervised service
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables, prefixed WORKCOORD_ (see internal/config/koanf.go)
//   - A config file (config.yaml), located via CONFIG_PATH or the default
//     search paths
//   - Built-in defaults (internal/config.Default)
//
// # Build Tags
//
// The durable buffer is controlled by a build tag:
//
//	go build -tags "wal" ./cmd/server       # Enable the BadgerDB durable buffer
//
// Without it, strategy.NewDurableCoordinator wraps a no-op WAL and
// behaves as a pass-through.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Cancels the supervisor tree's context, draining workers and the
//     admin HTTP server within their configured shutdown timeouts
//   - Closes the durable buffer (if enabled) and the Store
package main
