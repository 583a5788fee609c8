// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

/*
Package cache provides thread-safe in-memory caching with TTL support.

This package implements a simple but effective in-process caching layer,
used by internal/worker as a redelivery dedup pre-filter ahead of the
inbox table's own message-id dedup.

# Overview

The cache provides:
  - Thread-safe concurrent access (sync.RWMutex)
  - Time-to-live (TTL) expiration for automatic cleanup
  - Simple key-value storage with any value type (interface{})
  - Lazy expiration checking (on Get operations)
  - An LFU variant (NewLFU) for skewed access patterns, behind the same
    Cacher interface, selectable via NewCacher(CacheConfig{...})

# Use Case: Consumer Redelivery Dedup

internal/worker.ConsumerWorker keeps one Cache keyed on inbound
MessageId with a short TTL (long enough to cover broker-level
redelivery of a message whose ack hasn't landed yet, short compared to
the inbox table's permanent ON CONFLICT DO NOTHING dedup). A redelivered
message hits this cache and is acked immediately instead of paying for
a Strategy.Flush round-trip the database would have discarded anyway.

# Cache Structure

The cache stores entries with metadata:

	type Entry struct {
	    Data      interface{}  // Cached value (any type)
	    ExpiresAt time.Time    // Expiration time
	}

# Usage Example

	import "github.com/tomtom215/workcoordinator/internal/cache"

	// Create cache with 5-minute default TTL
	c := cache.New(5 * time.Minute)

	// Mark a message ID as seen
	c.Set(messageId, struct{}{})

	// Check before processing
	if _, seen := c.Get(messageId); seen {
	    // already processed recently; ack and skip
	}

	// Delete specific key
	c.Delete(messageId)

	// Clear entire cache
	c.Clear()

# Cache Invalidation

Two invalidation strategies:

 1. TTL-based expiration (automatic): items expire after the configured
    TTL, checked lazily during Get, plus a background cleanup goroutine
    sweeping expired entries every 5 minutes.
 2. Manual invalidation: Clear() removes all entries, Delete(key)
    removes one.

# Performance Characteristics

  - Get operation: O(1) hash map lookup + TTL check
  - Set operation: O(1) hash map insert with lock
  - Delete operation: O(1) hash map delete with lock
  - Clear operation: O(1) map reassignment

# Thread Safety

All cache methods are thread-safe using sync.RWMutex:

  - Get: Acquires read lock (concurrent reads allowed)
  - Set/Delete/Clear: Acquire write lock (exclusive access)

Multiple goroutines can safely access the cache concurrently.

# Cache Hit Rate

Monitor cache effectiveness via GetStats()/HitRate():

	stats := c.GetStats()
	if c.HitRate() < 50 { // HitRate is a percentage (0-100)
	    // Low hit rate suggests the TTL is too short relative to the
	    // broker's redelivery interval, or redelivery isn't happening.
	}

# Limitations

  - No maximum cache size limit on the TTL variant (use the LFU variant
    via NewLFU/NewCacher for bounded memory)
  - No cache persistence (in-memory only, rebuilt on restart — fine for
    a redelivery pre-filter, since the inbox table is the source of
    truth for dedup correctness)
  - No distributed caching (single instance; each ConsumerWorker
    instance has its own)

# Testing

The package includes tests for basic operations, TTL expiration,
concurrent access with the race detector, and LFU eviction behavior.

Run tests with race detector:

	go test -race ./internal/cache

# See Also

  - internal/worker: ConsumerWorker, the cache's one consumer
  - internal/store: the inbox table's permanent message-id dedup
*/
package cache
