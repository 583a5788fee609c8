// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package cache

import (
	"testing"
	"time"
)

func TestLFUCache_BasicOperations(t *testing.T) {
	c := NewLFUCache(3, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if v, found := c.Get("a"); !found || v.(int) != 1 {
		t.Errorf("expected to find key 'a' with value 1, got %v found=%v", v, found)
	}
	if _, found := c.Get("missing"); found {
		t.Error("expected 'missing' to not be found")
	}
}

func TestLFUCache_EvictsLeastFrequentlyUsed(t *testing.T) {
	c := NewLFUCache(2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	// Access 'a' repeatedly so it's used more frequently than 'b'.
	c.Get("a")
	c.Get("a")

	c.Set("c", 3) // should evict 'b', the least frequently used

	if _, found := c.Get("b"); found {
		t.Error("expected 'b' to be evicted as least frequently used")
	}
	if _, found := c.Get("a"); !found {
		t.Error("expected 'a' to still be present")
	}
	if _, found := c.Get("c"); !found {
		t.Error("expected 'c' to still be present")
	}
}

func TestLFUCache_TTLExpiration(t *testing.T) {
	c := NewLFUCache(10, 50*time.Millisecond)

	c.Set("a", 1)
	if _, found := c.Get("a"); !found {
		t.Error("expected to find key 'a' immediately")
	}

	time.Sleep(60 * time.Millisecond)

	if _, found := c.Get("a"); found {
		t.Error("expected key 'a' to be expired")
	}
}

func TestLFUCache_Delete(t *testing.T) {
	c := NewLFUCache(10, time.Minute)

	c.Set("a", 1)
	c.Delete("a")

	if _, found := c.Get("a"); found {
		t.Error("expected 'a' to be deleted")
	}
}

func TestLFUCache_Clear(t *testing.T) {
	c := NewLFUCache(10, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if _, found := c.Get("a"); found {
		t.Error("expected cache to be empty after Clear")
	}
	_, _, size := c.Stats()
	if size != 0 {
		t.Errorf("expected size 0 after Clear, got %d", size)
	}
}

func TestLFUCache_Stats(t *testing.T) {
	c := NewLFUCache(10, time.Minute)

	c.Set("a", 1)
	c.Get("a")        // hit
	c.Get("missing")  // miss

	hits, misses, size := c.Stats()
	if hits != 1 {
		t.Errorf("expected 1 hit, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("expected 1 miss, got %d", misses)
	}
	if size != 1 {
		t.Errorf("expected size 1, got %d", size)
	}
}

func TestLFUCache_ImplementsCacher(t *testing.T) {
	var c Cacher = NewLFU(10, time.Minute)
	c.Set("a", 1)
	if v, found := c.Get("a"); !found || v.(int) != 1 {
		t.Errorf("expected to find key 'a' with value 1, got %v found=%v", v, found)
	}
	c.Close()
}
