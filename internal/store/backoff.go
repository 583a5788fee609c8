// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package store

import (
	"math"
	"math/rand"
	"time"
)

// BackoffSchedule computes exponential(baseMs, factor, jitterPct) delays,
// the retry policy named in the governing spec's external interfaces.
type BackoffSchedule struct {
	BaseMs      int
	Factor      float64
	JitterPct   float64
	MaxDelaySec int
}

// Delay returns the backoff duration for the given retry attempt
// (0-based), jittered by +/-JitterPct percent.
func (b BackoffSchedule) Delay(attempt int) time.Duration {
	base := float64(b.BaseMs) * math.Pow(b.Factor, float64(attempt))
	if b.MaxDelaySec > 0 {
		maxMs := float64(b.MaxDelaySec) * 1000
		if base > maxMs {
			base = maxMs
		}
	}
	if b.JitterPct > 0 {
		jitterRange := base * (b.JitterPct / 100)
		base += (rand.Float64()*2 - 1) * jitterRange
		if base < 0 {
			base = 0
		}
	}
	return time.Duration(base) * time.Millisecond
}
