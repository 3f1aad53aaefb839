/************************************************************************************
 *
 * shardwire, a Go client for Discord's Gateway and Voice real-time services
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 shardwire authors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package shardwire

import (
	"math/rand/v2"
	"time"
)

// ExponentialBackoff returns base_ms * 2^attempt milliseconds, capped at
// max_ms. attempt is 0-indexed: the first retry uses attempt 0.
func ExponentialBackoff(attempt uint32, baseMs, maxMs uint64) time.Duration {
	shift := attempt
	if shift > 63 {
		shift = 63
	}
	delayMs := baseMs
	// saturating multiply by 2^attempt
	for i := uint32(0); i < shift; i++ {
		next := delayMs * 2
		if next < delayMs { // overflow
			delayMs = maxMs
			break
		}
		delayMs = next
	}
	if delayMs > maxMs {
		delayMs = maxMs
	}
	return time.Duration(delayMs) * time.Millisecond
}

// WithJitter adds a uniformly-distributed random delay in [0, duration *
// jitterFactor] on top of duration.
func WithJitter(duration time.Duration, jitterFactor float64) time.Duration {
	jitterRange := int64(float64(duration.Milliseconds()) * jitterFactor)
	if jitterRange <= 0 {
		return duration
	}
	jitter := rand.Int64N(jitterRange + 1)
	return duration + time.Duration(jitter)*time.Millisecond
}
