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
	"context"
	"time"
)

// ShardsIdentifyRateLimiter gates concurrent gateway Identify operations.
// Discord allows max_concurrency identifies per rolling 5-second window;
// implementations hold each acquired permit for that long regardless of how
// quickly the Identify handshake actually completes.
type ShardsIdentifyRateLimiter interface {
	// Acquire blocks until a permit is available or ctx is done.
	Acquire(ctx context.Context) error
	// AvailablePermits reports the current number of free permits.
	AvailablePermits() int
}

// identifyHoldDuration is fixed at 5s per Discord's documented identify rate limit.
const identifyHoldDuration = 5 * time.Second

// DefaultShardsRateLimiter is a counting semaphore of capacity
// max_concurrency; each Acquire blocks for a token and releases it 5s later
// via time.AfterFunc, rather than refilling the whole bucket periodically —
// this makes the "permit held 5s irrespective of outcome" invariant exact
// even when Identify completes (or fails) in under 5s.
type DefaultShardsRateLimiter struct {
	tokens chan struct{}
}

var _ ShardsIdentifyRateLimiter = (*DefaultShardsRateLimiter)(nil)

// NewDefaultShardsRateLimiter returns a limiter with maxConcurrency permits,
// defaulting to 1 if maxConcurrency is non-positive (matching most bots'
// /gateway/bot response).
func NewDefaultShardsRateLimiter(maxConcurrency int) *DefaultShardsRateLimiter {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	tokens := make(chan struct{}, maxConcurrency)
	for i := 0; i < maxConcurrency; i++ {
		tokens <- struct{}{}
	}
	return &DefaultShardsRateLimiter{tokens: tokens}
}

func (l *DefaultShardsRateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-l.tokens:
		time.AfterFunc(identifyHoldDuration, func() {
			l.tokens <- struct{}{}
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *DefaultShardsRateLimiter) AvailablePermits() int {
	return len(l.tokens)
}
