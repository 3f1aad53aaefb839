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
	"fmt"
	"sync"
)

// ShardRange selects which shard ids a Cluster runs, out of a global shard
// count that may exceed the cluster's own subset when shards are split
// across machines. Build one with ShardRangeAll, ShardRangeBetween, or
// ShardRangeOf.
type ShardRange struct {
	total int
	ids   []int
}

// ShardRangeAll runs every shard id in [0, total).
func ShardRangeAll(total int) ShardRange {
	ids := make([]int, total)
	for i := range ids {
		ids[i] = i
	}
	return ShardRange{total: total, ids: ids}
}

// ShardRangeBetween runs shard ids [start, end] (inclusive) out of total.
func ShardRangeBetween(start, end, total int) ShardRange {
	if end < start {
		start, end = end, start
	}
	ids := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		ids = append(ids, i)
	}
	return ShardRange{total: total, ids: ids}
}

// ShardRangeOf runs exactly the given shard ids out of total.
func ShardRangeOf(ids []int, total int) ShardRange {
	cp := append([]int(nil), ids...)
	return ShardRange{total: total, ids: cp}
}

// TotalShards returns the global shard count this range was built against.
func (r ShardRange) TotalShards() int { return r.total }

// IDs returns the shard ids this range covers.
func (r ShardRange) IDs() []int { return append([]int(nil), r.ids...) }

// ClusterEvent is an Event tagged with the id of the shard that produced it,
// as delivered on a Cluster's fan-in channel.
type ClusterEvent = Event

// clusterEntry is the Cluster registry's per-shard bookkeeping: the shard
// itself plus the goroutine running it.
type clusterEntry struct {
	shard *Shard
	done  chan struct{}
	err   error
}

// Cluster owns N shards sharing a single identify rate budget. Shards are
// created eagerly at NewCluster time; Start spawns one goroutine per shard
// that runs until a fatal close or Shutdown.
type Cluster struct {
	cfg    *Config
	rng    ShardRange
	logger Logger

	entries *Collection[int, *clusterEntry]
	wg      sync.WaitGroup

	events chan Event
}

// NewCluster builds a Cluster over the given shard range, sharing cfg's
// identify limiter, worker pool, and logger across every shard it owns.
func NewCluster(cfg *Config, rng ShardRange) *Cluster {
	c := &Cluster{
		cfg:     cfg,
		rng:     rng,
		logger:  cfg.Logger,
		entries: NewCollection[int, *clusterEntry](),
		events:  make(chan Event, 64),
	}
	for _, id := range rng.ids {
		shard := NewShard(id, rng.total, cfg, c.forward)
		c.entries.Set(id, &clusterEntry{shard: shard, done: make(chan struct{})})
	}
	return c
}

// Events returns the fan-in channel every owned shard's events are
// delivered on, each tagged with its ShardID. Closed once every shard's
// goroutine has returned after Shutdown or a fatal error.
func (c *Cluster) Events() <-chan Event {
	return c.events
}

// Shards returns the shard handles this cluster owns, for direct
// query/command use (SendPayload, State, Latency, ...).
func (c *Cluster) Shards() []*Shard {
	entries := c.entries.Values()
	shards := make([]*Shard, len(entries))
	for i, e := range entries {
		shards[i] = e.shard
	}
	return shards
}

// Shard returns the shard handle for a given id, or nil if this cluster
// doesn't own it.
func (c *Cluster) Shard(id int) *Shard {
	if e, ok := c.entries.Get(id); ok {
		return e.shard
	}
	return nil
}

// Start spawns one goroutine per owned shard id and returns immediately;
// the cluster runs until ctx is canceled, Shutdown is called, or every
// shard's Run returns. Start closes the Events channel once all shard
// goroutines have exited. Start returns ErrNoShards without spawning
// anything if the cluster was built from an empty ShardRange.
func (c *Cluster) Start(ctx context.Context) error {
	if len(c.rng.ids) == 0 {
		close(c.events)
		return ErrNoShards
	}

	c.logger.WithField("shard_count", len(c.rng.ids)).Info("starting cluster")

	c.entries.ForEach(func(_ int, e *clusterEntry) {
		c.wg.Add(1)
		go func(e *clusterEntry) {
			defer c.wg.Done()
			defer close(e.done)
			e.err = e.shard.Run(ctx)
			if e.err != nil {
				c.logger.WithFields(map[string]any{
					"shard_id": e.shard.ShardID(),
					"error":    e.err.Error(),
				}).Error("shard exited")
			}
		}(e)
	})

	go func() {
		c.wg.Wait()
		close(c.events)
	}()

	return nil
}

// Wait blocks until every shard's Run has returned, then returns the first
// non-nil error observed, if any.
func (c *Cluster) Wait() error {
	c.wg.Wait()

	var firstErr error
	c.entries.ForEach(func(id int, e *clusterEntry) {
		if firstErr == nil && e.err != nil {
			firstErr = fmt.Errorf("shardwire: shard %d: %w", id, e.err)
		}
	})
	return firstErr
}

// Shutdown signals every owned shard to stop and returns once all shard
// goroutines have exited. Safe to call more than once.
func (c *Cluster) Shutdown() {
	c.logger.Info("shutting down cluster")
	c.entries.ForEach(func(_ int, e *clusterEntry) { e.shard.Shutdown() })
	c.wg.Wait()
}

// forward is every owned shard's EventSink: it tags nothing extra (Event
// already carries ShardID) and pushes onto the fan-in channel, dropping
// the event with a warning if the channel is saturated rather than
// blocking a shard's dispatch loop.
func (c *Cluster) forward(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.WithFields(map[string]any{
			"shard_id": ev.ShardID,
			"event":    ev.Name,
		}).Warn("cluster event channel saturated, dropping event")
	}
}
