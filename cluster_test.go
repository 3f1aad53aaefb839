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

import "testing"

func TestShardRangeAll(t *testing.T) {
	r := ShardRangeAll(4)
	if r.TotalShards() != 4 {
		t.Fatalf("total = %d, want 4", r.TotalShards())
	}
	if got := r.IDs(); len(got) != 4 || got[0] != 0 || got[3] != 3 {
		t.Fatalf("ids = %v, want [0 1 2 3]", got)
	}
}

func TestShardRangeBetween(t *testing.T) {
	r := ShardRangeBetween(2, 3, 8)
	if got := r.IDs(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("ids = %v, want [2 3]", got)
	}
	if r.TotalShards() != 8 {
		t.Fatalf("total = %d, want 8", r.TotalShards())
	}
}

func TestShardRangeBetweenReversedBounds(t *testing.T) {
	r := ShardRangeBetween(5, 1, 8)
	got := r.IDs()
	if len(got) != 5 || got[0] != 1 || got[len(got)-1] != 5 {
		t.Fatalf("ids = %v, want [1 2 3 4 5]", got)
	}
}

func TestShardRangeOf(t *testing.T) {
	r := ShardRangeOf([]int{0, 3, 7}, 8)
	got := r.IDs()
	if len(got) != 3 || got[0] != 0 || got[1] != 3 || got[2] != 7 {
		t.Fatalf("ids = %v, want [0 3 7]", got)
	}
}

func TestNewClusterOwnsOneShardPerID(t *testing.T) {
	cfg := NewConfig(WithToken("test-token"))
	c := NewCluster(cfg, ShardRangeOf([]int{1, 3}, 4))

	shards := c.Shards()
	if len(shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(shards))
	}
	if c.Shard(1) == nil || c.Shard(3) == nil {
		t.Fatal("expected shards 1 and 3 to be owned")
	}
	if c.Shard(0) != nil {
		t.Fatal("shard 0 should not be owned by this cluster")
	}
	for _, s := range shards {
		if s.TotalShards() != 4 {
			t.Fatalf("shard %d total = %d, want 4", s.ShardID(), s.TotalShards())
		}
	}
}

func TestClusterForwardTagsShardID(t *testing.T) {
	cfg := NewConfig(WithToken("test-token"))
	c := NewCluster(cfg, ShardRangeOf([]int{5}, 6))

	c.forward(Event{ShardID: 5, Name: "READY", Sequence: 1})
	select {
	case ev := <-c.events:
		if ev.ShardID != 5 || ev.Name != "READY" {
			t.Fatalf("got %+v, want shard 5 READY", ev)
		}
	default:
		t.Fatal("expected an event on the fan-in channel")
	}
}

func TestClusterForwardDropsWhenSaturated(t *testing.T) {
	cfg := NewConfig(WithToken("test-token"))
	c := NewCluster(cfg, ShardRangeOf([]int{0}, 1))
	c.events = make(chan Event, 1)

	c.forward(Event{ShardID: 0, Name: "FIRST"})
	c.forward(Event{ShardID: 0, Name: "SECOND"})

	ev := <-c.events
	if ev.Name != "FIRST" {
		t.Fatalf("got %q, want FIRST to have been kept and SECOND dropped", ev.Name)
	}
	select {
	case extra := <-c.events:
		t.Fatalf("expected channel to be empty, got %+v", extra)
	default:
	}
}
