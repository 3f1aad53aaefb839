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

import "encoding/json"

// Event is a single Dispatch payload received on a shard. Consumers decode
// Data themselves into whatever entity model they use — this module carries
// no typed event catalog, only the opaque envelope Discord sent.
type Event struct {
	// ShardID identifies which shard received the event.
	ShardID int
	// Name is Discord's event name, e.g. "MESSAGE_CREATE".
	Name string
	// Sequence is the gateway sequence number this event was delivered at.
	Sequence int64
	// Data is the raw "d" field of the Dispatch payload.
	Data json.RawMessage
}

// EventSink receives events and is called from the Cluster/Shard's worker
// pool, not from the read loop itself, so a slow sink cannot stall
// sequence tracking or heartbeats. If the Config's WorkerPool is nil the
// sink is called inline on the shard's loop; an event the pool rejects
// (queue full or pool shut down) is dropped.
type EventSink func(Event)
