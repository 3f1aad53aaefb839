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

const (
	LIB_NAME    = "shardwire"
	LIB_VERSION = "0.1.0"
)

// UserAgent is the HTTP User-Agent sent on the one REST call this module
// makes (GET /gateway/bot), per Discord's bot User-Agent guidelines.
const UserAgent = "DiscordBot (https://github.com/shardwire/shardwire, " + LIB_VERSION + ")"
