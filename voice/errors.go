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

package voice

import "github.com/shardwire/shardwire"

// ErrNotReady is the sentinel wrapped by a VoiceError returned from
// SendAudio/SetSpeaking before the connection has completed its
// Hello -> Identify -> Ready -> SelectProtocol -> SessionDescription
// handshake. Check with errors.Is; use the wrapping *shardwire.VoiceError's
// Kind field for the structured classification.
var ErrNotReady = shardwire.ErrVoiceNotReady

// ErrNoSupportedMode is the sentinel wrapped by a VoiceError returned when
// none of the encryption modes the voice server advertised in Ready are
// ones this codec implements.
var ErrNoSupportedMode = shardwire.ErrVoiceNoSupportedMode

// ErrClosed is the sentinel wrapped by a VoiceError returned from
// Connection operations attempted after Shutdown has been called.
var ErrClosed = shardwire.ErrVoiceClosed
