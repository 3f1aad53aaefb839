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
	"errors"
	"fmt"
)

// ErrorKind classifies a GatewayError. See GatewayError for the structured
// fields each kind carries.
type ErrorKind int

const (
	// ErrKindTransport is an underlying WebSocket/UDP failure.
	ErrKindTransport ErrorKind = iota
	// ErrKindDecode is a malformed JSON/ETF payload or unexpected shape.
	ErrKindDecode
	// ErrKindInvalidSession means the server invalidated the session; Resumable
	// reports whether the client may Resume.
	ErrKindInvalidSession
	// ErrKindClosed means the server closed the socket; Code determines fatality.
	ErrKindClosed
	// ErrKindHeartbeatTimeout means no ack arrived between two ticks.
	ErrKindHeartbeatTimeout
	// ErrKindAuthenticationFailed means the token was rejected. Fatal.
	ErrKindAuthenticationFailed
	// ErrKindNotConnected means the caller asked for an operation in the wrong state.
	ErrKindNotConnected
	// ErrKindRateLimited means the gateway signaled a rate-limit close (4008).
	ErrKindRateLimited
	// ErrKindReconnectExhausted means max_reconnect_attempts was exceeded.
	ErrKindReconnectExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindDecode:
		return "decode"
	case ErrKindInvalidSession:
		return "invalid_session"
	case ErrKindClosed:
		return "closed"
	case ErrKindHeartbeatTimeout:
		return "heartbeat_timeout"
	case ErrKindAuthenticationFailed:
		return "authentication_failed"
	case ErrKindNotConnected:
		return "not_connected"
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindReconnectExhausted:
		return "reconnect_exhausted"
	default:
		return "unknown"
	}
}

// GatewayError is the single structured error type returned by Shard and
// Cluster operations. Check Kind (or use errors.Is against the Err* sentinels
// below) to branch on the failure; the extra fields are populated only for
// the kinds that carry them.
type GatewayError struct {
	Kind ErrorKind

	// Code/Reason are populated for ErrKindClosed.
	Code   GatewayCloseEventCode
	Reason string

	// Resumable is populated for ErrKindInvalidSession.
	Resumable bool

	// RetryAfterMs is populated for ErrKindRateLimited.
	RetryAfterMs int64

	// Err wraps the underlying cause, if any (transport/decode errors).
	Err error
}

func (e *GatewayError) Error() string {
	switch e.Kind {
	case ErrKindClosed:
		return fmt.Sprintf("gateway: closed: code=%d reason=%s", e.Code, e.Reason)
	case ErrKindInvalidSession:
		return fmt.Sprintf("gateway: session invalidated, resumable=%v", e.Resumable)
	case ErrKindRateLimited:
		return fmt.Sprintf("gateway: rate limited, retry after %dms", e.RetryAfterMs)
	case ErrKindTransport, ErrKindDecode:
		if e.Err != nil {
			return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("gateway: %s", e.Kind)
	default:
		return fmt.Sprintf("gateway: %s", e.Kind)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

func newTransportError(err error) *GatewayError {
	return &GatewayError{Kind: ErrKindTransport, Err: err}
}

func newDecodeError(err error) *GatewayError {
	return &GatewayError{Kind: ErrKindDecode, Err: err}
}

func newClosedError(code GatewayCloseEventCode, reason string) *GatewayError {
	return &GatewayError{Kind: ErrKindClosed, Code: code, Reason: reason}
}

func newInvalidSessionError(resumable bool) *GatewayError {
	return &GatewayError{Kind: ErrKindInvalidSession, Resumable: resumable}
}

// Sentinel errors for simple state checks via errors.Is. These carry no
// payload of their own; use a *GatewayError's Kind field when more context
// (close code, retry-after) is needed.
var (
	// ErrHeartbeatTimeout is returned when no ack arrives between two heartbeat ticks.
	ErrHeartbeatTimeout = errors.New("shardwire: heartbeat acknowledgment timeout")

	// ErrAuthenticationFailed is returned when the token was rejected.
	ErrAuthenticationFailed = errors.New("shardwire: authentication failed")

	// ErrNotConnected is returned when a command is sent while the shard is disconnected.
	ErrNotConnected = errors.New("shardwire: not connected")

	// ErrReconnectExhausted is returned when max_reconnect_attempts is exceeded.
	ErrReconnectExhausted = errors.New("shardwire: reconnect attempts exhausted")

	// ErrNoShards is returned when a Cluster is started with an empty shard range.
	ErrNoShards = errors.New("shardwire: cluster has no shards configured")
)

// VoiceErrorKind classifies a VoiceError.
type VoiceErrorKind int

const (
	// VoiceErrKindTransport is a WebSocket/UDP failure.
	VoiceErrKindTransport VoiceErrorKind = iota
	// VoiceErrKindCrypto is an AEAD authentication failure or bad key length.
	VoiceErrKindCrypto
	// VoiceErrKindIPDiscovery is a malformed or missing IP discovery reply.
	VoiceErrKindIPDiscovery
	// VoiceErrKindNotReady means SendAudio was called before SessionDescription.
	VoiceErrKindNotReady
	// VoiceErrKindNoSupportedMode means none of the server's advertised modes are supported.
	VoiceErrKindNoSupportedMode
	// VoiceErrKindClosed means the operation was attempted after Shutdown.
	VoiceErrKindClosed
)

func (k VoiceErrorKind) String() string {
	switch k {
	case VoiceErrKindTransport:
		return "transport"
	case VoiceErrKindCrypto:
		return "crypto"
	case VoiceErrKindIPDiscovery:
		return "ip_discovery"
	case VoiceErrKindNotReady:
		return "not_ready"
	case VoiceErrKindNoSupportedMode:
		return "no_supported_mode"
	case VoiceErrKindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// VoiceError is the structured error type returned by the voice subsystem,
// the voice-package counterpart to GatewayError.
type VoiceError struct {
	Kind VoiceErrorKind
	Err  error
}

func (e *VoiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("voice: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("voice: %s", e.Kind)
}

func (e *VoiceError) Unwrap() error { return e.Err }

// NewVoiceError builds a VoiceError, exported so the voice package can
// construct one around its own sentinel errors.
func NewVoiceError(kind VoiceErrorKind, err error) *VoiceError {
	return &VoiceError{Kind: kind, Err: err}
}

var (
	// ErrVoiceNotReady is returned when SendAudio is called before the
	// connection reaches the Ready state.
	ErrVoiceNotReady = errors.New("shardwire/voice: connection not ready")

	// ErrVoiceNoSupportedMode is returned when the server's advertised
	// encryption modes contain none this module implements.
	ErrVoiceNoSupportedMode = errors.New("shardwire/voice: no supported encryption mode")

	// ErrVoiceClosed is returned when an operation is attempted on a
	// Connection after Shutdown has been called.
	ErrVoiceClosed = errors.New("shardwire/voice: connection closed")
)
