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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/shardwire/shardwire"
)

// voiceOpcode is a Voice Gateway (v4) operation code, distinct from the
// main Gateway's opcode space.
type voiceOpcode int

const (
	voiceOpIdentify voiceOpcode = iota
	voiceOpSelectProtocol
	voiceOpReady
	voiceOpHeartbeat
	voiceOpSessionDescription
	voiceOpSpeaking
	voiceOpHeartbeatAck
	voiceOpResume
	voiceOpHello
	voiceOpResumed
	_ // 10: unused
	_ // 11: unused
	voiceOpClientConnect
	voiceOpClientDisconnect
)

const (
	voiceHandshakeTimeout = 10 * time.Second
)

type voiceWirePayload struct {
	Op voiceOpcode     `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// ReadyInfo is the connection info Discord's Voice Ready payload carries.
type ReadyInfo struct {
	SSRC  uint32
	IP    string
	Port  uint16
	Modes []string
}

// SessionDescription is the negotiated encryption mode and key Discord's
// SessionDescription payload carries.
type SessionDescription struct {
	Mode      string
	SecretKey [KeySize]byte
}

// SpeakingFlags are the bitflags sent in a Speaking (opcode 5) payload.
type SpeakingFlags uint8

const (
	SpeakingMicrophone SpeakingFlags = 1 << 0
	SpeakingSoundshare  SpeakingFlags = 1 << 1
	SpeakingPriority    SpeakingFlags = 1 << 2
)

// EventKind discriminates Event's payload.
type EventKind int

const (
	EventReady EventKind = iota
	EventSessionDescription
	EventClientConnect
	EventClientDisconnect
	EventResumed
	EventClosed
)

// Event is something the Voice WebSocket's steady-state loop delivers
// upward: a Ready/SessionDescription handshake step, a best-effort
// ClientConnect/ClientDisconnect notice, a Resumed notice, or a terminal
// Closed.
type Event struct {
	Kind Kind

	Ready              ReadyInfo
	SessionDescription SessionDescription

	ClientUserID shardwire.Snowflake
	ClientSSRC   uint32

	CloseCode   int
	CloseReason string
}

// Kind is an alias of EventKind kept for readability at call sites
// (voice.Event{Kind: voice.EventReady, ...}).
type Kind = EventKind

// IdentifyParams is everything the Voice WebSocket's Identify payload
// needs, gathered from VOICE_STATE_UPDATE + VOICE_SERVER_UPDATE.
type IdentifyParams struct {
	GuildID   shardwire.Snowflake
	UserID    shardwire.Snowflake
	SessionID string
	Token     string
}

type voiceInboundFrame struct {
	msg []byte
	op  ws.OpCode
	err error
}

// WebSocket drives the Voice Gateway (v4) signaling state machine: Hello,
// Identify, Ready, SelectProtocol, SessionDescription, then a steady-state
// loop of heartbeats, Speaking toggles, and best-effort Client
// Connect/Disconnect forwarding; DAVE opcodes are not forwarded. Exactly one
// goroutine (Run's caller)
// owns the socket; commands arrive through SendSpeaking/SendSelectProtocol.
type WebSocket struct {
	endpoint string
	logger   shardwire.Logger
	hb       *shardwire.HeartbeatEngine

	connMu sync.Mutex
	conn   net.Conn

	commands chan voiceWirePayload
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWebSocket builds a Voice WebSocket handler for the given endpoint
// (from VOICE_SERVER_UPDATE, with or without a wss:// scheme).
func NewWebSocket(endpoint string, logger shardwire.Logger) *WebSocket {
	if logger == nil {
		logger = shardwire.NewDefaultLogger(nil, shardwire.LogLevelInfoLevel)
	}
	return &WebSocket{
		endpoint: endpoint,
		logger:   logger.WithField("component", "voice_ws"),
		hb:       shardwire.NewHeartbeatEngine(),
		commands: make(chan voiceWirePayload, 8),
		stopCh:   make(chan struct{}),
	}
}

func (w *WebSocket) url() string {
	endpoint := w.endpoint
	if !strings.HasPrefix(endpoint, "wss://") {
		endpoint = "wss://" + endpoint
	}
	return endpoint + "/?v=4"
}

// Shutdown stops the steady-state loop on its next iteration. Safe to call
// more than once.
func (w *WebSocket) Shutdown() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Latency reports the most recent heartbeat round-trip time, if any has
// been observed yet.
func (w *WebSocket) Latency() (time.Duration, bool) {
	return w.hb.Latency()
}

// Run connects, completes the Identify/Ready handshake, and then runs the
// steady-state loop until ctx is canceled, Shutdown is called, or a fatal
// close is received. sink receives every Event; sink is called from Run's
// own goroutine, so a slow sink delays heartbeats.
func (w *WebSocket) Run(ctx context.Context, params IdentifyParams, sink func(Event)) error {
	dialCtx, cancel := context.WithTimeout(ctx, voiceHandshakeTimeout)
	conn, _, _, err := ws.Dialer{}.Dial(dialCtx, w.url())
	cancel()
	if err != nil {
		return fmt.Errorf("shardwire/voice: dial: %w", err)
	}
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	defer conn.Close()

	frames := make(chan voiceInboundFrame, 8)
	go w.readFrames(conn, frames)

	interval, err := w.awaitHello(frames)
	if err != nil {
		return err
	}
	w.hb.SetInterval(interval)
	w.hb.Reset()

	if err := w.sendIdentify(params); err != nil {
		return err
	}
	w.logger.Info("sent voice identify")

	ready, err := w.awaitReady(frames)
	if err != nil {
		return err
	}
	sink(Event{Kind: EventReady, Ready: ready})

	return w.steadyState(ctx, frames, sink)
}

func (w *WebSocket) awaitHello(frames <-chan voiceInboundFrame) (time.Duration, error) {
	timer := time.NewTimer(voiceHandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return 0, fmt.Errorf("shardwire/voice: connection closed before Hello")
			}
			if f.err != nil {
				return 0, f.err
			}
			payload, err := decodeVoicePayload(f.msg)
			if err != nil {
				return 0, err
			}
			if payload.Op != voiceOpHello {
				continue
			}
			var hello struct {
				HeartbeatInterval float64 `json:"heartbeat_interval"`
			}
			if err := sonic.Unmarshal(payload.D, &hello); err != nil {
				return 0, fmt.Errorf("shardwire/voice: decode hello: %w", err)
			}
			return time.Duration(hello.HeartbeatInterval * float64(time.Millisecond)), nil
		case <-timer.C:
			return 0, fmt.Errorf("shardwire/voice: timed out waiting for Hello")
		}
	}
}

func (w *WebSocket) awaitReady(frames <-chan voiceInboundFrame) (ReadyInfo, error) {
	timer := time.NewTimer(voiceHandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return ReadyInfo{}, fmt.Errorf("shardwire/voice: connection closed before Ready")
			}
			if f.err != nil {
				return ReadyInfo{}, f.err
			}
			payload, err := decodeVoicePayload(f.msg)
			if err != nil {
				return ReadyInfo{}, err
			}
			if payload.Op != voiceOpReady {
				continue
			}
			var ready struct {
				SSRC  uint32   `json:"ssrc"`
				IP    string   `json:"ip"`
				Port  uint16   `json:"port"`
				Modes []string `json:"modes"`
			}
			if err := sonic.Unmarshal(payload.D, &ready); err != nil {
				return ReadyInfo{}, fmt.Errorf("shardwire/voice: decode ready: %w", err)
			}
			return ReadyInfo{SSRC: ready.SSRC, IP: ready.IP, Port: ready.Port, Modes: ready.Modes}, nil
		case <-timer.C:
			return ReadyInfo{}, fmt.Errorf("shardwire/voice: timed out waiting for Ready")
		}
	}
}

func (w *WebSocket) steadyState(ctx context.Context, frames <-chan voiceInboundFrame, sink func(Event)) error {
	// First heartbeat is delayed by a uniform random fraction of the
	// interval so many simultaneous connections don't all tick in lockstep.
	jitterDelay := time.Duration(rand.Float64() * float64(w.hb.Interval()))
	ticker := time.NewTicker(w.hb.Interval())
	defer ticker.Stop()

	jitterTimer := time.NewTimer(jitterDelay)
	defer jitterTimer.Stop()
	firstTick := true

	for {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()

		case <-jitterTimer.C:
			if firstTick {
				firstTick = false
				if err := w.sendHeartbeat(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if firstTick {
				continue
			}
			if !w.hb.IsAcked() {
				return shardwire.ErrHeartbeatTimeout
			}
			if err := w.sendHeartbeat(); err != nil {
				return err
			}

		case cmd := <-w.commands:
			if err := w.writePayload(cmd); err != nil {
				return err
			}

		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("shardwire/voice: connection closed")
			}
			if f.err != nil {
				var closed wsutil.ClosedError
				if errors.As(f.err, &closed) {
					sink(Event{Kind: EventClosed, CloseCode: int(closed.Code), CloseReason: closed.Reason})
					return nil
				}
				return f.err
			}
			if terminate, err := w.handleFrame(f, sink); terminate || err != nil {
				return err
			}
		}
	}
}

func (w *WebSocket) handleFrame(f voiceInboundFrame, sink func(Event)) (terminate bool, err error) {
	payload, err := decodeVoicePayload(f.msg)
	if err != nil {
		return false, err
	}

	switch payload.Op {
	case voiceOpHeartbeatAck:
		w.hb.MarkAcked()

	case voiceOpSessionDescription:
		var desc struct {
			Mode      string `json:"mode"`
			SecretKey []byte `json:"secret_key"`
		}
		if err := sonic.Unmarshal(payload.D, &desc); err != nil {
			return false, fmt.Errorf("shardwire/voice: decode session description: %w", err)
		}
		var key [KeySize]byte
		copy(key[:], desc.SecretKey)
		sink(Event{Kind: EventSessionDescription, SessionDescription: SessionDescription{Mode: desc.Mode, SecretKey: key}})

	case voiceOpClientConnect:
		var cc struct {
			UserID shardwire.Snowflake `json:"user_id"`
		}
		if err := sonic.Unmarshal(payload.D, &cc); err == nil {
			sink(Event{Kind: EventClientConnect, ClientUserID: cc.UserID})
		}

	case voiceOpClientDisconnect:
		var cd struct {
			UserID shardwire.Snowflake `json:"user_id"`
		}
		if err := sonic.Unmarshal(payload.D, &cd); err == nil {
			sink(Event{Kind: EventClientDisconnect, ClientUserID: cd.UserID})
		}

	case voiceOpResumed:
		sink(Event{Kind: EventResumed})

	case voiceOpSpeaking:
		// Incoming Speaking notices aren't surfaced; nothing to act on.

	default:
		// DAVE-protocol opcodes (21-31) and anything else are ignored: no
		// Event is emitted for them and MLS frames are not interpreted.
	}
	return false, nil
}

func (w *WebSocket) readFrames(conn net.Conn, out chan<- voiceInboundFrame) {
	defer close(out)
	for {
		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			var closedErr wsutil.ClosedError
			if errors.As(err, &closedErr) {
				out <- voiceInboundFrame{err: closedErr}
				return
			}
			out <- voiceInboundFrame{err: err}
			return
		}
		if op == ws.OpClose {
			code, reason := ws.ParseCloseFrameData(msg)
			out <- voiceInboundFrame{err: wsutil.ClosedError{Code: code, Reason: reason}}
			return
		}
		out <- voiceInboundFrame{msg: msg, op: op}
	}
}

func decodeVoicePayload(data []byte) (voiceWirePayload, error) {
	var payload voiceWirePayload
	if err := sonic.Unmarshal(data, &payload); err != nil {
		return voiceWirePayload{}, fmt.Errorf("shardwire/voice: decode payload: %w", err)
	}
	return payload, nil
}

func (w *WebSocket) writePayload(payload voiceWirePayload) error {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("shardwire/voice: not connected")
	}
	buf, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("shardwire/voice: marshal payload: %w", err)
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, buf)
}

func (w *WebSocket) sendIdentify(params IdentifyParams) error {
	d, _ := sonic.Marshal(struct {
		ServerID  shardwire.Snowflake `json:"server_id"`
		UserID    shardwire.Snowflake `json:"user_id"`
		SessionID string              `json:"session_id"`
		Token     string              `json:"token"`
	}{params.GuildID, params.UserID, params.SessionID, params.Token})
	return w.writePayload(voiceWirePayload{Op: voiceOpIdentify, D: d})
}

func (w *WebSocket) sendHeartbeat() error {
	w.hb.MarkSent()
	d, _ := sonic.Marshal(struct {
		T uint64 `json:"t"`
	}{uint64(time.Now().UnixMilli())})
	return w.writePayload(voiceWirePayload{Op: voiceOpHeartbeat, D: d})
}

// SendSelectProtocol sends opcode 1 after IP discovery, proposing the
// external address/port and the chosen encryption mode.
func (w *WebSocket) SendSelectProtocol(address string, port uint16, mode EncryptionMode) error {
	d, _ := sonic.Marshal(struct {
		Protocol string `json:"protocol"`
		Data     struct {
			Address string `json:"address"`
			Port    uint16 `json:"port"`
			Mode    string `json:"mode"`
		} `json:"data"`
	}{Protocol: "udp", Data: struct {
		Address string `json:"address"`
		Port    uint16 `json:"port"`
		Mode    string `json:"mode"`
	}{address, port, mode.String()}})
	select {
	case w.commands <- voiceWirePayload{Op: voiceOpSelectProtocol, D: d}:
		return nil
	default:
		return fmt.Errorf("shardwire/voice: command queue full")
	}
}

// SendSpeaking sends opcode 5, toggling this connection's speaking state.
func (w *WebSocket) SendSpeaking(flags SpeakingFlags, ssrc uint32) error {
	d, _ := sonic.Marshal(struct {
		Speaking uint8  `json:"speaking"`
		Delay    uint32 `json:"delay"`
		SSRC     uint32 `json:"ssrc"`
	}{uint8(flags), 0, ssrc})
	select {
	case w.commands <- voiceWirePayload{Op: voiceOpSpeaking, D: d}:
		return nil
	default:
		return fmt.Errorf("shardwire/voice: command queue full")
	}
}
