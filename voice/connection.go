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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shardwire/shardwire"
)

// State is the advisory, observable state of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateDiscovering
	StateSelectingProtocol
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateSelectingProtocol:
		return "selecting_protocol"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Config identifies a single voice session, gathered from Discord's
// VOICE_STATE_UPDATE and VOICE_SERVER_UPDATE gateway dispatches.
type Config struct {
	GuildID   shardwire.Snowflake
	ChannelID shardwire.Snowflake
	UserID    shardwire.Snowflake
	SessionID string
	Endpoint  string
	Token     string

	Logger shardwire.Logger
}

// Connection orchestrates a Voice WebSocket plus its UDP transport,
// carrying a single guild's voice session through Connecting ->
// Discovering -> SelectingProtocol -> Ready. SendAudio and SetSpeaking are
// the only operations safe to call concurrently with Run; everything else
// is single-owner.
type Connection struct {
	cfg    Config
	logger shardwire.Logger

	state atomic.Int32

	ws *WebSocket

	mu   sync.Mutex
	udp  *UDPTransport
	ssrc uint32

	speaking atomic.Bool
	closed   atomic.Bool
}

// New builds a Connection for the given session. Call Run to connect.
func New(cfg Config) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = shardwire.NewDefaultLogger(nil, shardwire.LogLevelInfoLevel)
	}
	logger = logger.WithFields(map[string]any{"guild_id": cfg.GuildID, "channel_id": cfg.ChannelID})
	return &Connection{cfg: cfg, logger: logger}
}

// State reports this connection's current phase.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// IsReady reports whether SendAudio can currently be called.
func (c *Connection) IsReady() bool { return c.State() == StateReady }

// GuildID and ChannelID identify the voice channel this connection serves.
func (c *Connection) GuildID() shardwire.Snowflake   { return c.cfg.GuildID }
func (c *Connection) ChannelID() shardwire.Snowflake { return c.cfg.ChannelID }

// SSRC returns the SSRC the voice server assigned, once known.
func (c *Connection) SSRC() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.udp == nil {
		return 0, false
	}
	return c.ssrc, true
}

// Latency reports the Voice WebSocket's most recent heartbeat round-trip
// time.
func (c *Connection) Latency() (time.Duration, bool) {
	if c.ws == nil {
		return 0, false
	}
	return c.ws.Latency()
}

// Run connects the Voice WebSocket, drives it through the full handshake
// (Ready -> UDP connect -> IP discovery -> SelectProtocol ->
// SessionDescription), and then blocks running the steady-state signaling
// loop until ctx is canceled or Shutdown is called.
func (c *Connection) Run(ctx context.Context) error {
	c.setState(StateConnecting)
	c.ws = NewWebSocket(c.cfg.Endpoint, c.logger)

	params := IdentifyParams{
		GuildID:   c.cfg.GuildID,
		UserID:    c.cfg.UserID,
		SessionID: c.cfg.SessionID,
		Token:     c.cfg.Token,
	}

	err := c.ws.Run(ctx, params, func(ev Event) {
		switch ev.Kind {
		case EventReady:
			if err := c.handleReady(ev.Ready); err != nil {
				c.logger.WithField("error", err.Error()).Error("failed to handle voice ready")
			}
		case EventSessionDescription:
			if err := c.handleSessionDescription(ev.SessionDescription); err != nil {
				c.logger.WithField("error", err.Error()).Error("failed to handle session description")
			}
		case EventClosed:
			c.logger.WithFields(map[string]any{"code": ev.CloseCode, "reason": ev.CloseReason}).Info("voice connection closed")
			c.setState(StateDisconnected)
		case EventClientConnect, EventClientDisconnect, EventResumed:
			// Best-effort notices; nothing for the orchestrator to act on.
		}
	})
	c.setState(StateDisconnected)
	return err
}

func (c *Connection) handleReady(info ReadyInfo) error {
	c.setState(StateDiscovering)

	udp, err := DialUDP(info.IP, info.Port, info.SSRC)
	if err != nil {
		return err
	}

	externalIP, externalPort, err := udp.DiscoverIP()
	if err != nil {
		udp.Close()
		return fmt.Errorf("shardwire/voice: ip discovery: %w", err)
	}
	c.logger.WithFields(map[string]any{"ip": externalIP, "port": externalPort}).Info("ip discovery complete")

	c.mu.Lock()
	c.udp = udp
	c.ssrc = info.SSRC
	c.mu.Unlock()

	mode, ok := SelectPreferredMode(info.Modes)
	if !ok {
		udp.Close()
		return shardwire.NewVoiceError(shardwire.VoiceErrKindNoSupportedMode, ErrNoSupportedMode)
	}

	c.setState(StateSelectingProtocol)
	if err := c.ws.SendSelectProtocol(externalIP, externalPort, mode); err != nil {
		return err
	}
	c.logger.WithField("mode", mode.String()).Info("selected encryption mode")
	return nil
}

func (c *Connection) handleSessionDescription(desc SessionDescription) error {
	mode, ok := ParseEncryptionMode(desc.Mode)
	if !ok {
		return fmt.Errorf("shardwire/voice: unknown encryption mode %q", desc.Mode)
	}

	c.mu.Lock()
	udp := c.udp
	c.mu.Unlock()
	if udp == nil {
		return shardwire.NewVoiceError(shardwire.VoiceErrKindNotReady, ErrNotReady)
	}
	if err := udp.SetEncryption(desc.SecretKey, mode); err != nil {
		return err
	}

	c.setState(StateReady)
	c.logger.Info("voice connection ready")
	return nil
}

// SendAudio encrypts and sends a single Opus-encoded frame. Returns a
// VoiceError wrapping ErrClosed if Shutdown has been called, or ErrNotReady
// if the handshake hasn't completed yet.
func (c *Connection) SendAudio(opusFrame []byte, frameSamples uint32) error {
	if c.closed.Load() {
		return shardwire.NewVoiceError(shardwire.VoiceErrKindClosed, ErrClosed)
	}
	if !c.IsReady() {
		return shardwire.NewVoiceError(shardwire.VoiceErrKindNotReady, ErrNotReady)
	}
	c.mu.Lock()
	udp := c.udp
	c.mu.Unlock()
	if udp == nil {
		return shardwire.NewVoiceError(shardwire.VoiceErrKindNotReady, ErrNotReady)
	}
	return udp.SendAudio(opusFrame, frameSamples)
}

// SetSpeaking toggles this connection's speaking state, notifying Discord
// via a Speaking (opcode 5) payload.
func (c *Connection) SetSpeaking(speaking bool) error {
	if c.closed.Load() {
		return shardwire.NewVoiceError(shardwire.VoiceErrKindClosed, ErrClosed)
	}
	c.speaking.Store(speaking)

	c.mu.Lock()
	ssrc := c.ssrc
	hasSSRC := c.udp != nil
	c.mu.Unlock()
	if !hasSSRC {
		return shardwire.NewVoiceError(shardwire.VoiceErrKindNotReady, ErrNotReady)
	}

	flags := SpeakingFlags(0)
	if speaking {
		flags = SpeakingMicrophone
	}
	return c.ws.SendSpeaking(flags, ssrc)
}

// Shutdown stops the Voice WebSocket's steady-state loop and closes the
// UDP transport.
func (c *Connection) Shutdown() {
	c.closed.Store(true)
	c.setState(StateDisconnecting)
	if c.ws != nil {
		c.ws.Shutdown()
	}
	c.mu.Lock()
	if c.udp != nil {
		c.udp.Close()
		c.udp = nil
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}
