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
	"errors"
	"testing"
)

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateDiscovering, "discovering"},
		{StateSelectingProtocol, "selecting_protocol"},
		{StateReady, "ready"},
		{StateDisconnecting, "disconnecting"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}

func TestNewConnectionStartsDisconnected(t *testing.T) {
	conn := New(Config{
		GuildID:   1,
		ChannelID: 2,
		UserID:    3,
		SessionID: "sess",
		Endpoint:  "voice.example.com",
		Token:     "tok",
	})

	if conn.State() != StateDisconnected {
		t.Fatalf("State() = %v, want Disconnected", conn.State())
	}
	if conn.IsReady() {
		t.Fatal("IsReady() = true before any handshake")
	}
	if conn.GuildID() != 1 || conn.ChannelID() != 2 {
		t.Fatalf("GuildID/ChannelID = %v/%v, want 1/2", conn.GuildID(), conn.ChannelID())
	}
}

func TestConnectionSendAudioRequiresReady(t *testing.T) {
	conn := New(Config{GuildID: 1, ChannelID: 2})
	if err := conn.SendAudio([]byte{0xF8, 0xFF, 0xFE}, 960); !errors.Is(err, ErrNotReady) {
		t.Fatalf("SendAudio before ready = %v, want ErrNotReady", err)
	}
}

func TestConnectionSetSpeakingRequiresSSRC(t *testing.T) {
	conn := New(Config{GuildID: 1, ChannelID: 2})
	if err := conn.SetSpeaking(true); !errors.Is(err, ErrNotReady) {
		t.Fatalf("SetSpeaking before ready = %v, want ErrNotReady", err)
	}
}

func TestConnectionOperationsAfterShutdownReturnClosed(t *testing.T) {
	conn := New(Config{GuildID: 1, ChannelID: 2})
	conn.Shutdown()

	if err := conn.SendAudio([]byte{0xF8, 0xFF, 0xFE}, 960); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendAudio after Shutdown = %v, want ErrClosed", err)
	}
	if err := conn.SetSpeaking(true); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetSpeaking after Shutdown = %v, want ErrClosed", err)
	}
}

func TestConnectionSSRCUnknownBeforeReady(t *testing.T) {
	conn := New(Config{GuildID: 1, ChannelID: 2})
	if _, ok := conn.SSRC(); ok {
		t.Fatal("SSRC() reported ok before any UDP transport exists")
	}
}

func TestHandleSessionDescriptionRejectsUnknownMode(t *testing.T) {
	conn := New(Config{GuildID: 1, ChannelID: 2})
	udp, err := DialUDP("127.0.0.1", 1, 1)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer udp.Close()
	conn.udp = udp

	err = conn.handleSessionDescription(SessionDescription{Mode: "not_a_real_mode"})
	if err == nil {
		t.Fatal("expected error for unknown encryption mode")
	}
	if conn.State() == StateReady {
		t.Fatal("state advanced to Ready despite invalid mode")
	}
}

func TestHandleSessionDescriptionAdvancesToReady(t *testing.T) {
	conn := New(Config{GuildID: 1, ChannelID: 2})
	udp, err := DialUDP("127.0.0.1", 1, 1)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer udp.Close()
	conn.udp = udp

	var key [KeySize]byte
	if err := conn.handleSessionDescription(SessionDescription{Mode: "xsalsa20_poly1305_lite", SecretKey: key}); err != nil {
		t.Fatalf("handleSessionDescription: %v", err)
	}
	if conn.State() != StateReady {
		t.Fatalf("State() = %v, want Ready", conn.State())
	}
	if !conn.IsReady() {
		t.Fatal("IsReady() = false after SessionDescription")
	}
}
