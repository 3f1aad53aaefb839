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
	"bytes"
	"compress/zlib"
	"testing"
)

// zlibStreamFixture compresses each of msgs as one continuous zlib context,
// flushing after every message with Z_SYNC_FLUSH so the wire bytes look like
// what Discord's gateway actually sends: one connection-wide zlib header
// followed by a 00 00 FF FF-terminated chunk per message.
func zlibStreamFixture(t *testing.T, msgs ...string) [][]byte {
	t.Helper()

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)

	frames := make([][]byte, len(msgs))
	prevLen := 0
	for i, msg := range msgs {
		if _, err := w.Write([]byte(msg)); err != nil {
			t.Fatalf("compress message %d: %v", i, err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("flush message %d: %v", i, err)
		}
		frames[i] = append([]byte(nil), buf.Bytes()[prevLen:]...)
		prevLen = buf.Len()
	}
	w.Close()
	return frames
}

func TestZlibStreamDecoderSingleMessage(t *testing.T) {
	frames := zlibStreamFixture(t, `{"op":10}`)

	d := NewZlibStreamDecoder()
	out, ok, err := d.Feed(frames[0])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true on a complete message")
	}
	if string(out) != `{"op":10}` {
		t.Fatalf("got %q, want %q", out, `{"op":10}`)
	}
}

// TestZlibStreamDecoderTwoMessages exercises the concatenated two-message
// framing scenario: a single zlib header followed by two sync-flushed
// messages, where only the first frame carries the header and the second is
// a raw deflate continuation sharing the first message's dictionary.
func TestZlibStreamDecoderTwoMessages(t *testing.T) {
	first := `{"op":10,"d":{"heartbeat_interval":41250}}`
	second := `{"op":0,"t":"READY","d":{"session_id":"abc123"}}`
	frames := zlibStreamFixture(t, first, second)

	d := NewZlibStreamDecoder()

	out1, ok, err := d.Feed(frames[0])
	if err != nil {
		t.Fatalf("Feed(first): %v", err)
	}
	if !ok || string(out1) != first {
		t.Fatalf("first = (%q, %v), want (%q, true)", out1, ok, first)
	}

	out2, ok, err := d.Feed(frames[1])
	if err != nil {
		t.Fatalf("Feed(second): %v", err)
	}
	if !ok || string(out2) != second {
		t.Fatalf("second = (%q, %v), want (%q, true)", out2, ok, second)
	}
}

func TestZlibStreamDecoderManyMessagesShareWindow(t *testing.T) {
	msgs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, `{"op":0,"t":"MESSAGE_CREATE","d":{"content":"repeated repeated repeated"}}`)
	}
	frames := zlibStreamFixture(t, msgs...)

	d := NewZlibStreamDecoder()
	for i, frame := range frames {
		out, ok, err := d.Feed(frame)
		if err != nil {
			t.Fatalf("Feed(%d): %v", i, err)
		}
		if !ok || string(out) != msgs[i] {
			t.Fatalf("message %d = (%q, %v), want (%q, true)", i, out, ok, msgs[i])
		}
	}
}

func TestZlibStreamDecoderFeedAcrossPartialFrames(t *testing.T) {
	frames := zlibStreamFixture(t, `{"op":1}`, `{"op":1}`)

	d := NewZlibStreamDecoder()

	// Split the first message's wire bytes into two WebSocket frames.
	split := len(frames[0]) / 2
	out, ok, err := d.Feed(frames[0][:split])
	if err != nil {
		t.Fatalf("Feed(partial): %v", err)
	}
	if ok {
		t.Fatal("expected ok=false before the flush suffix arrives")
	}
	out, ok, err = d.Feed(frames[0][split:])
	if err != nil {
		t.Fatalf("Feed(rest): %v", err)
	}
	if !ok || string(out) != `{"op":1}` {
		t.Fatalf("got (%q, %v), want (%q, true)", out, ok, `{"op":1}`)
	}

	out, ok, err = d.Feed(frames[1])
	if err != nil {
		t.Fatalf("Feed(second message): %v", err)
	}
	if !ok || string(out) != `{"op":1}` {
		t.Fatalf("got (%q, %v), want (%q, true)", out, ok, `{"op":1}`)
	}
}

func TestIsZlibCompressed(t *testing.T) {
	frames := zlibStreamFixture(t, `{}`)
	if !IsZlibCompressed(frames[0]) {
		t.Fatal("expected a zlib-framed message to be recognized")
	}
	if IsZlibCompressed([]byte(`{}`)) {
		t.Fatal("expected plain JSON text to not be recognized as zlib")
	}
}

func TestHasZlibSuffix(t *testing.T) {
	if !HasZlibSuffix(zlibSuffix) {
		t.Fatal("expected the suffix itself to match")
	}
	if HasZlibSuffix([]byte{0x00, 0x01, 0x02, 0x03}) {
		t.Fatal("expected non-matching bytes to not match")
	}
}

func TestDecompressOneShot(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(`{"hello":"world"}`))
	w.Close()

	out, err := DecompressOneShot(buf.Bytes())
	if err != nil {
		t.Fatalf("DecompressOneShot: %v", err)
	}
	if string(out) != `{"hello":"world"}` {
		t.Fatalf("got %q", out)
	}
}
