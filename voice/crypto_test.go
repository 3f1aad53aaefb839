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
	"bytes"
	"testing"
)

func TestRTPHeaderRoundTrip(t *testing.T) {
	header := BuildRTPHeader(100, 48000, 12345)
	seq, ts, ssrc := ParseRTPHeader(header)

	if seq != 100 || ts != 48000 || ssrc != 12345 {
		t.Fatalf("got (%d, %d, %d), want (100, 48000, 12345)", seq, ts, ssrc)
	}
	if header[0] != 0x80 || header[1] != 0x78 {
		t.Fatalf("fixed header bytes = %x %x, want 80 78", header[0], header[1])
	}
}

func TestCodecRoundTripAllModes(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	audio := []byte("test audio data")
	header := BuildRTPHeader(1, 960, 12345)

	modes := []EncryptionMode{
		ModeXSalsa20Poly1305Lite,
		ModeXSalsa20Poly1305Suffix,
		ModeXSalsa20Poly1305,
		ModeAEADAES256GCM,
		ModeAEADXChaCha20Poly1305RTPSize,
	}

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			enc, err := NewCodec(key, mode)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}
			packet, err := enc.Encrypt(header, audio)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}

			dec, err := NewCodec(key, mode)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}
			gotHeader, gotAudio, err := dec.Decrypt(packet)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if gotHeader != header {
				t.Fatalf("header = %x, want %x", gotHeader, header)
			}
			if !bytes.Equal(gotAudio, audio) {
				t.Fatalf("audio = %q, want %q", gotAudio, audio)
			}
		})
	}
}

func TestCodecRejectsTamperedPacket(t *testing.T) {
	var key [KeySize]byte
	enc, _ := NewCodec(key, ModeXSalsa20Poly1305Lite)
	header := BuildRTPHeader(1, 960, 1)
	packet, err := enc.Encrypt(header, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	packet[len(packet)-5] ^= 0xFF

	dec, _ := NewCodec(key, ModeXSalsa20Poly1305Lite)
	if _, _, err := dec.Decrypt(packet); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestSelectPreferredModePrefersLite(t *testing.T) {
	mode, ok := SelectPreferredMode([]string{"xsalsa20_poly1305", "xsalsa20_poly1305_lite", "aead_aes256_gcm"})
	if !ok || mode != ModeXSalsa20Poly1305Lite {
		t.Fatalf("got (%v, %v), want (lite, true)", mode, ok)
	}
}

func TestSelectPreferredModeNoneSupported(t *testing.T) {
	_, ok := SelectPreferredMode([]string{"some_future_mode"})
	if ok {
		t.Fatal("expected no match when no advertised mode is supported")
	}
}

func TestSelectPreferredModeFallsBackToAEAD(t *testing.T) {
	mode, ok := SelectPreferredMode([]string{"aead_aes256_gcm"})
	if !ok || mode != ModeAEADAES256GCM {
		t.Fatalf("got (%v, %v), want (aead_aes256_gcm, true)", mode, ok)
	}

	mode, ok = SelectPreferredMode([]string{"aead_xchacha20_poly1305_rtpsize", "aead_aes256_gcm"})
	if !ok || mode != ModeAEADAES256GCM {
		t.Fatalf("got (%v, %v), want (aead_aes256_gcm, true) since it ranks above rtpsize", mode, ok)
	}
}
