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

// Package voice implements Discord's Voice WebSocket and UDP protocols: RTP
// framing, the five AEAD encryption modes, IP discovery, and a connection
// orchestrator tying the signaling and media paths together.
package voice

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the shared secret size for every supported mode.
	KeySize = 32
	// NonceSize is the XSalsa20/XChaCha20 nonce size.
	NonceSize = 24
	// AESGCMNonceSize is the nonce size aead_aes256_gcm uses.
	AESGCMNonceSize = 12
	// TagSize is the Poly1305/GCM authentication tag size.
	TagSize = 16
	// RTPHeaderSize is the fixed RTP header length.
	RTPHeaderSize = 12
)

// EncryptionMode is one of Discord's five supported transport encryption
// modes, preference-ordered lite > suffix > normal > gcm > xchacha-rtpsize.
type EncryptionMode int

const (
	ModeXSalsa20Poly1305Lite EncryptionMode = iota
	ModeXSalsa20Poly1305Suffix
	ModeXSalsa20Poly1305
	ModeAEADAES256GCM
	ModeAEADXChaCha20Poly1305RTPSize
)

func (m EncryptionMode) String() string {
	switch m {
	case ModeXSalsa20Poly1305Lite:
		return "xsalsa20_poly1305_lite"
	case ModeXSalsa20Poly1305Suffix:
		return "xsalsa20_poly1305_suffix"
	case ModeXSalsa20Poly1305:
		return "xsalsa20_poly1305"
	case ModeAEADAES256GCM:
		return "aead_aes256_gcm"
	case ModeAEADXChaCha20Poly1305RTPSize:
		return "aead_xchacha20_poly1305_rtpsize"
	default:
		return "unknown"
	}
}

// ParseEncryptionMode parses Discord's wire name for a mode.
func ParseEncryptionMode(s string) (EncryptionMode, bool) {
	switch s {
	case "xsalsa20_poly1305_lite":
		return ModeXSalsa20Poly1305Lite, true
	case "xsalsa20_poly1305_suffix":
		return ModeXSalsa20Poly1305Suffix, true
	case "xsalsa20_poly1305":
		return ModeXSalsa20Poly1305, true
	case "aead_aes256_gcm":
		return ModeAEADAES256GCM, true
	case "aead_xchacha20_poly1305_rtpsize":
		return ModeAEADXChaCha20Poly1305RTPSize, true
	default:
		return 0, false
	}
}

// preferredModeOrder ranks every mode this codec implements, most preferred
// first: the two XSalsa20 variants that avoid a full nonce ciphertext cost,
// then plain xsalsa20_poly1305, then the two AEAD modes Discord added later.
var preferredModeOrder = []string{
	"xsalsa20_poly1305_lite",
	"xsalsa20_poly1305_suffix",
	"xsalsa20_poly1305",
	"aead_aes256_gcm",
	"aead_xchacha20_poly1305_rtpsize",
}

// SelectPreferredMode picks the best mode Discord's Ready payload advertised,
// ranking all five supported modes in preferredModeOrder.
func SelectPreferredMode(advertised []string) (EncryptionMode, bool) {
	for _, want := range preferredModeOrder {
		for _, have := range advertised {
			if have == want {
				return ParseEncryptionMode(want)
			}
		}
	}
	return 0, false
}

// BuildRTPHeader lays out a 12-byte RTP header per Discord's fixed fields.
func BuildRTPHeader(sequence uint16, timestamp, ssrc uint32) [RTPHeaderSize]byte {
	var header [RTPHeaderSize]byte
	header[0] = 0x80 // version=2, padding=0, extension=0, csrc_count=0
	header[1] = 0x78 // marker=0, payload_type=0x78 (Opus)
	binary.BigEndian.PutUint16(header[2:4], sequence)
	binary.BigEndian.PutUint32(header[4:8], timestamp)
	binary.BigEndian.PutUint32(header[8:12], ssrc)
	return header
}

// ParseRTPHeader extracts sequence, timestamp, and ssrc from a header.
func ParseRTPHeader(header [RTPHeaderSize]byte) (sequence uint16, timestamp, ssrc uint32) {
	sequence = binary.BigEndian.Uint16(header[2:4])
	timestamp = binary.BigEndian.Uint32(header[4:8])
	ssrc = binary.BigEndian.Uint32(header[8:12])
	return
}

// CryptoError reports a packet codec failure: a too-short packet, a failed
// AEAD open, or an unsupported mode.
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string { return "shardwire/voice: crypto: " + e.Reason }

func cryptoErrorf(format string, args ...any) error {
	return &CryptoError{Reason: fmt.Sprintf(format, args...)}
}

// Codec encrypts and decrypts RTP audio packets under one of the five
// supported AEAD modes. Not safe for concurrent use by multiple encrypters;
// a single Codec is meant to be owned by one send path.
type Codec struct {
	mode         EncryptionMode
	key          [KeySize]byte
	aead         cipher.AEAD // set for AES-GCM and XChaCha20-Poly1305 modes
	nonceCounter uint32
}

// NewCodec builds a Codec for the given secret key and negotiated mode.
func NewCodec(key [KeySize]byte, mode EncryptionMode) (*Codec, error) {
	c := &Codec{mode: mode, key: key}
	switch mode {
	case ModeXSalsa20Poly1305Lite, ModeXSalsa20Poly1305Suffix, ModeXSalsa20Poly1305:
		// secretbox implements XSalsa20-Poly1305 directly; no AEAD handle needed.
	case ModeAEADAES256GCM:
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, cryptoErrorf("aes: %v", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, cryptoErrorf("gcm: %v", err)
		}
		c.aead = aead
	case ModeAEADXChaCha20Poly1305RTPSize:
		aead, err := chacha20poly1305.NewX(key[:])
		if err != nil {
			return nil, cryptoErrorf("xchacha20poly1305: %v", err)
		}
		c.aead = aead
	default:
		return nil, cryptoErrorf("unsupported mode %v", mode)
	}
	return c, nil
}

// Mode reports which encryption mode this codec was built for.
func (c *Codec) Mode() EncryptionMode { return c.mode }

// Encrypt builds the full wire packet: RTP header, ciphertext+tag, and any
// trailing nonce fragment the mode requires.
func (c *Codec) Encrypt(header [RTPHeaderSize]byte, audio []byte) ([]byte, error) {
	switch c.mode {
	case ModeXSalsa20Poly1305Lite:
		return c.encryptLite(header, audio), nil
	case ModeXSalsa20Poly1305Suffix:
		return c.encryptSuffix(header, audio)
	case ModeXSalsa20Poly1305:
		return c.encryptNormal(header, audio), nil
	case ModeAEADAES256GCM:
		return c.encryptAESGCM(header, audio)
	case ModeAEADXChaCha20Poly1305RTPSize:
		return c.encryptXChaChaRTPSize(header, audio)
	default:
		return nil, cryptoErrorf("unsupported mode %v", c.mode)
	}
}

// Decrypt is the symmetric inverse of Encrypt, returning the RTP header and
// the decrypted audio.
func (c *Codec) Decrypt(packet []byte) (header [RTPHeaderSize]byte, audio []byte, err error) {
	if len(packet) < RTPHeaderSize {
		return header, nil, cryptoErrorf("packet too short")
	}
	switch c.mode {
	case ModeXSalsa20Poly1305Lite:
		return c.decryptLite(packet)
	case ModeXSalsa20Poly1305Suffix:
		return c.decryptSuffix(packet)
	case ModeXSalsa20Poly1305:
		return c.decryptNormal(packet)
	case ModeAEADAES256GCM:
		return c.decryptAESGCM(packet)
	case ModeAEADXChaCha20Poly1305RTPSize:
		return c.decryptXChaChaRTPSize(packet)
	default:
		return header, nil, cryptoErrorf("unsupported mode %v", c.mode)
	}
}

func (c *Codec) encryptLite(header [RTPHeaderSize]byte, audio []byte) []byte {
	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint32(nonce[:4], c.nonceCounter)
	c.nonceCounter++

	sealed := secretbox.Seal(nil, audio, &nonce, &c.key)
	packet := make([]byte, 0, RTPHeaderSize+len(sealed)+4)
	packet = append(packet, header[:]...)
	packet = append(packet, sealed...)
	packet = append(packet, nonce[:4]...)
	return packet
}

func (c *Codec) decryptLite(packet []byte) (header [RTPHeaderSize]byte, audio []byte, err error) {
	if len(packet) < RTPHeaderSize+TagSize+4 {
		return header, nil, cryptoErrorf("packet too short for lite mode")
	}
	copy(header[:], packet[:RTPHeaderSize])

	nonceStart := len(packet) - 4
	var nonce [NonceSize]byte
	copy(nonce[:4], packet[nonceStart:])

	sealed := packet[RTPHeaderSize:nonceStart]
	audio, ok := secretbox.Open(nil, sealed, &nonce, &c.key)
	if !ok {
		return header, nil, cryptoErrorf("authentication failed")
	}
	return header, audio, nil
}

func (c *Codec) encryptSuffix(header [RTPHeaderSize]byte, audio []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, cryptoErrorf("rand: %v", err)
	}

	sealed := secretbox.Seal(nil, audio, &nonce, &c.key)
	packet := make([]byte, 0, RTPHeaderSize+len(sealed)+NonceSize)
	packet = append(packet, header[:]...)
	packet = append(packet, sealed...)
	packet = append(packet, nonce[:]...)
	return packet, nil
}

func (c *Codec) decryptSuffix(packet []byte) (header [RTPHeaderSize]byte, audio []byte, err error) {
	if len(packet) < RTPHeaderSize+TagSize+NonceSize {
		return header, nil, cryptoErrorf("packet too short for suffix mode")
	}
	copy(header[:], packet[:RTPHeaderSize])

	nonceStart := len(packet) - NonceSize
	var nonce [NonceSize]byte
	copy(nonce[:], packet[nonceStart:])

	sealed := packet[RTPHeaderSize:nonceStart]
	audio, ok := secretbox.Open(nil, sealed, &nonce, &c.key)
	if !ok {
		return header, nil, cryptoErrorf("authentication failed")
	}
	return header, audio, nil
}

func (c *Codec) encryptNormal(header [RTPHeaderSize]byte, audio []byte) []byte {
	var nonce [NonceSize]byte
	copy(nonce[:RTPHeaderSize], header[:])

	sealed := secretbox.Seal(nil, audio, &nonce, &c.key)
	packet := make([]byte, 0, RTPHeaderSize+len(sealed))
	packet = append(packet, header[:]...)
	packet = append(packet, sealed...)
	return packet
}

func (c *Codec) decryptNormal(packet []byte) (header [RTPHeaderSize]byte, audio []byte, err error) {
	if len(packet) < RTPHeaderSize+TagSize {
		return header, nil, cryptoErrorf("packet too short for normal mode")
	}
	copy(header[:], packet[:RTPHeaderSize])

	var nonce [NonceSize]byte
	copy(nonce[:RTPHeaderSize], header[:])

	sealed := packet[RTPHeaderSize:]
	audio, ok := secretbox.Open(nil, sealed, &nonce, &c.key)
	if !ok {
		return header, nil, cryptoErrorf("authentication failed")
	}
	return header, audio, nil
}

func (c *Codec) encryptAESGCM(header [RTPHeaderSize]byte, audio []byte) ([]byte, error) {
	var noncePrefix [4]byte
	binary.LittleEndian.PutUint32(noncePrefix[:], c.nonceCounter)
	c.nonceCounter++

	var nonce [AESGCMNonceSize]byte
	copy(nonce[:4], noncePrefix[:])

	sealed := c.aead.Seal(nil, nonce[:], audio, nil)
	packet := make([]byte, 0, RTPHeaderSize+len(sealed)+4)
	packet = append(packet, header[:]...)
	packet = append(packet, sealed...)
	packet = append(packet, noncePrefix[:]...)
	return packet, nil
}

func (c *Codec) decryptAESGCM(packet []byte) (header [RTPHeaderSize]byte, audio []byte, err error) {
	if len(packet) < RTPHeaderSize+TagSize+4 {
		return header, nil, cryptoErrorf("packet too short for aes256_gcm mode")
	}
	copy(header[:], packet[:RTPHeaderSize])

	nonceStart := len(packet) - 4
	var nonce [AESGCMNonceSize]byte
	copy(nonce[:4], packet[nonceStart:])

	sealed := packet[RTPHeaderSize:nonceStart]
	audio, err = c.aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return header, nil, cryptoErrorf("authentication failed: %v", err)
	}
	return header, audio, nil
}

func (c *Codec) encryptXChaChaRTPSize(header [RTPHeaderSize]byte, audio []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	copy(nonce[:RTPHeaderSize], header[:])

	sealed := c.aead.Seal(nil, nonce[:], audio, nil)
	packet := make([]byte, 0, RTPHeaderSize+len(sealed))
	packet = append(packet, header[:]...)
	packet = append(packet, sealed...)
	return packet, nil
}

func (c *Codec) decryptXChaChaRTPSize(packet []byte) (header [RTPHeaderSize]byte, audio []byte, err error) {
	if len(packet) < RTPHeaderSize+TagSize {
		return header, nil, cryptoErrorf("packet too short for xchacha20_rtpsize mode")
	}
	copy(header[:], packet[:RTPHeaderSize])

	var nonce [NonceSize]byte
	copy(nonce[:RTPHeaderSize], header[:])

	sealed := packet[RTPHeaderSize:]
	audio, err = c.aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return header, nil, cryptoErrorf("authentication failed: %v", err)
	}
	return header, audio, nil
}
