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
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// MaxPacketSize bounds a single encrypted RTP packet; large enough for any
// standard Opus frame under any supported mode.
const MaxPacketSize = 2048

const ipDiscoveryTimeout = 5 * time.Second

// silenceFrame is the Opus "DTX"/silence marker Discord expects five of,
// sent before and after real audio so the receiver's decoder resets.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// UDPTransport carries encrypted RTP audio over a connected UDP socket and
// performs Discord's IP discovery handshake.
type UDPTransport struct {
	conn      *net.UDPConn
	serverUDP *net.UDPAddr
	ssrc      uint32

	codec     *Codec
	sequence  uint16
	timestamp uint32

	sendBuf []byte
}

// DialUDP binds an ephemeral local UDP port and connects it to the voice
// server's address, fixing the remote endpoint for subsequent sends.
func DialUDP(serverIP string, serverPort uint16, ssrc uint32) (*UDPTransport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(serverIP), Port: int(serverPort)}
	if addr.IP == nil {
		return nil, fmt.Errorf("shardwire/voice: invalid server address %q", serverIP)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("shardwire/voice: dial udp: %w", err)
	}

	return &UDPTransport{
		conn:      conn,
		serverUDP: addr,
		ssrc:      ssrc,
		sendBuf:   make([]byte, MaxPacketSize),
	}, nil
}

// Close releases the underlying UDP socket.
func (u *UDPTransport) Close() error { return u.conn.Close() }

// LocalAddr returns the socket's bound local address.
func (u *UDPTransport) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// SSRC returns the SSRC this transport was built with.
func (u *UDPTransport) SSRC() uint32 { return u.ssrc }

// DiscoverIP performs Discord's 74-byte IP discovery request/response to
// learn this connection's externally visible address and port.
func (u *UDPTransport) DiscoverIP() (externalIP string, externalPort uint16, err error) {
	var request [74]byte
	binary.BigEndian.PutUint16(request[0:2], 0x0001) // type: request
	binary.BigEndian.PutUint16(request[2:4], 70)      // length
	binary.BigEndian.PutUint32(request[4:8], u.ssrc)

	if _, err := u.conn.Write(request[:]); err != nil {
		return "", 0, fmt.Errorf("shardwire/voice: ip discovery send: %w", err)
	}

	if err := u.conn.SetReadDeadline(time.Now().Add(ipDiscoveryTimeout)); err != nil {
		return "", 0, fmt.Errorf("shardwire/voice: ip discovery deadline: %w", err)
	}
	defer u.conn.SetReadDeadline(time.Time{})

	var response [74]byte
	n, err := u.conn.Read(response[:])
	if err != nil {
		return "", 0, fmt.Errorf("shardwire/voice: ip discovery recv: %w", err)
	}
	if n != 74 {
		return "", 0, fmt.Errorf("shardwire/voice: ip discovery response length %d, want 74", n)
	}

	if respType := binary.BigEndian.Uint16(response[0:2]); respType != 0x0002 {
		return "", 0, fmt.Errorf("shardwire/voice: ip discovery response type 0x%04x, want 0x0002", respType)
	}

	addrBytes := response[8:72]
	end := len(addrBytes)
	for i, b := range addrBytes {
		if b == 0 {
			end = i
			break
		}
	}
	externalIP = string(addrBytes[:end])
	externalPort = binary.BigEndian.Uint16(response[72:74])
	return externalIP, externalPort, nil
}

// SetEncryption installs the codec for a negotiated secret key and mode,
// derived from the Voice WebSocket's SessionDescription payload.
func (u *UDPTransport) SetEncryption(secretKey [KeySize]byte, mode EncryptionMode) error {
	codec, err := NewCodec(secretKey, mode)
	if err != nil {
		return err
	}
	u.codec = codec
	return nil
}

// SendAudio builds the next RTP packet for opusFrame, encrypts it, and
// sends it. sequence wraps at u16; timestamp advances by frameSamples
// (typically 960 for a 20ms frame at 48kHz).
func (u *UDPTransport) SendAudio(opusFrame []byte, frameSamples uint32) error {
	if u.codec == nil {
		return fmt.Errorf("shardwire/voice: SendAudio called before SetEncryption")
	}

	header := BuildRTPHeader(u.sequence, u.timestamp, u.ssrc)
	u.sequence++
	u.timestamp += frameSamples

	packet, err := u.codec.Encrypt(header, opusFrame)
	if err != nil {
		return err
	}
	if _, err := u.conn.Write(packet); err != nil {
		return fmt.Errorf("shardwire/voice: send audio: %w", err)
	}
	return nil
}

// SendSilence emits five Opus silence frames, required before and after
// real audio so the receiver's decoder resets cleanly.
func (u *UDPTransport) SendSilence() error {
	for i := 0; i < 5; i++ {
		if err := u.SendAudio(silenceFrame, 960); err != nil {
			return err
		}
	}
	return nil
}

// RecvAudio reads one packet into buf, decrypts it, and returns the
// decoded audio bytes plus the sender's SSRC.
func (u *UDPTransport) RecvAudio(buf []byte) (audio []byte, ssrc uint32, err error) {
	if u.codec == nil {
		return nil, 0, fmt.Errorf("shardwire/voice: RecvAudio called before SetEncryption")
	}

	n, err := u.conn.Read(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("shardwire/voice: recv audio: %w", err)
	}
	if n < RTPHeaderSize {
		return nil, 0, fmt.Errorf("shardwire/voice: packet too short (%d bytes)", n)
	}

	header, audio, err := u.codec.Decrypt(buf[:n])
	if err != nil {
		return nil, 0, err
	}
	_, _, ssrc = ParseRTPHeader(header)
	return audio, ssrc, nil
}
