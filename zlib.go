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
	"compress/flate"
	"compress/zlib"
	"io"
)

// zlibSuffix is the flush marker (00 00 FF FF) Discord appends to the end of
// each complete zlib-stream message.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// syntheticFinalBlock is a valid BFINAL=1, zero-length stored deflate block.
// Discord's Z_SYNC_FLUSH marker is a BFINAL=0 empty stored block: it flushes
// the current message's bytes but never terminates the underlying deflate
// stream, so a decompressor reading to completion runs past it looking for
// the next block header and blocks (or, against a bytes.Buffer, faults with
// io.ErrUnexpectedEOF) since the next message hasn't arrived yet. Appending
// this tail after each message's real bytes gives the decompressor a clean
// stream end to stop at without needing more input.
var syntheticFinalBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

const (
	zlibInitialBufCap = 32 * 1024
	// zlibMaxWindow is deflate's maximum back-reference distance; carrying
	// more than this as a preset dictionary is wasted work.
	zlibMaxWindow = 32 * 1024
)

// ZlibStreamDecoder incrementally inflates Discord's zlib-stream transport
// compression: a single zlib context spans the entire connection. Discord
// sends one 2-byte zlib header (RFC 1950) at the very start of the
// connection; every message after that is a raw deflate continuation of the
// same bit stream, sharing the sliding-window dictionary built up from all
// prior decompressed output, with no header of its own.
//
// compress/zlib's Resetter cannot model this: Reset always re-reads a fresh
// 2-byte header from the new source and only honors a caller-supplied
// dictionary if that new header's FDICT bit says so, so calling it on
// message two's headerless bytes means misparsing its leading bytes as a
// zlib header. This decoder instead strips Discord's one header itself and
// drives compress/flate directly, carrying the trailing window of
// decompressed output forward as each message's preset dictionary via
// flate.Resetter.
type ZlibStreamDecoder struct {
	pending bytes.Buffer
	reader  io.ReadCloser // raw deflate reader, no zlib framing
	window  []byte        // trailing <=32KiB of all decompressed output so far
	out     bytes.Buffer
	started bool
}

// NewZlibStreamDecoder returns a decoder ready to accept frames for one
// connection lifetime.
func NewZlibStreamDecoder() *ZlibStreamDecoder {
	d := &ZlibStreamDecoder{}
	d.out.Grow(zlibInitialBufCap)
	return d
}

// Feed appends a WebSocket binary frame's payload to the decoder. When the
// frame completes a message (the buffered data ends in the flush suffix) it
// returns the fully inflated message and ok=true; otherwise it returns
// ok=false and the caller should wait for more frames.
func (d *ZlibStreamDecoder) Feed(frame []byte) (out []byte, ok bool, err error) {
	d.pending.Write(frame)

	if !bytes.HasSuffix(d.pending.Bytes(), zlibSuffix) {
		return nil, false, nil
	}

	msg := d.pending.Bytes()
	if !d.started {
		if len(msg) < 2 {
			d.pending.Reset()
			return nil, false, newDecodeError(io.ErrUnexpectedEOF)
		}
		msg = msg[2:] // strip the connection's one-time zlib header
	}

	src := io.MultiReader(bytes.NewReader(msg), bytes.NewReader(syntheticFinalBlock))

	if d.reader == nil {
		d.reader = flate.NewReaderDict(src, d.window)
	} else if err := d.reader.(flate.Resetter).Reset(src, d.window); err != nil {
		d.pending.Reset()
		return nil, false, newDecodeError(err)
	}
	d.started = true
	d.pending.Reset()

	d.out.Reset()
	if _, err := io.Copy(&d.out, d.reader); err != nil && err != io.EOF {
		return nil, false, newDecodeError(err)
	}

	result := make([]byte, d.out.Len())
	copy(result, d.out.Bytes())

	d.window = appendWindow(d.window, result)

	return result, true, nil
}

// appendWindow grows window by add, keeping only the trailing zlibMaxWindow
// bytes — deflate never back-references further than that.
func appendWindow(window, add []byte) []byte {
	window = append(window, add...)
	if len(window) > zlibMaxWindow {
		trimmed := make([]byte, zlibMaxWindow)
		copy(trimmed, window[len(window)-zlibMaxWindow:])
		return trimmed
	}
	return window
}

// Close releases the decoder's inflate context.
func (d *ZlibStreamDecoder) Close() error {
	if d.reader != nil {
		err := d.reader.Close()
		d.reader = nil
		return err
	}
	return nil
}

// IsZlibCompressed reports whether data begins with a recognized zlib
// header (used to distinguish the rare uncompressed text frame).
func IsZlibCompressed(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return data[0] == 0x78 && (data[1] == 0x01 || data[1] == 0x9c || data[1] == 0xda)
}

// HasZlibSuffix reports whether data ends with Discord's zlib flush marker.
func HasZlibSuffix(data []byte) bool {
	return bytes.HasSuffix(data, zlibSuffix)
}

// DecompressOneShot inflates a single complete zlib buffer with no
// persistent context; used by the ETF decoder's compressed-term (tag 80)
// wrapper and by tests.
func DecompressOneShot(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
