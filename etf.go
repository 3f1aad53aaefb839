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
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

const etfVersion = 131

// ETF term tags, per the External Term Format specification.
const (
	etfTagSmallInteger   = 97
	etfTagInteger        = 98
	etfTagFloat          = 99
	etfTagAtom           = 100
	etfTagSmallTuple     = 104
	etfTagLargeTuple     = 105
	etfTagNil            = 106
	etfTagString         = 107
	etfTagList           = 108
	etfTagBinary         = 109
	etfTagSmallBig       = 110
	etfTagLargeBig       = 111
	etfTagMap            = 116
	etfTagAtomUTF8       = 118
	etfTagSmallAtomUTF8  = 119
	etfTagNewFloat       = 70
	etfTagCompressed     = 80
)

// EtfTerm is a decoded Erlang External Term Format value. Exactly one field
// is meaningful per Kind.
type EtfTerm struct {
	Kind  etfKind
	Int   int64
	Big   *big.Int
	Float float64
	Str   string       // Atom/String text form
	Bin   []byte       // Binary raw bytes (always set for Binary, UTF-8 or not)
	List  []EtfTerm    // Tuple/List elements
	Pairs []etfMapPair // Map key/value pairs
}

type etfMapPair struct {
	Key EtfTerm
	Val EtfTerm
}

type etfKind int

const (
	etfKindInt etfKind = iota
	etfKindBig
	etfKindFloat
	etfKindAtom
	etfKindTuple
	etfKindNil
	etfKindString
	etfKindList
	etfKindBinary
	etfKindMap
)

// etfDecoder is a cursor-based recursive-descent decoder over a single ETF
// buffer, built the way the origin gateway's etf.rs decoder is structured:
// a position cursor plus fixed-width readers, one case per tag byte.
type etfDecoder struct {
	data []byte
	pos  int
}

// DecodeETF decodes a complete versioned ETF payload (leading byte 131).
func DecodeETF(data []byte) (EtfTerm, error) {
	d := &etfDecoder{data: data}
	version, err := d.readU8()
	if err != nil {
		return EtfTerm{}, err
	}
	if version != etfVersion {
		return EtfTerm{}, fmt.Errorf("shardwire: invalid ETF version: expected %d, got %d", etfVersion, version)
	}
	return d.decodeValue()
}

func (d *etfDecoder) decodeValue() (EtfTerm, error) {
	tag, err := d.readU8()
	if err != nil {
		return EtfTerm{}, err
	}

	switch tag {
	case etfTagSmallInteger:
		v, err := d.readU8()
		return EtfTerm{Kind: etfKindInt, Int: int64(v)}, err

	case etfTagInteger:
		v, err := d.readI32()
		return EtfTerm{Kind: etfKindInt, Int: int64(v)}, err

	case etfTagFloat:
		b, err := d.readBytes(31)
		if err != nil {
			return EtfTerm{}, err
		}
		s := strings.TrimRight(string(b), "\x00")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return EtfTerm{}, fmt.Errorf("shardwire: invalid ETF float: %w", err)
		}
		return EtfTerm{Kind: etfKindFloat, Float: f}, nil

	case etfTagNewFloat:
		b, err := d.readBytes(8)
		if err != nil {
			return EtfTerm{}, err
		}
		bits := binary.BigEndian.Uint64(b)
		return EtfTerm{Kind: etfKindFloat, Float: math.Float64frombits(bits)}, nil

	case etfTagAtom, etfTagAtomUTF8:
		n, err := d.readU16()
		if err != nil {
			return EtfTerm{}, err
		}
		b, err := d.readBytes(int(n))
		return EtfTerm{Kind: etfKindAtom, Str: string(b)}, err

	case etfTagSmallAtomUTF8:
		n, err := d.readU8()
		if err != nil {
			return EtfTerm{}, err
		}
		b, err := d.readBytes(int(n))
		return EtfTerm{Kind: etfKindAtom, Str: string(b)}, err

	case etfTagSmallTuple:
		arity, err := d.readU8()
		if err != nil {
			return EtfTerm{}, err
		}
		return d.decodeElements(int(arity), etfKindTuple)

	case etfTagLargeTuple:
		arity, err := d.readU32()
		if err != nil {
			return EtfTerm{}, err
		}
		return d.decodeElements(int(arity), etfKindTuple)

	case etfTagNil:
		return EtfTerm{Kind: etfKindNil}, nil

	case etfTagString:
		n, err := d.readU16()
		if err != nil {
			return EtfTerm{}, err
		}
		b, err := d.readBytes(int(n))
		return EtfTerm{Kind: etfKindString, Str: string(b)}, err

	case etfTagList:
		n, err := d.readU32()
		if err != nil {
			return EtfTerm{}, err
		}
		term, err := d.decodeElements(int(n), etfKindList)
		if err != nil {
			return EtfTerm{}, err
		}
		// lists carry a tail term (normally Nil); discard it.
		if _, err := d.decodeValue(); err != nil {
			return EtfTerm{}, err
		}
		return term, nil

	case etfTagBinary:
		n, err := d.readU32()
		if err != nil {
			return EtfTerm{}, err
		}
		b, err := d.readBytes(int(n))
		if err != nil {
			return EtfTerm{}, err
		}
		return EtfTerm{Kind: etfKindBinary, Bin: append([]byte(nil), b...)}, nil

	case etfTagSmallBig:
		n, err := d.readU8()
		if err != nil {
			return EtfTerm{}, err
		}
		return d.decodeBig(int(n))

	case etfTagLargeBig:
		n, err := d.readU32()
		if err != nil {
			return EtfTerm{}, err
		}
		return d.decodeBig(int(n))

	case etfTagMap:
		arity, err := d.readU32()
		if err != nil {
			return EtfTerm{}, err
		}
		pairs := make([]etfMapPair, 0, arity)
		for i := uint32(0); i < arity; i++ {
			key, err := d.decodeValue()
			if err != nil {
				return EtfTerm{}, err
			}
			val, err := d.decodeValue()
			if err != nil {
				return EtfTerm{}, err
			}
			pairs = append(pairs, etfMapPair{Key: key, Val: val})
		}
		return EtfTerm{Kind: etfKindMap, Pairs: pairs}, nil

	case etfTagCompressed:
		size, err := d.readU32()
		if err != nil {
			return EtfTerm{}, err
		}
		rest := d.data[d.pos:]
		decompressed, err := DecompressOneShot(rest)
		if err != nil {
			return EtfTerm{}, fmt.Errorf("shardwire: ETF decompression failed: %w", err)
		}
		if size != 0 && len(decompressed) != int(size) {
			// Discord's declared size is advisory; trust the inflated bytes.
			_ = size
		}
		d.pos = len(d.data)
		inner := &etfDecoder{data: decompressed}
		return inner.decodeValue()

	default:
		return EtfTerm{}, fmt.Errorf("shardwire: unknown ETF tag %d at position %d", tag, d.pos-1)
	}
}

func (d *etfDecoder) decodeElements(n int, kind etfKind) (EtfTerm, error) {
	elems := make([]EtfTerm, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.decodeValue()
		if err != nil {
			return EtfTerm{}, err
		}
		elems = append(elems, v)
	}
	return EtfTerm{Kind: kind, List: elems}, nil
}

func (d *etfDecoder) decodeBig(n int) (EtfTerm, error) {
	sign, err := d.readU8()
	if err != nil {
		return EtfTerm{}, err
	}
	b, err := d.readBytes(n)
	if err != nil {
		return EtfTerm{}, err
	}
	// ETF big integers are little-endian byte sequences.
	be := make([]byte, n)
	for i, by := range b {
		be[n-1-i] = by
	}
	v := new(big.Int).SetBytes(be)
	if sign != 0 {
		v.Neg(v)
	}
	return EtfTerm{Kind: etfKindBig, Big: v}, nil
}

func (d *etfDecoder) readU8() (uint8, error) {
	if d.pos >= len(d.data) {
		return 0, errUnexpectedEOF
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *etfDecoder) readU16() (uint16, error) {
	if d.pos+2 > len(d.data) {
		return 0, errUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *etfDecoder) readU32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, errUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *etfDecoder) readI32() (int32, error) {
	v, err := d.readU32()
	return int32(v), err
}

func (d *etfDecoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, errUnexpectedEOF
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

var errUnexpectedEOF = fmt.Errorf("shardwire: unexpected end of ETF data")

// etfEnvelopeToJSON converts a decoded ETF term into the JSON bytes the rest
// of the gateway code expects, so the opcode envelope can be unmarshaled
// identically regardless of wire encoding.
func etfEnvelopeToJSON(term EtfTerm) ([]byte, error) {
	var sb strings.Builder
	if err := etfTermToJSON(term, &sb); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func etfTermToJSON(term EtfTerm, sb *strings.Builder) error {
	switch term.Kind {
	case etfKindInt:
		sb.WriteString(strconv.FormatInt(term.Int, 10))
	case etfKindBig:
		if term.Big.IsInt64() {
			sb.WriteString(term.Big.String())
		} else {
			// Preserve snowflake precision by emitting as a JSON string.
			sb.WriteByte('"')
			sb.WriteString(term.Big.String())
			sb.WriteByte('"')
		}
	case etfKindFloat:
		sb.WriteString(strconv.FormatFloat(term.Float, 'g', -1, 64))
	case etfKindAtom:
		switch term.Str {
		case "nil", "null":
			sb.WriteString("null")
		case "true":
			sb.WriteString("true")
		case "false":
			sb.WriteString("false")
		default:
			writeJSONString(sb, term.Str)
		}
	case etfKindNil:
		sb.WriteString("null")
	case etfKindString:
		writeJSONString(sb, term.Str)
	case etfKindBinary:
		if isValidUTF8(term.Bin) {
			writeJSONString(sb, string(term.Bin))
		} else {
			writeJSONString(sb, base64.StdEncoding.EncodeToString(term.Bin))
		}
	case etfKindTuple, etfKindList:
		sb.WriteByte('[')
		for i, el := range term.List {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := etfTermToJSON(el, sb); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case etfKindMap:
		sb.WriteByte('{')
		for i, pair := range term.Pairs {
			if i > 0 {
				sb.WriteByte(',')
			}
			key := pair.Key.Str
			if pair.Key.Kind == etfKindBinary {
				key = string(pair.Key.Bin)
			}
			writeJSONString(sb, key)
			sb.WriteByte(':')
			if err := etfTermToJSON(pair.Val, sb); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("shardwire: unhandled ETF term kind %d", term.Kind)
	}
	return nil
}

func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
