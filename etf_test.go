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
	"strings"
	"testing"
)

func TestDecodeETFSmallInt(t *testing.T) {
	data := []byte{131, 97, 42}
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindInt || term.Int != 42 {
		t.Fatalf("got %+v, want Int(42)", term)
	}
}

func TestDecodeETFInteger(t *testing.T) {
	data := []byte{131, 98, 0, 0, 1, 0} // 256
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindInt || term.Int != 256 {
		t.Fatalf("got %+v, want Int(256)", term)
	}
}

func TestDecodeETFNil(t *testing.T) {
	data := []byte{131, 106}
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindNil {
		t.Fatalf("got %+v, want Nil", term)
	}
}

func TestDecodeETFBinary(t *testing.T) {
	data := []byte{131, 109, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindBinary || string(term.Bin) != "hello" {
		t.Fatalf("got %+v, want Binary(hello)", term)
	}
}

func TestDecodeETFSmallAtomUTF8(t *testing.T) {
	data := []byte{131, 119, 4, 't', 'e', 's', 't'}
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindAtom || term.Str != "test" {
		t.Fatalf("got %+v, want Atom(test)", term)
	}
}

func TestDecodeETFMap(t *testing.T) {
	// %{a: 1}
	data := []byte{
		131,
		116,
		0, 0, 0, 1,
		119, 1, 'a',
		97, 1,
	}
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindMap || len(term.Pairs) != 1 {
		t.Fatalf("got %+v, want single-pair Map", term)
	}
	pair := term.Pairs[0]
	if pair.Key.Kind != etfKindAtom || pair.Key.Str != "a" {
		t.Fatalf("key = %+v, want Atom(a)", pair.Key)
	}
	if pair.Val.Kind != etfKindInt || pair.Val.Int != 1 {
		t.Fatalf("value = %+v, want Int(1)", pair.Val)
	}
}

func TestEtfEnvelopeToJSON(t *testing.T) {
	term := EtfTerm{
		Kind: etfKindMap,
		Pairs: []etfMapPair{
			{Key: EtfTerm{Kind: etfKindAtom, Str: "op"}, Val: EtfTerm{Kind: etfKindInt, Int: 10}},
			{Key: EtfTerm{Kind: etfKindAtom, Str: "d"}, Val: EtfTerm{
				Kind: etfKindMap,
				Pairs: []etfMapPair{
					{Key: EtfTerm{Kind: etfKindAtom, Str: "heartbeat_interval"}, Val: EtfTerm{Kind: etfKindInt, Int: 41250}},
				},
			}},
		},
	}

	raw, err := etfEnvelopeToJSON(term)
	if err != nil {
		t.Fatalf("etfEnvelopeToJSON: %v", err)
	}
	got := string(raw)
	if !strings.Contains(got, `"op":10`) {
		t.Fatalf("json = %s, want it to contain op:10", got)
	}
	if !strings.Contains(got, `"heartbeat_interval":41250`) {
		t.Fatalf("json = %s, want it to contain heartbeat_interval:41250", got)
	}
}

func TestEtfAtomSpecialValues(t *testing.T) {
	cases := map[string]string{
		"nil":   "null",
		"null":  "null",
		"true":  "true",
		"false": "false",
	}
	for atom, want := range cases {
		raw, err := etfEnvelopeToJSON(EtfTerm{Kind: etfKindAtom, Str: atom})
		if err != nil {
			t.Fatalf("etfEnvelopeToJSON(%q): %v", atom, err)
		}
		if string(raw) != want {
			t.Fatalf("atom %q -> %s, want %s", atom, raw, want)
		}
	}
}

func TestEtfBigIntegerOverflowEncodesAsString(t *testing.T) {
	// A snowflake-scale big integer, larger than int64, must round-trip
	// through JSON as a string to avoid precision loss.
	data := []byte{
		131,
		111,       // large_big tag
		0, 0, 0, 9, // 9 digit bytes
		0, // positive sign
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01,
	}
	term, err := DecodeETF(data)
	if err != nil {
		t.Fatalf("DecodeETF: %v", err)
	}
	if term.Kind != etfKindBig {
		t.Fatalf("got %+v, want Big", term)
	}

	raw, err := etfEnvelopeToJSON(term)
	if err != nil {
		t.Fatalf("etfEnvelopeToJSON: %v", err)
	}
	if !strings.HasPrefix(string(raw), `"`) {
		t.Fatalf("json = %s, want an overflowing big int quoted as a string", raw)
	}
}

func TestDecodeETFRejectsBadVersion(t *testing.T) {
	_, err := DecodeETF([]byte{130, 106})
	if err == nil {
		t.Fatal("expected an error for an unsupported ETF version byte")
	}
}
