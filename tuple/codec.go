// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tuple

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Tag bytes. Ordering of the constants IS the cross-type sort order, so
// never renumber these without re-deriving every persisted key.
const (
	tagNull         byte = 0x00
	tagBoolFalse    byte = 0x01
	tagBoolTrue     byte = 0x02
	tagIntNeg       byte = 0x03 // negative int64, symmetric complement encoding
	tagIntPos       byte = 0x04 // non-negative int64
	tagFloat        byte = 0x05
	tagString       byte = 0x06
	tagBytes        byte = 0x07
	tagUUID         byte = 0x08
	tagTimestamp    byte = 0x09
	tagVersionstamp byte = 0x0a
	tagTupleStart   byte = 0x0b
	tagTupleEnd     byte = 0x0c
)

// escByte/escNullPad form the two-byte escape used inside string and
// bytes encodings so that 0x00 never appears unescaped (prefix-freeness):
// a literal 0x00 byte is written as 0x00 0xff, and readEscaped ends the
// payload at the first unescaped 0x00.
const (
	escByte    = 0x00
	escNullPad = 0xff
)

// Pack serializes t into an order-preserving, prefix-free byte string: for
// any tuples t1, t2, bytes.Compare(Pack(t1), Pack(t2)) has the same sign as
// t1.Compare(t2), and no Pack(t1) is a byte-prefix of a distinct Pack(t2).
func Pack(t Tuple) []byte {
	var buf []byte
	for _, e := range t {
		buf = appendElement(buf, e)
	}
	return buf
}

// PackWithVersionstamp is like Pack but requires exactly one incomplete
// versionstamp element in t, and returns (encoded, offset) where offset is
// the byte position within encoded of the 10-byte transaction-order field
// that the underlying KVS must fill in at commit time via
// kv.AtomicSetVersionstampedKey. It is an error for t to contain zero or
// more than one incomplete versionstamp.
func PackWithVersionstamp(t Tuple) ([]byte, int, error) {
	offset := -1
	var buf []byte
	for _, e := range t {
		if e.kind == KindVersionstamp && e.vs.Incomplete {
			if offset != -1 {
				return nil, 0, fmt.Errorf("tuple: multiple incomplete versionstamps")
			}
			buf = append(buf, tagVersionstamp)
			offset = len(buf)
			buf = append(buf, make([]byte, 10)...)
			var suf [2]byte
			binary.BigEndian.PutUint16(suf[:], e.vs.UserOrder)
			buf = append(buf, suf[:]...)
			continue
		}
		buf = appendElement(buf, e)
	}
	if offset == -1 {
		return nil, 0, fmt.Errorf("tuple: no incomplete versionstamp present")
	}
	return buf, offset, nil
}

func appendElement(buf []byte, e Element) []byte {
	switch e.kind {
	case KindNull:
		return append(buf, tagNull)
	case KindBool:
		if e.b {
			return append(buf, tagBoolTrue)
		}
		return append(buf, tagBoolFalse)
	case KindInt:
		return appendInt(buf, e.i)
	case KindFloat:
		return appendFloat(buf, e.f)
	case KindString:
		return appendEscaped(append(buf, tagString), []byte(e.s))
	case KindBytes:
		return appendEscaped(append(buf, tagBytes), e.by)
	case KindUUID:
		return append(append(buf, tagUUID), e.u[:]...)
	case KindTimestamp:
		return appendTimestamp(buf, e.t)
	case KindVersionstamp:
		buf = append(buf, tagVersionstamp)
		buf = append(buf, e.vs.TxOrder[:]...)
		var suf [2]byte
		binary.BigEndian.PutUint16(suf[:], e.vs.UserOrder)
		return append(buf, suf[:]...)
	case KindTuple:
		buf = append(buf, tagTupleStart)
		for _, inner := range e.tup {
			buf = appendElement(buf, inner)
		}
		return append(buf, tagTupleEnd)
	default:
		panic(fmt.Sprintf("tuple: invalid element kind %d", e.kind))
	}
}

// appendInt encodes a signed 64-bit integer so that byte-lexicographic
// order matches numeric order: non-negative values are written big-endian
// after tagIntPos; negative values have their magnitude complemented
// (XOR with all-ones) and written big-endian after tagIntNeg, so that
// more-negative values (smaller magnitude complement) sort first among
// negatives, and every tagIntNeg byte sorts before every tagIntPos byte.
func appendInt(buf []byte, v int64) []byte {
	var b [8]byte
	if v >= 0 {
		binary.BigEndian.PutUint64(b[:], uint64(v))
		return append(append(buf, tagIntPos), b[:]...)
	}
	binary.BigEndian.PutUint64(b[:], uint64(-v)^math.MaxUint64)
	return append(append(buf, tagIntNeg), b[:]...)
}

func decodeInt(neg bool, b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	if neg {
		return -int64(u ^ math.MaxUint64)
	}
	return int64(u)
}

// appendFloat encodes an IEEE-754 double so that byte order matches float
// order: for non-negative floats, flip the sign bit; for negative floats,
// flip every bit. This is the standard "key-encode a float" transform.
func appendFloat(buf []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	return append(append(buf, tagFloat), b[:]...)
}

func decodeFloat(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func appendTimestamp(buf []byte, t time.Time) []byte {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	buf = append(buf, tagTimestamp)
	buf = appendInt(buf, sec)
	// Drop the tag appendInt just wrote for nsec's own framing; nsec is
	// always non-negative so a fixed 4-byte big-endian field suffices and
	// keeps the timestamp encoding fixed-width (12 bytes after the tag).
	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], uint32(nsec))
	return append(buf, nb[:]...)
}

// escByte/escNullPad: a literal 0x00 in a string/bytes payload is
// encoded as the two bytes {0x00, 0xff} so the single unescaped 0x00 byte
// that follows the payload can unambiguously mark its end.
func appendEscaped(buf []byte, payload []byte) []byte {
	for _, c := range payload {
		if c == escByte {
			buf = append(buf, escByte, escNullPad)
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, escByte)
}

func readEscaped(b []byte) (payload []byte, rest []byte, err error) {
	for i := 0; i < len(b); i++ {
		if b[i] != escByte {
			continue
		}
		if i+1 < len(b) && b[i+1] == escNullPad {
			payload = append(payload, b[:i]...)
			payload = append(payload, escByte)
			b = b[i+2:]
			i = -1
			continue
		}
		payload = append(payload, b[:i]...)
		return payload, b[i+1:], nil
	}
	return nil, nil, fmt.Errorf("tuple: unterminated string/bytes element")
}

// Unpack is the inverse of Pack.
func Unpack(b []byte) (Tuple, error) {
	t, rest, err := unpackUntil(b, false)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("tuple: trailing bytes after tuple")
	}
	return t, nil
}

func unpackUntil(b []byte, nested bool) (Tuple, []byte, error) {
	var t Tuple
	for len(b) > 0 {
		tag := b[0]
		if nested && tag == tagTupleEnd {
			return t, b[1:], nil
		}
		e, rest, err := decodeElement(tag, b[1:])
		if err != nil {
			return nil, nil, err
		}
		t = append(t, e)
		b = rest
	}
	if nested {
		return nil, nil, fmt.Errorf("tuple: unterminated nested tuple")
	}
	return t, b, nil
}

func decodeElement(tag byte, b []byte) (Element, []byte, error) {
	switch tag {
	case tagNull:
		return Null(), b, nil
	case tagBoolFalse:
		return Bool(false), b, nil
	case tagBoolTrue:
		return Bool(true), b, nil
	case tagIntNeg, tagIntPos:
		if len(b) < 8 {
			return Element{}, nil, fmt.Errorf("tuple: truncated int")
		}
		return Int(decodeInt(tag == tagIntNeg, b[:8])), b[8:], nil
	case tagFloat:
		if len(b) < 8 {
			return Element{}, nil, fmt.Errorf("tuple: truncated float")
		}
		return Float(decodeFloat(b[:8])), b[8:], nil
	case tagString:
		payload, rest, err := readEscaped(b)
		if err != nil {
			return Element{}, nil, err
		}
		return String(string(payload)), rest, nil
	case tagBytes:
		payload, rest, err := readEscaped(b)
		if err != nil {
			return Element{}, nil, err
		}
		return Bytes(payload), rest, nil
	case tagUUID:
		if len(b) < 16 {
			return Element{}, nil, fmt.Errorf("tuple: truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], b[:16])
		return UUID(u), b[16:], nil
	case tagTimestamp:
		if len(b) < 13 {
			return Element{}, nil, fmt.Errorf("tuple: truncated timestamp")
		}
		sec := decodeInt(b[0] == tagIntNeg, b[1:9])
		// tagTimestamp's payload always begins with the appendInt tag byte
		// for the seconds field, per appendTimestamp.
		nsec := binary.BigEndian.Uint32(b[9:13])
		return Timestamp(time.Unix(sec, int64(nsec)).UTC()), b[13:], nil
	case tagVersionstamp:
		if len(b) < 12 {
			return Element{}, nil, fmt.Errorf("tuple: truncated versionstamp")
		}
		var vs Versionstamp
		copy(vs.TxOrder[:], b[:10])
		vs.UserOrder = binary.BigEndian.Uint16(b[10:12])
		return CompleteVersionstamp(vs), b[12:], nil
	case tagTupleStart:
		inner, rest, err := unpackUntil(b, true)
		if err != nil {
			return Element{}, nil, err
		}
		return Nested(inner), rest, nil
	default:
		return Element{}, nil, fmt.Errorf("tuple: unknown tag byte 0x%02x", tag)
	}
}

// Strinc returns the smallest byte string that is strictly greater than
// every string with prefix b, by incrementing the last byte that is not
// already 0xff and truncating after it. Used to build a half-open
// [prefix, Strinc(prefix)) range covering every key with that prefix. It
// panics if b is all 0xff bytes (no such successor exists).
func Strinc(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	panic("tuple: Strinc of all-0xff prefix has no successor")
}
