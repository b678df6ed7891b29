// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package tuple implements the order-preserving, prefix-free tuple codec
// described in §4.1: Pack/Unpack are mutual inverses, and for any two
// tuples t1, t2, Pack(t1) < Pack(t2) lexicographically iff t1 < t2
// element-wise, with cross-type ordering
// null < bool < int < float < string < bytes < uuid < timestamp <
// versionstamp < nested.
package tuple

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a tuple Element. The declaration order of
// the Kind constants below is not the cross-type sort order — that order
// is defined by kindRank and must match the packed tag bytes in
// codec.go.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindUUID
	KindTimestamp
	KindTuple
	KindVersionstamp
)

// Element is one value in a Tuple. Exactly one of the typed fields is
// meaningful, selected by Kind; this is a closed sum type realized as a
// tagged struct (rather than interface{}) so invalid element kinds are
// unrepresentable outside this package, per the §9 design note on typed
// primary keys.
type Element struct {
	kind Kind

	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	u    uuid.UUID
	t    time.Time
	tup  Tuple
	vs   Versionstamp
}

// Versionstamp is a 12-byte value: a 10-byte transaction-order component
// (8-byte commit version + 2-byte in-transaction sequence) plus a 2-byte
// user-controlled suffix. Incomplete marks a versionstamp still awaiting
// its transaction-order component, to be filled in by the KVS at commit
// time via kv.AtomicSetVersionstampedKey.
type Versionstamp struct {
	TxOrder    [10]byte
	UserOrder  uint16
	Incomplete bool
}

// Tuple is an ordered sequence of Elements.
type Tuple []Element

func Null() Element                { return Element{kind: KindNull} }
func Bool(v bool) Element          { return Element{kind: KindBool, b: v} }
func Int(v int64) Element          { return Element{kind: KindInt, i: v} }
func Float(v float64) Element      { return Element{kind: KindFloat, f: v} }
func String(v string) Element      { return Element{kind: KindString, s: v} }
func Bytes(v []byte) Element       { return Element{kind: KindBytes, by: append([]byte(nil), v...)} }
func UUID(v uuid.UUID) Element     { return Element{kind: KindUUID, u: v} }
func Timestamp(v time.Time) Element {
	return Element{kind: KindTimestamp, t: v.UTC()}
}
func Nested(v Tuple) Element { return Element{kind: KindTuple, tup: v} }
func IncompleteVersionstamp(userOrder uint16) Element {
	return Element{kind: KindVersionstamp, vs: Versionstamp{Incomplete: true, UserOrder: userOrder}}
}
func CompleteVersionstamp(vs Versionstamp) Element {
	vs.Incomplete = false
	return Element{kind: KindVersionstamp, vs: vs}
}

func (e Element) Kind() Kind { return e.kind }

func (e Element) AsBool() (bool, bool)       { return e.b, e.kind == KindBool }
func (e Element) AsInt() (int64, bool)       { return e.i, e.kind == KindInt }
func (e Element) AsFloat() (float64, bool)   { return e.f, e.kind == KindFloat }
func (e Element) AsString() (string, bool)   { return e.s, e.kind == KindString }
func (e Element) AsBytes() ([]byte, bool)    { return e.by, e.kind == KindBytes }
func (e Element) AsUUID() (uuid.UUID, bool)  { return e.u, e.kind == KindUUID }
func (e Element) AsTimestamp() (time.Time, bool) {
	return e.t, e.kind == KindTimestamp
}
func (e Element) AsTuple() (Tuple, bool)     { return e.tup, e.kind == KindTuple }
func (e Element) AsVersionstamp() (Versionstamp, bool) {
	return e.vs, e.kind == KindVersionstamp
}

func (e Element) String() string {
	switch e.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", e.b)
	case KindInt:
		return fmt.Sprintf("%d", e.i)
	case KindFloat:
		return fmt.Sprintf("%g", e.f)
	case KindString:
		return fmt.Sprintf("%q", e.s)
	case KindBytes:
		return fmt.Sprintf("%x", e.by)
	case KindUUID:
		return e.u.String()
	case KindTimestamp:
		return e.t.Format(time.RFC3339Nano)
	case KindTuple:
		return fmt.Sprintf("%v", e.tup)
	case KindVersionstamp:
		return "versionstamp"
	default:
		return "invalid"
	}
}

// kindRank gives the cross-type sort position of each Kind, matching the
// packed tag-byte order in codec.go (tagNull .. tagTupleStart) exactly.
// Compare must never fall back to comparing Kind constants directly: the
// iota order of the Kind block is a declaration convenience and is not
// guaranteed to track the wire tag order.
func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt:
		return 2
	case KindFloat:
		return 3
	case KindString:
		return 4
	case KindBytes:
		return 5
	case KindUUID:
		return 6
	case KindTimestamp:
		return 7
	case KindVersionstamp:
		return 8
	case KindTuple:
		return 9
	default:
		panic(fmt.Sprintf("tuple: unknown Kind %d", k))
	}
}

// Compare implements the cross-type ordering from §4.1:
// null < bool < int < float < string < bytes < uuid < timestamp <
// versionstamp < nested, matching the packed tag-byte order in codec.go
// (tagVersionstamp 0x0a sorts before tagTupleStart 0x0b). Returns <0, 0,
// >0.
func (e Element) Compare(o Element) int {
	if e.kind != o.kind {
		if kindRank(e.kind) < kindRank(o.kind) {
			return -1
		}
		return 1
	}
	switch e.kind {
	case KindNull:
		return 0
	case KindBool:
		return boolCompare(e.b, o.b)
	case KindInt:
		return int64Compare(e.i, o.i)
	case KindFloat:
		return float64Compare(e.f, o.f)
	case KindString:
		return stringCompare(e.s, o.s)
	case KindBytes:
		return bytesCompare(e.by, o.by)
	case KindUUID:
		return bytesCompare(e.u[:], o.u[:])
	case KindTimestamp:
		if e.t.Before(o.t) {
			return -1
		} else if e.t.After(o.t) {
			return 1
		}
		return 0
	case KindVersionstamp:
		if c := bytesCompare(e.vs.TxOrder[:], o.vs.TxOrder[:]); c != 0 {
			return c
		}
		return int64Compare(int64(e.vs.UserOrder), int64(o.vs.UserOrder))
	case KindTuple:
		return e.tup.Compare(o.tup)
	default:
		return 0
	}
}

// Compare orders two tuples element-wise: the first differing element
// decides, and a strict prefix sorts before any tuple that extends it.
func (t Tuple) Compare(o Tuple) int {
	n := len(t)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if c := t[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	return int64Compare(int64(len(t)), int64(len(o)))
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func float64Compare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func bytesCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return int64Compare(int64(len(a)), int64(len(b)))
}
