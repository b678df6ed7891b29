// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tuple

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []Tuple{
		{Null()},
		{Bool(true), Bool(false)},
		{Int(0), Int(-1), Int(1), Int(math.MinInt64), Int(math.MaxInt64)},
		{Float(0), Float(-0.0), Float(3.14), Float(-3.14)},
		{String(""), String("hello"), String("a\x00b")},
		{Bytes(nil), Bytes([]byte{0x00, 0x01, 0xff})},
		{UUID(uuid.New())},
		{Timestamp(time.Unix(1700000000, 123456789).UTC())},
		{Nested(Tuple{Int(1), String("x")})},
		{Int(1), String("mixed"), Nested(Tuple{Bool(true)})},
	}
	for _, tc := range cases {
		encoded := Pack(tc)
		decoded, err := Unpack(encoded)
		require.NoError(t, err)
		require.Equal(t, len(tc), len(decoded))
		for i := range tc {
			assert.Equal(t, 0, tc[i].Compare(decoded[i]), "element %d mismatch: %v vs %v", i, tc[i], decoded[i])
		}
	}
}

func TestPackOrderPreserving(t *testing.T) {
	tuples := []Tuple{
		{Null()},
		{Bool(false)},
		{Bool(true)},
		{Int(-100)},
		{Int(-1)},
		{Int(0)},
		{Int(1)},
		{Int(100)},
		{Float(-1.5)},
		{Float(1.5)},
		{String("a")},
		{String("b")},
		{String("ba")},
		{Bytes([]byte{0x01})},
		{Bytes([]byte{0x02})},
	}
	encoded := make([][]byte, len(tuples))
	for i, tt := range tuples {
		encoded[i] = Pack(tt)
	}
	shuffled := append([][]byte(nil), encoded...)
	sort.Slice(shuffled, func(i, j int) bool { return bytes.Compare(shuffled[i], shuffled[j]) < 0 })
	for i := range encoded {
		assert.True(t, bytes.Equal(encoded[i], shuffled[i]), "tuple %d out of order after sort", i)
	}
}

func TestPackPrefixFree(t *testing.T) {
	// A complete tuple's encoding must never be a byte-prefix of a
	// distinct tuple's encoding, even when the distinct tuple extends it
	// with more elements: the string terminator byte breaks the prefix.
	a := Pack(Tuple{String("ab")})
	b := Pack(Tuple{String("ab"), String("c")})
	assert.False(t, len(b) >= len(a) && bytes.Equal(a, b[:len(a)]))
}

func TestPackWithVersionstamp(t *testing.T) {
	encoded, offset, err := PackWithVersionstamp(Tuple{String("key"), IncompleteVersionstamp(0)})
	require.NoError(t, err)
	require.True(t, offset > 0 && offset+10 <= len(encoded))

	_, _, err = PackWithVersionstamp(Tuple{String("key")})
	assert.Error(t, err)

	_, _, err = PackWithVersionstamp(Tuple{IncompleteVersionstamp(0), IncompleteVersionstamp(1)})
	assert.Error(t, err)
}

func TestVersionstampSortsBeforeNestedTuple(t *testing.T) {
	vs := CompleteVersionstamp(Versionstamp{TxOrder: [10]byte{0xff}})
	nested := Nested(Tuple{Int(0)})

	assert.Equal(t, -1, vs.Compare(nested))
	assert.Equal(t, 1, nested.Compare(vs))

	a := Pack(Tuple{vs})
	b := Pack(Tuple{nested})
	assert.Equal(t, -1, bytes.Compare(a, b), "packed Versionstamp must sort before packed nested Tuple")
}

func TestStrinc(t *testing.T) {
	assert.Equal(t, []byte{0x01}, Strinc([]byte{0x00}))
	assert.Equal(t, []byte{0x01}, Strinc([]byte{0x00, 0xff}))
	assert.Panics(t, func() { Strinc([]byte{0xff, 0xff}) })
}

func TestSubspaceRangeContainment(t *testing.T) {
	root := NewSubspace(Tuple{String("records")})
	child := root.Sub(Tuple{String("person")})

	key := child.Pack(Tuple{Int(42)})
	assert.True(t, child.Contains(key))
	assert.True(t, root.Contains(key))

	begin, end := child.Range()
	assert.True(t, bytes.Compare(begin, key) <= 0)
	assert.True(t, bytes.Compare(key, end) < 0)

	decoded, err := child.Unpack(key)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	v, ok := decoded[0].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
}
