// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/tuple"
)

type testUser struct {
	ID    int64  `msgpack:"id"`
	Email string `msgpack:"email"`
	Age   int64  `msgpack:"age"`
}

func (u *testUser) TypeName() string { return "User" }

func (u *testUser) Field(name string) (keyexpr.FieldValue, bool) {
	switch name {
	case "id":
		return keyexpr.Scalar(tuple.Int(u.ID)), true
	case "email":
		return keyexpr.Scalar(tuple.String(u.Email)), true
	case "age":
		return keyexpr.Scalar(tuple.Int(u.Age)), true
	default:
		return keyexpr.FieldValue{}, false
	}
}

func (u *testUser) ReconstructFromCovering(typeName string, pk, covering tuple.Tuple) (Record, error) {
	id, _ := pk[0].AsInt()
	email, _ := covering[0].AsString()
	return &testUser{ID: id, Email: email}, nil
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	codec := NewMsgpackCodec()
	codec.Register("User", func() Record { return &testUser{} })

	u := &testUser{ID: 1, Email: "a@x", Age: 30}
	data, err := codec.Serialize(u)
	require.NoError(t, err)

	back, err := codec.Deserialize("User", data)
	require.NoError(t, err)
	got := back.(*testUser)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.Age, got.Age)
}

func TestPrimaryKey(t *testing.T) {
	u := &testUser{ID: 42}
	pk, err := PrimaryKey(u, keyexpr.Field("id"))
	require.NoError(t, err)
	require.Len(t, pk, 1)
	v, _ := pk[0].AsInt()
	assert.Equal(t, int64(42), v)
}

func TestPrimaryKeyMissingFieldRejected(t *testing.T) {
	u := &testUser{}
	_, err := PrimaryKey(u, keyexpr.Field("missing"))
	assert.Error(t, err)
}

func TestReconstructDefaultNotImplemented(t *testing.T) {
	type bareRecord struct{}
	_ = bareRecord{}
	// A type with no Reconstructor falls back to the not-implemented error.
	factory := func() Record { return &noReconstruct{} }
	_, err := Reconstruct("NoCover", factory, tuple.Tuple{tuple.Int(1)}, nil)
	require.Error(t, err)
	var nerr *ErrReconstructionNotImplemented
	assert.ErrorAs(t, err, &nerr)
}

func TestReconstructDispatches(t *testing.T) {
	factory := func() Record { return &testUser{} }
	rec, err := Reconstruct("User", factory, tuple.Tuple{tuple.Int(7)}, tuple.Tuple{tuple.String("x@y")})
	require.NoError(t, err)
	u := rec.(*testUser)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "x@y", u.Email)
}

type noReconstruct struct{}

func (n *noReconstruct) TypeName() string { return "NoCover" }
func (n *noReconstruct) Field(string) (keyexpr.FieldValue, bool) {
	return keyexpr.FieldValue{}, false
}
