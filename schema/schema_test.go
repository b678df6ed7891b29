// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/geo/s2cell"
	"github.com/erigontech/recordlayer/keyexpr"
)

func buildUserSchema(t *testing.T) *Schema {
	t.Helper()
	b := NewBuilder(1)
	require.NoError(t, b.AddRecordType("User", keyexpr.Field("id")))
	require.NoError(t, b.AddIndex(&IndexDef{
		Name: "User.email.unique", Kind: Unique, RecordType: "User",
		Root: keyexpr.Field("email"),
	}))
	require.NoError(t, b.AddIndex(&IndexDef{
		Name: "User.age", Kind: Value, RecordType: "User",
		Root: keyexpr.Field("age"),
	}))
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

func TestSchemaBuildAndLookup(t *testing.T) {
	s := buildUserSchema(t)
	assert.Equal(t, uint64(1), s.Version())

	rt, ok := s.RecordType("User")
	require.True(t, ok)
	assert.Len(t, rt.Indexes(), 2)

	idx, ok := s.Index("User.age")
	require.True(t, ok)
	assert.Equal(t, Value, idx.Kind)
}

func TestSchemaDuplicateRecordType(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddRecordType("User", keyexpr.Field("id")))
	err := b.AddRecordType("User", keyexpr.Field("id"))
	assert.Error(t, err)
}

func TestSchemaIndexUnknownType(t *testing.T) {
	b := NewBuilder(1)
	err := b.AddIndex(&IndexDef{Name: "x", Kind: Value, RecordType: "Missing", Root: keyexpr.Field("f")})
	assert.Error(t, err)
}

func TestSchemaSumIndexRequiresValueExpr(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddRecordType("Order", keyexpr.Field("id")))
	err := b.AddIndex(&IndexDef{Name: "Order.total", Kind: Sum, RecordType: "Order", Root: keyexpr.Field("customer")})
	assert.Error(t, err)
}

func TestSchemaSpatial3DRequiresAltitudeRange(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddRecordType("Place", keyexpr.Field("id")))
	err := b.AddIndex(&IndexDef{
		Name: "Place.geo", Kind: Spatial3D, RecordType: "Place",
		Root: keyexpr.Field("coords"), SpatialLevel: 12,
	})
	assert.Error(t, err)
}

func TestSchemaSpatial3DRejectsLevelExceedingAltitudeBitBudget(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddRecordType("Place", keyexpr.Field("id")))
	err := b.AddIndex(&IndexDef{
		Name: "Place.geo3d", Kind: Spatial3D, RecordType: "Place",
		Root: keyexpr.Field("coords"), SpatialLevel: s2cell.MaxLevelForAltitudeBits(s2cell.AltitudeBits) + 1,
		AltitudeMin: 0, AltitudeMax: 9000,
	})
	assert.Error(t, err, "a level leaving no headroom for the packed altitude field must be rejected at build time")

	require.NoError(t, b.AddIndex(&IndexDef{
		Name: "Place.geo3d.ok", Kind: Spatial3D, RecordType: "Place",
		Root: keyexpr.Field("coords"), SpatialLevel: s2cell.MaxLevelForAltitudeBits(s2cell.AltitudeBits),
		AltitudeMin: 0, AltitudeMax: 9000,
	}))
}
