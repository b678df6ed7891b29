// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package indexmaintainer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/geo/s2cell"
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memdb"
	"github.com/erigontech/recordlayer/tuple"
)

type testPlace struct {
	ID            int64
	Lat, Lon, Alt float64
}

func (p *testPlace) TypeName() string { return "Place" }

func (p *testPlace) Field(name string) (keyexpr.FieldValue, bool) {
	switch name {
	case "id":
		return keyexpr.Scalar(tuple.Int(p.ID)), true
	case "lat":
		return keyexpr.Scalar(tuple.Float(p.Lat)), true
	case "lon":
		return keyexpr.Scalar(tuple.Float(p.Lon)), true
	case "alt":
		return keyexpr.Scalar(tuple.Float(p.Alt)), true
	default:
		return keyexpr.FieldValue{}, false
	}
}

func rawIndexKeys(t *testing.T, db *memdb.DB, table string) []string {
	t.Helper()
	var keys []string
	err := db.View(context.Background(), func(tx kv.Tx) error {
		return tx.Range(table, nil, nil, true, func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	require.NoError(t, err)
	return keys
}

// TestSpatial3DOrdersAcrossAltitudeMidpoint is a regression test for the
// packed-altitude sign-bit bug: at AltitudeBits=18 and the maximum level
// that budget allows, an altitude in the upper half of [AltitudeMin,
// AltitudeMax] sets bit 63 of the packed cell id. Encoding that packed
// value as tuple.Int would tag it as negative and sort it before every
// lower-half entry regardless of cell, destroying locality. The index's
// raw key order must instead track the packed value's unsigned order:
// same cell, lower altitude sorts before higher altitude.
func TestSpatial3DOrdersAcrossAltitudeMidpoint(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	ctx := context.Background()
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String("Place.geo3d")})
	level := s2cell.MaxLevelForAltitudeBits(s2cell.AltitudeBits)
	root := keyexpr.Concat(keyexpr.Field("lat"), keyexpr.Field("lon"), keyexpr.Field("alt"))
	m := NewSpatial3DMaintainer(kv.Indexes, sub, root, keyexpr.Field("id"), level, 0, 9000)

	low := &testPlace{ID: 1, Lat: 10, Lon: 20, Alt: 500}   // lower half of [0, 9000]
	high := &testPlace{ID: 2, Lat: 10, Lon: 20, Alt: 8000} // upper half, sets bit 63

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		if err := m.Update(ctx, tx, nil, low); err != nil {
			return err
		}
		return m.Update(ctx, tx, nil, high)
	}))

	keys := rawIndexKeys(t, db, kv.Indexes)
	require.Len(t, keys, 2)
	assert.Less(t, keys[0], keys[1], "lower-altitude entry at the same cell must sort before the higher-altitude one")
}

func TestSpatialMaintainerInsertDelete(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	ctx := context.Background()
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String("Place.geo")})
	root := keyexpr.Concat(keyexpr.Field("lat"), keyexpr.Field("lon"))
	m := NewSpatialMaintainer(kv.Indexes, sub, root, keyexpr.Field("id"), 16)

	p := &testPlace{ID: 1, Lat: 37.7749, Lon: -122.4194}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, nil, p)
	}))
	assert.Len(t, rawIndexKeys(t, db, kv.Indexes), 1)

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, p, nil)
	}))
	assert.Len(t, rawIndexKeys(t, db, kv.Indexes), 0)
}
