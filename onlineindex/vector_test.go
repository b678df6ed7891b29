// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package onlineindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/indexstate"
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memdb"
	"github.com/erigontech/recordlayer/tuple"
)

type point struct {
	ID  int64
	Vec []float32
}

func (p *point) TypeName() string { return "Point" }

func (p *point) Field(name string) (keyexpr.FieldValue, bool) {
	switch name {
	case "id":
		return keyexpr.Scalar(tuple.Int(p.ID)), true
	case "vec":
		return keyexpr.Scalar(tuple.Bytes(indexmaintainer.EncodeVector(p.Vec))), true
	default:
		return keyexpr.FieldValue{}, false
	}
}

var pointPK = keyexpr.Concat(keyexpr.Literal(tuple.String("Point")), keyexpr.Field("id"))

func seedFlatVectors(t *testing.T, db kv.RwDB, maintain *indexmaintainer.VectorMaintainer, points []*point) {
	t.Helper()
	require.NoError(t, db.Update(context.Background(), func(tx kv.RwTx) error {
		for _, p := range points {
			if err := maintain.Update(context.Background(), tx, nil, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestVectorBuilderWiresNeighbors(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	states := indexstate.NewManager(db, kv.IndexState, tuple.NewSubspace(tuple.Tuple{tuple.String("IS")}), time.Second)
	indexName := "Point.byVec"
	isub := indexSubspaceFor(indexName)
	maintain := indexmaintainer.NewVectorMaintainer(kv.Indexes, isub, keyexpr.Field("vec"), pointPK, 2)

	points := []*point{
		{ID: 0, Vec: []float32{0, 0}},
		{ID: 1, Vec: []float32{1, 0}},
		{ID: 2, Vec: []float32{0, 1}},
		{ID: 3, Vec: []float32{10, 10}},
	}
	seedFlatVectors(t, db, maintain, points)

	require.NoError(t, states.Enable(context.Background(), indexName))
	vb := NewVectorBuilder(db, states, indexName, maintain, 2, Policy{MarkReadableOnComplete: true})
	require.NoError(t, vb.Build(context.Background()))

	st, err := states.State(context.Background(), indexName)
	require.NoError(t, err)
	assert.Equal(t, indexstate.Readable, st)

	// Every inserted node should have been assigned an ordinal and at
	// least one neighbor, since M=2 and there are more than 2 nodes.
	n := 0
	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		lo, hi := tagRange(isub, tagNode)
		if err := tx.Range(kv.Indexes, lo, hi, true, func(k, v []byte) error {
			n++
			return nil
		}); err != nil {
			return err
		}
		for ord := uint32(0); ord < uint32(len(points)); ord++ {
			nbrs, err := vb.neighborsOf(tx, ord)
			require.NoError(t, err)
			assert.NotEmpty(t, nbrs, "node %d has no neighbors", ord)
		}
		return nil
	}))
	assert.Equal(t, len(points), n)
}

// TestVectorBuilderRanksByCosineNotEuclideanMagnitude is a regression
// test for the builder's distance metric: ID0 is far from the query in
// Euclidean terms (magnitude 5, same direction) but cosine-nearest,
// while ID2 is Euclidean-closer but orthogonal. A builder computing
// squared Euclidean distance instead of cosine distance would wire the
// graph's entry neighbors in the opposite order.
func TestVectorBuilderRanksByCosineNotEuclideanMagnitude(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	states := indexstate.NewManager(db, kv.IndexState, tuple.NewSubspace(tuple.Tuple{tuple.String("IS")}), time.Second)
	indexName := "Point.byVec"
	isub := indexSubspaceFor(indexName)
	maintain := indexmaintainer.NewVectorMaintainer(kv.Indexes, isub, keyexpr.Field("vec"), pointPK, 2)

	points := []*point{
		{ID: 0, Vec: []float32{5, 0}},   // same direction as query, cosine dist 0
		{ID: 1, Vec: []float32{1, 0.2}}, // close direction, cosine dist ~0.019
		{ID: 2, Vec: []float32{0, 1}},   // orthogonal, cosine dist 1, but Euclidean-closer than ID0
		{ID: 3, Vec: []float32{-1, 0}},  // opposite direction, cosine dist 2
	}
	seedFlatVectors(t, db, maintain, points)

	require.NoError(t, states.Enable(context.Background(), indexName))
	vb := NewVectorBuilder(db, states, indexName, maintain, 2, Policy{MarkReadableOnComplete: true})
	require.NoError(t, vb.Build(context.Background()))

	var pks []tuple.Tuple
	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		var err error
		pks, err = SearchVector(tx, kv.Indexes, isub, []float32{1, 0}, 2, 0)
		return err
	}))
	require.Len(t, pks, 2)

	ids := make([]int64, len(pks))
	for i, pk := range pks {
		ids[i] = int64(pk[len(pk)-1].(tuple.Int))
	}
	assert.Contains(t, ids, int64(0), "the same-direction, large-magnitude point must rank near under cosine distance")
	assert.NotContains(t, ids, int64(2), "the orthogonal point must not displace it, though it is Euclidean-closer")
}

func TestResetVectorClearsIndexData(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	states := indexstate.NewManager(db, kv.IndexState, tuple.NewSubspace(tuple.Tuple{tuple.String("IS")}), time.Second)
	indexName := "Point.byVec"
	isub := indexSubspaceFor(indexName)
	maintain := indexmaintainer.NewVectorMaintainer(kv.Indexes, isub, keyexpr.Field("vec"), pointPK, 2)

	seedFlatVectors(t, db, maintain, []*point{{ID: 0, Vec: []float32{1, 2}}})
	require.NoError(t, states.Enable(context.Background(), indexName))
	require.NoError(t, states.MarkReadable(context.Background(), indexName))

	require.NoError(t, ResetVector(context.Background(), states, db, indexName, kv.Indexes, isub))

	st, err := states.State(context.Background(), indexName)
	require.NoError(t, err)
	assert.Equal(t, indexstate.WriteOnly, st)

	n := 0
	require.NoError(t, db.View(context.Background(), func(tx kv.Tx) error {
		lo, hi := isub.Range()
		return tx.Range(kv.Indexes, lo, hi, true, func(k, v []byte) error {
			n++
			return nil
		})
	}))
	assert.Equal(t, 0, n, "reset must clear every flat and graph entry under the index's subspace")
}
