// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package executor

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
	"github.com/erigontech/recordlayer/onlineindex"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/recordstore"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/schema"
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

type pointCodec struct{}

func (pointCodec) Serialize(rec record.Record) ([]byte, error) {
	p := rec.(*point)
	return tuple.Pack(tuple.Tuple{tuple.Int(p.ID), tuple.Bytes(indexmaintainer.EncodeVector(p.Vec))}), nil
}

func (pointCodec) Deserialize(typeName string, data []byte) (record.Record, error) {
	t, err := tuple.Unpack(data)
	if err != nil {
		return nil, err
	}
	id, _ := t[0].AsInt()
	vec, _ := t[1].AsBytes()
	return &point{ID: id, Vec: indexmaintainer.DecodeVector(vec)}, nil
}

var pointPK = keyexpr.Concat(keyexpr.Literal(tuple.String("Point")), keyexpr.Field("id"))

const vecIndexName = "Point.byVec"

func newVectorFixture(t *testing.T) (*recordstore.Store, *indexstate.Manager) {
	t.Helper()
	b := schema.NewBuilder(1)
	require.NoError(t, b.AddRecordType("Point", pointPK))
	require.NoError(t, b.AddIndex(&schema.IndexDef{
		Name: vecIndexName, Kind: schema.Vector, RecordType: "Point", Root: keyexpr.Field("vec"), VectorDim: 2,
	}))
	sch, err := b.Build()
	require.NoError(t, err)

	db := memdb.New(kv.DefaultTablesCfg)
	states := indexstate.NewManager(db, kv.IndexState, tuple.NewSubspace(tuple.Tuple{tuple.String("IS")}), time.Second)
	require.NoError(t, states.Enable(context.Background(), vecIndexName))

	maintainers, err := recordstore.BuildMaintainers(sch, kv.Indexes)
	require.NoError(t, err)
	factory := func(typeName string) (record.Record, error) { return &point{}, nil }
	st, err := recordstore.Open(db, sch, pointCodec{}, factory, maintainers, states)
	require.NoError(t, err)
	return st, states
}

// seedPoints is deliberately built so cosine distance and squared
// Euclidean distance disagree on the 2 nearest to query {1, 0}: ID0 is
// Euclidean-farthest (magnitude 5, same direction) yet cosine-nearest,
// while ID2 is Euclidean-closer than ID0 yet cosine-farther (orthogonal
// direction). A regression to Euclidean distance would swap ID0 for
// ID2 in the result.
func seedPoints(t *testing.T, st *recordstore.Store) {
	t.Helper()
	ctx := context.Background()
	pts := []*point{
		{ID: 0, Vec: []float32{5, 0}},   // same direction as query, cosine dist 0
		{ID: 1, Vec: []float32{1, 0.2}}, // close direction, cosine dist ~0.019
		{ID: 2, Vec: []float32{0, 1}},   // orthogonal, cosine dist 1, but Euclidean-closer than ID0
		{ID: 3, Vec: []float32{-1, 0}},  // opposite direction, cosine dist 2
	}
	for _, p := range pts {
		require.NoError(t, st.Save(ctx, p))
	}
}

func TestRunVectorQueryFindsNearestViaGraph(t *testing.T) {
	st, states := newVectorFixture(t)
	seedPoints(t, st)

	maintainer, ok := st.Maintainer(vecIndexName)
	require.True(t, ok)
	vecMaintainer := maintainer.(*indexmaintainer.VectorMaintainer)

	vb := onlineindex.NewVectorBuilder(st.DB(), states, vecIndexName, vecMaintainer, 2, onlineindex.Policy{MarkReadableOnComplete: true})
	require.NoError(t, vb.Build(context.Background()))

	ex := New(st)
	got, err := ex.RunVectorQuery(context.Background(), "Point", VectorQuery{
		IndexName: vecIndexName,
		Query:     []float32{1, 0},
		K:         2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []int64{got[0].(*point).ID, got[1].(*point).ID}
	assert.Contains(t, ids, int64(0), "the same-direction, large-magnitude point must rank near under cosine distance")
	assert.NotContains(t, ids, int64(2), "the orthogonal point must not displace it, though it is Euclidean-closer")
}

func TestRunVectorQueryNotReadableBeforeGraphBuilt(t *testing.T) {
	st, _ := newVectorFixture(t)
	seedPoints(t, st)

	ex := New(st)
	_, err := ex.RunVectorQuery(context.Background(), "Point", VectorQuery{IndexName: vecIndexName, Query: []float32{0, 0}, K: 1})
	var notReadable *rlerrors.IndexNotReadableError
	assert.ErrorAs(t, err, &notReadable)
}

func TestRunVectorQueryFlatFallbackWhenGraphEmpty(t *testing.T) {
	st, states := newVectorFixture(t)
	seedPoints(t, st)
	require.NoError(t, states.MarkReadable(context.Background(), vecIndexName))

	ex := New(st)
	got, err := ex.RunVectorQuery(context.Background(), "Point", VectorQuery{
		IndexName:         vecIndexName,
		Query:             []float32{1, 0},
		K:                 2,
		AllowFlatFallback: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []int64{got[0].(*point).ID, got[1].(*point).ID}
	assert.ElementsMatch(t, []int64{0, 1}, ids, "flat scan must rank by cosine distance, not squared Euclidean distance (which would return {1, 2})")
}

func TestRunVectorQueryWithoutFlatFallbackRaisesGraphNotBuilt(t *testing.T) {
	st, states := newVectorFixture(t)
	seedPoints(t, st)
	require.NoError(t, states.MarkReadable(context.Background(), vecIndexName))

	ex := New(st)
	_, err := ex.RunVectorQuery(context.Background(), "Point", VectorQuery{IndexName: vecIndexName, Query: []float32{0, 0}, K: 2})
	var notBuilt *rlerrors.HNSWGraphNotBuiltError
	assert.ErrorAs(t, err, &notBuilt)
}

func TestRunVectorQueryRejectsNonVectorIndex(t *testing.T) {
	idx := ageIndex()
	f := newFixture(t, idx)
	ex := New(f.store)
	_, err := ex.RunVectorQuery(context.Background(), "Widget", VectorQuery{IndexName: idx.Name, Query: []float32{1}, K: 1})
	var invalid *rlerrors.InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
}
