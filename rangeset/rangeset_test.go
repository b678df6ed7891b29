// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package rangeset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memdb"
	"github.com/erigontech/recordlayer/tuple"
)

func newTestSet(t *testing.T) (*Set, *memdb.DB) {
	t.Helper()
	db := memdb.New(kv.DefaultTablesCfg)
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("IR"), tuple.String("User.byAge")})
	return New(kv.IndexRange, sub), db
}

func b(n byte) []byte { return []byte{n} }

func TestInsertMergesAdjacentIntervals(t *testing.T) {
	s, db := newTestSet(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(10), b(20)) }))
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(20), b(30)) }))
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(0), b(10)) }))

	_, _, ok := s.NextIncomplete(b(0), b(30))
	assert.False(t, ok, "the three inserts should have merged into one [0,30) interval, leaving no gap")
}

func TestInsertLeavesGapBetweenDisjointIntervals(t *testing.T) {
	s, db := newTestSet(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(0), b(10)) }))
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(20), b(30)) }))

	lo, hi, ok := s.NextIncomplete(b(0), b(30))
	require.True(t, ok)
	assert.Equal(t, b(10), lo)
	assert.Equal(t, b(20), hi)
}

func TestNextIncompleteResumesAtIntervalEnd(t *testing.T) {
	s, db := newTestSet(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(0), b(10)) }))

	lo, hi, ok := s.NextIncomplete(b(5), b(20))
	require.True(t, ok)
	assert.Equal(t, b(10), lo)
	assert.Equal(t, b(20), hi)
}

func TestProgress(t *testing.T) {
	s, db := newTestSet(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(0), b(50)) }))

	frac := s.Progress(b(0), b(100))
	assert.InDelta(t, 0.5, frac, 0.01)
}

func TestClearRemovesEverything(t *testing.T) {
	s, db := newTestSet(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(0), b(10)) }))
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Clear(tx) }))

	_, _, ok := s.NextIncomplete(b(0), b(10))
	assert.True(t, ok, "after Clear the whole range should be incomplete again")
}

func TestLoadRebuildsFromPersistedSubspace(t *testing.T) {
	s, db := newTestSet(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error { return s.Insert(tx, b(0), b(10)) }))

	var reloaded *Set
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		var err error
		reloaded, err = Load(ctx, tx, s.table, s.subspace)
		return err
	}))

	_, _, ok := reloaded.NextIncomplete(b(0), b(10))
	assert.False(t, ok)
}
