// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package indexstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memdb"
	"github.com/erigontech/recordlayer/tuple"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := memdb.New(kv.DefaultTablesCfg)
	return NewManager(db, kv.IndexState, tuple.NewSubspace(tuple.Tuple{tuple.String("IS")}), time.Second)
}

func TestDefaultStateIsDisabled(t *testing.T) {
	m := newTestManager(t)
	st, err := m.State(context.Background(), "User.email")
	require.NoError(t, err)
	assert.Equal(t, Disabled, st)
}

func TestValidTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Enable(ctx, "User.email"))
	st, err := m.State(ctx, "User.email")
	require.NoError(t, err)
	assert.Equal(t, WriteOnly, st)

	require.NoError(t, m.MarkReadable(ctx, "User.email"))
	st, err = m.State(ctx, "User.email")
	require.NoError(t, err)
	assert.Equal(t, Readable, st)

	require.NoError(t, m.Disable(ctx, "User.email"))
	st, err = m.State(ctx, "User.email")
	require.NoError(t, err)
	assert.Equal(t, Disabled, st)
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.MarkReadable(ctx, "User.email")
	require.Error(t, err)
	var ierr *InvalidStateTransitionError
	assert.ErrorAs(t, err, &ierr)
	assert.Equal(t, Disabled, ierr.From)
	assert.Equal(t, Readable, ierr.To)
}

func TestBatchStates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Enable(ctx, "a"))
	require.NoError(t, m.Enable(ctx, "b"))

	states, err := m.States(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, WriteOnly, states["a"])
	assert.Equal(t, WriteOnly, states["b"])
	assert.Equal(t, Disabled, states["c"])
}
