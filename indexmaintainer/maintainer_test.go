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

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memdb"
	"github.com/erigontech/recordlayer/tuple"
)

type testUser struct {
	ID    int64
	Email string
	Age   int64
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

func countEntries(t *testing.T, db *memdb.DB, table string) int {
	t.Helper()
	n := 0
	err := db.View(context.Background(), func(tx kv.Tx) error {
		return tx.Range(table, nil, nil, true, func(k, v []byte) error {
			n++
			return nil
		})
	})
	require.NoError(t, err)
	return n
}

func TestValueMaintainerInsertUpdateDelete(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	ctx := context.Background()
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String("User.age")})
	m := NewValueMaintainer(kv.Indexes, sub, keyexpr.Field("age"), keyexpr.Field("id"))

	u1 := &testUser{ID: 1, Age: 30}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, nil, u1)
	}))
	assert.Equal(t, 1, countEntries(t, db, kv.Indexes))

	u1Updated := &testUser{ID: 1, Age: 31}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, u1, u1Updated)
	}))
	assert.Equal(t, 1, countEntries(t, db, kv.Indexes))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, u1Updated, nil)
	}))
	assert.Equal(t, 0, countEntries(t, db, kv.Indexes))
}

func TestUniqueMaintainerRejectsConflict(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	ctx := context.Background()
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String("User.email")})
	m := NewUniqueMaintainer(kv.Indexes, "User.email", sub, keyexpr.Field("email"), keyexpr.Field("id"))

	u1 := &testUser{ID: 1, Email: "a@x"}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, nil, u1)
	}))

	u2 := &testUser{ID: 2, Email: "a@x"}
	err := db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, nil, u2)
	})
	require.Error(t, err)
	var uerr *UniqueViolationError
	assert.ErrorAs(t, err, &uerr)
}

func TestCountMaintainerGrouping(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	ctx := context.Background()
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String("User.byAge")})
	m := NewCountMaintainer(kv.Indexes, sub, keyexpr.Field("age"))

	for i := int64(1); i <= 3; i++ {
		u := &testUser{ID: i, Age: 30}
		require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
			return m.Update(ctx, tx, nil, u)
		}))
	}
	key := sub.Pack(tuple.Tuple{tuple.Int(30)})
	var got []byte
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.Get(kv.Indexes, key, true)
		got = v
		return err
	}))
	require.Len(t, got, 8)
}

func TestVectorMaintainerFlatStore(t *testing.T) {
	db := memdb.New(kv.DefaultTablesCfg)
	ctx := context.Background()
	sub := tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String("Doc.vec")})

	vec := EncodeVector([]float32{1, 2, 3})
	type vecRecord struct{ ID int64 }
	root := keyexpr.Literal(tuple.Bytes(vec))
	m := NewVectorMaintainer(kv.Indexes, sub, root, keyexpr.Field("id"), 3)

	rec := keyexpr.MapAccessor{"id": keyexpr.Scalar(tuple.Int(5))}
	_ = vecRecord{}
	wrapped := &mapRecord{MapAccessor: rec, typeName: "Doc"}

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tx, nil, wrapped)
	}))

	key := sub.Pack(tuple.Tuple{tuple.String("flat"), tuple.Int(5)})
	var got []byte
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.Get(kv.Indexes, key, true)
		got = v
		return err
	}))
	assert.Equal(t, []float32{1, 2, 3}, DecodeVector(got))
}

type mapRecord struct {
	keyexpr.MapAccessor
	typeName string
}

func (m *mapRecord) TypeName() string { return m.typeName }
