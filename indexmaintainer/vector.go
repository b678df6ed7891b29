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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// flatSubspaceTag distinguishes the vector index's synchronously
// maintained flat store (pk -> vector bytes) from the HNSW graph data
// the online indexer (C9) owns under the same index subspace.
const flatSubspaceTag = "flat"

// VectorMaintainer implements the synchronous half of spec §4.5's
// vector index: on save, only the flat store (pk -> vector bytes) is
// updated; the HNSW graph is (re)built offline by the online indexer's
// vector-build variant, never here.
type VectorMaintainer struct {
	Table    string
	Subspace tuple.Subspace
	Root     keyexpr.Expression
	PKExpr   keyexpr.Expression
	Dim      int
}

var _ Maintainer = (*VectorMaintainer)(nil)

func NewVectorMaintainer(table string, subspace tuple.Subspace, root, pkExpr keyexpr.Expression, dim int) *VectorMaintainer {
	return &VectorMaintainer{Table: table, Subspace: subspace, Root: root, PKExpr: pkExpr, Dim: dim}
}

func (m *VectorMaintainer) flatKey(pk tuple.Tuple) []byte {
	return m.Subspace.Pack(append(tuple.Tuple{tuple.String(flatSubspaceTag)}, pk...))
}

// FlatRange returns the [lo, hi) key range covering every entry in this
// index's synchronously maintained flat store, for the k-NN query
// cursor's (C13) fallback mode: a full distance-on-the-fly scan when no
// HNSW graph has been built yet.
func (m *VectorMaintainer) FlatRange() (lo, hi []byte) {
	prefix := m.Subspace.Pack(tuple.Tuple{tuple.String(flatSubspaceTag)})
	return prefix, tuple.Strinc(prefix)
}

// FlatPK unpacks the primary key tail from a flat-store key returned by
// a FlatRange scan.
func (m *VectorMaintainer) FlatPK(key []byte) (tuple.Tuple, error) {
	full, err := m.Subspace.Unpack(key)
	if err != nil {
		return nil, err
	}
	return full[1:], nil // full[0] is the "flat" tag literal
}

// EncodeVector packs a []float32 into the fixed-width little-endian
// byte encoding stored in the flat table and read back by the k-NN
// executor (C13) and the HNSW builder (C9).
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (m *VectorMaintainer) vectorBytes(rec record.Record) ([]byte, error) {
	out, err := m.Root.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 || len(out[0]) != 1 {
		return nil, fmt.Errorf("indexmaintainer: vector root expression must evaluate to a single Bytes element")
	}
	b, ok := out[0][0].AsBytes()
	if !ok {
		return nil, fmt.Errorf("indexmaintainer: vector root expression must evaluate to a Bytes element")
	}
	if m.Dim > 0 && len(b) != 4*m.Dim {
		return nil, fmt.Errorf("indexmaintainer: vector has %d bytes, expected %d for dimension %d", len(b), 4*m.Dim, m.Dim)
	}
	return b, nil
}

func (m *VectorMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
	if newRecord == nil {
		if oldRecord == nil {
			return nil
		}
		pk, err := record.PrimaryKey(oldRecord, m.PKExpr)
		if err != nil {
			return err
		}
		return tx.Clear(m.Table, m.flatKey(pk))
	}
	pk, err := record.PrimaryKey(newRecord, m.PKExpr)
	if err != nil {
		return err
	}
	vb, err := m.vectorBytes(newRecord)
	if err != nil {
		return err
	}
	return tx.Set(m.Table, m.flatKey(pk), vb)
}

func (m *VectorMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	vb, err := m.vectorBytes(rec)
	if err != nil {
		return err
	}
	return tx.Set(m.Table, m.flatKey(pk), vb)
}
