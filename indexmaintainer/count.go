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

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// CountMaintainer implements spec §4.5's count index: an atomic
// increment/decrement at key = indexSubspace ∥ pack(rootEval), via the
// KVS's atomic-add.
type CountMaintainer struct {
	Table    string
	Subspace tuple.Subspace
	Root     keyexpr.Expression
}

var _ Maintainer = (*CountMaintainer)(nil)

func NewCountMaintainer(table string, subspace tuple.Subspace, root keyexpr.Expression) *CountMaintainer {
	return &CountMaintainer{Table: table, Subspace: subspace, Root: root}
}

// groupCounts evaluates root against rec and returns, per distinct
// group key, how many times that group was produced (a record whose
// root expression fans out across an array field may hit the same
// group more than once).
func (m *CountMaintainer) groupCounts(rec record.Record) (map[string]int64, error) {
	if rec == nil {
		return nil, nil
	}
	outputs, err := m.Root.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(outputs))
	for _, out := range outputs {
		counts[string(m.Subspace.Pack(out))]++
	}
	return counts, nil
}

func (m *CountMaintainer) applyDeltas(tx kv.RwTx, oldCounts, newCounts map[string]int64) error {
	keys := make(map[string]struct{}, len(oldCounts)+len(newCounts))
	for k := range oldCounts {
		keys[k] = struct{}{}
	}
	for k := range newCounts {
		keys[k] = struct{}{}
	}
	for k := range keys {
		delta := newCounts[k] - oldCounts[k]
		if delta == 0 {
			continue
		}
		var param [8]byte
		binary.LittleEndian.PutUint64(param[:], uint64(delta))
		if err := tx.AtomicOp(m.Table, []byte(k), kv.AtomicAdd, param[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *CountMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
	oldCounts, err := m.groupCounts(oldRecord)
	if err != nil {
		return err
	}
	newCounts, err := m.groupCounts(newRecord)
	if err != nil {
		return err
	}
	return m.applyDeltas(tx, oldCounts, newCounts)
}

func (m *CountMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	counts, err := m.groupCounts(rec)
	if err != nil {
		return err
	}
	return m.applyDeltas(tx, nil, counts)
}
