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

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// ValueMaintainer implements spec §4.5's value index:
// key = indexSubspace ∥ pack(rootEval(record) ∥ pk); value = empty.
type ValueMaintainer struct {
	Table    string
	Subspace tuple.Subspace
	Root     keyexpr.Expression
	PKExpr   keyexpr.Expression
}

var _ Maintainer = (*ValueMaintainer)(nil)

func NewValueMaintainer(table string, subspace tuple.Subspace, root, pkExpr keyexpr.Expression) *ValueMaintainer {
	return &ValueMaintainer{Table: table, Subspace: subspace, Root: root, PKExpr: pkExpr}
}

func (m *ValueMaintainer) entriesFor(rec record.Record) ([]entry, error) {
	if rec == nil {
		return nil, nil
	}
	pk, err := record.PrimaryKey(rec, m.PKExpr)
	if err != nil {
		return nil, err
	}
	return evalEntries(m.Subspace, m.Root, rec, pk, nil)
}

func (m *ValueMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
	oldEntries, err := m.entriesFor(oldRecord)
	if err != nil {
		return err
	}
	newEntries, err := m.entriesFor(newRecord)
	if err != nil {
		return err
	}
	return applyDiff(tx, m.Table, oldEntries, newEntries)
}

func (m *ValueMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	entries, err := evalEntries(m.Subspace, m.Root, rec, pk, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := tx.Set(m.Table, []byte(e.key), nil); err != nil {
			return err
		}
	}
	return nil
}
