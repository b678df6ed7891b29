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
	"fmt"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// CoveringMaintainer implements spec §4.5's covering index: same key
// as a value index, but the value carries the packed covering-fields
// evaluation, letting queries reconstruct a record without a second
// fetch (record.Reconstructor).
type CoveringMaintainer struct {
	Table          string
	Subspace       tuple.Subspace
	Root           keyexpr.Expression
	CoveringFields keyexpr.Expression
	PKExpr         keyexpr.Expression
}

var _ Maintainer = (*CoveringMaintainer)(nil)

func NewCoveringMaintainer(table string, subspace tuple.Subspace, root, coveringFields, pkExpr keyexpr.Expression) *CoveringMaintainer {
	return &CoveringMaintainer{Table: table, Subspace: subspace, Root: root, CoveringFields: coveringFields, PKExpr: pkExpr}
}

func (m *CoveringMaintainer) entriesFor(rec record.Record) ([]entry, error) {
	if rec == nil {
		return nil, nil
	}
	pk, err := record.PrimaryKey(rec, m.PKExpr)
	if err != nil {
		return nil, err
	}
	rootOut, err := m.Root.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	coveringOut, err := m.CoveringFields.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	if len(coveringOut) != 1 && len(coveringOut) != len(rootOut) {
		return nil, fmt.Errorf("indexmaintainer: covering-fields evaluation count (%d) must be 1 or match root evaluation count (%d)", len(coveringOut), len(rootOut))
	}
	entries := make([]entry, len(rootOut))
	for i, root := range rootOut {
		full := make(tuple.Tuple, 0, len(root)+len(pk))
		full = append(full, root...)
		full = append(full, pk...)
		covering := coveringOut[0]
		if len(coveringOut) > 1 {
			covering = coveringOut[i]
		}
		entries[i] = entry{key: string(m.Subspace.Pack(full)), value: tuple.Pack(covering)}
	}
	return entries, nil
}

func (m *CoveringMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
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

func (m *CoveringMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	entries, err := m.entriesFor(rec)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := tx.Set(m.Table, []byte(e.key), e.value); err != nil {
			return err
		}
	}
	return nil
}
