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

// UniqueMaintainer implements spec §4.5's unique index: a value index
// plus a pre-write check, under the root-evaluation prefix (without
// the primary-key suffix), that no other primary key is already
// present there.
type UniqueMaintainer struct {
	Table    string
	Name     string
	Subspace tuple.Subspace
	Root     keyexpr.Expression
	PKExpr   keyexpr.Expression
}

var _ Maintainer = (*UniqueMaintainer)(nil)

func NewUniqueMaintainer(table, name string, subspace tuple.Subspace, root, pkExpr keyexpr.Expression) *UniqueMaintainer {
	return &UniqueMaintainer{Table: table, Name: name, Subspace: subspace, Root: root, PKExpr: pkExpr}
}

func (m *UniqueMaintainer) checkNoConflict(tx kv.RwTx, root tuple.Tuple, pk tuple.Tuple) error {
	prefix := m.Subspace.Pack(root)
	end := tuple.Strinc(prefix)
	var conflict error
	err := tx.Range(m.Table, prefix, end, false, func(k, _ []byte) error {
		rest := k[len(prefix):]
		existingPK, uerr := tuple.Unpack(rest)
		if uerr != nil {
			return uerr
		}
		if existingPK.Compare(pk) != 0 {
			conflict = &UniqueViolationError{Index: m.Name, PK: pk}
			return conflict
		}
		return nil
	})
	if conflict != nil {
		return conflict
	}
	return err
}

func (m *UniqueMaintainer) entriesFor(rec record.Record) ([]entry, tuple.Tuple, error) {
	if rec == nil {
		return nil, nil, nil
	}
	pk, err := record.PrimaryKey(rec, m.PKExpr)
	if err != nil {
		return nil, nil, err
	}
	entries, err := evalEntries(m.Subspace, m.Root, rec, pk, nil)
	return entries, pk, err
}

func (m *UniqueMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
	oldEntries, _, err := m.entriesFor(oldRecord)
	if err != nil {
		return err
	}
	newEntries, newPK, err := m.entriesFor(newRecord)
	if err != nil {
		return err
	}
	if newRecord != nil {
		rootOut, err := m.Root.Evaluate(newRecord)
		if err != nil {
			return err
		}
		for _, r := range rootOut {
			if err := m.checkNoConflict(tx, r, newPK); err != nil {
				return err
			}
		}
	}
	return applyDiff(tx, m.Table, oldEntries, newEntries)
}

func (m *UniqueMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	rootOut, err := m.Root.Evaluate(rec)
	if err != nil {
		return err
	}
	for _, r := range rootOut {
		if err := m.checkNoConflict(tx, r, pk); err != nil {
			return err
		}
	}
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
