// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package indexmaintainer implements the per-index-kind maintainers
// (C6): value, covering, unique, count, sum, spatial, and vector. A
// maintainer computes the multiset of (key, value) entries an old and
// a new record version produce under its index's subspace, and applies
// only their symmetric difference — clearing entries that disappeared,
// setting entries that appeared — inside the caller's transaction.
package indexmaintainer

import (
	"context"
	"fmt"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// Maintainer is implemented by every index kind.
type Maintainer interface {
	// Update applies the delta between oldRecord and newRecord to the
	// index. Either may be nil (insert or delete); both nil is a no-op.
	// The record store calls this inside the record-write transaction,
	// so any returned error aborts that transaction (spec §7: "failure
	// of one maintainer aborts the entire save").
	Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error

	// Scan indexes a single already-persisted record, with no prior
	// version to diff against. Used only by the online indexer (C9)
	// while building an index from scratch; the range-set guarantees
	// each live record is scanned exactly once.
	Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error
}

// UniqueViolationError corresponds to spec §6.3's unique-violation.
type UniqueViolationError struct {
	Index string
	PK    tuple.Tuple
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("indexmaintainer: unique violation on index %q for primary key %v", e.Index, e.PK)
}

// entry is one (key, value) pair produced by evaluating an index's
// root (and, for covering indexes, covering-fields) expression against
// a record.
type entry struct {
	key   string // string(key bytes), used as a map key for set-difference
	value []byte
}

// evalEntries evaluates root against rec and appends pk to each output
// tuple, producing one entry per fan-out branch (array field). value is
// attached verbatim to every entry (nil for plain value/unique indexes).
func evalEntries(subspace tuple.Subspace, root keyexpr.Expression, rec record.Record, pk tuple.Tuple, value []byte) ([]entry, error) {
	outputs, err := root.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, len(outputs))
	for i, out := range outputs {
		full := make(tuple.Tuple, 0, len(out)+len(pk))
		full = append(full, out...)
		full = append(full, pk...)
		entries[i] = entry{key: string(subspace.Pack(full)), value: value}
	}
	return entries, nil
}

// applyDiff clears entries present only in oldEntries and sets entries
// present only in newEntries (or present in both but with a different
// value, e.g. a covering index whose stored fields changed), per
// spec §4.5's "apply only their symmetric difference".
func applyDiff(tx kv.RwTx, table string, oldEntries, newEntries []entry) error {
	oldSet := make(map[string][]byte, len(oldEntries))
	for _, e := range oldEntries {
		oldSet[e.key] = e.value
	}
	newSet := make(map[string][]byte, len(newEntries))
	for _, e := range newEntries {
		newSet[e.key] = e.value
	}
	for k, ov := range oldSet {
		if nv, ok := newSet[k]; ok && bytesEqual(nv, ov) {
			continue
		}
		if err := tx.Clear(table, []byte(k)); err != nil {
			return err
		}
	}
	for k, nv := range newSet {
		if ov, ok := oldSet[k]; ok && bytesEqual(ov, nv) {
			continue
		}
		if err := tx.Set(table, []byte(k), nv); err != nil {
			return err
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
