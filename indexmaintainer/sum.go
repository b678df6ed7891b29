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

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// SumMaintainer implements spec §4.5's sum index: identical grouping
// to CountMaintainer, but the atomic-add delta is a per-record field
// value (ValueExpr) rather than a fixed +1/-1.
type SumMaintainer struct {
	Table     string
	Subspace  tuple.Subspace
	Root      keyexpr.Expression
	ValueExpr keyexpr.Expression
}

var _ Maintainer = (*SumMaintainer)(nil)

func NewSumMaintainer(table string, subspace tuple.Subspace, root, valueExpr keyexpr.Expression) *SumMaintainer {
	return &SumMaintainer{Table: table, Subspace: subspace, Root: root, ValueExpr: valueExpr}
}

// groupSums evaluates Root to find each output's group key and
// ValueExpr to find its delta, pairing them positionally (ValueExpr
// must produce either one broadcast value or exactly as many as Root).
func (m *SumMaintainer) groupSums(rec record.Record) (map[string]int64, error) {
	if rec == nil {
		return nil, nil
	}
	groups, err := m.Root.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	values, err := m.ValueExpr.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 && len(values) != len(groups) {
		return nil, fmt.Errorf("indexmaintainer: sum value-expression count (%d) must be 1 or match root evaluation count (%d)", len(values), len(groups))
	}
	sums := make(map[string]int64, len(groups))
	for i, g := range groups {
		v := values[0]
		if len(values) > 1 {
			v = values[i]
		}
		n, ok := v[0].AsInt()
		if !ok {
			return nil, fmt.Errorf("indexmaintainer: sum index value must evaluate to an integer element")
		}
		sums[string(m.Subspace.Pack(g))] += n
	}
	return sums, nil
}

func (m *SumMaintainer) applyDeltas(tx kv.RwTx, oldSums, newSums map[string]int64) error {
	keys := make(map[string]struct{}, len(oldSums)+len(newSums))
	for k := range oldSums {
		keys[k] = struct{}{}
	}
	for k := range newSums {
		keys[k] = struct{}{}
	}
	for k := range keys {
		delta := newSums[k] - oldSums[k]
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

func (m *SumMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
	oldSums, err := m.groupSums(oldRecord)
	if err != nil {
		return err
	}
	newSums, err := m.groupSums(newRecord)
	if err != nil {
		return err
	}
	return m.applyDeltas(tx, oldSums, newSums)
}

func (m *SumMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	sums, err := m.groupSums(rec)
	if err != nil {
		return err
	}
	return m.applyDeltas(tx, nil, sums)
}
