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

	"github.com/erigontech/recordlayer/geo/s2cell"
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// cellElement encodes a cell (or altitude-packed cell) id as a fixed
// 8-byte big-endian tuple.Bytes element rather than tuple.Int: Pack3D's
// result can set bit 63 once normalized altitude occupies the high
// s2cell.AltitudeBits bits, and tuple's Int encoding sorts every
// negative-tagged value before every non-negative one regardless of
// magnitude — it would silently split the index into two disjoint,
// wrongly-ordered halves at the altitude midpoint. Fixed-width
// big-endian bytes compare lexicographically the same as unsigned
// numeric order, so cell locality survives intact.
func cellElement(v uint64) tuple.Element {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return tuple.Bytes(b[:])
}

// SpatialMaintainer implements spec §4.5's geo and geo3D spatial
// indexes. Root must evaluate to a 2-element (lat, lon) tuple, or a
// 3-element (lat, lon, altitude) tuple when Dim3 is set.
type SpatialMaintainer struct {
	Table                    string
	Subspace                 tuple.Subspace
	Root                     keyexpr.Expression
	PKExpr                   keyexpr.Expression
	Level                    int
	Dim3                     bool
	AltitudeMin, AltitudeMax float64
}

var _ Maintainer = (*SpatialMaintainer)(nil)

func NewSpatialMaintainer(table string, subspace tuple.Subspace, root, pkExpr keyexpr.Expression, level int) *SpatialMaintainer {
	return &SpatialMaintainer{Table: table, Subspace: subspace, Root: root, PKExpr: pkExpr, Level: level}
}

func NewSpatial3DMaintainer(table string, subspace tuple.Subspace, root, pkExpr keyexpr.Expression, level int, altMin, altMax float64) *SpatialMaintainer {
	return &SpatialMaintainer{
		Table: table, Subspace: subspace, Root: root, PKExpr: pkExpr,
		Level: level, Dim3: true, AltitudeMin: altMin, AltitudeMax: altMax,
	}
}

func (m *SpatialMaintainer) cellKeyTuples(rec record.Record) ([]tuple.Tuple, error) {
	outputs, err := m.Root.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	keys := make([]tuple.Tuple, len(outputs))
	for i, out := range outputs {
		wantLen := 2
		if m.Dim3 {
			wantLen = 3
		}
		if len(out) != wantLen {
			return nil, fmt.Errorf("indexmaintainer: spatial root expression must evaluate to %d elements, got %d", wantLen, len(out))
		}
		lat, ok := out[0].AsFloat()
		if !ok {
			return nil, fmt.Errorf("indexmaintainer: spatial latitude must be a float element")
		}
		lon, ok := out[1].AsFloat()
		if !ok {
			return nil, fmt.Errorf("indexmaintainer: spatial longitude must be a float element")
		}
		cellID, err := s2cell.CellID(lat, lon, m.Level)
		if err != nil {
			return nil, err
		}
		if !m.Dim3 {
			keys[i] = tuple.Tuple{cellElement(cellID)}
			continue
		}
		alt, ok := out[2].AsFloat()
		if !ok {
			return nil, fmt.Errorf("indexmaintainer: spatial3d altitude must be a float element")
		}
		packed := s2cell.Pack3D(cellID, m.Level, alt, m.AltitudeMin, m.AltitudeMax, s2cell.AltitudeBits)
		keys[i] = tuple.Tuple{cellElement(packed)}
	}
	return keys, nil
}

func (m *SpatialMaintainer) entriesFor(rec record.Record) ([]entry, error) {
	if rec == nil {
		return nil, nil
	}
	pk, err := record.PrimaryKey(rec, m.PKExpr)
	if err != nil {
		return nil, err
	}
	cellKeys, err := m.cellKeyTuples(rec)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, len(cellKeys))
	for i, ck := range cellKeys {
		full := make(tuple.Tuple, 0, len(ck)+len(pk))
		full = append(full, ck...)
		full = append(full, pk...)
		entries[i] = entry{key: string(m.Subspace.Pack(full))}
	}
	return entries, nil
}

func (m *SpatialMaintainer) Update(ctx context.Context, tx kv.RwTx, oldRecord, newRecord record.Record) error {
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

func (m *SpatialMaintainer) Scan(ctx context.Context, tx kv.RwTx, rec record.Record, pk tuple.Tuple) error {
	cellKeys, err := m.cellKeyTuples(rec)
	if err != nil {
		return err
	}
	for _, ck := range cellKeys {
		full := make(tuple.Tuple, 0, len(ck)+len(pk))
		full = append(full, ck...)
		full = append(full, pk...)
		if err := tx.Set(m.Table, m.Subspace.Pack(full), nil); err != nil {
			return err
		}
	}
	return nil
}
