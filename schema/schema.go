// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package schema implements the immutable metadata layer (C4): declared
// record types, their indexes, and the per-type caches (primary-key
// expression, covering-fields expression, affected-indexes list) that
// let the record store (C7) avoid recomputing them on every save. Per
// spec §9's design note on cyclic references, a Schema is built once,
// validated, and then passed around by shared reference — it never
// holds a back-reference to the store or to any transaction.
package schema

import (
	"fmt"

	"github.com/erigontech/recordlayer/geo/s2cell"
	"github.com/erigontech/recordlayer/keyexpr"
)

// IndexKind selects which maintainer (C6) an index uses.
type IndexKind int

const (
	Value IndexKind = iota
	Covering
	Unique
	Count
	Sum
	Spatial
	Spatial3D
	Vector
)

func (k IndexKind) String() string {
	switch k {
	case Value:
		return "value"
	case Covering:
		return "covering"
	case Unique:
		return "unique"
	case Count:
		return "count"
	case Sum:
		return "sum"
	case Spatial:
		return "spatial"
	case Spatial3D:
		return "spatial3d"
	case Vector:
		return "vector"
	default:
		return "unknown"
	}
}

// IndexDef declares one index over one record type.
type IndexDef struct {
	Name       string
	Kind       IndexKind
	RecordType string

	// Root is evaluated against a record to produce the index's leading
	// key component(s); for Spatial/Spatial3D it must evaluate to
	// exactly (lat, lon[, altitude]); for Vector it must evaluate to a
	// single Bytes element holding the encoded vector.
	Root keyexpr.Expression

	// CoveringFields is evaluated and packed into the index value for
	// Kind == Covering; nil for every other kind.
	CoveringFields keyexpr.Expression

	// ValueExpr is evaluated to get the per-record delta added by a Sum
	// index's atomic-add; nil for every other kind.
	ValueExpr keyexpr.Expression

	// SpatialLevel is the S2 cell level used to encode Spatial/Spatial3D
	// coordinates; higher levels are finer-grained. Required > 0 for
	// those kinds.
	SpatialLevel int

	// AltitudeMin/AltitudeMax bound the normalized altitude range packed
	// alongside the cell id for Spatial3D, leaving the low bits for the
	// cell id itself (cell level is capped so normalized altitude fits
	// in the remaining high bits, per spec's "≤18 bits" guidance).
	AltitudeMin, AltitudeMax float64

	// VectorDim is the expected dimensionality of Vector index inputs.
	VectorDim int
}

// RecordTypeDef declares one record type and its primary key.
type RecordTypeDef struct {
	Name       string
	PrimaryKey keyexpr.Expression

	indexes []*IndexDef // cached affected-indexes list, filled by Build in map iteration order (not declaration order)
}

// Indexes returns the indexes declared against this record type, cached
// at schema-build time so record-store saves don't rescan the whole
// index list.
func (t *RecordTypeDef) Indexes() []*IndexDef { return t.indexes }

// Schema is the immutable, validated metadata for a record store.
// Construct with NewBuilder; a Schema returned by Build is safe for
// concurrent read access from many transactions.
type Schema struct {
	version uint64
	types   map[string]*RecordTypeDef
	indexes map[string]*IndexDef
}

func (s *Schema) Version() uint64 { return s.version }

func (s *Schema) RecordType(name string) (*RecordTypeDef, bool) {
	t, ok := s.types[name]
	return t, ok
}

func (s *Schema) Index(name string) (*IndexDef, bool) {
	idx, ok := s.indexes[name]
	return idx, ok
}

// Indexes returns every declared index in unspecified order. The slice
// is rebuilt from a map on every call, so the order can differ between
// calls.
func (s *Schema) Indexes() []*IndexDef {
	out := make([]*IndexDef, 0, len(s.indexes))
	for _, idx := range s.indexes {
		out = append(out, idx)
	}
	return out
}

// Builder constructs a Schema. It is not safe for concurrent use; build
// the schema once at startup, then share the resulting *Schema.
type Builder struct {
	version uint64
	types   map[string]*RecordTypeDef
	indexes map[string]*IndexDef
	order   []string // record type declaration order, for deterministic errors
}

func NewBuilder(version uint64) *Builder {
	return &Builder{
		version: version,
		types:   make(map[string]*RecordTypeDef),
		indexes: make(map[string]*IndexDef),
	}
}

// AddRecordType declares a record type with the given primary-key
// expression. Returns an error if the name is already declared.
func (b *Builder) AddRecordType(name string, pk keyexpr.Expression) error {
	if _, exists := b.types[name]; exists {
		return fmt.Errorf("schema: record type %q already declared", name)
	}
	if pk == nil {
		return fmt.Errorf("schema: record type %q: primary-key expression is required", name)
	}
	b.types[name] = &RecordTypeDef{Name: name, PrimaryKey: pk}
	b.order = append(b.order, name)
	return nil
}

// AddIndex declares an index. The named record type must already be
// declared via AddRecordType.
func (b *Builder) AddIndex(idx *IndexDef) error {
	if _, exists := b.indexes[idx.Name]; exists {
		return fmt.Errorf("schema: index %q already declared", idx.Name)
	}
	if _, ok := b.types[idx.RecordType]; !ok {
		return fmt.Errorf("schema: index %q: unknown record type %q", idx.Name, idx.RecordType)
	}
	if idx.Root == nil {
		return fmt.Errorf("schema: index %q: root expression is required", idx.Name)
	}
	switch idx.Kind {
	case Covering:
		if idx.CoveringFields == nil {
			return fmt.Errorf("schema: covering index %q requires CoveringFields", idx.Name)
		}
	case Sum:
		if idx.ValueExpr == nil {
			return fmt.Errorf("schema: sum index %q requires ValueExpr", idx.Name)
		}
	case Spatial:
		if idx.SpatialLevel <= 0 {
			return fmt.Errorf("schema: spatial index %q requires SpatialLevel > 0", idx.Name)
		}
	case Spatial3D:
		if idx.SpatialLevel <= 0 {
			return fmt.Errorf("schema: spatial3d index %q requires SpatialLevel > 0", idx.Name)
		}
		if idx.AltitudeMin >= idx.AltitudeMax {
			return fmt.Errorf("schema: spatial3d index %q requires AltitudeMin < AltitudeMax", idx.Name)
		}
		if maxLevel := s2cell.MaxLevelForAltitudeBits(s2cell.AltitudeBits); idx.SpatialLevel > maxLevel {
			return fmt.Errorf("schema: spatial3d index %q: SpatialLevel %d leaves no room for the %d-bit packed altitude field (max level %d)", idx.Name, idx.SpatialLevel, s2cell.AltitudeBits, maxLevel)
		}
	case Vector:
		if idx.VectorDim <= 0 {
			return fmt.Errorf("schema: vector index %q requires VectorDim > 0", idx.Name)
		}
	}
	b.indexes[idx.Name] = idx
	return nil
}

// Build attaches each index to its record type and returns the immutable
// Schema. All validation happens in AddRecordType and AddIndex; Build
// itself always returns a nil error.
func (b *Builder) Build() (*Schema, error) {
	for _, idx := range b.indexes {
		t := b.types[idx.RecordType]
		t.indexes = append(t.indexes, idx)
	}
	return &Schema{version: b.version, types: b.types, indexes: b.indexes}, nil
}
