// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package keyexpr implements the key-expression tree described in
// spec §4.2 (C2): field/concat/nest/literal/range-boundary nodes,
// evaluated over a record accessor into one or more tuples. A record
// produces more than one output tuple exactly when an array-typed field
// is reached, per spec's "array fields produce multiple evaluation
// outputs" rule — each becomes an independent index entry.
package keyexpr

import "github.com/erigontech/recordlayer/tuple"

// FieldKind classifies what Accessor.Field returned for a given name.
type FieldKind int

const (
	// FieldScalar is a single typed value.
	FieldScalar FieldKind = iota
	// FieldRepeatedScalar is an array of typed values (fan-out).
	FieldRepeatedScalar
	// FieldNested is a single nested sub-record, itself an Accessor.
	FieldNested
	// FieldRepeatedNested is an array of nested sub-records (fan-out).
	FieldRepeatedNested
	// FieldRange is a [lo, hi) range-valued field, e.g. an availability
	// window, addressed via a RangeBoundary expression rather than Field.
	FieldRange
)

// FieldValue is the tagged result of a field lookup on an Accessor.
type FieldValue struct {
	Kind FieldKind

	Scalar tuple.Element

	Repeated []tuple.Element

	Nested Accessor

	RepeatedNested []Accessor

	RangeLo, RangeHi tuple.Element
}

// Accessor extracts named field values from a record, without requiring
// the expression tree to know the record's concrete Go type. Record
// types implement this directly (per spec §9's "statically generated
// field accessors" design note, reflection-based fallback being a
// deliberate non-goal) or a generic map-backed implementation can be
// used for ad-hoc/test records.
type Accessor interface {
	// Field returns the named field's value, or ok=false if the record
	// has no such field (a field-not-found condition the caller — the
	// expression evaluator — turns into an error with the field name).
	Field(name string) (FieldValue, bool)
}

// MapAccessor is a generic Accessor backed by a plain map, convenient
// for tests and for ad-hoc records that do not warrant a generated
// accessor.
type MapAccessor map[string]FieldValue

var _ Accessor = MapAccessor(nil)

func (m MapAccessor) Field(name string) (FieldValue, bool) {
	v, ok := m[name]
	return v, ok
}

// Scalar is a convenience constructor for a FieldValue wrapping a single
// element.
func Scalar(e tuple.Element) FieldValue {
	return FieldValue{Kind: FieldScalar, Scalar: e}
}

// Repeated is a convenience constructor for an array-typed field.
func Repeated(es ...tuple.Element) FieldValue {
	return FieldValue{Kind: FieldRepeatedScalar, Repeated: es}
}

// Nested is a convenience constructor for a single nested sub-record.
func Nested(a Accessor) FieldValue {
	return FieldValue{Kind: FieldNested, Nested: a}
}

// RepeatedNested is a convenience constructor for an array of nested
// sub-records.
func RepeatedNested(as ...Accessor) FieldValue {
	return FieldValue{Kind: FieldRepeatedNested, RepeatedNested: as}
}

// Range is a convenience constructor for a [lo, hi) range-valued field.
func Range(lo, hi tuple.Element) FieldValue {
	return FieldValue{Kind: FieldRange, RangeLo: lo, RangeHi: hi}
}
