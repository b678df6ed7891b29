// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package record

import (
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/tuple"
)

// MapAccessor is a generic Record backed by a plain map[string]any, for
// ad-hoc records that do not warrant a generated, statically typed
// accessor — cmd/recordctl's schema-driven CLI constructs every record
// this way, and tests reach for it the same way they reach for
// keyexpr.MapAccessor to exercise an expression without a dedicated Go
// type.
type MapAccessor struct {
	Type   string
	Values map[string]any
}

// NewMapAccessor constructs an empty MapAccessor of the given type.
func NewMapAccessor(typeName string) MapAccessor {
	return MapAccessor{Type: typeName, Values: make(map[string]any)}
}

var _ Record = MapAccessor{}

func (m MapAccessor) TypeName() string { return m.Type }

// Field converts the named value into a keyexpr.FieldValue via a small
// static type switch, never reflection: a []any becomes a repeated
// scalar field (the array-fan-out case from spec §4.2), everything
// else becomes a single scalar.
func (m MapAccessor) Field(name string) (keyexpr.FieldValue, bool) {
	v, ok := m.Values[name]
	if !ok {
		return keyexpr.FieldValue{}, false
	}
	if items, ok := v.([]any); ok {
		es := make([]tuple.Element, len(items))
		for i, item := range items {
			es[i] = elementOf(item)
		}
		return keyexpr.Repeated(es...), true
	}
	return keyexpr.Scalar(elementOf(v)), true
}

// elementOf converts one native Go value into a tuple.Element. Any type
// outside this fixed set packs as a null element rather than panicking
// — a malformed CLI input should surface as a field-comparison
// mismatch, not a crash.
func elementOf(v any) tuple.Element {
	switch vv := v.(type) {
	case nil:
		return tuple.Null()
	case bool:
		return tuple.Bool(vv)
	case int:
		return tuple.Int(int64(vv))
	case int64:
		return tuple.Int(vv)
	case float64:
		return tuple.Float(vv)
	case string:
		return tuple.String(vv)
	case []byte:
		return tuple.Bytes(vv)
	default:
		return tuple.Null()
	}
}
