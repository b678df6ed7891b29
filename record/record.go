// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package record implements record access (C3): serialization,
// deserialization, primary-key extraction, and optional
// reconstruction-from-covering-index support, funneling every record
// type through one codec interface per spec §9's design note ("the
// source mixes two overlapping serialization APIs... the target should
// settle on one record-serialization trait").
package record

import (
	"fmt"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/tuple"
)

// Record is a deserialized value of some declared record type. Field
// access for key-expression evaluation goes through keyexpr.Accessor;
// record types provide it with statically written Field methods (or a
// generated one), never via reflection.
type Record interface {
	keyexpr.Accessor
	// TypeName returns this record's declared type name, as registered
	// in the schema (C4).
	TypeName() string
}

// Codec serializes and deserializes records of every declared type. The
// record store (C7) and online indexer (C9) depend only on this
// interface, never on a concrete wire format.
type Codec interface {
	Serialize(rec Record) ([]byte, error)
	Deserialize(typeName string, data []byte) (Record, error)
}

// Reconstructor optionally reconstructs a record from a covering
// index's stored key and value, without fetching the full record —
// spec §9's "macro-generated reconstruction from covering indexes"
// design note, expressed here as an opt-in capability rather than a
// mandatory one. The query planner (C12) does not check for it: it
// chooses a covering-only plan whenever a Covering index absorbs the
// whole term, and executing that plan for a type without a
// Reconstructor fails with ErrReconstructionNotImplemented.
type Reconstructor interface {
	// ReconstructFromCovering builds a Record using only the values
	// present in pk and covering — the tuples produced by evaluating the
	// primary-key expression and the index's covering-fields expression,
	// respectively. Implementations that cannot reconstruct a complete,
	// valid record from those fields alone must return
	// ErrReconstructionNotImplemented.
	ReconstructFromCovering(typeName string, pk, covering tuple.Tuple) (Record, error)
}

// ErrReconstructionNotImplemented is returned by the default/fallback
// path when no Reconstructor is registered for a type, corresponding to
// spec §6.3's reconstruction-not-implemented(recordType) error.
type ErrReconstructionNotImplemented struct {
	TypeName string
}

func (e *ErrReconstructionNotImplemented) Error() string {
	return fmt.Sprintf("record: reconstruction from covering index not implemented for type %q", e.TypeName)
}

// PrimaryKey evaluates pkExpr over rec and returns its single output
// tuple. A primary-key expression must not fan out (it may not read an
// array-typed field); Evaluate returning anything other than exactly
// one tuple is an invalid-argument condition.
func PrimaryKey(rec Record, pkExpr keyexpr.Expression) (tuple.Tuple, error) {
	out, err := pkExpr.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("record: primary-key expression for type %q must evaluate to exactly one tuple, got %d", rec.TypeName(), len(out))
	}
	return out[0], nil
}

// Reconstruct dispatches to rec's Reconstructor if it implements one,
// otherwise reports ErrReconstructionNotImplemented. factory constructs
// a zero-value instance of the record's type so its optional
// Reconstructor method set can be consulted even before a concrete
// record value exists.
func Reconstruct(typeName string, factory func() Record, pk, covering tuple.Tuple) (Record, error) {
	zero := factory()
	rc, ok := zero.(Reconstructor)
	if !ok {
		return nil, &ErrReconstructionNotImplemented{TypeName: typeName}
	}
	return rc.ReconstructFromCovering(typeName, pk, covering)
}
