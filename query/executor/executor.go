// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package executor implements the query executor (C13): lazy,
// restartable streaming cursors over a query planner.Plan, per spec
// §4.12. Every cursor is single-threaded and never concurrently
// advanced, and each Run opens a fresh read-only transaction — nothing
// here holds state across separate Run calls, so re-running the same
// plan always restarts cleanly.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/query/planner"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/recordstore"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/tuple"
)

// Cursor streams matching records one at a time.
type Cursor interface {
	// Next returns the next matching record, or (nil, nil) once
	// exhausted. It is not safe to call concurrently with itself or any
	// other cursor sharing the same underlying transaction.
	Next(ctx context.Context) (record.Record, error)
	// Close releases the cursor's underlying transaction. Safe to call
	// more than once.
	Close()
}

// Executor runs planner.Plan trees against a recordstore.Store.
type Executor struct {
	store *recordstore.Store
}

func New(store *recordstore.Store) *Executor { return &Executor{store: store} }

// Run opens a fresh read-only transaction and builds the cursor tree
// for plan against recordType. The caller must Close the returned
// cursor when done with it.
func (ex *Executor) Run(ctx context.Context, recordType string, plan *planner.Plan) (Cursor, error) {
	rt, ok := ex.store.Schema().RecordType(recordType)
	if !ok {
		return nil, &rlerrors.InvalidArgumentError{Reason: fmt.Sprintf("unknown record type %q", recordType)}
	}
	tx, err := ex.store.DB().BeginRo(ctx)
	if err != nil {
		return nil, err
	}
	c, err := ex.build(tx, rt, plan)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &txOwningCursor{tx: tx, inner: c}, nil
}

// txOwningCursor wraps the root cursor of a Run call so closing it also
// releases the read transaction every descendant cursor shares.
type txOwningCursor struct {
	tx    kv.Tx
	inner Cursor
}

func (c *txOwningCursor) Next(ctx context.Context) (record.Record, error) { return c.inner.Next(ctx) }
func (c *txOwningCursor) Close() {
	c.inner.Close()
	c.tx.Rollback()
}

func (ex *Executor) build(tx kv.Tx, rt *schema.RecordTypeDef, plan *planner.Plan) (Cursor, error) {
	switch plan.Kind {
	case planner.FullScan:
		return ex.buildFullScan(tx, rt, plan)
	case planner.SingleIndex, planner.Covering:
		return ex.buildIndexScan(tx, rt, plan)
	case planner.Intersection:
		return ex.buildIntersection(tx, rt, plan)
	case planner.Union:
		return ex.buildUnion(tx, rt, plan)
	case planner.Limit:
		return ex.buildLimit(tx, rt, plan)
	default:
		return nil, fmt.Errorf("executor: unsupported plan kind %q", plan.Kind)
	}
}

func (ex *Executor) buildFullScan(tx kv.Tx, rt *schema.RecordTypeDef, plan *planner.Plan) (Cursor, error) {
	sub := ex.store.RecordsSubspace()
	lo := sub.Pack(tuple.Tuple{tuple.String(rt.Name)})
	hi := tuple.Strinc(lo)
	return &scanCursor{
		tx: tx, table: kv.Records, lo: lo, hi: hi,
		decode: func(k, v []byte) (record.Record, error) {
			return ex.store.Codec().Deserialize(rt.Name, v)
		},
		filter: plan.Residual,
	}, nil
}

func (ex *Executor) buildIndexScan(tx kv.Tx, rt *schema.RecordTypeDef, plan *planner.Plan) (Cursor, error) {
	idx := plan.Index
	if idx == nil {
		return nil, fmt.Errorf("executor: %s plan has no index", plan.Kind)
	}
	sub := recordstore.IndexSubspace(idx.Name)
	lo, hi, err := indexRange(sub, plan.Prefix)
	if err != nil {
		return nil, err
	}
	pkArity := arity(rt.PrimaryKey)

	var decode func(k, v []byte) (record.Record, error)
	if plan.Kind == planner.Covering {
		decode = func(k, v []byte) (record.Record, error) {
			pk, err := pkTail(sub, k, pkArity)
			if err != nil {
				return nil, err
			}
			covering, err := tuple.Unpack(v)
			if err != nil {
				return nil, err
			}
			return record.Reconstruct(rt.Name, func() record.Record {
				rec, _ := ex.store.RecordFactory(rt.Name)
				return rec
			}, pk, covering)
		}
	} else {
		decode = func(k, v []byte) (record.Record, error) {
			pk, err := pkTail(sub, k, pkArity)
			if err != nil {
				return nil, err
			}
			data, err := tx.Get(kv.Records, ex.store.RecordKey(pk), true)
			if err == kv.ErrKeyNotFound {
				return nil, &rlerrors.RecordNotFoundError{PrimaryKeyRepr: fmt.Sprintf("%v", pk)}
			}
			if err != nil {
				return nil, err
			}
			return ex.store.Codec().Deserialize(rt.Name, data)
		}
	}

	return &scanCursor{
		tx: tx, table: kv.Indexes, lo: lo, hi: hi,
		decode: decode,
		filter: plan.Residual,
	}, nil
}

func (ex *Executor) buildIntersection(tx kv.Tx, rt *schema.RecordTypeDef, plan *planner.Plan) (Cursor, error) {
	children := make([]Cursor, len(plan.Children))
	for i, cp := range plan.Children {
		c, err := ex.build(tx, rt, cp)
		if err != nil {
			return nil, err
		}
		children[i] = c
	}
	return newMergeCursor(children, rt.PrimaryKey, mergeIntersect), nil
}

func (ex *Executor) buildUnion(tx kv.Tx, rt *schema.RecordTypeDef, plan *planner.Plan) (Cursor, error) {
	children := make([]Cursor, len(plan.Children))
	for i, cp := range plan.Children {
		c, err := ex.build(tx, rt, cp)
		if err != nil {
			return nil, err
		}
		children[i] = c
	}
	return newMergeCursor(children, rt.PrimaryKey, mergeUnion), nil
}

func (ex *Executor) buildLimit(tx kv.Tx, rt *schema.RecordTypeDef, plan *planner.Plan) (Cursor, error) {
	if len(plan.Children) != 1 {
		return nil, fmt.Errorf("executor: limit plan must have exactly one child")
	}
	child, err := ex.build(tx, rt, plan.Children[0])
	if err != nil {
		return nil, err
	}
	return &limitCursor{inner: child, remaining: plan.LimitN}, nil
}

// arity returns a key expression's statically known output tuple width:
// every leaf node (Field, Literal, RangeBoundary) contributes exactly
// one element, Concat sums its children's, and Nest passes its child's
// through unchanged — computed structurally so the executor never needs
// to evaluate an expression against a real record just to locate where
// a packed key's trailing primary key begins.
func arity(e keyexpr.Expression) int {
	switch n := e.(type) {
	case keyexpr.ConcatExpr:
		sum := 0
		for _, c := range n.Children {
			sum += arity(c)
		}
		return sum
	case keyexpr.NestExpr:
		return arity(n.Child)
	default:
		return 1
	}
}

func pkTail(sub tuple.Subspace, key []byte, pkArity int) (tuple.Tuple, error) {
	full, err := sub.Unpack(key)
	if err != nil {
		return nil, err
	}
	if len(full) < pkArity {
		return nil, fmt.Errorf("executor: index key has %d tuple elements, expected at least %d for the primary key tail", len(full), pkArity)
	}
	return full[len(full)-pkArity:], nil
}

// matchesTerm reports whether rec satisfies every leaf in term, under
// the independence each leaf is evaluated separately (conjunctive:
// every leaf must hold). Used to apply a plan's Residual as a
// post-filter after an index (or full scan) has produced a candidate
// record.
func matchesTerm(rec record.Record, term []compiler.Predicate) (bool, error) {
	for _, leaf := range term {
		ok, err := matchesLeaf(rec, leaf)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchesLeaf(rec record.Record, p compiler.Predicate) (bool, error) {
	switch n := p.(type) {
	case compiler.Field:
		return matchesField(rec, n)
	case compiler.Not:
		ok, err := matchesLeaf(rec, n.Child)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case compiler.And:
		return matchesTerm(rec, n.Children)
	case compiler.Or:
		for _, c := range n.Children {
			ok, err := matchesLeaf(rec, c)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("executor: cannot evaluate non-leaf predicate %T as a residual filter", p)
	}
}

func matchesField(rec record.Record, f compiler.Field) (bool, error) {
	fv, ok := rec.Field(f.Name)
	if !ok {
		return false, &keyexpr.FieldNotFoundError{Field: f.Name}
	}
	if fv.Kind != keyexpr.FieldScalar {
		return false, fmt.Errorf("executor: field %q is not scalar-evaluable against a predicate", f.Name)
	}
	switch f.Op {
	case compiler.Eq:
		return fv.Scalar.Compare(f.Value) == 0, nil
	case compiler.Ne:
		return fv.Scalar.Compare(f.Value) != 0, nil
	case compiler.Lt:
		return fv.Scalar.Compare(f.Value) < 0, nil
	case compiler.Le:
		return fv.Scalar.Compare(f.Value) <= 0, nil
	case compiler.Gt:
		return fv.Scalar.Compare(f.Value) > 0, nil
	case compiler.Ge:
		return fv.Scalar.Compare(f.Value) >= 0, nil
	case compiler.StartsWith:
		fs, needle, ok := stringOperands(fv.Scalar, f.Value)
		return ok && strings.HasPrefix(fs, needle), nil
	case compiler.Contains:
		fs, needle, ok := stringOperands(fv.Scalar, f.Value)
		return ok && strings.Contains(fs, needle), nil
	default:
		return false, fmt.Errorf("executor: unsupported operator %s", f.Op)
	}
}

func stringOperands(field, value tuple.Element) (fs, vs string, ok bool) {
	fs, ok1 := field.AsString()
	vs, ok2 := value.AsString()
	return fs, vs, ok1 && ok2
}
