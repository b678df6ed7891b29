// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package executor

import (
	"bytes"
	"context"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/tuple"
)

// scanCursor walks one low-level kv.Cursor over [lo, hi), decoding each
// row with decode and applying filter as a residual post-filter. It
// backs both full scans and single-index scans: the only difference
// between the two is what decode and the range bounds are.
type scanCursor struct {
	tx    kv.Tx
	table string
	lo    []byte
	hi    []byte

	decode func(k, v []byte) (record.Record, error)
	filter []compiler.Predicate

	cur     kv.Cursor
	started bool
}

func (c *scanCursor) Next(ctx context.Context) (record.Record, error) {
	if c.cur == nil {
		cur, err := c.tx.Cursor(c.table)
		if err != nil {
			return nil, err
		}
		c.cur = cur
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var k, v []byte
		var err error
		if !c.started {
			c.started = true
			k, v, err = c.cur.Seek(c.lo)
		} else {
			k, v, err = c.cur.Next()
		}
		if err != nil {
			return nil, err
		}
		if k == nil || (c.hi != nil && bytes.Compare(k, c.hi) >= 0) {
			return nil, nil
		}
		rec, err := c.decode(k, v)
		if err != nil {
			return nil, err
		}
		if len(c.filter) == 0 {
			return rec, nil
		}
		ok, err := matchesTerm(rec, c.filter)
		if err != nil {
			return nil, err
		}
		if ok {
			return rec, nil
		}
	}
}

func (c *scanCursor) Close() {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
}

// limitCursor short-circuits its child after remaining records have
// been returned.
type limitCursor struct {
	inner     Cursor
	remaining int
}

func (c *limitCursor) Next(ctx context.Context) (record.Record, error) {
	if c.remaining <= 0 {
		return nil, nil
	}
	rec, err := c.inner.Next(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	c.remaining--
	return rec, nil
}

func (c *limitCursor) Close() { c.inner.Close() }

// mergeMode selects intersection or union semantics for mergeCursor.
type mergeMode int

const (
	mergeIntersect mergeMode = iota
	mergeUnion
)

// mergeCursor sorted-merges its children by primary key, advancing only
// the lagging child(ren) at each step, per spec §4.12's requirement
// that intersection/union cursors never materialize their children's
// full output. Children must themselves yield records in ascending
// primary-key order, which every leaf cursor here does since both
// kv.Records and every index's entries are keyed with the primary key
// as their trailing tuple component.
type mergeCursor struct {
	children []Cursor
	pkExpr   keyexpr.Expression
	mode     mergeMode

	heads    []record.Record // one buffered head per child, nil once exhausted
	primed   bool
	seenKeys map[string]bool // union-mode de-dup across already-emitted keys
}

func newMergeCursor(children []Cursor, pkExpr keyexpr.Expression, mode mergeMode) *mergeCursor {
	return &mergeCursor{
		children: children,
		pkExpr:   pkExpr,
		mode:     mode,
		heads:    make([]record.Record, len(children)),
	}
}

func (c *mergeCursor) Next(ctx context.Context) (record.Record, error) {
	if !c.primed {
		if err := c.fillAll(ctx); err != nil {
			return nil, err
		}
		c.primed = true
		if c.mode == mergeUnion {
			c.seenKeys = make(map[string]bool)
		}
	}
	for {
		switch c.mode {
		case mergeIntersect:
			rec, done, err := c.nextIntersect(ctx)
			if err != nil || done {
				return nil, err
			}
			if rec != nil {
				return rec, nil
			}
		case mergeUnion:
			rec, done, err := c.nextUnion(ctx)
			if err != nil || done {
				return nil, err
			}
			if rec != nil {
				return rec, nil
			}
		}
	}
}

func (c *mergeCursor) fillAll(ctx context.Context) error {
	for i, ch := range c.children {
		rec, err := ch.Next(ctx)
		if err != nil {
			return err
		}
		c.heads[i] = rec
	}
	return nil
}

// nextIntersect advances the child(ren) holding the smallest buffered
// key; when every child's head agrees on the same key, it emits that
// record and advances all of them. Returns done=true once any child is
// exhausted, since an empty child makes the whole intersection empty.
func (c *mergeCursor) nextIntersect(ctx context.Context) (record.Record, bool, error) {
	for _, h := range c.heads {
		if h == nil {
			return nil, true, nil
		}
	}
	keys := make([]tuple.Tuple, len(c.heads))
	for i, h := range c.heads {
		k, err := c.pk(h)
		if err != nil {
			return nil, false, err
		}
		keys[i] = k
	}
	minKey := keys[0]
	for _, k := range keys[1:] {
		if k.Compare(minKey) < 0 {
			minKey = k
		}
	}
	allEqual := true
	for _, k := range keys {
		if k.Compare(minKey) != 0 {
			allEqual = false
			break
		}
	}
	if allEqual {
		rec := c.heads[0]
		for i := range c.heads {
			next, err := c.children[i].Next(ctx)
			if err != nil {
				return nil, false, err
			}
			c.heads[i] = next
		}
		return rec, false, nil
	}
	for i, k := range keys {
		if k.Compare(minKey) == 0 {
			next, err := c.children[i].Next(ctx)
			if err != nil {
				return nil, false, err
			}
			c.heads[i] = next
		}
	}
	return nil, false, nil
}

// nextUnion advances every child currently holding the smallest
// buffered key and emits that key's record once, de-duplicating
// records a primary key already emitted by an earlier-advancing child.
func (c *mergeCursor) nextUnion(ctx context.Context) (record.Record, bool, error) {
	keys := make([]tuple.Tuple, len(c.heads))
	minIdx := -1
	for i, h := range c.heads {
		if h == nil {
			continue
		}
		k, err := c.pk(h)
		if err != nil {
			return nil, false, err
		}
		keys[i] = k
		if minIdx < 0 || k.Compare(keys[minIdx]) < 0 {
			minIdx = i
		}
	}
	if minIdx < 0 {
		return nil, true, nil
	}
	minKey := keys[minIdx]
	var winner record.Record
	for i, h := range c.heads {
		if h == nil || keys[i].Compare(minKey) != 0 {
			continue
		}
		if winner == nil {
			winner = h
		}
		next, err := c.children[i].Next(ctx)
		if err != nil {
			return nil, false, err
		}
		c.heads[i] = next
	}
	keyBytes := tuple.Pack(minKey)
	if c.seenKeys[string(keyBytes)] {
		return nil, false, nil
	}
	c.seenKeys[string(keyBytes)] = true
	return winner, false, nil
}

func (c *mergeCursor) pk(rec record.Record) (tuple.Tuple, error) {
	return record.PrimaryKey(rec, c.pkExpr)
}

func (c *mergeCursor) Close() {
	for _, ch := range c.children {
		ch.Close()
	}
}
