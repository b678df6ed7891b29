// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rangeset implements the completed-interval tracker (C8) the
// online indexer (C9) uses to make a resumable, crash-tolerant index
// build: every completed sub-range of the primary-key space is recorded
// as a disjoint, non-adjacent [lo, hi) interval, persisted under a KVS
// subspace so a restarted build picks up where it left off.
package rangeset

import (
	"bytes"
	"context"
	"math/big"

	"github.com/google/btree"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/tuple"
)

// interval is the in-memory B-tree element, ordered by Lo.
type interval struct {
	Lo, Hi []byte
}

func lessInterval(a, b interval) bool {
	return bytes.Compare(a.Lo, b.Lo) < 0
}

// Set tracks completed intervals for one index build. The in-memory
// google/btree is a read-through cache of the KVS-backed subspace
// (SPEC_FULL.md §4.8): every mutation writes through to the
// transaction passed in, and Load rebuilds the cache from storage when
// a build resumes after a restart.
type Set struct {
	table    string
	subspace tuple.Subspace
	tree     *btree.BTreeG[interval]
}

// New constructs an empty, in-memory-only Set. Call Load to populate it
// from a previously persisted subspace, or use it directly for a fresh
// build.
func New(table string, subspace tuple.Subspace) *Set {
	return &Set{table: table, subspace: subspace, tree: btree.NewG(32, lessInterval)}
}

// Load rebuilds a Set's in-memory cache from its persisted subspace,
// for resuming an online index build after a restart.
func Load(ctx context.Context, tx kv.Tx, table string, subspace tuple.Subspace) (*Set, error) {
	s := New(table, subspace)
	prefix, end := subspace.Range()
	err := tx.Range(table, prefix, end, true, func(k, v []byte) error {
		loTuple, err := subspace.Unpack(k)
		if err != nil {
			return err
		}
		lo, ok := loTuple[0].AsBytes()
		if !ok {
			return nil
		}
		hiTuple, err := tuple.Unpack(v)
		if err != nil {
			return err
		}
		hi, ok := hiTuple[0].AsBytes()
		if !ok {
			return nil
		}
		s.tree.ReplaceOrInsert(interval{Lo: lo, Hi: hi})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) key(lo []byte) []byte {
	return s.subspace.Pack(tuple.Tuple{tuple.Bytes(lo)})
}

func (s *Set) persist(tx kv.RwTx, iv interval) error {
	return tx.Set(s.table, s.key(iv.Lo), tuple.Pack(tuple.Tuple{tuple.Bytes(iv.Hi)}))
}

func (s *Set) remove(tx kv.RwTx, lo []byte) error {
	return tx.Clear(s.table, s.key(lo))
}

// Insert records [lo, hi) as completed, merging with a directly
// adjacent interval ending exactly at lo and/or one starting exactly at
// hi, per spec §4.7. The merge is persisted to tx in the same
// transaction as the in-memory tree update, so a crash mid-build never
// leaves the two out of sync.
func (s *Set) Insert(tx kv.RwTx, lo, hi []byte) error {
	newLo, newHi := lo, hi

	// The btree is ordered by Lo, so the only interval that could
	// possibly end exactly at lo is the nearest one with Lo <= lo —
	// intervals are disjoint and non-adjacent, so there is at most one
	// candidate.
	var left *interval
	s.tree.DescendLessOrEqual(interval{Lo: lo}, func(item interval) bool {
		left = &item
		return false
	})
	if left != nil && bytes.Equal(left.Hi, lo) {
		newLo = left.Lo
		if err := s.remove(tx, left.Lo); err != nil {
			return err
		}
		s.tree.Delete(*left)
	}

	if right, ok := s.tree.Get(interval{Lo: hi}); ok {
		newHi = right.Hi
		if err := s.remove(tx, right.Lo); err != nil {
			return err
		}
		s.tree.Delete(right)
	}

	merged := interval{Lo: newLo, Hi: newHi}
	if err := s.persist(tx, merged); err != nil {
		return err
	}
	s.tree.ReplaceOrInsert(merged)
	return nil
}

// NextIncomplete returns the first gap strictly inside [after, totalEnd)
// — the next sub-range not yet covered by a completed interval — or
// ok=false if [after, totalEnd) is already fully completed. If after
// falls inside a completed interval, the search resumes at that
// interval's upper bound, per spec §4.7. Unlike spec.md's sketch, this
// does not take a batch-size limit: the online indexer decides how many
// records to consume from the returned gap itself, since rangeset has
// no notion of "how many records" a byte-range contains.
func (s *Set) NextIncomplete(after, totalEnd []byte) (lo, hi []byte, ok bool) {
	cursor := after
	if covering, found := s.tree.Get(interval{Lo: after}); found {
		cursor = covering.Hi
	} else {
		var containing *interval
		s.tree.DescendLessOrEqual(interval{Lo: after}, func(item interval) bool {
			containing = &item
			return false
		})
		if containing != nil && bytes.Compare(containing.Hi, after) > 0 {
			cursor = containing.Hi
		}
	}
	if bytes.Compare(cursor, totalEnd) >= 0 {
		return nil, nil, false
	}

	gapEnd := totalEnd
	s.tree.AscendGreaterOrEqual(interval{Lo: cursor}, func(item interval) bool {
		if bytes.Compare(item.Lo, cursor) > 0 {
			gapEnd = item.Lo
		}
		return false
	})
	return cursor, gapEnd, true
}

// Progress estimates the fraction of [totalLo, totalHi) covered by
// completed intervals, treating keys as big-endian integers
// (byte-lexicographic, hence approximate — see spec §4.7).
func (s *Set) Progress(totalLo, totalHi []byte) float64 {
	total := widthOf(totalLo, totalHi)
	if total.Sign() <= 0 {
		return 0
	}
	covered := new(big.Int)
	s.tree.Ascend(func(item interval) bool {
		lo, hi := item.Lo, item.Hi
		if bytes.Compare(lo, totalLo) < 0 {
			lo = totalLo
		}
		if bytes.Compare(hi, totalHi) > 0 {
			hi = totalHi
		}
		if bytes.Compare(lo, hi) < 0 {
			covered.Add(covered, widthOf(lo, hi))
		}
		return true
	})
	f := new(big.Float).Quo(new(big.Float).SetInt(covered), new(big.Float).SetInt(total))
	frac, _ := f.Float64()
	return frac
}

// widthOf computes hi-lo as an unsigned integer, padding the shorter
// slice with trailing zero bytes so both operands have equal length.
func widthOf(lo, hi []byte) *big.Int {
	n := len(lo)
	if len(hi) > n {
		n = len(hi)
	}
	pad := func(b []byte) *big.Int {
		padded := make([]byte, n)
		copy(padded, b)
		return new(big.Int).SetBytes(padded)
	}
	w := new(big.Int).Sub(pad(hi), pad(lo))
	if w.Sign() < 0 {
		return big.NewInt(0)
	}
	return w
}

// Clear removes every completed interval, for policy.clear-existing
// (spec §4.8) restarting a build from scratch.
func (s *Set) Clear(tx kv.RwTx) error {
	prefix, end := s.subspace.Range()
	if err := tx.ClearRange(s.table, prefix, end); err != nil {
		return err
	}
	s.tree = btree.NewG(32, lessInterval)
	return nil
}
