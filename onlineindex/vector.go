// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package onlineindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/indexstate"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/tuple"
)

// vector subspace tags, children of the index's own subspace; "flat" is
// written synchronously by indexmaintainer.VectorMaintainer, the rest
// are owned entirely by VectorBuilder.
const (
	tagFlat  = "flat"
	tagNode  = "node"  // pk -> ordinal (uint32 big-endian)
	tagRNode = "rnode" // ordinal -> pk (packed tuple)
	tagGraph = "graph" // ordinal -> neighbor ordinal list (uint32 big-endian, concatenated)
)

// VectorBuilder constructs the HNSW-style neighbor graph over a vector
// index's flat pk->vector store, per spec §4.8's vector/HNSW builder
// variant: it runs after the flat scan (driven by the ordinary Indexer
// using indexmaintainer.VectorMaintainer.Scan) has populated every
// record's flat entry.
//
// This builder uses a single flat neighbor layer rather than HNSW's full
// multi-layer skip structure: each insert computes exact cosine distance to
// every previously inserted node and keeps the M closest as neighbors,
// wiring the new node into those neighbors' lists in turn (pruned back
// to M). This is O(n) per insert rather than HNSW's logarithmic search,
// an explicit scope reduction appropriate for the record counts this
// module is built to handle; a future revision could add entry-point
// layering without changing the on-disk graph format.
type VectorBuilder struct {
	db     kv.RwDB
	states *indexstate.Manager

	indexName     string
	indexTable    string
	indexSubspace tuple.Subspace
	vecMaintain   *indexmaintainer.VectorMaintainer

	M   int // neighbors kept per node
	Dim int

	policy Policy
}

func NewVectorBuilder(db kv.RwDB, states *indexstate.Manager, indexName string, vecMaintain *indexmaintainer.VectorMaintainer, m int, policy Policy) *VectorBuilder {
	if m <= 0 {
		m = 16
	}
	return &VectorBuilder{
		db: db, states: states,
		indexName: indexName, indexTable: vecMaintain.Table, indexSubspace: vecMaintain.Subspace,
		vecMaintain: vecMaintain, M: m, Dim: vecMaintain.Dim, policy: policy,
	}
}

func (b *VectorBuilder) key(tag string, suffix tuple.Tuple) []byte {
	t := make(tuple.Tuple, 0, 1+len(suffix))
	t = append(t, tuple.String(tag))
	t = append(t, suffix...)
	return b.indexSubspace.Pack(t)
}

// Build walks every entry in the flat store and inserts it into the
// graph, skipping pks that already have a node entry (so Build is safe
// to resume after a crash: nodes already wired are never touched
// again).
func (b *VectorBuilder) Build(ctx context.Context) error {
	flatLo, flatHi := flatRange(b.indexSubspace)

	type flatEntry struct {
		pk  tuple.Tuple
		vec []float32
	}
	var pending []flatEntry
	err := b.db.View(ctx, func(tx kv.Tx) error {
		return tx.Range(b.indexTable, flatLo, flatHi, true, func(k, v []byte) error {
			rest := k[len(flatLo):]
			pk, uerr := tuple.Unpack(rest)
			if uerr != nil {
				return uerr
			}
			pending = append(pending, flatEntry{pk: pk, vec: indexmaintainer.DecodeVector(v)})
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, fe := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.insertNode(ctx, fe.pk, fe.vec); err != nil {
			return err
		}
	}

	if b.policy.MarkReadableOnComplete {
		return b.states.MarkReadable(ctx, b.indexName)
	}
	return nil
}

func (b *VectorBuilder) insertNode(ctx context.Context, pk tuple.Tuple, vec []float32) error {
	return b.db.Update(ctx, func(tx kv.RwTx) error {
		nodeKey := b.key(tagNode, pk)
		if _, err := tx.Get(b.indexTable, nodeKey, false); err == nil {
			return nil // already inserted, resuming a prior partial build
		} else if err != kv.ErrKeyNotFound {
			return err
		}

		ordinal, err := b.nextOrdinal(tx)
		if err != nil {
			return err
		}

		neighbors, err := b.nearest(tx, vec, b.M)
		if err != nil {
			return err
		}

		if err := tx.Set(b.indexTable, nodeKey, encodeOrdinal(ordinal)); err != nil {
			return err
		}
		if err := tx.Set(b.indexTable, b.key(tagRNode, tuple.Tuple{tuple.Int(int64(ordinal))}), tuple.Pack(pk)); err != nil {
			return err
		}
		if err := b.writeNeighbors(tx, ordinal, neighbors); err != nil {
			return err
		}
		for _, n := range neighbors {
			if err := b.addNeighborAndPrune(tx, n, ordinal, vec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *VectorBuilder) nextOrdinal(tx kv.RwTx) (uint32, error) {
	key := b.key(tagGraph, tuple.Tuple{tuple.String("_next")})
	v, err := tx.Get(b.indexTable, key, false)
	var next uint32
	if err == nil {
		next = binary.BigEndian.Uint32(v)
	} else if err != kv.ErrKeyNotFound {
		return 0, err
	}
	if err := tx.Set(b.indexTable, key, encodeOrdinal(next+1)); err != nil {
		return 0, err
	}
	return next, nil
}

// nearest returns up to k existing node ordinals closest to vec by
// exact cosine distance, scanning every rnode entry. A roaring bitmap marks
// ordinals already considered, the standard compact representation for
// an HNSW-style visited-set, here sized to the whole graph rather than
// one query's local search frontier since this builder has no layered
// entry points to bound the search from.
func (b *VectorBuilder) nearest(tx kv.Getter, vec []float32, k int) ([]uint32, error) {
	rLo, rHi := tagRange(b.indexSubspace, tagRNode)
	visited := roaring.New()

	type cand struct {
		ordinal uint32
		dist    float64
	}
	var candidates []cand
	err := tx.Range(b.indexTable, rLo, rHi, true, func(key, value []byte) error {
		rest := key[len(rLo):]
		ordTuple, uerr := tuple.Unpack(rest)
		if uerr != nil {
			return uerr
		}
		ordI, ok := ordTuple[0].AsInt()
		if !ok {
			return fmt.Errorf("onlineindex: corrupt rnode ordinal key")
		}
		ordinal := uint32(ordI)
		if visited.Contains(ordinal) {
			return nil
		}
		visited.Add(ordinal)

		pk, perr := tuple.Unpack(value)
		if perr != nil {
			return perr
		}
		nodeKey := b.key(tagFlat, pk)
		vecBytes, gerr := tx.Get(b.indexTable, nodeKey, true)
		if gerr != nil {
			return gerr
		}
		other := indexmaintainer.DecodeVector(vecBytes)
		candidates = append(candidates, cand{ordinal: ordinal, dist: cosineDistance(vec, other)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Partial selection sort for the k smallest distances; graphs built
	// by this package stay small enough that this is not a hot path.
	if k > len(candidates) {
		k = len(candidates)
	}
	for i := 0; i < k; i++ {
		minIdx := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].dist < candidates[minIdx].dist {
				minIdx = j
			}
		}
		candidates[i], candidates[minIdx] = candidates[minIdx], candidates[i]
	}
	out := make([]uint32, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].ordinal
	}
	return out, nil
}

func (b *VectorBuilder) neighborsOf(tx kv.Getter, ordinal uint32) ([]uint32, error) {
	v, err := tx.Get(b.indexTable, b.key(tagGraph, tuple.Tuple{tuple.Int(int64(ordinal))}), false)
	if err == kv.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeOrdinals(v), nil
}

func (b *VectorBuilder) writeNeighbors(tx kv.RwTx, ordinal uint32, neighbors []uint32) error {
	return tx.Set(b.indexTable, b.key(tagGraph, tuple.Tuple{tuple.Int(int64(ordinal))}), encodeOrdinals(neighbors))
}

// addNeighborAndPrune adds newOrdinal to target's neighbor list and, if
// that exceeds M, drops the farthest (by distance to target's own
// vector) to keep the graph's degree bounded.
func (b *VectorBuilder) addNeighborAndPrune(tx kv.RwTx, target, newOrdinal uint32, newVec []float32) error {
	existing, err := b.neighborsOf(tx, target)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == newOrdinal {
			return nil
		}
	}
	existing = append(existing, newOrdinal)
	if len(existing) <= b.M {
		return b.writeNeighbors(tx, target, existing)
	}

	targetPK, err := b.rnode(tx, target)
	if err != nil {
		return err
	}
	targetVec, err := b.flatVector(tx, targetPK)
	if err != nil {
		return err
	}
	worst, worstDist := 0, -1.0
	for i, n := range existing {
		var v []float32
		if n == newOrdinal {
			v = newVec
		} else {
			pk, err := b.rnode(tx, n)
			if err != nil {
				return err
			}
			v, err = b.flatVector(tx, pk)
			if err != nil {
				return err
			}
		}
		d := cosineDistance(targetVec, v)
		if d > worstDist {
			worst, worstDist = i, d
		}
	}
	existing = append(existing[:worst], existing[worst+1:]...)
	return b.writeNeighbors(tx, target, existing)
}

func (b *VectorBuilder) rnode(tx kv.Getter, ordinal uint32) (tuple.Tuple, error) {
	v, err := tx.Get(b.indexTable, b.key(tagRNode, tuple.Tuple{tuple.Int(int64(ordinal))}), false)
	if err != nil {
		return nil, err
	}
	return tuple.Unpack(v)
}

func (b *VectorBuilder) flatVector(tx kv.Getter, pk tuple.Tuple) ([]float32, error) {
	v, err := tx.Get(b.indexTable, b.key(tagFlat, pk), false)
	if err != nil {
		return nil, err
	}
	return indexmaintainer.DecodeVector(v), nil
}

// SearchVector performs a best-effort greedy nearest-neighbor search over
// the single-layer graph Build constructs, for the k-NN query cursor's
// (C13) primary (non-fallback) mode. It starts from an arbitrary entry
// node (ordinal 0) and greedily expands the frontier's closest
// unexpanded candidate, stopping once beamWidth candidates have been
// expanded or the frontier is exhausted — an approximation of HNSW's
// per-layer greedy search bounded to this package's single layer.
// Returns the k closest primary keys found, nearest first.
func SearchVector(tx kv.Getter, indexTable string, indexSubspace tuple.Subspace, query []float32, k, beamWidth int) ([]tuple.Tuple, error) {
	if k <= 0 {
		return nil, nil
	}
	if beamWidth <= 0 {
		beamWidth = k * 4
	}
	vecKey := func(tag string, suffix tuple.Tuple) []byte {
		t := make(tuple.Tuple, 0, 1+len(suffix))
		t = append(t, tuple.String(tag))
		t = append(t, suffix...)
		return indexSubspace.Pack(t)
	}

	entryKey := vecKey(tagRNode, tuple.Tuple{tuple.Int(0)})
	entryPKBytes, err := tx.Get(indexTable, entryKey, true)
	if err == kv.ErrKeyNotFound {
		return nil, nil // empty graph
	}
	if err != nil {
		return nil, err
	}
	entryPK, err := tuple.Unpack(entryPKBytes)
	if err != nil {
		return nil, err
	}
	entryVec, err := readFlatVector(tx, indexTable, indexSubspace, entryPK)
	if err != nil {
		return nil, err
	}

	type cand struct {
		ordinal uint32
		pk      tuple.Tuple
		dist    float64
	}
	visited := roaring.New()
	visited.Add(0)
	candidates := []cand{{ordinal: 0, pk: entryPK, dist: cosineDistance(query, entryVec)}}
	frontier := []uint32{0}
	expanded := 0

	for len(frontier) > 0 && expanded < beamWidth {
		bestIdx, bestDist := -1, math.MaxFloat64
		for i, ord := range frontier {
			for _, c := range candidates {
				if c.ordinal == ord && c.dist < bestDist {
					bestIdx, bestDist = i, c.dist
				}
			}
		}
		if bestIdx < 0 {
			break
		}
		ord := frontier[bestIdx]
		frontier = append(frontier[:bestIdx], frontier[bestIdx+1:]...)
		expanded++

		neighborsRaw, gerr := tx.Get(indexTable, vecKey(tagGraph, tuple.Tuple{tuple.Int(int64(ord))}), true)
		if gerr != nil && gerr != kv.ErrKeyNotFound {
			return nil, gerr
		}
		for _, n := range decodeOrdinals(neighborsRaw) {
			if visited.Contains(n) {
				continue
			}
			visited.Add(n)
			pkBytes, rerr := tx.Get(indexTable, vecKey(tagRNode, tuple.Tuple{tuple.Int(int64(n))}), true)
			if rerr != nil {
				return nil, rerr
			}
			pk, uerr := tuple.Unpack(pkBytes)
			if uerr != nil {
				return nil, uerr
			}
			vec, verr := readFlatVector(tx, indexTable, indexSubspace, pk)
			if verr != nil {
				return nil, verr
			}
			candidates = append(candidates, cand{ordinal: n, pk: pk, dist: cosineDistance(query, vec)})
			frontier = append(frontier, n)
		}
	}

	if k > len(candidates) {
		k = len(candidates)
	}
	for i := 0; i < k; i++ {
		minIdx := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].dist < candidates[minIdx].dist {
				minIdx = j
			}
		}
		candidates[i], candidates[minIdx] = candidates[minIdx], candidates[i]
	}
	out := make([]tuple.Tuple, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].pk
	}
	return out, nil
}

func readFlatVector(tx kv.Getter, indexTable string, indexSubspace tuple.Subspace, pk tuple.Tuple) ([]float32, error) {
	t := make(tuple.Tuple, 0, 1+len(pk))
	t = append(t, tuple.String(tagFlat))
	t = append(t, pk...)
	v, err := tx.Get(indexTable, indexSubspace.Pack(t), true)
	if err != nil {
		return nil, err
	}
	return indexmaintainer.DecodeVector(v), nil
}

// ResetVector implements spec §4.8's "reset HNSW" operation: it disables
// the index, clears every key under indexSubspace in indexTable (the
// flat vector store and the graph), and re-enables it as write-only. It
// does not clear the index's range-set.
func ResetVector(ctx context.Context, states *indexstate.Manager, db kv.RwDB, indexName, indexTable string, indexSubspace tuple.Subspace) error {
	if err := states.Disable(ctx, indexName); err != nil {
		return err
	}
	lo, hi := indexSubspace.Range()
	if err := db.Update(ctx, func(tx kv.RwTx) error {
		return tx.ClearRange(indexTable, lo, hi)
	}); err != nil {
		return err
	}
	return states.Enable(ctx, indexName)
}

// cosineDistance is 1 minus cosine similarity: smaller is nearer, 0 for
// identical direction, 2 for opposite direction, per the worked
// vector-query scenario's "k nearest by cosine distance". A
// zero-magnitude vector has no defined direction, so it is defined
// maximally far (distance 2) from everything but another zero vector.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		if normA == 0 && normB == 0 {
			return 0
		}
		return 2
	}
	cosine := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cosine > 1 {
		cosine = 1
	} else if cosine < -1 {
		cosine = -1
	}
	return 1 - cosine
}

func encodeOrdinal(o uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, o)
	return buf
}

func encodeOrdinals(os []uint32) []byte {
	buf := make([]byte, 4*len(os))
	for i, o := range os {
		binary.BigEndian.PutUint32(buf[i*4:], o)
	}
	return buf
}

func decodeOrdinals(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return out
}

func flatRange(sub tuple.Subspace) (lo, hi []byte) {
	return tagRange(sub, tagFlat)
}

func tagRange(sub tuple.Subspace, tag string) (lo, hi []byte) {
	prefix := sub.Pack(tuple.Tuple{tuple.String(tag)})
	return prefix, tuple.Strinc(prefix)
}
