// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package planner implements the cost-based query planner (C12): given
// a compiled canonical predicate, the requested record type, the
// C5-filtered readable indexes, and statistics (C10), it enumerates
// candidate plans and selects the minimum-cost one, per spec §4.11.
package planner

import (
	"fmt"
	"hash/maphash"
	"sort"

	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/rlmetrics"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/stats"
)

// Kind identifies a plan's shape, matching rlmetrics.PlannerPlansChosen's
// label values.
type Kind string

const (
	FullScan     Kind = "full-scan"
	SingleIndex  Kind = "single-index"
	Intersection Kind = "intersection"
	Union        Kind = "union"
	Covering     Kind = "covering"
	Limit        Kind = "limit"
	KNN          Kind = "knn"
)

// Plan is one node of the chosen execution plan tree.
type Plan struct {
	Kind Kind

	Index    *schema.IndexDef     // SingleIndex, Covering, KNN
	Term     []compiler.Predicate // the conjunctive term this node satisfies
	Prefix   []compiler.Predicate // SingleIndex, Covering: leaves absorbed by Index, in index-column order
	Residual []compiler.Predicate // leaves not absorbed by Index; applied as a post-filter
	Children []*Plan              // Intersection, Union, Limit
	LimitN   int                  // Limit

	Rows    float64
	IOCost  float64
	CPUCost float64
	Cost    float64
}

// costWeights are the per-row constants spec §4.11 leaves as "deser"
// and "filter" without pinning a unit; both default to 1, making
// ioCost and cpuCost directly comparable in row-count units. New always
// uses defaultWeights; callers cannot change them.
type costWeights struct {
	Deser       float64
	Filter      float64
	IOCPUWeight float64
}

func defaultWeights() costWeights { return costWeights{Deser: 1, Filter: 1, IOCPUWeight: 0.1} }

// StatsLookup resolves a previously collected Statistics snapshot for
// an index, or (nil, false) if none exists.
type StatsLookup func(indexName string) (*stats.Statistics, bool)

// Planner enumerates and costs candidate plans for one record type.
type Planner struct {
	weights costWeights
}

func New() *Planner { return &Planner{weights: defaultWeights()} }

// Plan selects the minimum-cost plan for canonical over recordType,
// given totalRows records of that type, the indexes readable for it
// (already C5-filtered by the caller), a Statistics lookup, and an
// optional result limit (0 means no limit).
func (p *Planner) Plan(recordType string, canonical *compiler.Canonical, sch *schema.Schema, readable []*schema.IndexDef, lookup StatsLookup, totalRows float64, limit int) (*Plan, error) {
	if len(canonical.Terms) == 0 {
		return nil, fmt.Errorf("planner: empty canonical form")
	}

	var termPlans []*Plan
	for _, term := range canonical.Terms {
		tp := p.planTerm(term, readable, lookup, totalRows)
		termPlans = append(termPlans, tp)
	}

	var chosen *Plan
	if len(termPlans) == 1 {
		chosen = termPlans[0]
	} else {
		chosen = p.union(termPlans)
	}

	if limit > 0 {
		chosen = p.limit(chosen, limit)
	}

	rlmetrics.PlannerPlansChosen.WithLabelValues(string(chosen.Kind)).Inc()
	return chosen, nil
}

// planTerm costs every candidate for one conjunctive term and returns
// the cheapest.
func (p *Planner) planTerm(term []compiler.Predicate, readable []*schema.IndexDef, lookup StatsLookup, totalRows float64) *Plan {
	candidates := []*Plan{p.fullScan(term, totalRows)}

	var matches []indexMatch
	for _, idx := range readable {
		if m, ok := matchIndex(idx, term, lookup); ok {
			matches = append(matches, m)
			candidates = append(candidates, p.singleIndexPlan(idx, m, term, lookup, totalRows))
		}
	}

	if len(matches) >= 2 {
		fullCover := false
		for _, m := range matches {
			if len(m.usedIdx) == len(term) {
				fullCover = true
			}
		}
		if !fullCover {
			// No single match covers the whole term; intersecting every
			// match narrows the candidate set further than any one of
			// them alone. This does not enumerate every subset of
			// matches (an explicit scope reduction — see DESIGN.md).
			candidates = append(candidates, p.intersection(matches, term, lookup, totalRows))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Cost != candidates[j].Cost {
			return candidates[i].Cost < candidates[j].Cost
		}
		return planHash(candidates[i]) < planHash(candidates[j])
	})
	return candidates[0]
}

// indexMatch is kept in terms of indices into the owning term slice,
// not Predicate values: a Field predicate embeds a tuple.Element, which
// can hold a nested Tuple (a slice) and so is not always comparable —
// using Predicate values as map keys or in == comparisons would panic
// at runtime for such leaves.
type indexMatch struct {
	idx         *schema.IndexDef
	usedIdx     []int // indices into the term this index absorbs
	residualIdx []int // indices into the term left over as a post-filter
	indexSel    float64
}

func (m indexMatch) used(term []compiler.Predicate) []compiler.Predicate {
	return pick(term, m.usedIdx)
}
func (m indexMatch) residual(term []compiler.Predicate) []compiler.Predicate {
	return pick(term, m.residualIdx)
}

func pick(term []compiler.Predicate, idxs []int) []compiler.Predicate {
	out := make([]compiler.Predicate, len(idxs))
	for i, idx := range idxs {
		out[i] = term[idx]
	}
	return out
}

// matchIndex tests whether idx's root expression is a prefix match of
// term's equality leaves (optionally plus one trailing range leaf on
// the next column), per spec §4.11's compound-index rule. lookup, when
// it resolves a Statistics snapshot for idx, sharpens the trailing range
// leaf's selectivity beyond the fixed DefaultComparison heuristic;
// equality leaves keep the fixed default regardless (stats.Equals's own
// documented scope, see DESIGN.md).
func matchIndex(idx *schema.IndexDef, term []compiler.Predicate, lookup StatsLookup) (indexMatch, bool) {
	fields := idx.Root.Fields()
	if len(fields) == 0 {
		return indexMatch{}, false
	}

	byField := map[string][]int{}
	for i, leaf := range term {
		if f, ok := leaf.(compiler.Field); ok {
			byField[f.Name] = append(byField[f.Name], i)
		}
	}

	var usedIdx []int
	sel := 1.0
	matchedCols := 0
	for _, col := range fields {
		idxs, ok := byField[col]
		if !ok {
			break
		}
		eqIdx, rangeIdx := splitEqualityAndRange(term, idxs)
		usedIdx = append(usedIdx, eqIdx...)
		sel *= pow(stats.Equals(nil), len(eqIdx))
		matchedCols++
		if rangeIdx >= 0 {
			usedIdx = append(usedIdx, rangeIdx)
			sel *= rangeSelectivity(idx, term[rangeIdx].(compiler.Field), lookup)
			break // a range leaf terminates the prefix match, per spec
		}
		if len(eqIdx) == 0 {
			break
		}
	}
	if matchedCols == 0 || len(usedIdx) == 0 {
		return indexMatch{}, false
	}

	usedSet := map[int]bool{}
	for _, i := range usedIdx {
		usedSet[i] = true
	}
	var residualIdx []int
	for i := range term {
		if !usedSet[i] {
			residualIdx = append(residualIdx, i)
		}
	}
	return indexMatch{idx: idx, usedIdx: usedIdx, residualIdx: residualIdx, indexSel: sel}, true
}

// rangeSelectivity estimates a trailing comparison leaf's selectivity
// against idx's collected Statistics, when lookup resolves one;
// otherwise it falls back to stats.DefaultComparison.
func rangeSelectivity(idx *schema.IndexDef, f compiler.Field, lookup StatsLookup) float64 {
	if lookup == nil {
		return stats.DefaultComparison
	}
	st, ok := lookup(idx.Name)
	if !ok {
		return stats.DefaultComparison
	}
	lessThan := f.Op == compiler.Lt || f.Op == compiler.Le
	return stats.Comparison(st, stats.PackElement(f.Value), lessThan)
}

func pow(base float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}

// splitEqualityAndRange partitions idxs (indices into term, all naming
// the same field) into equality-leaf indices and at most one
// comparison-leaf index.
func splitEqualityAndRange(term []compiler.Predicate, idxs []int) (eqIdx []int, rangeIdx int) {
	rangeIdx = -1
	for _, i := range idxs {
		f := term[i].(compiler.Field)
		if f.Op == compiler.Eq {
			eqIdx = append(eqIdx, i)
		} else if rangeIdx < 0 {
			rangeIdx = i
		}
	}
	return eqIdx, rangeIdx
}

func (p *Planner) fullScan(term []compiler.Predicate, n float64) *Plan {
	sel := residualSelectivity(term)
	rows := n * sel
	return &Plan{
		Kind: FullScan, Term: term, Residual: term,
		Rows: rows, IOCost: n, CPUCost: n * (p.weights.Deser + p.weights.Filter),
		Cost: totalCost(n, n*(p.weights.Deser+p.weights.Filter), p.weights.IOCPUWeight),
	}
}

func (p *Planner) singleIndexPlan(idx *schema.IndexDef, m indexMatch, term []compiler.Predicate, lookup StatsLookup, n float64) *Plan {
	residual := m.residual(term)
	filterSel := residualSelectivity(residual)
	rows := n * m.indexSel * filterSel

	covering := idx.Kind == schema.Covering && len(residual) == 0
	kind := SingleIndex
	ioCost := 2 * rows
	if covering {
		kind = Covering
		ioCost = rows
	}
	cpuCost := rows * (p.weights.Deser + p.weights.Filter)
	return &Plan{
		Kind: kind, Index: idx, Term: term, Prefix: m.used(term), Residual: residual,
		Rows: rows, IOCost: ioCost, CPUCost: cpuCost,
		Cost: totalCost(ioCost, cpuCost, p.weights.IOCPUWeight),
	}
}

func (p *Planner) intersection(matches []indexMatch, term []compiler.Predicate, lookup StatsLookup, n float64) *Plan {
	children := make([]*Plan, len(matches))
	var ioSum, minRows float64
	for i, m := range matches {
		child := p.singleIndexPlan(m.idx, m, term, lookup, n)
		children[i] = child
		ioSum += child.IOCost
		if i == 0 || child.Rows < minRows {
			minRows = child.Rows
		}
	}
	sel := 1.0
	for _, m := range matches {
		sel *= m.indexSel
	}
	rows := n * sel
	cpuCost := minRows * p.weights.Filter * float64(len(matches))
	return &Plan{
		Kind: Intersection, Term: term, Children: children,
		Rows: rows, IOCost: ioSum, CPUCost: cpuCost,
		Cost: totalCost(ioSum, cpuCost, p.weights.IOCPUWeight),
	}
}

func (p *Planner) union(termPlans []*Plan) *Plan {
	var ioSum, rowsSum float64
	for _, tp := range termPlans {
		ioSum += tp.IOCost
		rowsSum += tp.Rows
	}
	rows := rowsSum * 0.9
	return &Plan{
		Kind: Union, Children: termPlans,
		Rows: rows, IOCost: ioSum, CPUCost: 0,
		Cost: totalCost(ioSum, 0, p.weights.IOCPUWeight),
	}
}

func (p *Planner) limit(child *Plan, n int) *Plan {
	scale := 1.0
	if child.Rows > 0 {
		scale = float64(n) / child.Rows
		if scale > 1 {
			scale = 1
		}
	}
	return &Plan{
		Kind: Limit, Children: []*Plan{child}, LimitN: n,
		Rows: child.Rows * scale, IOCost: child.IOCost * scale, CPUCost: child.CPUCost * scale,
		Cost: totalCost(child.IOCost*scale, child.CPUCost*scale, p.weights.IOCPUWeight),
	}
}

func totalCost(ioCost, cpuCost, weight float64) float64 { return ioCost + weight*cpuCost }

// residualSelectivity combines a term's leaves under the independence
// assumption (spec §4.9), using each leaf's heuristic default since the
// planner has no statistics handle for an arbitrary filter leaf not
// aligned to any chosen index's bucket boundaries.
func residualSelectivity(term []compiler.Predicate) float64 {
	sel := 1.0
	for _, leaf := range term {
		sel *= leafSelectivity(leaf)
	}
	return sel
}

func leafSelectivity(p compiler.Predicate) float64 {
	switch n := p.(type) {
	case compiler.Field:
		switch n.Op {
		case compiler.Eq:
			return stats.Equals(nil)
		case compiler.Ne:
			return stats.NotEquals(nil)
		case compiler.StartsWith:
			return stats.StartsWith(nil)
		case compiler.Contains:
			return stats.Contains(nil)
		default:
			return stats.DefaultComparison
		}
	case compiler.Not:
		return stats.Not(leafSelectivity(n.Child))
	default:
		return stats.DefaultComparison
	}
}

var planHashSeed = maphash.MakeSeed()

// planHash breaks cost ties deterministically from a plan's canonical
// shape, per spec §4.11's "break ties by a deterministic hash of the
// plan's canonical form".
func planHash(p *Plan) uint64 {
	var h maphash.Hash
	h.SetSeed(planHashSeed)
	h.WriteString(string(p.Kind))
	if p.Index != nil {
		h.WriteString(p.Index.Name)
	}
	for _, c := range p.Children {
		var b [8]byte
		v := planHash(c)
		for i := range b {
			b[i] = byte(v >> (8 * i))
		}
		h.Write(b[:])
	}
	return h.Sum64()
}
