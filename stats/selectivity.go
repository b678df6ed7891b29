// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package stats

import "github.com/erigontech/recordlayer/tuple"

// Default heuristic selectivities used when no statistics exist for an
// index, per spec §4.9.
const (
	DefaultEquals     = 0.01
	DefaultNotEquals  = 0.99
	DefaultComparison = 0.33
	DefaultStartsWith = 0.10
	DefaultContains   = 0.20
)

// Equals estimates the selectivity of an equality predicate. An
// equal-count histogram alone carries no per-value frequency (no
// distinct-value cardinality is tracked here), so equality always falls
// back to the heuristic default even when a Statistics snapshot exists
// — an explicit scope reduction from a fuller implementation, which
// would need a separate distinct-value sketch.
func Equals(st *Statistics) float64 {
	return DefaultEquals
}

// NotEquals is the complement of Equals.
func NotEquals(st *Statistics) float64 {
	return 1 - Equals(st)
}

// StartsWith and Contains fall back to the heuristic defaults
// unconditionally: an equal-count histogram ordered by the field's full
// value does not support prefix- or substring-aware bucketing.
func StartsWith(st *Statistics) float64 { return DefaultStartsWith }
func Contains(st *Statistics) float64   { return DefaultContains }

// Range estimates the fraction of rows whose leading field falls in
// [lo, hi) using st's equal-count histogram: each bucket holds an equal
// share of sampled rows, so the estimate is the fraction of buckets
// whose range intersects [lo, hi). Falls back to DefaultComparison when
// st is nil or has no buckets.
func Range(st *Statistics, lo, hi []byte) float64 {
	if st == nil || len(st.Buckets) == 0 {
		return DefaultComparison
	}
	n := len(st.Buckets)
	var hit int
	prev := []byte(nil)
	for _, upper := range st.Buckets {
		if bucketIntersects(prev, upper, lo, hi) {
			hit++
		}
		prev = upper
	}
	return float64(hit) / float64(n)
}

func bucketIntersects(bucketLo, bucketHi, queryLo, queryHi []byte) bool {
	if queryHi != nil && bucketLo != nil && string(bucketLo) >= string(queryHi) {
		return false
	}
	if queryLo != nil && string(bucketHi) < string(queryLo) {
		return false
	}
	return true
}

// Comparison estimates a one-sided comparison (<, <=, >, >=) against
// value using the same bucket-fraction method as Range, treating the
// open side as unbounded.
func Comparison(st *Statistics, value []byte, lessThan bool) float64 {
	if lessThan {
		return Range(st, nil, value)
	}
	return Range(st, value, nil)
}

// IntervalOverlap estimates the selectivity of a query range of width
// queryWidth against an interval index's sampled statistics, per spec
// §4.9's overlap formula. Falls back to DefaultComparison when st is
// nil or carries no sampled width (no intervals were sampled).
func IntervalOverlap(st *Statistics, queryWidth float64) float64 {
	if st == nil || st.AvgWidth <= 0 {
		return DefaultComparison
	}
	sel := (queryWidth / st.AvgWidth) * st.OverlapFactor * st.BaseSelectivity
	if sel > 1 {
		sel = 1
	}
	if sel < 0 {
		sel = 0
	}
	return sel
}

// And, Or, and Not combine selectivities under the independence
// assumption, per spec §4.9.
func And(sels ...float64) float64 {
	out := 1.0
	for _, s := range sels {
		out *= s
	}
	return out
}

func Or(sels ...float64) float64 {
	out := 1.0
	for _, s := range sels {
		out *= 1 - s
	}
	return 1 - out
}

func Not(s float64) float64 { return 1 - s }

// PackElement is a convenience for callers building the []byte bounds
// Range/Comparison expect from a single query-predicate value.
func PackElement(e tuple.Element) []byte {
	return tuple.Pack(tuple.Tuple{e})
}
