// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package stats implements the statistics collector (C10): sampled
// equal-count histograms for value indexes, width/overlap sampling for
// interval indexes, JSON-encoded persistence, and the selectivity API
// the query planner (C11/C12) consults when costing candidate plans.
package stats

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"time"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/rllog"
	"github.com/erigontech/recordlayer/rlmetrics"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/tuple"
)

var log = rllog.Named("stats")

// Kind distinguishes the two statistics shapes collect() can produce,
// persisted alongside the index name as the stats subspace's key.
type Kind string

const (
	ValueKind    Kind = "value"
	IntervalKind Kind = "interval"
)

// Statistics is one collected snapshot for a single index, per spec
// §4.9. Exactly one of the value-kind or interval-kind field groups is
// populated, selected by Kind.
type Statistics struct {
	Kind        Kind      `json:"kind"`
	IndexName   string    `json:"index_name"`
	CollectedAt time.Time `json:"collected_at"`
	SampleRate  float64   `json:"sample_rate"`

	// TotalRows is counted exactly (every index entry is visited during
	// collect, even though only a sampled subset feeds the structures
	// below), so selectivity estimates can scale a sampled fraction back
	// up to N.
	TotalRows int64 `json:"total_rows"`

	// Buckets holds ValueKind's equal-count histogram: each entry is the
	// packed (order-preserving, per tuple's own documented invariant)
	// upper bound of one bucket, in ascending order. Every bucket holds
	// (approximately) the same sampled row count.
	Buckets [][]byte `json:"buckets,omitempty"`

	// AvgWidth/OverlapFactor/BaseSelectivity are IntervalKind's sampled
	// statistics, consumed by the overlap formula in spec §4.9.
	AvgWidth        float64 `json:"avg_width,omitempty"`
	OverlapFactor   float64 `json:"overlap_factor,omitempty"`
	BaseSelectivity float64 `json:"base_selectivity,omitempty"`
}

// IsStale reports whether this snapshot is older than threshold. A
// stale snapshot is still returned by Load — the caller decides whether
// to refresh, per spec §4.9's "staleness threshold configurable".
func (s *Statistics) IsStale(threshold time.Duration) bool {
	return time.Since(s.CollectedAt) > threshold
}

// Collector samples index entries and persists Statistics snapshots
// under a dedicated stats subspace.
type Collector struct {
	db        kv.RwDB
	table     string
	subspace  tuple.Subspace
	numBuckets int
	rnd       *rand.Rand
}

// New constructs a Collector persisting to table (normally kv.Stats)
// under subspace, building equal-count histograms with numBuckets
// buckets.
func New(db kv.RwDB, table string, subspace tuple.Subspace, numBuckets int) *Collector {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	return &Collector{
		db: db, table: table, subspace: subspace, numBuckets: numBuckets,
		rnd: rand.New(rand.NewSource(1)),
	}
}

func (c *Collector) key(kind Kind, indexName string) []byte {
	return c.subspace.Pack(tuple.Tuple{tuple.String(string(kind)), tuple.String(indexName)})
}

// Load reads a previously persisted snapshot, if any.
func (c *Collector) Load(ctx context.Context, kind Kind, indexName string) (*Statistics, bool, error) {
	var st *Statistics
	err := c.db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.Get(c.table, c.key(kind, indexName), true)
		if err == kv.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		st = &Statistics{}
		return json.Unmarshal(v, st)
	})
	if err != nil {
		return nil, false, err
	}
	return st, st != nil, nil
}

// IsIntervalIndex reports whether idx's root expression is the pair of
// range-boundary nodes over the same field that marks an interval
// index, per spec §4.9.
func IsIntervalIndex(idx *schema.IndexDef) bool {
	c, ok := idx.Root.(keyexpr.ConcatExpr)
	if !ok || len(c.Children) != 2 {
		return false
	}
	lo, ok1 := c.Children[0].(keyexpr.RangeBoundaryExpr)
	hi, ok2 := c.Children[1].(keyexpr.RangeBoundaryExpr)
	return ok1 && ok2 && lo.Name == hi.Name && lo.Boundary == keyexpr.Lo && hi.Boundary == keyexpr.Hi
}

// Collect scans indexTable under indexSubspace, sampling entries at
// rate, and persists the resulting Statistics under (kind, idx.Name).
func (c *Collector) Collect(ctx context.Context, idx *schema.IndexDef, indexTable string, indexSubspace tuple.Subspace, rate float64) (*Statistics, error) {
	timer := rlmetrics.StatsCollectionDuration.WithLabelValues(idx.Name)
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	if IsIntervalIndex(idx) {
		return c.collectInterval(ctx, idx, indexTable, indexSubspace, rate)
	}
	return c.collectValue(ctx, idx, indexTable, indexSubspace, rate)
}

func (c *Collector) collectValue(ctx context.Context, idx *schema.IndexDef, indexTable string, indexSubspace tuple.Subspace, rate float64) (*Statistics, error) {
	lo, hi := indexSubspace.Range()
	var total int64
	var samples [][]byte

	err := c.db.View(ctx, func(tx kv.Tx) error {
		return tx.Range(indexTable, lo, hi, true, func(k, v []byte) error {
			total++
			if c.rnd.Float64() < rate {
				t, err := indexSubspace.Unpack(k)
				if err != nil {
					return err
				}
				if len(t) > 0 {
					samples = append(samples, tuple.Pack(tuple.Tuple{t[0]}))
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(samples, func(i, j int) bool { return string(samples[i]) < string(samples[j]) })
	buckets := equalCountBoundaries(samples, c.numBuckets)

	st := &Statistics{
		Kind: ValueKind, IndexName: idx.Name, CollectedAt: time.Now(),
		SampleRate: rate, TotalRows: total, Buckets: buckets,
	}
	if err := c.persist(ctx, st); err != nil {
		return nil, err
	}
	log.Info("collected value statistics", "index", idx.Name, "total", total, "sampled", len(samples), "buckets", len(buckets))
	return st, nil
}

func (c *Collector) collectInterval(ctx context.Context, idx *schema.IndexDef, indexTable string, indexSubspace tuple.Subspace, rate float64) (*Statistics, error) {
	lo, hi := indexSubspace.Range()
	var total int64
	type sample struct{ lo, hi float64 }
	var samples []sample

	err := c.db.View(ctx, func(tx kv.Tx) error {
		return tx.Range(indexTable, lo, hi, true, func(k, v []byte) error {
			total++
			if c.rnd.Float64() >= rate {
				return nil
			}
			t, err := indexSubspace.Unpack(k)
			if err != nil || len(t) < 2 {
				return err
			}
			loF, ok1 := toFloat64(t[0])
			hiF, ok2 := toFloat64(t[1])
			if ok1 && ok2 {
				samples = append(samples, sample{lo: loF, hi: hiF})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	st := &Statistics{Kind: IntervalKind, IndexName: idx.Name, CollectedAt: time.Now(), SampleRate: rate, TotalRows: total}
	if len(samples) > 0 {
		var widthSum float64
		for _, s := range samples {
			widthSum += s.hi - s.lo
		}
		st.AvgWidth = widthSum / float64(len(samples))

		// Stochastically probe random points drawn from the sampled
		// intervals' own span and measure the fraction of sampled
		// intervals covering each point — spec §4.9's "stochastically
		// samples overlap counts at random points".
		probes := len(samples)
		if probes > 50 {
			probes = 50
		}
		var densitySum float64
		for i := 0; i < probes; i++ {
			p := samples[c.rnd.Intn(len(samples))]
			point := p.lo + c.rnd.Float64()*(p.hi-p.lo)
			var covering int
			for _, s := range samples {
				if point >= s.lo && point < s.hi {
					covering++
				}
			}
			densitySum += float64(covering) / float64(len(samples))
		}
		st.BaseSelectivity = densitySum / float64(probes)
		// overlapFactor is a tuning knob the sampled data alone cannot
		// derive (spec §4.9 names it in the overlap formula without
		// defining its source); default to 1 (no correction) here,
		// documented as an Open Question decision.
		st.OverlapFactor = 1.0
	}

	if err := c.persist(ctx, st); err != nil {
		return nil, err
	}
	log.Info("collected interval statistics", "index", idx.Name, "total", total, "sampled", len(samples), "avgWidth", st.AvgWidth)
	return st, nil
}

func (c *Collector) persist(ctx context.Context, st *Statistics) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Set(c.table, c.key(st.Kind, st.IndexName), data)
	})
}

// equalCountBoundaries partitions sorted, packed sample keys into
// numBuckets groups of (approximately) equal size and returns each
// group's upper bound.
func equalCountBoundaries(sorted [][]byte, numBuckets int) [][]byte {
	if len(sorted) == 0 {
		return nil
	}
	if numBuckets > len(sorted) {
		numBuckets = len(sorted)
	}
	out := make([][]byte, 0, numBuckets)
	per := float64(len(sorted)) / float64(numBuckets)
	for i := 1; i <= numBuckets; i++ {
		idx := int(float64(i)*per) - 1
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out = append(out, sorted[idx])
	}
	return out
}

func toFloat64(e tuple.Element) (float64, bool) {
	if v, ok := e.AsInt(); ok {
		return float64(v), true
	}
	if v, ok := e.AsFloat(); ok {
		return v, true
	}
	if v, ok := e.AsTimestamp(); ok {
		return float64(v.UnixNano()), true
	}
	return 0, false
}
