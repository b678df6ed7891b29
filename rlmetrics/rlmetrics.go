// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rlmetrics collects the process-wide Prometheus instruments
// shared by the record store, online indexer, statistics collector, and
// query planner. Collectors are created once at package init and
// registered against the default registry, mirroring how the teacher's
// own components obtain a package-level metric handle once and reuse it
// across every call, rather than constructing one per operation.
package rlmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SaveDuration observes the wall-clock time of one record-store
	// save/delete transaction, labeled by record type.
	SaveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recordlayer",
		Subsystem: "store",
		Name:      "save_duration_seconds",
		Help:      "Duration of a record store save or delete transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"record_type"})

	// SavesTotal counts save/delete operations, labeled by record type
	// and outcome (ok, conflict, error).
	SavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recordlayer",
		Subsystem: "store",
		Name:      "saves_total",
		Help:      "Total record store save/delete operations by outcome.",
	}, []string{"record_type", "outcome"})

	// IndexerRecordsScanned counts records visited by the online indexer,
	// labeled by index name.
	IndexerRecordsScanned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recordlayer",
		Subsystem: "onlineindex",
		Name:      "records_scanned_total",
		Help:      "Total records scanned while building an index.",
	}, []string{"index"})

	// IndexerProgress reports the fraction of an index build's range-set
	// that is complete, labeled by index name.
	IndexerProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "recordlayer",
		Subsystem: "onlineindex",
		Name:      "progress_ratio",
		Help:      "Fraction of an online index build that has completed.",
	}, []string{"index"})

	// StatsCollectionDuration observes one statistics-collector pass.
	StatsCollectionDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  "recordlayer",
		Subsystem:  "stats",
		Name:       "collection_duration_seconds",
		Help:       "Duration of one statistics collection pass over an index.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"index"})

	// PlannerPlansChosen counts which plan shape the query planner picked,
	// labeled by plan kind (full-scan, single-index, intersection, union,
	// covering, limit, knn).
	PlannerPlansChosen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recordlayer",
		Subsystem: "planner",
		Name:      "plans_chosen_total",
		Help:      "Query plans chosen by the planner, by plan kind.",
	}, []string{"plan_kind"})
)

func init() {
	prometheus.MustRegister(
		SaveDuration,
		SavesTotal,
		IndexerRecordsScanned,
		IndexerProgress,
		StatsCollectionDuration,
		PlannerPlansChosen,
	)
}
