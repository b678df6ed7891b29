// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package onlineindex implements the online indexer (C9): drives one
// index from disabled to readable over a possibly large record
// population without blocking writers, in throttled, resumable batches,
// per spec §4.8.
//
// A record type participating in any index must lead its primary key
// with a literal tuple element equal to its own type name (e.g.
// keyexpr.Concat(keyexpr.Literal(tuple.String("User")), ...)); this
// mirrors FoundationDB's own Record Layer convention of folding the
// record type into the primary key, and lets a build scan a single
// contiguous sub-range of the shared Records table instead of every
// record in the store.
package onlineindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/indexstate"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/rangeset"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/rllog"
	"github.com/erigontech/recordlayer/rlmetrics"
	"github.com/erigontech/recordlayer/tuple"
)

var log = rllog.Named("onlineindex")

// errBatchFull stops a Range walk early once the current transaction's
// record or byte cap is reached; it never escapes Build/Resume.
var errBatchFull = errors.New("onlineindex: batch full")

// Indexer drives one index's build. Construct with New; an Indexer is
// not safe for concurrent Build/Resume calls against the same index,
// mirroring the index-state manager's single-writer discipline (spec
// §5), but Progress and Stop may be called from another goroutine at
// any time.
type Indexer struct {
	db       kv.RwDB
	states   *indexstate.Manager
	ranges   *rangeset.Set
	codec    record.Codec
	maintain indexmaintainer.Maintainer

	indexName       string
	typeName        string
	recordsTable    string
	recordsSubspace tuple.Subspace
	typePrefix      []byte
	typeEnd         []byte
	indexTable      string
	indexSubspace   tuple.Subspace

	policy Policy

	mu        sync.Mutex
	stopped   bool
	batchSize int
	scanned   int64
	indexed   int64
	startedAt time.Time
}

// New constructs an Indexer for indexName over records of typeName,
// using maintain's Scan to populate index entries during the build.
func New(
	db kv.RwDB,
	states *indexstate.Manager,
	ranges *rangeset.Set,
	codec record.Codec,
	maintain indexmaintainer.Maintainer,
	indexName, typeName string,
	recordsTable string,
	recordsSubspace tuple.Subspace,
	indexTable string,
	indexSubspace tuple.Subspace,
	policy Policy,
) *Indexer {
	typePrefix := recordsSubspace.Pack(tuple.Tuple{tuple.String(typeName)})
	return &Indexer{
		db:              db,
		states:          states,
		ranges:          ranges,
		codec:           codec,
		maintain:        maintain,
		indexName:       indexName,
		typeName:        typeName,
		recordsTable:    recordsTable,
		recordsSubspace: recordsSubspace,
		typePrefix:      typePrefix,
		typeEnd:         tuple.Strinc(typePrefix),
		indexTable:      indexTable,
		indexSubspace:   indexSubspace,
		policy:          policy,
		batchSize:       policy.Throttle.withDefaults().MaxRecordsPerTxn,
	}
}

// Stop cooperatively ends the build loop between batches.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	ix.stopped = true
	ix.mu.Unlock()
}

func (ix *Indexer) isStopped() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.stopped
}

// Progress reports the build's status so far.
func (ix *Indexer) Progress() Progress {
	ix.mu.Lock()
	scanned, indexed, started := ix.scanned, ix.indexed, ix.startedAt
	ix.mu.Unlock()

	elapsed := time.Duration(0)
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	fraction := ix.ranges.Progress(ix.typePrefix, ix.typeEnd)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(indexed) / elapsed.Seconds()
	}
	return Progress{Scanned: scanned, Indexed: indexed, Fraction: fraction, Elapsed: elapsed, Rate: rate}
}

// Build runs the full algorithm from spec §4.8 step 1 onward: optional
// write-only transition, optional clear, then the throttled scan loop.
func (ix *Indexer) Build(ctx context.Context) error {
	if ix.policy.EnableWriteOnly {
		if err := ix.states.Enable(ctx, ix.indexName); err != nil {
			return err
		}
	}
	if ix.policy.ClearExisting {
		if err := ix.clear(ctx); err != nil {
			return err
		}
	}
	return ix.run(ctx)
}

// Resume continues a build left in write-only state by a prior Build
// call that stopped or crashed, per spec §4.8's resume() operation.
func (ix *Indexer) Resume(ctx context.Context) error {
	if !ix.policy.AllowResume {
		return fmt.Errorf("onlineindex: resume not permitted by policy for index %q", ix.indexName)
	}
	st, err := ix.states.State(ctx, ix.indexName)
	if err != nil {
		return err
	}
	if st != indexstate.WriteOnly {
		return fmt.Errorf("onlineindex: cannot resume index %q from state %s, want write-only", ix.indexName, st)
	}
	return ix.run(ctx)
}

func (ix *Indexer) clear(ctx context.Context) error {
	lo, hi := ix.indexSubspace.Range()
	return ix.db.Update(ctx, func(tx kv.RwTx) error {
		if err := tx.ClearRange(ix.indexTable, lo, hi); err != nil {
			return err
		}
		return ix.ranges.Clear(tx)
	})
}

func (ix *Indexer) run(ctx context.Context) error {
	ix.mu.Lock()
	ix.startedAt = time.Now()
	ix.mu.Unlock()

	throttle := ix.policy.Throttle.withDefaults()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ix.isStopped() {
			log.Info("build stopped", "index", ix.indexName)
			return nil
		}

		lo, hi, ok := ix.ranges.NextIncomplete(ix.typePrefix, ix.typeEnd)
		if !ok {
			break
		}

		count, byteLen, lastKey, err := ix.scanOneBatch(ctx, lo, hi)
		if err != nil {
			return err
		}

		insertHi := hi
		if count > 0 {
			insertHi = tuple.Strinc(lastKey)
		}
		if err := ix.db.Update(ctx, func(tx kv.RwTx) error { return ix.ranges.Insert(tx, lo, insertHi) }); err != nil {
			return err
		}

		ix.mu.Lock()
		ix.scanned += int64(count)
		ix.indexed += int64(count)
		if throttle.AdaptiveBatch {
			ix.batchSize = adjustBatchSize(ix.batchSize, byteLen, throttle)
		}
		ix.mu.Unlock()

		rlmetrics.IndexerRecordsScanned.WithLabelValues(ix.indexName).Add(float64(count))
		rlmetrics.IndexerProgress.WithLabelValues(ix.indexName).Set(ix.ranges.Progress(ix.typePrefix, ix.typeEnd))

		if throttle.DelayBetweenTxn > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(throttle.DelayBetweenTxn):
			}
		}
	}

	if ix.policy.MarkReadableOnComplete {
		return ix.states.MarkReadable(ctx, ix.indexName)
	}
	return nil
}

// scanOneBatch opens one read-write transaction, snapshot-scans records
// in [lo, hi) up to the current batch's record/byte cap, and calls the
// maintainer's Scan for each, per spec §4.8 step 3.
func (ix *Indexer) scanOneBatch(ctx context.Context, lo, hi []byte) (count int, byteLen int, lastKey []byte, err error) {
	ix.mu.Lock()
	batchSize := ix.batchSize
	ix.mu.Unlock()
	maxBytes := ix.policy.Throttle.withDefaults().MaxTxnBytes

	err = ix.db.Update(ctx, func(tx kv.RwTx) error {
		rerr := tx.Range(ix.recordsTable, lo, hi, true, func(k, v []byte) error {
			if count >= batchSize || byteLen >= maxBytes {
				return errBatchFull
			}
			pk, uerr := ix.recordsSubspace.Unpack(k)
			if uerr != nil {
				return uerr
			}
			rec, derr := ix.codec.Deserialize(ix.typeName, v)
			if derr != nil {
				return derr
			}
			if serr := ix.maintain.Scan(ctx, tx, rec, pk); serr != nil {
				return serr
			}
			lastKey = append(lastKey[:0], k...)
			count++
			byteLen += len(k) + len(v)
			return nil
		})
		// A full batch is not a failure: returning nil commits the
		// entries written so far.
		if errors.Is(rerr, errBatchFull) {
			return nil
		}
		return rerr
	})
	if errors.Is(err, errBatchFull) {
		err = nil
	}
	return count, byteLen, lastKey, err
}

// adjustBatchSize implements spec §4.8 step 5: grow when the committed
// transaction used under half its byte budget, shrink when it used more
// than 80%, clamped to the configured floor/ceiling.
func adjustBatchSize(current, bytesUsed int, t Throttle) int {
	if bytesUsed < t.MaxTxnBytes/2 {
		current += current / 2
		if current > t.MaxRecordsPerTxnCap {
			current = t.MaxRecordsPerTxnCap
		}
	} else if bytesUsed > t.MaxTxnBytes*8/10 {
		current -= current / 2
		if current < t.MinRecordsPerTxn {
			current = t.MinRecordsPerTxn
		}
	}
	return current
}
