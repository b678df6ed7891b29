// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package recordstore implements the record store (C7): save, record,
// delete, each executing as a single read-write transaction that reads
// the prior version of the record, fans out to every maintainable index,
// then writes the new version. Query execution itself lives in
// query/executor; this package only owns the primary-key CRUD path.
package recordstore

import (
	"context"
	"fmt"
	"time"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/indexstate"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/rllog"
	"github.com/erigontech/recordlayer/rlmetrics"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/tuple"
)

var log = rllog.Named("recordstore")

// Store is the record layer's primary-key CRUD surface over one open
// database and schema. Construct with Open; a Store is safe for
// concurrent use by many callers, same as the kv.RwDB it wraps.
type Store struct {
	db       kv.RwDB
	sch      *schema.Schema
	codec    record.Codec
	states   *indexstate.Manager
	records  tuple.Subspace
	factory  Factory
	maintain map[string]indexmaintainer.Maintainer // indexName -> maintainer
}

// Factory constructs a zero-value Record for typeName, used both as a
// deserialization target and to probe for an optional Reconstructor.
type Factory func(typeName string) (record.Record, error)

// Open constructs a Store over db, validated against sch, using codec
// for (de)serialization and factory to build empty record instances.
// maintainers must contain one entry per index declared in sch whose
// maintainer needs to be driven on every save (every kind does).
func Open(db kv.RwDB, sch *schema.Schema, codec record.Codec, factory Factory, maintainers map[string]indexmaintainer.Maintainer, states *indexstate.Manager) (*Store, error) {
	for _, idx := range sch.Indexes() {
		if _, ok := maintainers[idx.Name]; !ok {
			return nil, fmt.Errorf("recordstore: no maintainer registered for index %q", idx.Name)
		}
	}
	return &Store{
		db:       db,
		sch:      sch,
		codec:    codec,
		states:   states,
		records:  tuple.NewSubspace(tuple.Tuple{tuple.String("R")}),
		factory:  factory,
		maintain: maintainers,
	}, nil
}

// DB returns the underlying database handle, for components (the
// online indexer, the query executor) that need to open their own
// transactions alongside the store.
func (s *Store) DB() kv.RwDB { return s.db }

// Schema returns the store's validated schema.
func (s *Store) Schema() *schema.Schema { return s.sch }

// Codec returns the store's record codec.
func (s *Store) Codec() record.Codec { return s.codec }

// RecordsSubspace returns the subspace primary keys are packed under in
// kv.Records, for components (the online indexer, the query executor)
// that need to build their own scan ranges over the records table.
func (s *Store) RecordsSubspace() tuple.Subspace { return s.records }

// RecordKey packs pk into its kv.Records key.
func (s *Store) RecordKey(pk tuple.Tuple) []byte { return s.recordKey(pk) }

// States returns the store's index-state manager.
func (s *Store) States() *indexstate.Manager { return s.states }

// RecordFactory constructs a zero-value Record for typeName.
func (s *Store) RecordFactory(typeName string) (record.Record, error) { return s.factory(typeName) }

// Maintainer returns the maintainer registered for the named index.
func (s *Store) Maintainer(indexName string) (indexmaintainer.Maintainer, bool) {
	m, ok := s.maintain[indexName]
	return m, ok
}

func (s *Store) recordKey(pk tuple.Tuple) []byte {
	return s.records.Pack(pk)
}

// Save writes rec, computing its primary key from its declared record
// type's primary-key expression, and fans out to every write-only or
// readable index over that type (spec §4.6). Saving a record equal to
// its current stored version is idempotent.
func (s *Store) Save(ctx context.Context, rec record.Record) error {
	start := time.Now()
	typeName := rec.TypeName()
	err := s.save(ctx, typeName, rec)
	rlmetrics.SaveDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
	if err != nil {
		rlmetrics.SavesTotal.WithLabelValues(typeName, outcomeOf(err)).Inc()
		log.Error("save failed", "type", typeName, "err", err)
		return err
	}
	rlmetrics.SavesTotal.WithLabelValues(typeName, "ok").Inc()
	return nil
}

func (s *Store) save(ctx context.Context, typeName string, newRecord record.Record) error {
	rt, ok := s.sch.RecordType(typeName)
	if !ok {
		return &rlerrors.InvalidArgumentError{Reason: fmt.Sprintf("unknown record type %q", typeName)}
	}
	pk, err := record.PrimaryKey(newRecord, rt.PrimaryKey)
	if err != nil {
		return err
	}

	maintainers, err := s.activeMaintainers(ctx, rt)
	if err != nil {
		return err
	}

	return s.db.Update(ctx, func(tx kv.RwTx) error {
		key := s.recordKey(pk)
		existing, err := tx.Get(kv.Records, key, false)
		var oldRecord record.Record
		if err == nil {
			oldRecord, err = s.codec.Deserialize(typeName, existing)
			if err != nil {
				return &rlerrors.DeserializationError{TypeName: typeName, Err: err}
			}
		} else if err != kv.ErrKeyNotFound {
			return err
		}

		for _, m := range maintainers {
			if err := m.Update(ctx, tx, oldRecord, newRecord); err != nil {
				return err
			}
		}

		data, err := s.codec.Serialize(newRecord)
		if err != nil {
			return &rlerrors.SerializationError{TypeName: typeName, Err: err}
		}
		return tx.Set(kv.Records, key, data)
	})
}

// Record reads the record of the given type at primary key pk, or
// (nil, nil) if no such record exists.
func (s *Store) Record(ctx context.Context, typeName string, pk tuple.Tuple) (record.Record, error) {
	if _, ok := s.sch.RecordType(typeName); !ok {
		return nil, &rlerrors.InvalidArgumentError{Reason: fmt.Sprintf("unknown record type %q", typeName)}
	}
	var rec record.Record
	err := s.db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.Get(kv.Records, s.recordKey(pk), true)
		if err == kv.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err = s.codec.Deserialize(typeName, v)
		if err != nil {
			return &rlerrors.DeserializationError{TypeName: typeName, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record of the given type at primary key pk,
// symmetric with Save(newRecord = nil): every active maintainer is
// asked to retract its entries for the old record, and the record row
// itself is cleared. A delete of a primary key with no stored record is
// a no-op.
func (s *Store) Delete(ctx context.Context, typeName string, pk tuple.Tuple) error {
	rt, ok := s.sch.RecordType(typeName)
	if !ok {
		return &rlerrors.InvalidArgumentError{Reason: fmt.Sprintf("unknown record type %q", typeName)}
	}
	maintainers, err := s.activeMaintainers(ctx, rt)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.db.Update(ctx, func(tx kv.RwTx) error {
		key := s.recordKey(pk)
		existing, err := tx.Get(kv.Records, key, false)
		if err == kv.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		oldRecord, err := s.codec.Deserialize(typeName, existing)
		if err != nil {
			return &rlerrors.DeserializationError{TypeName: typeName, Err: err}
		}
		for _, m := range maintainers {
			if err := m.Update(ctx, tx, oldRecord, nil); err != nil {
				return err
			}
		}
		return tx.Clear(kv.Records, key)
	})
	rlmetrics.SaveDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
	if err != nil {
		rlmetrics.SavesTotal.WithLabelValues(typeName, outcomeOf(err)).Inc()
		log.Error("delete failed", "type", typeName, "err", err)
		return err
	}
	rlmetrics.SavesTotal.WithLabelValues(typeName, "ok").Inc()
	return nil
}

// activeMaintainers returns the maintainers for every index declared on
// rt whose persisted state is write-only or readable (spec §4.6 step
// 4); disabled indexes are skipped entirely, matching the index-state
// manager's contract that a disabled index has no durable entries to
// keep consistent.
func (s *Store) activeMaintainers(ctx context.Context, rt *schema.RecordTypeDef) ([]indexmaintainer.Maintainer, error) {
	defs := rt.Indexes()
	if len(defs) == 0 {
		return nil, nil
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	states, err := s.states.States(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make([]indexmaintainer.Maintainer, 0, len(defs))
	for _, d := range defs {
		st := states[d.Name]
		if st != indexstate.WriteOnly && st != indexstate.Readable {
			continue
		}
		out = append(out, s.maintain[d.Name])
	}
	return out, nil
}

func outcomeOf(err error) string {
	if rlerrors.IsRetryable(err) {
		return "conflict"
	}
	return "error"
}
