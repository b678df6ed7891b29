// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/erigontech/recordlayer/cmd/recordctl/recordlayerconfig"
	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/indexstate"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/mdbx"
	"github.com/erigontech/recordlayer/kv/memdb"
	"github.com/erigontech/recordlayer/query/executor"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/recordstore"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/stats"
	"github.com/erigontech/recordlayer/tuple"
)

// app bundles every component one recordctl invocation needs, built
// once per command from the resolved Config and schema file.
type app struct {
	cfg      *recordlayerconfig.Config
	db       kv.RwDB
	schema   *schema.Schema
	codec    record.Codec
	states   *indexstate.Manager
	store    *recordstore.Store
	maintain map[string]indexmaintainer.Maintainer
	exec     *executor.Executor
	stats    *stats.Collector
	closeDB  func()

	fieldTypesByType map[string]map[string]string
}

// fieldTypes returns the declared field-type map for typeName, used to
// coerce JSON input/output and to interpret CLI predicate values.
func (a *app) fieldTypes(typeName string) map[string]string {
	return a.fieldTypesByType[typeName]
}

// primaryKeyTuple builds the full primary-key tuple (including the
// leading type-name literal) for typeName from a JSON object of its
// primary-key field values.
func (a *app) primaryKeyTuple(typeName, keyJSON string) (tuple.Tuple, error) {
	rt, ok := a.schema.RecordType(typeName)
	if !ok {
		return nil, fmt.Errorf("recordctl: unknown record type %q", typeName)
	}
	values, err := decodeValues(keyJSON)
	if err != nil {
		return nil, err
	}
	coerceValues(values, a.fieldTypes(typeName))
	accessor := record.MapAccessor{Type: typeName, Values: values}
	return record.PrimaryKey(accessor, rt.PrimaryKey)
}

var statesSubspace = tuple.NewSubspace(tuple.Tuple{tuple.String("IS")})
var statsSubspace = tuple.NewSubspace(tuple.Tuple{tuple.String("ST")})

func rangeSubspace(indexName string) tuple.Subspace {
	return tuple.NewSubspace(tuple.Tuple{tuple.String("IR"), tuple.String(indexName)})
}

// openApp resolves cfg into a running app: opens the backing kv store
// (mdbx or memdb, per cfg.MemDB), loads the schema file, and wires the
// schema's maintainers, index-state manager, record store, query
// executor, and stats collector together. The returned closer must be
// called once the command is done with the store.
func openApp(ctx context.Context, cfg *recordlayerconfig.Config) (*app, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("recordctl: preparing data directory: %w", err)
	}

	loaded, err := loadSchemaFile(cfg.FS, cfg.SchemaFile)
	if err != nil {
		return nil, err
	}

	var db kv.RwDB
	var closeDB func()
	if cfg.MemDB {
		d := memdb.New(kv.DefaultTablesCfg)
		db = d
		closeDB = d.Close
	} else {
		env, err := mdbx.Open(ctx, mdbx.Config{Path: cfg.DataDir}, kv.DefaultTablesCfg)
		if err != nil {
			return nil, fmt.Errorf("recordctl: opening mdbx environment: %w", err)
		}
		db = env
		closeDB = env.Close
	}

	states := indexstate.NewManager(db, kv.IndexState, statesSubspace, time.Minute)

	maintain, err := recordstore.BuildMaintainers(loaded.schema, kv.Indexes)
	if err != nil {
		closeDB()
		return nil, err
	}

	codec := typedCodec{inner: record.JSONCodec{}, fieldTypes: loaded.fieldTypes}
	factory := func(typeName string) (record.Record, error) {
		return record.NewMapAccessor(typeName), nil
	}

	store, err := recordstore.Open(db, loaded.schema, codec, factory, maintain, states)
	if err != nil {
		closeDB()
		return nil, err
	}

	return &app{
		cfg:              cfg,
		db:               db,
		schema:           loaded.schema,
		codec:            codec,
		states:           states,
		store:            store,
		maintain:         maintain,
		exec:             executor.New(store),
		stats:            stats.New(db, kv.Stats, statsSubspace, 10),
		closeDB:          closeDB,
		fieldTypesByType: loaded.fieldTypes,
	}, nil
}

func (a *app) Close() { a.closeDB() }
