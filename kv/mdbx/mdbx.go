// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package mdbx is the production kv.RwDB backend, wrapping libmdbx via
// github.com/erigontech/mdbx-go — the same embedded storage engine the
// teacher codebase uses for chain data. One MDBX environment hosts one DBI
// per table in kv.RecordLayerTables; Update/View map onto MDBX read-write
// and read-only transactions.
package mdbx

import (
	"context"
	"fmt"
	"os"

	mdbx "github.com/erigontech/mdbx-go/mdbx"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/rllog"
)

// Config configures the MDBX environment.
type Config struct {
	Path string
	// MapSize is the maximum size the environment's memory map may grow
	// to; MDBX reserves address space up front but only pages in what's
	// used. Defaults to 1<<30 (1GiB) if zero.
	MapSize int64
	// MaxReaders bounds concurrent read transactions. Defaults to 4096.
	MaxReaders int
	ReadOnly   bool
}

// Environment is the open MDBX-backed database.
type Environment struct {
	env    *mdbx.Env
	dbis   map[string]mdbx.DBI
	cfg    kv.TableCfg
	log    *rllog.Logger
	closed bool
}

var _ kv.RwDB = (*Environment)(nil)

// Open creates (if needed) the data directory at cfg.Path, opens an MDBX
// environment there, and creates one DBI per table in tables.
func Open(ctx context.Context, cfg Config, tables kv.TableCfg) (*Environment, error) {
	if cfg.MapSize == 0 {
		cfg.MapSize = 1 << 30
	}
	if cfg.MaxReaders == 0 {
		cfg.MaxReaders = 4096
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("mdbx: create data dir %s: %w", cfg.Path, err)
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbx: new env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(tables))); err != nil {
		return nil, fmt.Errorf("mdbx: set max dbs: %w", err)
	}
	if err := env.SetGeometry(-1, -1, int(cfg.MapSize), -1, -1, -1); err != nil {
		return nil, fmt.Errorf("mdbx: set geometry: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxReaders, uint64(cfg.MaxReaders)); err != nil {
		return nil, fmt.Errorf("mdbx: set max readers: %w", err)
	}

	flags := uint(mdbx.NoTLS | mdbx.Coalesce | mdbx.LifoReclaim)
	if cfg.ReadOnly {
		flags |= mdbx.Readonly
	}
	if err := env.Open(cfg.Path, flags, 0o644); err != nil {
		return nil, fmt.Errorf("mdbx: open %s: %w", cfg.Path, err)
	}

	e := &Environment{env: env, dbis: map[string]mdbx.DBI{}, cfg: tables, log: rllog.Named("kv/mdbx")}
	if err := env.Update(func(txn *mdbx.Txn) error {
		for name, item := range tables {
			dbiFlags := uint(mdbx.Create)
			if item.Flags&kv.DupSort != 0 {
				dbiFlags |= mdbx.DupSort
			}
			dbi, err := txn.OpenDBISimple(name, dbiFlags)
			if err != nil {
				return fmt.Errorf("mdbx: open dbi %s: %w", name, err)
			}
			e.dbis[name] = dbi
		}
		return nil
	}); err != nil {
		env.Close()
		return nil, err
	}
	return e, nil
}

func (e *Environment) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.env.Close()
}

func (e *Environment) AllBuckets() kv.TableCfg { return e.cfg }

func (e *Environment) dbi(table string) (mdbx.DBI, error) {
	dbi, ok := e.dbis[table]
	if !ok {
		return 0, fmt.Errorf("mdbx: unknown table %q (add it to kv.RecordLayerTables)", table)
	}
	return dbi, nil
}

func (e *Environment) View(ctx context.Context, f func(tx kv.Tx) error) error {
	return e.env.View(func(txn *mdbx.Txn) error {
		txn.RawRead = true
		return f(&roTx{env: e, txn: txn})
	})
}

func (e *Environment) BeginRo(ctx context.Context) (kv.Tx, error) {
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, err
	}
	txn.RawRead = true
	return &roTx{env: e, txn: txn, managed: true}, nil
}

func (e *Environment) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	return e.env.Update(func(txn *mdbx.Txn) error {
		return f(&rwTx{roTx: roTx{env: e, txn: txn}})
	})
}

func (e *Environment) BeginRw(ctx context.Context) (kv.RwTx, error) {
	txn, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		return nil, err
	}
	return &rwTx{roTx: roTx{env: e, txn: txn, managed: true}}, nil
}
