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

// Package memdb is an in-memory kv.RwDB backed by github.com/tidwall/btree,
// an ordered, generic, copy-on-write B-tree. It exists so package tests and
// recordctl --memdb do not need cgo/libmdbx to exercise the record layer.
//
// Concurrency model: one in-process RWMutex serializes transactions (the
// real KVS's conflict detection is approximated, not reproduced); readers
// taken under View hold a read lock for the duration of the callback, and
// a single writer holds the write lock for the duration of Update. This is
// coarser than real MVCC but preserves the contract the record layer
// depends on: writes within one Update are atomic and isolated from
// concurrent readers.
package memdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/tidwall/btree"

	"github.com/erigontech/recordlayer/kv"
)

type kvPair struct {
	table string
	key   []byte
	value []byte
}

func pairLess(a, b kvPair) bool {
	if a.table != b.table {
		return a.table < b.table
	}
	return bytes.Compare(a.key, b.key) < 0
}

// DB is the in-memory kv.RwDB.
type DB struct {
	mu      sync.RWMutex
	data    *btree.BTreeG[kvPair]
	cfg     kv.TableCfg
	version uint64
	closed  bool
}

var _ kv.RwDB = (*DB)(nil)

// New creates an empty in-memory database with the given table
// configuration (normally kv.DefaultTablesCfg).
func New(cfg kv.TableCfg) *DB {
	return &DB{
		data: btree.NewBTreeG(pairLess),
		cfg:  cfg,
	}
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
}

func (db *DB) AllBuckets() kv.TableCfg { return db.cfg }

func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return kv.ErrTxClosed
	}
	tx := &roTx{db: db, snapshot: db.data.Copy()}
	return f(tx)
}

func (db *DB) BeginRo(ctx context.Context) (kv.Tx, error) {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return nil, kv.ErrTxClosed
	}
	return &roTx{db: db, snapshot: db.data.Copy(), unlock: db.mu.RUnlock}, nil
}

func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return kv.ErrTxClosed
	}
	tx := &rwTx{roTx: roTx{db: db, snapshot: db.data.Copy()}, orig: db.data}
	if err := f(tx); err != nil {
		return err
	}
	_, err := tx.Commit()
	return err
}

func (db *DB) BeginRw(ctx context.Context) (kv.RwTx, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, kv.ErrTxClosed
	}
	return &rwTx{roTx: roTx{db: db, snapshot: db.data.Copy(), unlock: db.mu.Unlock}, orig: db.data}, nil
}

type roTx struct {
	db       *DB
	snapshot *btree.BTreeG[kvPair]
	unlock   func()
	done     bool
}

func (tx *roTx) Get(table string, key []byte, snapshot bool) ([]byte, error) {
	v, ok := tx.snapshot.Get(kvPair{table: table, key: key})
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return v.value, nil
}

func (tx *roTx) Range(table string, from, to []byte, snapshot bool, walker func(k, v []byte) error) error {
	pivot := kvPair{table: table, key: from}
	var rangeErr error
	tx.snapshot.Ascend(pivot, func(item kvPair) bool {
		if item.table != table {
			return false
		}
		if to != nil && bytes.Compare(item.key, to) >= 0 {
			return false
		}
		if err := walker(item.key, item.value); err != nil {
			rangeErr = err
			return false
		}
		return true
	})
	return rangeErr
}

func (tx *roTx) Cursor(table string) (kv.Cursor, error) {
	return newCursor(tx.snapshot, table), nil
}

func (tx *roTx) Commit() (kv.CommitVersion, error) {
	tx.close()
	return kv.CommitVersion(0), nil
}

func (tx *roTx) Rollback() { tx.close() }

func (tx *roTx) close() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.unlock != nil {
		tx.unlock()
	}
}

type rwTx struct {
	roTx
	orig *btree.BTreeG[kvPair]
}

func (tx *rwTx) Set(table string, key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	tx.snapshot.Set(kvPair{table: table, key: append([]byte(nil), key...), value: cp})
	return nil
}

func (tx *rwTx) Clear(table string, key []byte) error {
	tx.snapshot.Delete(kvPair{table: table, key: key})
	return nil
}

func (tx *rwTx) ClearRange(table string, from, to []byte) error {
	var toDelete []kvPair
	tx.snapshot.Ascend(kvPair{table: table, key: from}, func(item kvPair) bool {
		if item.table != table {
			return false
		}
		if to != nil && bytes.Compare(item.key, to) >= 0 {
			return false
		}
		toDelete = append(toDelete, item)
		return true
	})
	for _, item := range toDelete {
		tx.snapshot.Delete(item)
	}
	return nil
}

func (tx *rwTx) AtomicOp(table string, key []byte, op kv.AtomicOp, param []byte) error {
	switch op {
	case kv.AtomicAdd:
		cur, ok := tx.snapshot.Get(kvPair{table: table, key: key})
		var curVal int64
		if ok {
			curVal = int64(binary.LittleEndian.Uint64(cur.value))
		}
		delta := int64(binary.LittleEndian.Uint64(param))
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(curVal+delta))
		return tx.Set(table, key, out)
	case kv.AtomicSetVersionstampedKey:
		// The commit counter goes into the 8 bytes just before key's final
		// 2 bytes. With the versionstamp as the key's last element
		// (tuple.PackWithVersionstamp), those 8 bytes lie inside its
		// 10-byte transaction-order field and the final 2 bytes are its
		// user-order suffix.
		if len(key) < 10 {
			return kv.ErrTxClosed
		}
		tx.db.version++
		full := make([]byte, len(key))
		copy(full, key)
		binary.BigEndian.PutUint64(full[len(full)-10:len(full)-2], tx.db.version)
		return tx.Set(table, full, param)
	default:
		return kv.ErrTxClosed
	}
}

func (tx *rwTx) RwCursor(table string) (kv.RwCursor, error) {
	return newCursor(tx.snapshot, table), nil
}

func (tx *rwTx) Commit() (kv.CommitVersion, error) {
	tx.db.data = tx.snapshot
	tx.db.version++
	tx.roTx.close()
	return kv.CommitVersion(tx.db.version), nil
}

func (tx *rwTx) Rollback() {
	tx.snapshot = tx.orig
	tx.roTx.close()
}
