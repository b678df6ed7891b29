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

// Package kv defines the ordered key-value store abstraction the record
// layer is built on (§6.1). Two implementations ship in this module:
// kv/mdbx (backed by libmdbx) and kv/memdb (an in-memory backend used by
// tests and the CLI's --memdb flag). The record layer itself only ever
// depends on the interfaces in this file.
package kv

import (
	"context"
	"errors"
)

// Variables naming:
//  tx  - read-only or read-write transaction
//  rwtx - read-write transaction
//  k, v - key, value
//  table - logical table name, resolved to a subspace prefix via TableCfg

var (
	ErrKeyNotFound = errors.New("kv: key not found")
	ErrTxClosed    = errors.New("kv: transaction already committed or rolled back")
)

// Getter is the read surface of a transaction.
type Getter interface {
	// Get returns the value at key in table, or ErrKeyNotFound. snapshot
	// controls whether the read participates in the transaction's conflict
	// range: snapshot reads never conflict with concurrent writers.
	Get(table string, key []byte, snapshot bool) ([]byte, error)

	// Range iterates [from, to) in ascending key order. to == nil means
	// "to the end of the table". The walker stops iteration by returning
	// a non-nil error; Range returns that error to its caller unchanged.
	Range(table string, from, to []byte, snapshot bool, walker func(k, v []byte) error) error
}

// Putter is the mutation surface of a read-write transaction.
type Putter interface {
	Set(table string, key, value []byte) error
	Clear(table string, key []byte) error
	ClearRange(table string, from, to []byte) error
}

// AtomicOp names an atomic, conflict-free mutation applied directly by the
// backend without a read-modify-write round trip, per §6.1.
type AtomicOp int

const (
	// AtomicAdd adds a little-endian encoded signed delta to the existing
	// little-endian value at the key (zero-extended if absent).
	AtomicAdd AtomicOp = iota
	// AtomicSetVersionstampedKey writes param as the value at a key formed
	// by splicing the transaction's commit version into key at the offset
	// recorded in the incomplete versionstamp (tuple.PackWithVersionstamp).
	AtomicSetVersionstampedKey
)

// AtomicApplier applies AtomicOp mutations.
type AtomicApplier interface {
	AtomicOp(table string, key []byte, op AtomicOp, param []byte) error
}

// Tx is a transaction: either the read-only view passed to Database.View,
// or embedded inside RwTx for Database.Update.
//
// WARNING: a Tx and its cursors must only be used from the goroutine that
// created them.
type Tx interface {
	Getter

	// Cursor opens a low-level ordered cursor over table.
	Cursor(table string) (Cursor, error)

	// Commit finalizes the transaction. Read-only Tx values returned from
	// View do not need to be committed; the caller may simply let the View
	// closure return.
	Commit() (CommitVersion, error)
	// Rollback abandons the transaction. Safe to call after Commit (no-op).
	Rollback()
}

// RwTx is a read-write transaction.
type RwTx interface {
	Tx
	Putter
	AtomicApplier

	RwCursor(table string) (RwCursor, error)
}

// CommitVersion identifies the logical commit order of a transaction; its
// only contractual property is that it increases monotonically with commit
// order across sequential transactions against the same database.
type CommitVersion uint64

// Selector describes a key-selection strategy for range scan boundaries,
// per §6.1.
type Selector int

const (
	FirstGreaterOrEqual Selector = iota
	FirstGreaterThan
	LastLessOrEqual
)

// Cursor walks a table's keys in order, low-level mdbx-style API.
type Cursor interface {
	First() (k, v []byte, err error)
	Seek(seek []byte) (k, v []byte, err error)
	SeekExact(key []byte) (k, v []byte, err error)
	Next() (k, v []byte, err error)
	Prev() (k, v []byte, err error)
	Last() (k, v []byte, err error)
	Current() (k, v []byte, err error)
	Close()
}

// RwCursor additionally supports in-place mutation during a scan.
type RwCursor interface {
	Cursor
	Put(k, v []byte) error
	Delete(k []byte) error
}

// RoDB is the read-only database handle.
type RoDB interface {
	Closer
	View(ctx context.Context, f func(tx Tx) error) error
	AllBuckets() TableCfg
}

// RwDB is the read-write database handle the record layer is constructed
// around. A single RwDB corresponds to one open record store (§3.2): the
// record layer is the only writer to the subspaces it registers.
type RwDB interface {
	RoDB

	// Update runs f inside one read-write transaction and commits on
	// success. If f returns an error, the transaction is rolled back and
	// the error is returned unchanged.
	Update(ctx context.Context, f func(tx RwTx) error) error

	BeginRw(ctx context.Context) (RwTx, error)
	BeginRo(ctx context.Context) (Tx, error)
}

type Closer interface {
	Close()
}
