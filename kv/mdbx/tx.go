// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mdbx

import (
	"encoding/binary"

	mdbx "github.com/erigontech/mdbx-go/mdbx"

	"github.com/erigontech/recordlayer/kv"
)

type roTx struct {
	env     *Environment
	txn     *mdbx.Txn
	managed bool
	done    bool
}

var _ kv.Tx = (*roTx)(nil)

func (tx *roTx) Get(table string, key []byte, snapshot bool) ([]byte, error) {
	dbi, err := tx.env.dbi(table)
	if err != nil {
		return nil, err
	}
	v, err := tx.txn.Get(dbi, key)
	if mdbx.IsNotFound(err) {
		return nil, kv.ErrKeyNotFound
	}
	return v, err
}

func (tx *roTx) Range(table string, from, to []byte, snapshot bool, walker func(k, v []byte) error) error {
	c, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()

	var k, v []byte
	if from == nil {
		k, v, err = c.First()
	} else {
		k, v, err = c.Seek(from)
	}
	for ; k != nil && err == nil; k, v, err = c.Next() {
		if to != nil && bytesCompare(k, to) >= 0 {
			return nil
		}
		if werr := walker(k, v); werr != nil {
			return werr
		}
	}
	return err
}

func (tx *roTx) Cursor(table string) (kv.Cursor, error) {
	dbi, err := tx.env.dbi(table)
	if err != nil {
		return nil, err
	}
	c, err := tx.txn.OpenCursor(dbi)
	if err != nil {
		return nil, err
	}
	return &cursor{c: c}, nil
}

func (tx *roTx) Commit() (kv.CommitVersion, error) {
	if tx.done {
		return 0, kv.ErrTxClosed
	}
	tx.done = true
	if !tx.managed {
		return 0, nil
	}
	id, err := tx.txn.Commit()
	return kv.CommitVersion(id), err
}

func (tx *roTx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.managed {
		tx.txn.Abort()
	}
}

type rwTx struct {
	roTx
}

var _ kv.RwTx = (*rwTx)(nil)

func (tx *rwTx) Set(table string, key, value []byte) error {
	dbi, err := tx.env.dbi(table)
	if err != nil {
		return err
	}
	return tx.txn.Put(dbi, key, value, 0)
}

func (tx *rwTx) Clear(table string, key []byte) error {
	dbi, err := tx.env.dbi(table)
	if err != nil {
		return err
	}
	err = tx.txn.Del(dbi, key, nil)
	if mdbx.IsNotFound(err) {
		return nil
	}
	return err
}

func (tx *rwTx) ClearRange(table string, from, to []byte) error {
	c, err := tx.RwCursor(table)
	if err != nil {
		return err
	}
	defer c.Close()

	var keys [][]byte
	k, _, err := c.Seek(from)
	for ; k != nil && err == nil; k, _, err = c.Next() {
		if to != nil && bytesCompare(k, to) >= 0 {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (tx *rwTx) AtomicOp(table string, key []byte, op kv.AtomicOp, param []byte) error {
	switch op {
	case kv.AtomicAdd:
		cur, err := tx.Get(table, key, false)
		var curVal int64
		if err == nil {
			curVal = int64(binary.LittleEndian.Uint64(cur))
		} else if err != kv.ErrKeyNotFound {
			return err
		}
		delta := int64(binary.LittleEndian.Uint64(param))
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(curVal+delta))
		return tx.Set(table, key, out)
	case kv.AtomicSetVersionstampedKey:
		if len(key) < 10 {
			return kv.ErrTxClosed
		}
		full := make([]byte, len(key))
		copy(full, key)
		id := tx.txn.ID()
		binary.BigEndian.PutUint64(full[len(full)-10:len(full)-2], uint64(id))
		return tx.Set(table, full, param)
	default:
		return kv.ErrTxClosed
	}
}

func (tx *rwTx) RwCursor(table string) (kv.RwCursor, error) {
	dbi, err := tx.env.dbi(table)
	if err != nil {
		return nil, err
	}
	c, err := tx.txn.OpenCursor(dbi)
	if err != nil {
		return nil, err
	}
	return &cursor{c: c}, nil
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
