// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memdb

import (
	"github.com/tidwall/btree"

	"github.com/erigontech/recordlayer/kv"
)

type cursor struct {
	tree    *btree.BTreeG[kvPair]
	table   string
	iter    btree.IterG[kvPair]
	started bool
	valid   bool
}

var _ kv.RwCursor = (*cursor)(nil)

func newCursor(tree *btree.BTreeG[kvPair], table string) *cursor {
	return &cursor{tree: tree, table: table, iter: tree.Iter()}
}

func (c *cursor) First() ([]byte, []byte, error) {
	c.iter = c.tree.Iter()
	c.started = true
	c.valid = c.iter.Seek(kvPair{table: c.table}) && c.iter.Item().table == c.table
	return c.current()
}

func (c *cursor) Last() ([]byte, []byte, error) {
	c.iter = c.tree.Iter()
	c.started = true
	// Seek one past this table's keys, then step back.
	c.valid = c.iter.Seek(kvPair{table: c.table + "\xff"})
	if c.valid {
		c.valid = c.iter.Prev()
	} else {
		c.valid = c.iter.Last()
	}
	if c.valid && c.iter.Item().table != c.table {
		c.valid = false
	}
	return c.current()
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	c.iter = c.tree.Iter()
	c.started = true
	c.valid = c.iter.Seek(kvPair{table: c.table, key: seek}) && c.iter.Item().table == c.table
	return c.current()
}

func (c *cursor) SeekExact(key []byte) ([]byte, []byte, error) {
	k, v, err := c.Seek(key)
	if err != nil || k == nil {
		return nil, nil, err
	}
	if string(k) != string(key) {
		return nil, nil, nil
	}
	return k, v, nil
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if !c.started {
		return c.First()
	}
	if !c.valid {
		return nil, nil, nil
	}
	c.valid = c.iter.Next() && c.iter.Item().table == c.table
	return c.current()
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, nil
	}
	c.valid = c.iter.Prev() && c.iter.Item().table == c.table
	return c.current()
}

func (c *cursor) Current() ([]byte, []byte, error) {
	return c.current()
}

func (c *cursor) current() ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, nil
	}
	item := c.iter.Item()
	return item.key, item.value, nil
}

func (c *cursor) Put(k, v []byte) error {
	cp := make([]byte, len(v))
	copy(cp, v)
	c.tree.Set(kvPair{table: c.table, key: append([]byte(nil), k...), value: cp})
	return nil
}

func (c *cursor) Delete(k []byte) error {
	c.tree.Delete(kvPair{table: c.table, key: k})
	return nil
}

func (c *cursor) Close() {
	c.iter.Release()
}
