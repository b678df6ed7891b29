// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mdbx

import (
	mdbx "github.com/erigontech/mdbx-go/mdbx"

	"github.com/erigontech/recordlayer/kv"
)

type cursor struct {
	c *mdbx.Cursor
}

var _ kv.RwCursor = (*cursor)(nil)

func (cu *cursor) get(k, v []byte, op uint) ([]byte, []byte, error) {
	k, v, err := cu.c.Get(k, v, op)
	if mdbx.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, err
}

func (cu *cursor) First() ([]byte, []byte, error) { return cu.get(nil, nil, mdbx.First) }
func (cu *cursor) Last() ([]byte, []byte, error)  { return cu.get(nil, nil, mdbx.Last) }
func (cu *cursor) Current() ([]byte, []byte, error) {
	return cu.get(nil, nil, mdbx.GetCurrent)
}
func (cu *cursor) Next() ([]byte, []byte, error) { return cu.get(nil, nil, mdbx.Next) }
func (cu *cursor) Prev() ([]byte, []byte, error) { return cu.get(nil, nil, mdbx.Prev) }
func (cu *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	return cu.get(seek, nil, mdbx.SetRange)
}
func (cu *cursor) SeekExact(key []byte) ([]byte, []byte, error) {
	return cu.get(key, nil, mdbx.Set)
}

func (cu *cursor) Put(k, v []byte) error {
	return cu.c.Put(k, v, 0)
}

func (cu *cursor) Delete(k []byte) error {
	if _, _, err := cu.get(k, nil, mdbx.Set); err != nil {
		return err
	}
	return cu.c.Del(0)
}

func (cu *cursor) Close() {
	cu.c.Close()
}
