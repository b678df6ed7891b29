// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package record

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Factory constructs a new, zero-value instance of a declared record
// type, suitable as a target for deserialization.
type Factory func() Record

// MsgpackCodec is the default Codec, serializing records with
// MessagePack via struct tags (`msgpack:"field"`). One Factory is
// registered per type name; Deserialize looks up the factory before
// unmarshaling so the wire bytes need not self-describe their type
// (the record store already knows which type-specific subspace they
// came from).
type MsgpackCodec struct {
	factories map[string]Factory
}

var _ Codec = (*MsgpackCodec)(nil)

func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{factories: make(map[string]Factory)}
}

// Register associates typeName with the factory used to construct a
// fresh instance on Deserialize. Registering the same type name twice
// replaces the earlier factory.
func (c *MsgpackCodec) Register(typeName string, f Factory) {
	c.factories[typeName] = f
}

func (c *MsgpackCodec) Serialize(rec Record) ([]byte, error) {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("record: serialize %q: %w", rec.TypeName(), err)
	}
	return data, nil
}

func (c *MsgpackCodec) Deserialize(typeName string, data []byte) (Record, error) {
	f, ok := c.factories[typeName]
	if !ok {
		return nil, fmt.Errorf("record: no factory registered for type %q", typeName)
	}
	rec := f()
	if err := msgpack.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("record: deserialize %q: %w", typeName, err)
	}
	return rec, nil
}
