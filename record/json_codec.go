// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package record

import (
	"encoding/json"
	"fmt"
)

// JSONCodec serializes MapAccessor's Values map directly with
// encoding/json — the natural wire format for a map[string]any-backed
// record, used by cmd/recordctl rather than the struct-tag-driven
// MsgpackCodec every generated, statically typed record type uses.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Serialize(rec Record) ([]byte, error) {
	m, ok := rec.(MapAccessor)
	if !ok {
		return nil, fmt.Errorf("record: JSONCodec only serializes MapAccessor, got %T", rec)
	}
	return json.Marshal(m.Values)
}

func (JSONCodec) Deserialize(typeName string, data []byte) (Record, error) {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("record: JSONCodec deserialize %q: %w", typeName, err)
	}
	return MapAccessor{Type: typeName, Values: values}, nil
}
