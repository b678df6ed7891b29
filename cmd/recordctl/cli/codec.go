// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cli

import (
	"encoding/base64"
	"strings"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/record"
)

// typedCodec wraps record.JSONCodec with the field-type coercion a
// schema-driven CLI needs: encoding/json unmarshals every number into a
// bare float64, which loses the distinction between a declared "int"
// field and a declared "float" one, and has no notion at all of a
// "vector" field's on-disk encoding. Coercion happens once, right after
// JSON decoding, so everything downstream (MapAccessor.Field, every
// index maintainer) sees values already in their tuple.Element-ready Go
// type.
type typedCodec struct {
	inner      record.JSONCodec
	fieldTypes map[string]map[string]string // record type -> field name -> declared type
}

var _ record.Codec = typedCodec{}

func (c typedCodec) Serialize(rec record.Record) ([]byte, error) {
	return c.inner.Serialize(rec)
}

func (c typedCodec) Deserialize(typeName string, data []byte) (record.Record, error) {
	rec, err := c.inner.Deserialize(typeName, data)
	if err != nil {
		return nil, err
	}
	m := rec.(record.MapAccessor)
	coerceValues(m.Values, c.fieldTypes[typeName])
	return m, nil
}

func coerceValues(values map[string]any, fieldTypes map[string]string) {
	for name, declared := range fieldTypes {
		v, ok := values[name]
		if !ok {
			continue
		}
		values[name] = coerceOne(v, declared)
	}
}

func coerceOne(v any, declared string) any {
	if base, ok := strings.CutSuffix(declared, "[]"); ok {
		items, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = coerceOne(item, base)
		}
		return out
	}
	switch declared {
	case "int":
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case "bytes":
		if s, ok := v.(string); ok {
			if b, err := base64.StdEncoding.DecodeString(s); err == nil {
				return b
			}
		}
	case "vector":
		items, ok := v.([]any)
		if !ok {
			return v
		}
		vec := make([]float32, len(items))
		for i, item := range items {
			f, _ := item.(float64)
			vec[i] = float32(f)
		}
		return indexmaintainer.EncodeVector(vec)
	}
	return v
}
