// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package keyexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/tuple"
)

func TestFieldExprScalar(t *testing.T) {
	rec := MapAccessor{"name": Scalar(tuple.String("alice"))}
	out, err := Field("name").Evaluate(rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	v, ok := out[0][0].AsString()
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestFieldExprRepeatedFanOut(t *testing.T) {
	rec := MapAccessor{"tags": Repeated(tuple.String("a"), tuple.String("b"), tuple.String("c"))}
	out, err := Field("tags").Evaluate(rec)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestFieldExprNotFound(t *testing.T) {
	rec := MapAccessor{}
	_, err := Field("missing").Evaluate(rec)
	require.Error(t, err)
	var fnf *FieldNotFoundError
	assert.ErrorAs(t, err, &fnf)
}

func TestConcatFlattensAndFansOut(t *testing.T) {
	rec := MapAccessor{
		"city": Scalar(tuple.String("Tokyo")),
		"tags": Repeated(tuple.String("x"), tuple.String("y")),
	}
	expr := Concat(Field("city"), Field("tags"))
	out, err := expr.Evaluate(rec)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, tup := range out {
		require.Len(t, tup, 2)
		city, _ := tup[0].AsString()
		assert.Equal(t, "Tokyo", city)
	}
}

func TestNestExpr(t *testing.T) {
	inner := MapAccessor{"zip": Scalar(tuple.String("94107"))}
	rec := MapAccessor{"addr": Nested(inner)}
	out, err := Nest("addr", Field("zip")).Evaluate(rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	zip, _ := out[0][0].AsString()
	assert.Equal(t, "94107", zip)
	assert.Equal(t, []string{"addr.zip"}, Nest("addr", Field("zip")).Fields())
}

func TestNestRepeatedFanOut(t *testing.T) {
	a := MapAccessor{"id": Scalar(tuple.Int(1))}
	b := MapAccessor{"id": Scalar(tuple.Int(2))}
	rec := MapAccessor{"items": RepeatedNested(a, b)}
	out, err := Nest("items", Field("id")).Evaluate(rec)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestRangeBoundary(t *testing.T) {
	rec := MapAccessor{"availability": Range(tuple.Int(100), tuple.Int(200))}
	lo, err := RangeBoundary("availability", Lo).Evaluate(rec)
	require.NoError(t, err)
	v, _ := lo[0][0].AsInt()
	assert.Equal(t, int64(100), v)

	hi, err := RangeBoundary("availability", Hi).Evaluate(rec)
	require.NoError(t, err)
	v, _ = hi[0][0].AsInt()
	assert.Equal(t, int64(200), v)
}

func TestLiteralExpr(t *testing.T) {
	out, err := Literal(tuple.Int(7)).Evaluate(MapAccessor{})
	require.NoError(t, err)
	v, _ := out[0][0].AsInt()
	assert.Equal(t, int64(7), v)
	assert.Nil(t, Literal(tuple.Int(7)).Fields())
}
