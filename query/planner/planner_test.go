// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/stats"
	"github.com/erigontech/recordlayer/tuple"
)

func eqField(name string, v int64) compiler.Field {
	return compiler.Field{Name: name, Op: compiler.Eq, Value: tuple.Int(v)}
}

func rangeField(name string, v int64) compiler.Field {
	return compiler.Field{Name: name, Op: compiler.Gt, Value: tuple.Int(v)}
}

func noStats(string) (*stats.Statistics, bool) { return nil, false }

func compileOne(t *testing.T, pred compiler.Predicate) []compiler.Predicate {
	t.Helper()
	c, err := compiler.Compile(pred, 0)
	require.NoError(t, err)
	require.Len(t, c.Terms, 1)
	return c.Terms[0]
}

func TestPlanFullScanWhenNoIndexMatches(t *testing.T) {
	p := New()
	term := compileOne(t, eqField("nickname", 1))
	pl := p.planTerm(term, nil, noStats, 1000)
	assert.Equal(t, FullScan, pl.Kind)
	assert.Equal(t, float64(1000), pl.IOCost, "full scan reads every row")
}

func TestPlanSingleIndexForPrefixMatchingEquality(t *testing.T) {
	p := New()
	idx := &schema.IndexDef{Name: "User.byAge", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("age")}
	term := compileOne(t, eqField("age", 30))
	pl := p.planTerm(term, []*schema.IndexDef{idx}, noStats, 1000)
	assert.Equal(t, SingleIndex, pl.Kind)
	require.NotNil(t, pl.Index)
	assert.Equal(t, "User.byAge", pl.Index.Name)
	assert.Empty(t, pl.Residual)
}

func TestPlanCoveringIndexWhenNoResidual(t *testing.T) {
	p := New()
	idx := &schema.IndexDef{
		Name: "User.byAge", Kind: schema.Covering, RecordType: "User",
		Root:           keyexpr.Field("age"),
		CoveringFields: keyexpr.Field("name"),
	}
	term := compileOne(t, eqField("age", 30))
	pl := p.planTerm(term, []*schema.IndexDef{idx}, noStats, 1000)
	assert.Equal(t, Covering, pl.Kind)
	assert.Equal(t, pl.Rows, pl.IOCost, "a covering plan's io cost should equal its row count, no extra fetch")
}

func TestPlanIntersectionWhenTwoIndexesPartiallyMatch(t *testing.T) {
	p := New()
	byAge := &schema.IndexDef{Name: "User.byAge", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("age")}
	byCity := &schema.IndexDef{Name: "User.byCity", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("city")}
	pred := compiler.And{Children: []compiler.Predicate{eqField("age", 30), eqField("city", 1)}}
	term := compileOne(t, pred)

	pl := p.planTerm(term, []*schema.IndexDef{byAge, byCity}, noStats, 1000)
	assert.Equal(t, Intersection, pl.Kind)
	require.Len(t, pl.Children, 2)
}

func TestPlanSingleIndexWhenItCoversWholeTermEvenWithAnotherIndexPresent(t *testing.T) {
	p := New()
	byAgeCity := &schema.IndexDef{
		Name: "User.byAgeCity", Kind: schema.Value, RecordType: "User",
		Root: keyexpr.Concat(keyexpr.Field("age"), keyexpr.Field("city")),
	}
	byCity := &schema.IndexDef{Name: "User.byCity", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("city")}
	pred := compiler.And{Children: []compiler.Predicate{eqField("age", 30), eqField("city", 1)}}
	term := compileOne(t, pred)

	pl := p.planTerm(term, []*schema.IndexDef{byAgeCity, byCity}, noStats, 1000)
	assert.NotEqual(t, Intersection, pl.Kind, "a single compound index already covering the whole term should win on cost over an intersection")
}

func TestPlanUnionAcrossDisjunctiveTerms(t *testing.T) {
	p := New()
	idx := &schema.IndexDef{Name: "User.byCity", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("city")}
	pred := compiler.Or{Children: []compiler.Predicate{eqField("city", 1), eqField("city", 2)}}
	c, err := compiler.Compile(pred, 0)
	require.NoError(t, err)
	require.Len(t, c.Terms, 2)

	pl, err := p.Plan("User", c, nil, []*schema.IndexDef{idx}, noStats, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, Union, pl.Kind)
	require.Len(t, pl.Children, 2)
}

func TestPlanLimitScalesCostDownFromFullRowCount(t *testing.T) {
	p := New()
	idx := &schema.IndexDef{Name: "User.byAge", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("age")}
	pred := eqField("age", 30)
	c, err := compiler.Compile(pred, 0)
	require.NoError(t, err)

	unlimited, err := p.Plan("User", c, nil, []*schema.IndexDef{idx}, noStats, 100000, 0)
	require.NoError(t, err)

	limited, err := p.Plan("User", c, nil, []*schema.IndexDef{idx}, noStats, 100000, 1)
	require.NoError(t, err)

	assert.Equal(t, Limit, limited.Kind)
	assert.Less(t, limited.Cost, unlimited.Cost)
}

func TestPlanHashIsDeterministicForIdenticalShapes(t *testing.T) {
	idx := &schema.IndexDef{Name: "User.byAge", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("age")}
	p1 := &Plan{Kind: SingleIndex, Index: idx}
	p2 := &Plan{Kind: SingleIndex, Index: idx}
	assert.Equal(t, planHash(p1), planHash(p2))

	other := &schema.IndexDef{Name: "User.byCity", Kind: schema.Value, RecordType: "User", Root: keyexpr.Field("city")}
	p3 := &Plan{Kind: SingleIndex, Index: other}
	assert.NotEqual(t, planHash(p1), planHash(p3))
}

func TestPlanRangeLeafTerminatesPrefixMatch(t *testing.T) {
	p := New()
	idx := &schema.IndexDef{
		Name: "User.byAgeCity", Kind: schema.Value, RecordType: "User",
		Root: keyexpr.Concat(keyexpr.Field("age"), keyexpr.Field("city")),
	}
	pred := compiler.And{Children: []compiler.Predicate{rangeField("age", 18), eqField("city", 1)}}
	term := compileOne(t, pred)

	pl := p.planTerm(term, []*schema.IndexDef{idx}, noStats, 1000)
	require.Equal(t, SingleIndex, pl.Kind)
	require.Len(t, pl.Residual, 1, "the range leaf on age terminates the prefix match, leaving city as a residual filter")
}
