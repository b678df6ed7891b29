// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// (at your option) any later version.

package cli

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/cmd/recordctl/recordlayerconfig"
	"github.com/erigontech/recordlayer/onlineindex"
	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/query/planner"
	"github.com/erigontech/recordlayer/record"
)

func writeTestSchemaFile(t *testing.T, fs afero.Fs) string {
	t.Helper()
	data, err := json.Marshal(testSchemaFile())
	require.NoError(t, err)
	const path = "/schema.json"
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	return path
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := writeTestSchemaFile(t, fs)
	cfg, err := recordlayerconfig.New("", true, path, recordlayerconfig.WithFS(fs))
	require.NoError(t, err)
	a, err := openApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestAppSaveGetDelete(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	rec := record.MapAccessor{Type: "Widget", Values: map[string]any{
		"id": int64(1), "name": "gizmo", "age": int64(30),
	}}
	require.NoError(t, a.store.Save(ctx, rec))

	pk, err := a.primaryKeyTuple("Widget", `{"id":1}`)
	require.NoError(t, err)
	got, err := a.store.Record(ctx, "Widget", pk)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "gizmo", got.(record.MapAccessor).Values["name"])

	require.NoError(t, a.store.Delete(ctx, "Widget", pk))
	got, err = a.store.Record(ctx, "Widget", pk)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAppQueryFullScanWithResidualFilter(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		rec := record.MapAccessor{Type: "Widget", Values: map[string]any{
			"id": i, "name": "gizmo", "age": 20 + i,
		}}
		require.NoError(t, a.store.Save(ctx, rec))
	}

	pred, err := a.buildPredicate("Widget", []string{"age > 20"})
	require.NoError(t, err)
	canonical, err := compiler.Compile(pred, 64)
	require.NoError(t, err)

	readable, err := a.readableIndexes(ctx, "Widget")
	require.NoError(t, err)
	assert.Empty(t, readable, "no index has been enabled yet")

	totalRows, err := a.countRecords(ctx, "Widget")
	require.NoError(t, err)
	assert.Equal(t, float64(3), totalRows)

	plan, err := planner.New().Plan("Widget", canonical, a.schema, readable, a.statsLookup(ctx), totalRows, 0)
	require.NoError(t, err)
	assert.Equal(t, planner.FullScan, plan.Kind)

	cur, err := a.exec.Run(ctx, "Widget", plan)
	require.NoError(t, err)
	defer cur.Close()

	var ages []int64
	for {
		rec, err := cur.Next(ctx)
		require.NoError(t, err)
		if rec == nil {
			break
		}
		age, _ := rec.(record.MapAccessor).Values["age"].(int64)
		ages = append(ages, age)
	}
	assert.ElementsMatch(t, []int64{21, 22}, ages)
}

func TestAppIndexBuildMakesIndexReadable(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		rec := record.MapAccessor{Type: "Widget", Values: map[string]any{
			"id": i, "name": "gizmo", "age": 20 + i,
		}}
		require.NoError(t, a.store.Save(ctx, rec))
	}

	idx, ok := a.schema.Index("widget_by_age")
	require.True(t, ok)
	require.NoError(t, a.buildValueIndex(ctx, io.Discard, idx, onlineindex.Policy{
		EnableWriteOnly:        true,
		MarkReadableOnComplete: true,
	}, false))

	readable, err := a.readableIndexes(ctx, "Widget")
	require.NoError(t, err)
	require.Len(t, readable, 1)
	assert.Equal(t, "widget_by_age", readable[0].Name)
}
