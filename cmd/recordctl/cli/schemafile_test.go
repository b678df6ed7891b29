// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// (at your option) any later version.

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/schema"
)

func testSchemaFile() schemaFile {
	return schemaFile{
		Version: 1,
		Types: []schemaFileType{
			{
				Name:       "Widget",
				PrimaryKey: []string{"id"},
				Fields: map[string]string{
					"id":   "int",
					"name": "string",
					"age":  "int",
					"tags": "string[]",
				},
			},
		},
		Indexes: []schemaFileIndex{
			{Name: "widget_by_age", Kind: "value", RecordType: "Widget", Root: []string{"age"}},
			{Name: "widget_by_name", Kind: "unique", RecordType: "Widget", Root: []string{"name"}},
		},
	}
}

func TestBuildSchemaDeclaresTypesAndIndexes(t *testing.T) {
	loaded, err := buildSchema(testSchemaFile())
	require.NoError(t, err)

	rt, ok := loaded.schema.RecordType("Widget")
	require.True(t, ok)
	assert.NotNil(t, rt.PrimaryKey)

	idx, ok := loaded.schema.Index("widget_by_age")
	require.True(t, ok)
	assert.Equal(t, schema.Value, idx.Kind)

	assert.Equal(t, "int", loaded.fieldTypes["Widget"]["age"])
	assert.Equal(t, "string[]", loaded.fieldTypes["Widget"]["tags"])
}

func TestBuildSchemaRejectsIndexOnUnknownType(t *testing.T) {
	sf := testSchemaFile()
	sf.Indexes = append(sf.Indexes, schemaFileIndex{
		Name: "bad", Kind: "value", RecordType: "Nonexistent", Root: []string{"x"},
	})
	_, err := buildSchema(sf)
	assert.Error(t, err)
}

func TestBuildSchemaRejectsUnknownIndexKind(t *testing.T) {
	sf := testSchemaFile()
	sf.Indexes = []schemaFileIndex{
		{Name: "bad", Kind: "not-a-kind", RecordType: "Widget", Root: []string{"age"}},
	}
	_, err := buildSchema(sf)
	assert.Error(t, err)
}

func TestBuildSchemaRejectsMissingPrimaryKey(t *testing.T) {
	sf := testSchemaFile()
	sf.Types[0].PrimaryKey = nil
	_, err := buildSchema(sf)
	assert.Error(t, err)
}
