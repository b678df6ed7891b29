// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/tuple"
)

// schemaFile is the on-disk shape of the JSON schema-description file
// recordctl loads at startup. Unlike every other record type in this
// module, the CLI has no generated Go struct to declare a schema.Schema
// against, so it builds one at runtime from this description instead.
type schemaFile struct {
	Version uint64            `json:"version"`
	Types   []schemaFileType  `json:"types"`
	Indexes []schemaFileIndex `json:"indexes"`
}

type schemaFileType struct {
	Name       string            `json:"name"`
	PrimaryKey []string          `json:"primaryKey"`
	Fields     map[string]string `json:"fields"`
}

type schemaFileIndex struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	RecordType     string   `json:"recordType"`
	Root           []string `json:"root"`
	CoveringFields []string `json:"coveringFields,omitempty"`
	ValueField     string   `json:"valueField,omitempty"`
	SpatialLevel   int      `json:"spatialLevel,omitempty"`
	AltitudeMin    float64  `json:"altitudeMin,omitempty"`
	AltitudeMax    float64  `json:"altitudeMax,omitempty"`
	VectorDim      int      `json:"vectorDim,omitempty"`
}

// loadedSchema bundles the built schema with the per-type field-type
// maps the typed codec needs to coerce JSON values (encoding/json
// unmarshals every number as float64, which is not precise enough to
// round-trip an "int" field).
type loadedSchema struct {
	schema     *schema.Schema
	fieldTypes map[string]map[string]string // record type -> field name -> declared type
}

// loadSchemaFile reads and validates path through fs, returning the
// built schema.Schema and the field-type tables the CLI's typed codec
// needs.
func loadSchemaFile(fs afero.Fs, path string) (*loadedSchema, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("recordctl: reading schema file: %w", err)
	}
	var sf schemaFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("recordctl: parsing schema file: %w", err)
	}
	return buildSchema(sf)
}

func buildSchema(sf schemaFile) (*loadedSchema, error) {
	b := schema.NewBuilder(sf.Version)
	fieldTypes := make(map[string]map[string]string, len(sf.Types))

	for _, t := range sf.Types {
		if len(t.PrimaryKey) == 0 {
			return nil, fmt.Errorf("recordctl: record type %q declares no primaryKey fields", t.Name)
		}
		children := []keyexpr.Expression{fieldTypeLiteral(t.Name)}
		for _, f := range t.PrimaryKey {
			children = append(children, keyexpr.Field(f))
		}
		if err := b.AddRecordType(t.Name, keyexpr.Concat(children...)); err != nil {
			return nil, err
		}
		fieldTypes[t.Name] = t.Fields
	}

	for _, idx := range sf.Indexes {
		def, err := buildIndexDef(idx)
		if err != nil {
			return nil, err
		}
		if err := b.AddIndex(def); err != nil {
			return nil, err
		}
	}

	sch, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &loadedSchema{schema: sch, fieldTypes: fieldTypes}, nil
}

// fieldTypeLiteral is the type-name literal every record type's primary
// key must lead with, per onlineindex's FullScan range-bounding
// convention.
func fieldTypeLiteral(typeName string) keyexpr.Expression {
	return keyexpr.Literal(tuple.String(typeName))
}

func buildIndexDef(idx schemaFileIndex) (*schema.IndexDef, error) {
	kind, err := parseIndexKind(idx.Kind)
	if err != nil {
		return nil, fmt.Errorf("recordctl: index %q: %w", idx.Name, err)
	}
	if len(idx.Root) == 0 {
		return nil, fmt.Errorf("recordctl: index %q declares no root fields", idx.Name)
	}
	def := &schema.IndexDef{
		Name:         idx.Name,
		Kind:         kind,
		RecordType:   idx.RecordType,
		Root:         fieldsExpr(idx.Root),
		SpatialLevel: idx.SpatialLevel,
		AltitudeMin:  idx.AltitudeMin,
		AltitudeMax:  idx.AltitudeMax,
		VectorDim:    idx.VectorDim,
	}
	if len(idx.CoveringFields) > 0 {
		def.CoveringFields = fieldsExpr(idx.CoveringFields)
	}
	if idx.ValueField != "" {
		def.ValueExpr = keyexpr.Field(idx.ValueField)
	}
	return def, nil
}

func fieldsExpr(names []string) keyexpr.Expression {
	children := make([]keyexpr.Expression, len(names))
	for i, n := range names {
		children[i] = keyexpr.Field(n)
	}
	return keyexpr.Concat(children...)
}

func parseIndexKind(s string) (schema.IndexKind, error) {
	switch strings.ToLower(s) {
	case "value":
		return schema.Value, nil
	case "covering":
		return schema.Covering, nil
	case "unique":
		return schema.Unique, nil
	case "count":
		return schema.Count, nil
	case "sum":
		return schema.Sum, nil
	case "spatial":
		return schema.Spatial, nil
	case "spatial3d":
		return schema.Spatial3D, nil
	case "vector":
		return schema.Vector, nil
	default:
		return 0, fmt.Errorf("unknown index kind %q", s)
	}
}
