// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package recordstore

import (
	"fmt"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/tuple"
)

// BuildMaintainers constructs one Maintainer per index declared in sch,
// choosing the concrete implementation from the index's Kind, and
// returns them keyed by index name — ready to hand to Open. Every index
// keys its entries under Subspace("I", indexName) so that every index's
// entries live in the single shared kv.Indexes table but never collide
// across indexes.
func BuildMaintainers(sch *schema.Schema, table string) (map[string]indexmaintainer.Maintainer, error) {
	out := make(map[string]indexmaintainer.Maintainer, len(sch.Indexes()))
	for _, idx := range sch.Indexes() {
		rt, ok := sch.RecordType(idx.RecordType)
		if !ok {
			return nil, fmt.Errorf("recordstore: index %q references unknown record type %q", idx.Name, idx.RecordType)
		}
		sub := IndexSubspace(idx.Name)
		pkExpr := rt.PrimaryKey

		var m indexmaintainer.Maintainer
		switch idx.Kind {
		case schema.Value:
			m = indexmaintainer.NewValueMaintainer(table, sub, idx.Root, pkExpr)
		case schema.Covering:
			m = indexmaintainer.NewCoveringMaintainer(table, sub, idx.Root, idx.CoveringFields, pkExpr)
		case schema.Unique:
			m = indexmaintainer.NewUniqueMaintainer(table, idx.Name, sub, idx.Root, pkExpr)
		case schema.Count:
			m = indexmaintainer.NewCountMaintainer(table, sub, idx.Root)
		case schema.Sum:
			m = indexmaintainer.NewSumMaintainer(table, sub, idx.Root, idx.ValueExpr)
		case schema.Spatial:
			m = indexmaintainer.NewSpatialMaintainer(table, sub, idx.Root, pkExpr, idx.SpatialLevel)
		case schema.Spatial3D:
			m = indexmaintainer.NewSpatial3DMaintainer(table, sub, idx.Root, pkExpr, idx.SpatialLevel, idx.AltitudeMin, idx.AltitudeMax)
		case schema.Vector:
			m = indexmaintainer.NewVectorMaintainer(table, sub, idx.Root, pkExpr, idx.VectorDim)
		default:
			return nil, fmt.Errorf("recordstore: index %q has unhandled kind %v", idx.Name, idx.Kind)
		}
		out[idx.Name] = m
	}
	return out, nil
}

// IndexSubspace returns the per-index child subspace under the shared
// index tag, keeping every index's keys namespaced by its own name
// before anything index-specific. Every index's entries live in
// kv.Indexes, so this subspace is the only thing callers outside this
// package (the query executor, the online indexer) need to locate an
// index's key range.
func IndexSubspace(indexName string) tuple.Subspace {
	return tuple.NewSubspace(tuple.Tuple{tuple.String("I"), tuple.String(indexName)})
}
