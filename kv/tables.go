// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package kv

// Schema version of the on-disk layout described in §6.2. Bump the minor
// component for additive changes (new tables), the major component for any
// change to the meaning of an existing tag byte.
var SchemaVersion = struct{ Major, Minor, Patch int }{Major: 1, Minor: 0, Patch: 0}

// Logical table names. The record layer never writes raw bytes outside of
// these tables; each corresponds to one of the fixed tag bytes from §6.2
// (Records, Indexes, IndexState, IndexRange, Stats).
const (
	// Records holds primary-key -> serialized record bytes.
	// key = pack(primary-key tuple); value = record.Serialize(record)
	Records = "Records"

	// Indexes holds all index entries, across every index, multiplexed by
	// an (indexName) tuple prefix chosen by the index maintainer.
	// key = pack((indexName,) ++ indexSpecificTuple); value = index-specific
	Indexes = "Indexes"

	// IndexState holds one byte per index name: the persisted indexstate
	// lifecycle label (§4.4).
	// key = pack((indexName,)); value = single state byte
	IndexState = "IndexState"

	// IndexRange holds range-set entries for indexes under construction
	// (§4.7), keyed by the lower bound of a completed interval.
	// key = pack((indexName,) ++ lowerBoundTuple); value = upperBoundTuple
	IndexRange = "IndexRange"

	// Stats holds JSON-encoded statistics snapshots (§4.9), keyed by
	// (kind, indexName).
	// key = pack((kind, indexName)); value = json(stats record)
	Stats = "Stats"

	// Sequence is registered for per-table monotonic counters; no package
	// in the module reads or writes it. HNSW node ordinals come from a
	// counter key under the vector index's own subspace in the index table.
	Sequence = "Sequence"
)

// RecordLayerTables lists every table the record layer registers. Used to
// build the TableCfg handed to RwDB.AllBuckets() / passed to Open, and by
// kv/memdb and kv/mdbx to pre-create the backing table set.
var RecordLayerTables = []string{
	Records,
	Indexes,
	IndexState,
	IndexRange,
	Stats,
	Sequence,
}

// TableFlags mirrors the handful of structural properties a backend needs
// to know about a table ahead of opening it. The record layer itself never
// relies on backend-specific duplicate-key semantics (DupSort); it always
// stores one value per key and encodes multiplicity into the key tuple
// instead, so every record-layer table uses Default.
type TableFlags uint

const (
	Default TableFlags = 0x00
	// DupSort marks a table whose backend may store multiple values per
	// key in sorted order. Unused by the record layer's own tables today;
	// retained so a future table (or an embedder's own) can opt in without
	// changing the TableCfg shape.
	DupSort TableFlags = 0x04
)

// TableCfgItem configures one table's backend-level behavior.
type TableCfgItem struct {
	Flags        TableFlags
	IsDeprecated bool
}

// TableCfg is the full table configuration passed to a backend's Open.
type TableCfg map[string]TableCfgItem

// DefaultTablesCfg is the TableCfg for RecordLayerTables. Every table uses
// Default flags: the record layer owns its key encoding end to end and
// never needs backend-level duplicate-key support.
var DefaultTablesCfg = TableCfg{
	Records:    {Flags: Default},
	Indexes:    {Flags: Default},
	IndexState: {Flags: Default},
	IndexRange: {Flags: Default},
	Stats:      {Flags: Default},
	Sequence:   {Flags: Default},
}

func init() {
	for _, name := range RecordLayerTables {
		if _, ok := DefaultTablesCfg[name]; !ok {
			DefaultTablesCfg[name] = TableCfgItem{}
		}
	}
}
