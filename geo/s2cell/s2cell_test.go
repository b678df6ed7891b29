// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package s2cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellIDDeterministic(t *testing.T) {
	a, err := CellID(37.7749, -122.4194, 16)
	require.NoError(t, err)
	b, err := CellID(37.7749, -122.4194, 16)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCellIDNearbyPointsFitLevelWidth(t *testing.T) {
	a, err := CellID(37.7749, -122.4194, 20)
	require.NoError(t, err)
	b, err := CellID(37.7750, -122.4195, 20)
	require.NoError(t, err)
	// Not asserting exact closeness (quadtree boundary effects exist),
	// only that both compute without error and fit in the expected bit
	// width for the level.
	assert.Less(t, a, uint64(1)<<uint(2*20))
	assert.Less(t, b, uint64(1)<<uint(2*20))
}

func TestCellIDRejectsOutOfRange(t *testing.T) {
	_, err := CellID(200, 0, 10)
	assert.Error(t, err)
	_, err = CellID(0, 0, MaxLevel+1)
	assert.Error(t, err)
}

func TestMaxLevelForAltitudeBits(t *testing.T) {
	level := MaxLevelForAltitudeBits(18)
	assert.LessOrEqual(t, 2*level, 64-18)
}

func TestPack3D(t *testing.T) {
	level := MaxLevelForAltitudeBits(18)
	cell, err := CellID(10, 20, level)
	require.NoError(t, err)
	packed := Pack3D(cell, level, 500, 0, 9000, 18)
	assert.Equal(t, cell, packed&((uint64(1)<<uint(2*level))-1))
}

// TestPack3DOrdersAcrossAltitudeMidpoint exercises an altitude in the
// upper half of [altMin, altMax], which sets bit 63 of the packed
// uint64 at AltitudeBits=18 (2*MaxLevelForAltitudeBits(18) + 18 = 64).
// Pack3D's own arithmetic must stay a plain unsigned packing — ordering
// by altitude for a fixed cell, and preserving cell order for a fixed
// altitude band, regardless of where bit 63 falls. (A caller that
// re-interprets the result as a signed int64 would break this, which is
// exactly the bug this test guards against at the source.)
func TestPack3DOrdersAcrossAltitudeMidpoint(t *testing.T) {
	level := MaxLevelForAltitudeBits(AltitudeBits)
	cell, err := CellID(10, 20, level)
	require.NoError(t, err)

	low := Pack3D(cell, level, 500, 0, 9000, AltitudeBits)   // lower half
	high := Pack3D(cell, level, 8000, 0, 9000, AltitudeBits) // upper half, sets bit 63

	assert.Greater(t, high, low, "packed value must increase with altitude even once bit 63 is set")
	assert.Equal(t, uint64(1)<<63, high&(uint64(1)<<63), "sanity: upper-half altitude does set bit 63 at this bit budget")
	assert.Equal(t, uint64(0), low&(uint64(1)<<63), "sanity: lower-half altitude leaves bit 63 clear")

	cellLo, err := CellID(-80, -170, level)
	require.NoError(t, err)
	cellHi, err := CellID(80, 170, level)
	require.NoError(t, err)
	packedCellLo := Pack3D(cellLo, level, 8000, 0, 9000, AltitudeBits)
	packedCellHi := Pack3D(cellHi, level, 8000, 0, 9000, AltitudeBits)
	assert.Less(t, packedCellLo, packedCellHi, "cell-id ordering must still hold within the same (upper) altitude band")
}
