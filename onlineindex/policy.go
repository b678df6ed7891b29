// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package onlineindex

import "time"

// Throttle bounds the size and pace of each build transaction, per
// spec §4.8.
type Throttle struct {
	MaxRecordsPerTxn  int
	DelayBetweenTxn   time.Duration
	MaxTxnBytes       int
	AdaptiveBatch     bool
	MinRecordsPerTxn  int // adaptive floor; defaults to MaxRecordsPerTxn/4 if zero
	MaxRecordsPerTxnCap int // adaptive ceiling; defaults to MaxRecordsPerTxn*4 if zero
}

func (t Throttle) withDefaults() Throttle {
	if t.MaxRecordsPerTxn <= 0 {
		t.MaxRecordsPerTxn = 1000
	}
	if t.MaxTxnBytes <= 0 {
		t.MaxTxnBytes = 4 << 20
	}
	if t.MinRecordsPerTxn <= 0 {
		t.MinRecordsPerTxn = t.MaxRecordsPerTxn / 4
		if t.MinRecordsPerTxn == 0 {
			t.MinRecordsPerTxn = 1
		}
	}
	if t.MaxRecordsPerTxnCap <= 0 {
		t.MaxRecordsPerTxnCap = t.MaxRecordsPerTxn * 4
	}
	return t
}

// Policy configures one online index build, per spec §4.8.
type Policy struct {
	ClearExisting          bool
	EnableWriteOnly        bool
	MarkReadableOnComplete bool
	AllowResume            bool
	Throttle               Throttle
}

// Progress reports an index build's status at a point in time, per
// spec §4.8's progress() operation.
type Progress struct {
	Scanned  int64
	Indexed  int64
	Fraction float64
	Elapsed  time.Duration
	Rate     float64 // records indexed per second of elapsed wall time
}
