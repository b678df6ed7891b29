// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package indexstate implements the index-state manager (C5): an
// actor-like single writer over the persisted state-machine byte for
// each index (disabled → write-only → readable, or any → disabled),
// fronted by a small TTL cache per spec §4.4.
package indexstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/tuple"
)

// State is an index's lifecycle label.
type State byte

const (
	Disabled State = iota
	WriteOnly
	Readable
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case WriteOnly:
		return "write-only"
	case Readable:
		return "readable"
	default:
		return fmt.Sprintf("invalid-state(%d)", s)
	}
}

// InvalidStateTransitionError corresponds to spec §6.3's
// invalid-state-transition(from, to, index).
type InvalidStateTransitionError struct {
	Index    string
	From, To State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("indexstate: invalid transition for index %q: %s -> %s", e.Index, e.From, e.To)
}

// defaultTTL is the cache entry lifetime: a few seconds, per spec §4.4.
const defaultTTL = 5 * time.Second

// Manager is the single writer of index-state entries, guarding its
// in-process cache behind a mutex so concurrent callers observe a
// consistent view (spec §5's "actor-style isolation" requirement). One
// Manager instance should be shared by every component of a given
// record store.
type Manager struct {
	db       kv.RwDB
	table    string
	subspace tuple.Subspace
	cache    *expirable.LRU[string, State]
	mu       sync.Mutex
}

// NewManager constructs a Manager persisting state under subspace in
// table, with cache entries expiring after ttl (defaultTTL if ttl <= 0).
func NewManager(db kv.RwDB, table string, subspace tuple.Subspace, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		db:       db,
		table:    table,
		subspace: subspace,
		cache:    expirable.NewLRU[string, State](4096, nil, ttl),
	}
}

func (m *Manager) key(indexName string) []byte {
	return m.subspace.Pack(tuple.Tuple{tuple.String(indexName)})
}

// State returns indexName's current state, using the cache when warm.
func (m *Manager) State(ctx context.Context, indexName string) (State, error) {
	if st, ok := m.cache.Get(indexName); ok {
		return st, nil
	}
	var st State
	err := m.db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.Get(m.table, m.key(indexName), true)
		if err == kv.ErrKeyNotFound {
			st = Disabled
			return nil
		}
		if err != nil {
			return err
		}
		st = State(v[0])
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.cache.Add(indexName, st)
	return st, nil
}

// States reads every named index's state in one transaction, per
// spec §4.4's batch-query requirement.
func (m *Manager) States(ctx context.Context, names []string) (map[string]State, error) {
	out := make(map[string]State, len(names))
	err := m.db.View(ctx, func(tx kv.Tx) error {
		for _, name := range names {
			v, err := tx.Get(m.table, m.key(name), true)
			if err == kv.ErrKeyNotFound {
				out[name] = Disabled
				continue
			}
			if err != nil {
				return err
			}
			out[name] = State(v[0])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for name, st := range out {
		m.cache.Add(name, st)
	}
	return out, nil
}

// Enable transitions an index from disabled to write-only.
func (m *Manager) Enable(ctx context.Context, indexName string) error {
	return m.transition(ctx, indexName, Disabled, WriteOnly)
}

// MarkReadable transitions an index from write-only to readable.
func (m *Manager) MarkReadable(ctx context.Context, indexName string) error {
	return m.transition(ctx, indexName, WriteOnly, Readable)
}

// Disable transitions an index from any state to disabled.
func (m *Manager) Disable(ctx context.Context, indexName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.stateLocked(ctx, indexName)
	if err != nil {
		return err
	}
	return m.writeLocked(ctx, indexName, cur, Disabled)
}

func (m *Manager) transition(ctx context.Context, indexName string, from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.stateLocked(ctx, indexName)
	if err != nil {
		return err
	}
	if cur != from {
		return &InvalidStateTransitionError{Index: indexName, From: cur, To: to}
	}
	return m.writeLocked(ctx, indexName, cur, to)
}

// stateLocked reads the current state without taking the cache-bypassing
// fast path's own locking (the caller already holds m.mu).
func (m *Manager) stateLocked(ctx context.Context, indexName string) (State, error) {
	if st, ok := m.cache.Get(indexName); ok {
		return st, nil
	}
	var st State
	err := m.db.View(ctx, func(tx kv.Tx) error {
		v, err := tx.Get(m.table, m.key(indexName), true)
		if err == kv.ErrKeyNotFound {
			st = Disabled
			return nil
		}
		if err != nil {
			return err
		}
		st = State(v[0])
		return nil
	})
	return st, err
}

func (m *Manager) writeLocked(ctx context.Context, indexName string, from, to State) error {
	err := m.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Set(m.table, m.key(indexName), []byte{byte(to)})
	})
	if err != nil {
		return fmt.Errorf("indexstate: writing %q (%s -> %s): %w", indexName, from, to, err)
	}
	// Explicit invalidation on every write the manager performs, per
	// spec §4.4, rather than relying on TTL expiry alone.
	m.cache.Add(indexName, to)
	return nil
}
