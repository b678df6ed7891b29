// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rlerrors collects the store/query-level members of the error
// taxonomy (spec §6.3) that don't belong to any single component
// package, plus the retryable/fatal classification and retry helper
// described in spec §7. Component-specific errors (unique-violation,
// invalid-state-transition, field-not-found, reconstruction-not-
// implemented) are declared next to the code that raises them —
// indexmaintainer, indexstate, keyexpr, record respectively — rather
// than centralized here, following ordinary Go practice of keeping an
// error type close to its producer.
package rlerrors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RecordNotFoundError corresponds to spec §6.3's record-not-found.
type RecordNotFoundError struct {
	PrimaryKeyRepr string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("rlerrors: record not found for primary key %s", e.PrimaryKeyRepr)
}

// IndexNotReadableError corresponds to spec §6.3's
// index-not-readable(index, currentState): a query was asked to use an
// index that is write-only or disabled.
type IndexNotReadableError struct {
	Index        string
	CurrentState string
}

func (e *IndexNotReadableError) Error() string {
	return fmt.Sprintf("rlerrors: index %q is not readable (current state: %s)", e.Index, e.CurrentState)
}

// HNSWGraphNotBuiltError corresponds to spec §6.3's
// hnsw-graph-not-built(index); its message carries actionable guidance
// per spec §7.
type HNSWGraphNotBuiltError struct {
	Index string
}

func (e *HNSWGraphNotBuiltError) Error() string {
	return fmt.Sprintf("rlerrors: HNSW graph for index %q has not been built yet; run the online indexer's vector-build variant, or pass AllowFlatFallback to query with a flat scan instead", e.Index)
}

// InvalidArgumentError corresponds to spec §6.3's invalid-argument.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("rlerrors: invalid argument: %s", e.Reason)
}

// SerializationError and DeserializationError wrap a codec failure with
// the record type name, corresponding to spec §6.3's
// serialization-failed / deserialization-failed.
type SerializationError struct {
	TypeName string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("rlerrors: serialization failed for type %q: %v", e.TypeName, e.Err)
}
func (e *SerializationError) Unwrap() error { return e.Err }

type DeserializationError struct {
	TypeName string
	Err      error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("rlerrors: deserialization failed for type %q: %v", e.TypeName, e.Err)
}
func (e *DeserializationError) Unwrap() error { return e.Err }

// RetryableError marks a KVS error as a transient one — a conflict,
// timeout, or commit-unknown-result — that a caller may retry, as
// opposed to a fatal/logical error (schema misuse, state-machine
// violation, unique violation, decoding failure) which must not be
// retried blindly. Commit-unknown-result in particular requires the
// caller's operation to be idempotent; saves and deletes by primary key
// are naturally idempotent, unique inserts need a read-your-write check
// (spec §7).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("rlerrors: retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error  { return e.Err }

// Retryable wraps err so IsRetryable reports true for it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err (or something it wraps) is a
// RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RetryConfig bounds the exponential-backoff retry helper.
type RetryConfig struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig is a modest, test-friendly default: a handful of
// attempts over a few seconds.
var DefaultRetryConfig = RetryConfig{
	MaxElapsedTime:  5 * time.Second,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

// Retry runs op repeatedly, using exponential backoff capped by cfg,
// until it succeeds, ctx is cancelled, or op returns a non-retryable
// error (which is returned immediately without further attempts).
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime
	bctx := backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bctx)
}
