// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package rlerrors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("conflict")
	assert.False(t, IsRetryable(base))
	assert.True(t, IsRetryable(Retryable(base)))
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond}
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnFatalError(t *testing.T) {
	attempts := 0
	fatal := errors.New("fatal")
	cfg := RetryConfig{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond}
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, fatal)
}
