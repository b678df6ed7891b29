// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package recordlayerconfig holds cmd/recordctl's runtime configuration,
// populated from pflag-bound CLI flags rather than an external config
// file format, following erigon-lib's own small-functional-options
// component-config idiom.
package recordlayerconfig

import (
	"fmt"

	"github.com/spf13/afero"
)

// Config is recordctl's resolved configuration for one invocation.
type Config struct {
	// DataDir holds the mdbx environment; unused when MemDB is set.
	DataDir string
	// MemDB runs against an in-memory kv/memdb store instead of opening
	// an mdbx environment at DataDir — the CLI's equivalent of the test
	// suite's preferred backend, useful for demos and schema dry-runs.
	MemDB bool
	// SchemaFile is the path to the JSON schema-description file
	// declaring record types and indexes.
	SchemaFile string
	// MetricsAddr is the address for Prometheus metrics. New does not set
	// it and nothing reads it; the CLI starts its metrics server from the
	// --metrics-addr flag directly.
	MetricsAddr string

	// FS is the filesystem config loading and data-directory creation go
	// through; defaults to the OS filesystem but swappable in tests.
	FS afero.Fs
}

// Option configures a Config.
type Option func(*Config)

// WithFS overrides the filesystem used for config and data-directory
// access, e.g. afero.NewMemMapFs() in tests.
func WithFS(fs afero.Fs) Option {
	return func(c *Config) { c.FS = fs }
}

// New builds a Config from its required fields plus any Options.
func New(dataDir string, memDB bool, schemaFile string, opts ...Option) (*Config, error) {
	if !memDB && dataDir == "" {
		return nil, fmt.Errorf("recordlayerconfig: data-dir is required unless --memdb is set")
	}
	if schemaFile == "" {
		return nil, fmt.Errorf("recordlayerconfig: schema file is required")
	}
	c := &Config{
		DataDir:    dataDir,
		MemDB:      memDB,
		SchemaFile: schemaFile,
		FS:         afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureDataDir creates DataDir (and any parents) if it does not yet
// exist, through the configured filesystem. A no-op when MemDB is set.
func (c *Config) EnsureDataDir() error {
	if c.MemDB {
		return nil
	}
	return c.FS.MkdirAll(c.DataDir, 0o755)
}
