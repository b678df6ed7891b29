// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package cli implements recordctl's cobra command tree: a thin
// demonstration surface over the record layer's core packages, not a
// server. Every subcommand opens its own store for the duration of the
// command and closes it before returning, matching a one-shot CLI
// invocation rather than a long-lived process. An index build runs
// until the build finishes; the optional --metrics-addr server lives
// only as long as the command does.
package cli

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/erigontech/recordlayer/cmd/recordctl/recordlayerconfig"
	"github.com/erigontech/recordlayer/rllog"
)

var log = rllog.Named("recordctl")

// flagNames centralizes the persistent flag names so every subcommand's
// openAppFromFlags reads them consistently.
const (
	flagDataDir     = "data-dir"
	flagMemDB       = "memdb"
	flagSchema      = "schema"
	flagMetricsAddr = "metrics-addr"
)

// NewRootCommand builds recordctl's root cobra.Command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "recordctl",
		Short: "A thin CLI over the record layer: CRUD, online index builds, and query plans",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return startMetricsServer(cmd)
		},
	}
	root.PersistentFlags().String(flagDataDir, "", "mdbx data directory (unused with --memdb)")
	root.PersistentFlags().Bool(flagMemDB, false, "use an in-memory store instead of mdbx")
	root.PersistentFlags().String(flagSchema, "", "path to the JSON schema-description file (required)")
	root.PersistentFlags().String(flagMetricsAddr, "", "if set, serve Prometheus metrics on this address for the command's lifetime")

	root.AddCommand(newRecordCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newVectorCmd())
	return root
}

// Execute runs recordctl with os.Args, the conventional cobra entrypoint.
func Execute() error {
	return NewRootCommand().Execute()
}

func openAppFromFlags(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()
	dataDir, err := flags.GetString(flagDataDir)
	if err != nil {
		return nil, err
	}
	memDB, err := flags.GetBool(flagMemDB)
	if err != nil {
		return nil, err
	}
	schemaFile, err := flags.GetString(flagSchema)
	if err != nil {
		return nil, err
	}
	cfg, err := recordlayerconfig.New(dataDir, memDB, schemaFile)
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg)
}

// startMetricsServer launches a background HTTP server exposing
// promhttp.Handler() when --metrics-addr is set. It is never awaited:
// recordctl is a one-shot CLI, and a metrics scrape racing the command's
// own (short) lifetime is an accepted limitation of a demonstration
// tool, not a production metrics surface.
func startMetricsServer(cmd *cobra.Command) error {
	addr, err := cmd.Flags().GetString(flagMetricsAddr)
	if err != nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "err", err)
		}
	}()
	return nil
}
