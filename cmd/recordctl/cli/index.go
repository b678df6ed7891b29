// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/erigontech/recordlayer/indexmaintainer"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/onlineindex"
	"github.com/erigontech/recordlayer/rangeset"
	"github.com/erigontech/recordlayer/recordstore"
	"github.com/erigontech/recordlayer/schema"
)

const defaultHNSWM = 16

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and drive an index's lifecycle",
	}
	cmd.AddCommand(newIndexStateCmd())
	cmd.AddCommand(newIndexEnableCmd())
	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexResumeCmd())
	return cmd
}

func newIndexStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <index>",
		Short: "Print an index's persisted lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.states.State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			return nil
		},
	}
}

func newIndexEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <index>",
		Short: "Transition an index from disabled to write-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.states.Enable(cmd.Context(), args[0])
		},
	}
}

func newIndexBuildCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "build <index>",
		Short: "Run an online index build to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexBuild(cmd, args[0], clear, false)
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear any existing index entries and range-set progress before building")
	return cmd
}

func newIndexResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <index>",
		Short: "Resume a previously interrupted online index build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexBuild(cmd, args[0], false, true)
		},
	}
	return cmd
}

func runIndexBuild(cmd *cobra.Command, indexName string, clear, resume bool) error {
	a, err := openAppFromFlags(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	idx, ok := a.schema.Index(indexName)
	if !ok {
		return fmt.Errorf("recordctl: unknown index %q", indexName)
	}

	policy := onlineindex.Policy{
		ClearExisting:          clear,
		EnableWriteOnly:        !resume,
		MarkReadableOnComplete: true,
		AllowResume:            resume,
	}

	if idx.Kind == schema.Vector {
		return a.buildVectorIndex(cmd.Context(), cmd.OutOrStdout(), idx, policy)
	}
	return a.buildValueIndex(cmd.Context(), cmd.OutOrStdout(), idx, policy, resume)
}

// buildValueIndex drives a non-vector index's online build (or resume)
// to completion and reports its final progress to out.
func (a *app) buildValueIndex(ctx context.Context, out io.Writer, idx *schema.IndexDef, policy onlineindex.Policy, resume bool) error {
	maintain, ok := a.maintain[idx.Name]
	if !ok {
		return fmt.Errorf("recordctl: no maintainer registered for index %q", idx.Name)
	}
	ranges := rangeset.New(kv.IndexRange, rangeSubspace(idx.Name))
	ix := onlineindex.New(
		a.db, a.states, ranges, a.codec, maintain,
		idx.Name, idx.RecordType,
		kv.Records, a.store.RecordsSubspace(),
		kv.Indexes, recordstore.IndexSubspace(idx.Name),
		policy,
	)
	var err error
	if resume {
		err = ix.Resume(ctx)
	} else {
		err = ix.Build(ctx)
	}
	if err != nil {
		return err
	}
	prog := ix.Progress()
	fmt.Fprintf(out, "indexed %d/%d records (%.1f%%)\n", prog.Indexed, prog.Scanned, prog.Fraction*100)
	return nil
}

// buildVectorIndex drives a Vector index's HNSW graph build to
// completion and reports it to out.
func (a *app) buildVectorIndex(ctx context.Context, out io.Writer, idx *schema.IndexDef, policy onlineindex.Policy) error {
	maintain, ok := a.maintain[idx.Name].(*indexmaintainer.VectorMaintainer)
	if !ok {
		return fmt.Errorf("recordctl: index %q is not a vector index maintainer", idx.Name)
	}
	vb := onlineindex.NewVectorBuilder(a.db, a.states, idx.Name, maintain, defaultHNSWM, policy)
	if err := vb.Build(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "built HNSW graph for %s\n", idx.Name)
	return nil
}
