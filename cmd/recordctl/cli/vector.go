// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erigontech/recordlayer/query/executor"
	"github.com/erigontech/recordlayer/record"
)

func newVectorCmd() *cobra.Command {
	var query []float64
	var k int
	var allowFlat bool
	cmd := &cobra.Command{
		Use:   "vector <type> <index>",
		Short: "Run a k-nearest-neighbor query against a Vector index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			vec := make([]float32, len(query))
			for i, f := range query {
				vec[i] = float32(f)
			}
			results, err := a.exec.RunVectorQuery(cmd.Context(), args[0], executor.VectorQuery{
				IndexName:         args[1],
				Query:             vec,
				K:                 k,
				AllowFlatFallback: allowFlat,
			})
			if err != nil {
				return err
			}
			for _, rec := range results {
				out, err := json.Marshal(rec.(record.MapAccessor).Values)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&query, "query", nil, "query vector as comma-separated floats (required)")
	cmd.Flags().IntVar(&k, "k", 10, "number of nearest neighbors to return")
	cmd.Flags().BoolVar(&allowFlat, "allow-flat-fallback", false, "allow a full flat scan when no HNSW graph has been built yet")
	cmd.MarkFlagRequired("query")
	return cmd
}
