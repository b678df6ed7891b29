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

	"github.com/erigontech/recordlayer/record"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Read, write, and delete records by primary key",
	}
	cmd.AddCommand(newRecordPutCmd())
	cmd.AddCommand(newRecordGetCmd())
	cmd.AddCommand(newRecordDeleteCmd())
	return cmd
}

func newRecordPutCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "put <type>",
		Short: "Save a record, fanning out to every active index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			typeName := args[0]
			values, err := decodeValues(data)
			if err != nil {
				return err
			}
			coerceValues(values, a.fieldTypes(typeName))
			rec := record.MapAccessor{Type: typeName, Values: values}
			if err := a.store.Save(cmd.Context(), rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", typeName)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON object of field values (required)")
	cmd.MarkFlagRequired("data")
	return cmd
}

func newRecordGetCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "get <type>",
		Short: "Print one record by primary key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			typeName := args[0]
			pk, err := a.primaryKeyTuple(typeName, key)
			if err != nil {
				return err
			}
			rec, err := a.store.Record(cmd.Context(), typeName, pk)
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not found")
				return nil
			}
			out, err := json.Marshal(rec.(record.MapAccessor).Values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "JSON object of primary-key field values (required)")
	cmd.MarkFlagRequired("key")
	return cmd
}

func newRecordDeleteCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "delete <type>",
		Short: "Delete one record by primary key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			typeName := args[0]
			pk, err := a.primaryKeyTuple(typeName, key)
			if err != nil {
				return err
			}
			if err := a.store.Delete(cmd.Context(), typeName, pk); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", typeName)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "JSON object of primary-key field values (required)")
	cmd.MarkFlagRequired("key")
	return cmd
}

func decodeValues(data string) (map[string]any, error) {
	var values map[string]any
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("recordctl: parsing --data: %w", err)
	}
	return values, nil
}
