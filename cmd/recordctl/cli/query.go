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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erigontech/recordlayer/indexstate"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/query/planner"
	"github.com/erigontech/recordlayer/record"
	"github.com/erigontech/recordlayer/schema"
	"github.com/erigontech/recordlayer/stats"
	"github.com/erigontech/recordlayer/tuple"
)

func newQueryCmd() *cobra.Command {
	var where []string
	var limit int
	var explainOnly bool
	cmd := &cobra.Command{
		Use:   "query <type>",
		Short: "Plan and run a predicate query over one record type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			typeName := args[0]
			pred, err := a.buildPredicate(typeName, where)
			if err != nil {
				return err
			}
			canonical, err := compiler.Compile(pred, 64)
			if err != nil {
				return err
			}

			readable, err := a.readableIndexes(cmd.Context(), typeName)
			if err != nil {
				return err
			}
			totalRows, err := a.countRecords(cmd.Context(), typeName)
			if err != nil {
				return err
			}

			plan, err := planner.New().Plan(typeName, canonical, a.schema, readable, a.statsLookup(cmd.Context()), totalRows, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan: kind=%s cost=%.2f rows=%.1f\n", plan.Kind, plan.Cost, plan.Rows)
			if explainOnly {
				return nil
			}

			cur, err := a.exec.Run(cmd.Context(), typeName, plan)
			if err != nil {
				return err
			}
			defer cur.Close()
			for {
				rec, err := cur.Next(cmd.Context())
				if err != nil {
					return err
				}
				if rec == nil {
					return nil
				}
				out, err := json.Marshal(rec.(record.MapAccessor).Values)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, `a "field op value" predicate, ANDed with every other --where flag (op one of = != < <= > >=)`)
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many results (0 means no limit)")
	cmd.Flags().BoolVar(&explainOnly, "explain", false, "print the chosen plan without running it")
	return cmd
}

// buildPredicate parses every --where flag into a compiler.Field leaf
// and ANDs them together; a single leaf is returned bare so the
// compiler doesn't have to distribute a trivial one-child And.
func (a *app) buildPredicate(typeName string, where []string) (compiler.Predicate, error) {
	fieldTypes := a.fieldTypes(typeName)
	leaves := make([]compiler.Predicate, 0, len(where))
	for _, w := range where {
		leaf, err := parseWhere(w, fieldTypes)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	switch len(leaves) {
	case 0:
		return compiler.And{}, nil
	case 1:
		return leaves[0], nil
	default:
		return compiler.And{Children: leaves}, nil
	}
}

var whereOps = []struct {
	token string
	op    compiler.Op
}{
	{"!=", compiler.Ne},
	{"<=", compiler.Le},
	{">=", compiler.Ge},
	{"=", compiler.Eq},
	{"<", compiler.Lt},
	{">", compiler.Gt},
}

func parseWhere(w string, fieldTypes map[string]string) (compiler.Field, error) {
	for _, c := range whereOps {
		idx := strings.Index(w, c.token)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(w[:idx])
		raw := strings.TrimSpace(w[idx+len(c.token):])
		val, err := coerceWhereValue(raw, fieldTypes[name])
		if err != nil {
			return compiler.Field{}, err
		}
		return compiler.Field{Name: name, Op: c.op, Value: val}, nil
	}
	return compiler.Field{}, fmt.Errorf("recordctl: malformed --where %q", w)
}

func coerceWhereValue(raw, declared string) (tuple.Element, error) {
	switch declared {
	case "int":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return tuple.Element{}, fmt.Errorf("recordctl: %q is not an int: %w", raw, err)
		}
		return tuple.Int(n), nil
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return tuple.Element{}, fmt.Errorf("recordctl: %q is not a float: %w", raw, err)
		}
		return tuple.Float(f), nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return tuple.Element{}, fmt.Errorf("recordctl: %q is not a bool: %w", raw, err)
		}
		return tuple.Bool(b), nil
	default:
		return tuple.String(raw), nil
	}
}

// readableIndexes returns the schema's indexes over typeName whose
// persisted state is Readable, the set the planner is allowed to use.
func (a *app) readableIndexes(ctx context.Context, typeName string) ([]*schema.IndexDef, error) {
	rt, ok := a.schema.RecordType(typeName)
	if !ok {
		return nil, fmt.Errorf("recordctl: unknown record type %q", typeName)
	}
	defs := rt.Indexes()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	states, err := a.states.States(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.IndexDef, 0, len(defs))
	for _, d := range defs {
		if states[d.Name] == indexstate.Readable {
			out = append(out, d)
		}
	}
	return out, nil
}

// statsLookup adapts the stats collector to planner.StatsLookup,
// reading whichever statistics kind (value or interval) the index was
// last collected as.
func (a *app) statsLookup(ctx context.Context) planner.StatsLookup {
	return func(indexName string) (*stats.Statistics, bool) {
		idx, ok := a.schema.Index(indexName)
		if !ok {
			return nil, false
		}
		kind := stats.ValueKind
		if stats.IsIntervalIndex(idx) {
			kind = stats.IntervalKind
		}
		st, ok, err := a.stats.Load(ctx, kind, indexName)
		if err != nil || !ok {
			return nil, false
		}
		return st, true
	}
}

// countRecords counts the records of typeName currently stored, the
// totalRows input the planner's cost model needs. A CLI-sized demo
// store is small enough that an exact scan is cheap; a production
// planner caller would use a maintained Count index or cached
// statistics instead.
func (a *app) countRecords(ctx context.Context, typeName string) (float64, error) {
	sub := a.store.RecordsSubspace()
	lo := sub.Pack(tuple.Tuple{tuple.String(typeName)})
	hi := tuple.Strinc(lo)
	var n float64
	err := a.db.View(ctx, func(tx kv.Tx) error {
		return tx.Range(kv.Records, lo, hi, true, func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
