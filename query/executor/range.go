// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package executor

import (
	"fmt"

	"github.com/erigontech/recordlayer/query/compiler"
	"github.com/erigontech/recordlayer/tuple"
)

// indexRange computes the [lo, hi) scan bounds under sub for prefix —
// the planner's already-ordered list of the leaves an index absorbs
// (planner.Plan.Prefix). Every leading leaf must be an equality leaf;
// at most the trailing leaf may instead be a comparison, matching
// matchIndex's own prefix-then-one-range-leaf rule, so this never needs
// to re-derive which leaves matched which index column.
func indexRange(sub tuple.Subspace, prefix []compiler.Predicate) (lo, hi []byte, err error) {
	eq := tuple.Tuple{}
	for i, p := range prefix {
		f, ok := p.(compiler.Field)
		if !ok {
			return nil, nil, fmt.Errorf("executor: index prefix leaf %d is not a field predicate", i)
		}
		last := i == len(prefix)-1
		switch f.Op {
		case compiler.Eq:
			eq = append(eq, f.Value)
		case compiler.Lt, compiler.Le, compiler.Gt, compiler.Ge:
			if !last {
				return nil, nil, fmt.Errorf("executor: comparison leaf %q is not the trailing prefix leaf", f.Name)
			}
			return comparisonRange(sub, eq, f)
		default:
			return nil, nil, fmt.Errorf("executor: operator %s cannot be used as an index prefix leaf", f.Op)
		}
	}
	base := sub.Pack(eq)
	return base, tuple.Strinc(base), nil
}

// comparisonRange narrows [lo, hi) to the trailing comparison leaf's
// side, given the already-packed equality prefix eq.
func comparisonRange(sub tuple.Subspace, eq tuple.Tuple, f compiler.Field) (lo, hi []byte, err error) {
	base := sub.Pack(eq)
	withValue := sub.Pack(append(append(tuple.Tuple{}, eq...), f.Value))
	switch f.Op {
	case compiler.Lt:
		return base, withValue, nil
	case compiler.Le:
		return base, tuple.Strinc(withValue), nil
	case compiler.Gt:
		return tuple.Strinc(withValue), tuple.Strinc(base), nil
	case compiler.Ge:
		return withValue, tuple.Strinc(base), nil
	default:
		return nil, nil, fmt.Errorf("executor: %s is not a comparison operator", f.Op)
	}
}
