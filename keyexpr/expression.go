// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package keyexpr

import (
	"fmt"

	"github.com/erigontech/recordlayer/tuple"
)

// Expression is a node in a key-expression tree. Evaluate visits it
// against an accessor and returns the list of output tuples: more than
// one element means the expression fanned out across an array field
// somewhere in its subtree.
type Expression interface {
	// Evaluate computes this expression's output tuple(s) against rec.
	Evaluate(rec Accessor) ([]tuple.Tuple, error)

	// Fields returns, best-effort, the ordered flattened field paths
	// this expression reads, dotted for nested access (e.g. "addr.zip").
	// Used by the query planner (C12) to test whether an index's root
	// expression is a prefix match for a conjunction of predicate
	// leaves. A range-boundary node contributes its field name; a literal
	// node contributes nothing.
	Fields() []string
}

// Boundary selects which side of a range-valued field a RangeBoundary
// expression extracts.
type Boundary int

const (
	Lo Boundary = iota
	Hi
)

// FieldExpr extracts a single named field (scalar or array-fan-out).
type FieldExpr struct {
	Name string
}

func Field(name string) FieldExpr { return FieldExpr{Name: name} }

func (f FieldExpr) Fields() []string { return []string{f.Name} }

func (f FieldExpr) Evaluate(rec Accessor) ([]tuple.Tuple, error) {
	fv, ok := rec.Field(f.Name)
	if !ok {
		return nil, &FieldNotFoundError{Field: f.Name}
	}
	switch fv.Kind {
	case FieldScalar:
		return []tuple.Tuple{{fv.Scalar}}, nil
	case FieldRepeatedScalar:
		out := make([]tuple.Tuple, len(fv.Repeated))
		for i, e := range fv.Repeated {
			out[i] = tuple.Tuple{e}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("keyexpr: field %q is not scalar-evaluable (use Nest or RangeBoundary)", f.Name)
	}
}

// RangeBoundaryExpr extracts one boundary of a range-valued field, for
// interval indexes over e.g. an availability window.
type RangeBoundaryExpr struct {
	Name     string
	Boundary Boundary
}

func RangeBoundary(name string, b Boundary) RangeBoundaryExpr {
	return RangeBoundaryExpr{Name: name, Boundary: b}
}

func (r RangeBoundaryExpr) Fields() []string { return []string{r.Name} }

func (r RangeBoundaryExpr) Evaluate(rec Accessor) ([]tuple.Tuple, error) {
	fv, ok := rec.Field(r.Name)
	if !ok {
		return nil, &FieldNotFoundError{Field: r.Name}
	}
	if fv.Kind != FieldRange {
		return nil, fmt.Errorf("keyexpr: field %q is not range-valued", r.Name)
	}
	if r.Boundary == Lo {
		return []tuple.Tuple{{fv.RangeLo}}, nil
	}
	return []tuple.Tuple{{fv.RangeHi}}, nil
}

// LiteralExpr always evaluates to the same fixed element, regardless of
// the record; used to pin a constant column in a composite index.
type LiteralExpr struct {
	Value tuple.Element
}

func Literal(v tuple.Element) LiteralExpr { return LiteralExpr{Value: v} }

func (l LiteralExpr) Fields() []string { return nil }

func (l LiteralExpr) Evaluate(Accessor) ([]tuple.Tuple, error) {
	return []tuple.Tuple{{l.Value}}, nil
}

// ConcatExpr evaluates each child in order and flattens their output
// tuples together into one tuple per combination; when more than one
// child fans out, the result is the cross product of their outputs
// (rare in practice — compound indexes normally fan out on at most one
// component).
type ConcatExpr struct {
	Children []Expression
}

func Concat(children ...Expression) ConcatExpr { return ConcatExpr{Children: children} }

func (c ConcatExpr) Fields() []string {
	var out []string
	for _, ch := range c.Children {
		out = append(out, ch.Fields()...)
	}
	return out
}

func (c ConcatExpr) Evaluate(rec Accessor) ([]tuple.Tuple, error) {
	combos := []tuple.Tuple{{}}
	for _, child := range c.Children {
		childOut, err := child.Evaluate(rec)
		if err != nil {
			return nil, err
		}
		next := make([]tuple.Tuple, 0, len(combos)*len(childOut))
		for _, prefix := range combos {
			for _, suffix := range childOut {
				combined := make(tuple.Tuple, 0, len(prefix)+len(suffix))
				combined = append(combined, prefix...)
				combined = append(combined, suffix...)
				next = append(next, combined)
			}
		}
		combos = next
	}
	return combos, nil
}

// NestExpr rewrites access through a nested sub-record: Parent names a
// FieldNested or FieldRepeatedNested field, and Child is evaluated
// against the (each, if repeated) nested accessor. Nesting composes:
// Child may itself be a NestExpr, realizing "parent.child.grandchild"
// access, and a concat child fans out the same way a top-level concat
// would.
type NestExpr struct {
	Parent string
	Child  Expression
}

func Nest(parent string, child Expression) NestExpr {
	return NestExpr{Parent: parent, Child: child}
}

func (n NestExpr) Fields() []string {
	out := make([]string, 0, 4)
	for _, f := range n.Child.Fields() {
		out = append(out, n.Parent+"."+f)
	}
	return out
}

func (n NestExpr) Evaluate(rec Accessor) ([]tuple.Tuple, error) {
	fv, ok := rec.Field(n.Parent)
	if !ok {
		return nil, &FieldNotFoundError{Field: n.Parent}
	}
	switch fv.Kind {
	case FieldNested:
		return n.Child.Evaluate(fv.Nested)
	case FieldRepeatedNested:
		var out []tuple.Tuple
		for _, nested := range fv.RepeatedNested {
			childOut, err := n.Child.Evaluate(nested)
			if err != nil {
				return nil, err
			}
			out = append(out, childOut...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("keyexpr: field %q is not nested-evaluable", n.Parent)
	}
}

// FieldNotFoundError corresponds to the record-access `field-not-found`
// condition in the error taxonomy (spec §6.3).
type FieldNotFoundError struct {
	Field string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("keyexpr: field not found: %q", e.Field)
}
