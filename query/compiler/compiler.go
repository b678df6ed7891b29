// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package compiler implements the query compiler (C11): normalizing a
// predicate tree into disjunctive normal form with a hard term cap, and
// computing a canonical, hash-stable cache key for the result, per spec
// §4.10.
package compiler

import (
	"fmt"
	"hash/maphash"
	"sort"
	"strings"

	"github.com/erigontech/recordlayer/tuple"
)

// Op is a field-level comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Le
	Gt
	Ge
	StartsWith
	Contains
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	case StartsWith:
		return "startswith"
	case Contains:
		return "contains"
	default:
		return "?"
	}
}

// negate returns the operator obtained by De Morgan negation of a
// comparison; StartsWith/Contains have no negated comparison operator,
// so they are wrapped in a Not node instead (handled by the caller).
func (o Op) negate() (Op, bool) {
	switch o {
	case Eq:
		return Ne, true
	case Ne:
		return Eq, true
	case Lt:
		return Ge, true
	case Le:
		return Gt, true
	case Gt:
		return Le, true
	case Ge:
		return Lt, true
	default:
		return o, false
	}
}

// Predicate is a node in the query predicate tree handed to Compile.
type Predicate interface {
	isPredicate()
}

// Field is a leaf predicate: field(name, op, value).
type Field struct {
	Name  string
	Op    Op
	Value tuple.Element
}

func (Field) isPredicate() {}

// And/Or/Not are the boolean connectives.
type And struct{ Children []Predicate }
type Or struct{ Children []Predicate }
type Not struct{ Child Predicate }

func (And) isPredicate() {}
func (Or) isPredicate()  {}
func (Not) isPredicate() {}

// Canonical is the result of Compile: a disjunction of conjunctions of
// Field leaves (DNF), plus a cache key. Partial is set when the DNF
// term cap was hit before full distribution completed; Terms is then a
// correct but not maximally expanded cover — some conjunctive terms may
// themselves still contain a nested Or, which the planner handles by
// falling back to scan+filter for that term (spec §4.10 step 3).
type Canonical struct {
	Terms    [][]Predicate // each inner slice is one conjunctive term (And over Field/Or leaves)
	Partial  bool
	CacheKey uint64
}

// DefaultTermCap bounds the number of conjunctive terms DNF expansion
// will produce before giving up and keeping the partially normalized
// form, per spec §4.10 step 3.
const DefaultTermCap = 256

var hashSeed = maphash.MakeSeed()

// Compile normalizes pred into canonical form with termCap bounding DNF
// expansion; termCap <= 0 uses DefaultTermCap.
func Compile(pred Predicate, termCap int) (*Canonical, error) {
	if termCap <= 0 {
		termCap = DefaultTermCap
	}
	pushed := pushNotDown(pred, false)
	flat := flatten(pushed)
	terms, partial := toDNF(flat, termCap)
	for i := range terms {
		terms[i] = sortTerm(terms[i])
	}
	sort.Slice(terms, func(i, j int) bool { return termKey(terms[i]) < termKey(terms[j]) })

	c := &Canonical{Terms: terms, Partial: partial}
	c.CacheKey = cacheKey(c)
	return c, nil
}

// pushNotDown applies De Morgan's laws and double-negation elimination,
// tracking whether the current subtree is under an odd number of Nots
// via the negate flag rather than allocating Not nodes that immediately
// cancel.
func pushNotDown(p Predicate, negate bool) Predicate {
	switch n := p.(type) {
	case Not:
		return pushNotDown(n.Child, !negate)
	case And:
		children := make([]Predicate, len(n.Children))
		for i, c := range n.Children {
			children[i] = pushNotDown(c, negate)
		}
		if negate {
			return Or{Children: children}
		}
		return And{Children: children}
	case Or:
		children := make([]Predicate, len(n.Children))
		for i, c := range n.Children {
			children[i] = pushNotDown(c, negate)
		}
		if negate {
			return And{Children: children}
		}
		return Or{Children: children}
	case Field:
		if !negate {
			return n
		}
		if neg, ok := n.Op.negate(); ok {
			return Field{Name: n.Name, Op: neg, Value: n.Value}
		}
		// StartsWith/Contains have no negated comparison form; keep an
		// explicit Not wrapper so the planner can recognize it needs a
		// scan+filter fallback for this leaf.
		return Not{Child: n}
	default:
		return p
	}
}

// flatten merges nested And-of-And and Or-of-Or into single flat nodes.
func flatten(p Predicate) Predicate {
	switch n := p.(type) {
	case And:
		var out []Predicate
		for _, c := range n.Children {
			fc := flatten(c)
			if a, ok := fc.(And); ok {
				out = append(out, a.Children...)
			} else {
				out = append(out, fc)
			}
		}
		return And{Children: out}
	case Or:
		var out []Predicate
		for _, c := range n.Children {
			fc := flatten(c)
			if o, ok := fc.(Or); ok {
				out = append(out, o.Children...)
			} else {
				out = append(out, fc)
			}
		}
		return Or{Children: out}
	default:
		return p
	}
}

// toDNF distributes And over Or, producing a list of conjunctive terms,
// stopping and returning the partially normalized form if expansion
// would exceed termCap.
func toDNF(p Predicate, termCap int) (terms [][]Predicate, partial bool) {
	switch n := p.(type) {
	case Field, Not:
		return [][]Predicate{{p}}, false
	case Or:
		for _, c := range n.Children {
			ct, cpartial := toDNF(c, termCap)
			terms = append(terms, ct...)
			if cpartial || len(terms) > termCap {
				return [][]Predicate{{p}}, true
			}
		}
		return terms, false
	case And:
		if len(n.Children) == 0 {
			return [][]Predicate{{}}, false
		}
		acc, apartial := toDNF(n.Children[0], termCap)
		if apartial {
			return [][]Predicate{{p}}, true
		}
		for _, child := range n.Children[1:] {
			childTerms, cpartial := toDNF(child, termCap)
			if cpartial {
				return [][]Predicate{{p}}, true
			}
			var next [][]Predicate
			for _, a := range acc {
				for _, b := range childTerms {
					if len(next)+1 > termCap {
						return [][]Predicate{{p}}, true
					}
					merged := make([]Predicate, 0, len(a)+len(b))
					merged = append(merged, a...)
					merged = append(merged, b...)
					next = append(next, merged)
				}
			}
			acc = next
		}
		return acc, false
	default:
		return [][]Predicate{{p}}, false
	}
}

func sortTerm(term []Predicate) []Predicate {
	out := append([]Predicate(nil), term...)
	sort.Slice(out, func(i, j int) bool { return leafKey(out[i]) < leafKey(out[j]) })
	return out
}

func termKey(term []Predicate) string {
	parts := make([]string, len(term))
	for i, l := range term {
		parts[i] = leafKey(l)
	}
	return strings.Join(parts, "\x00")
}

// leafKey renders a leaf predicate (Field or Not{Field}) into a
// canonical, deterministic string with no memory addresses, per spec
// §4.10 step 4.
func leafKey(p Predicate) string {
	switch n := p.(type) {
	case Field:
		return fmt.Sprintf("F:%s:%s:%x", n.Name, n.Op, tuple.Pack(tuple.Tuple{n.Value}))
	case Not:
		return "N:" + leafKey(n.Child)
	case And:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = leafKey(c)
		}
		sort.Strings(parts)
		return "A(" + strings.Join(parts, ",") + ")"
	case Or:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = leafKey(c)
		}
		sort.Strings(parts)
		return "O(" + strings.Join(parts, ",") + ")"
	default:
		return "?"
	}
}

// cacheKey hashes the canonical form's deterministic string encoding
// with a process-lifetime maphash seed, per spec §4.10 step 4's
// "hash-stable cache key... no memory addresses".
func cacheKey(c *Canonical) uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	for i, term := range c.Terms {
		if i > 0 {
			h.WriteByte('|')
		}
		h.WriteString(termKey(term))
	}
	return h.Sum64()
}
