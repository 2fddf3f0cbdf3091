// ABOUTME: In-process evaluator for compiled stage pipelines
// ABOUTME: Path lookup fans out through arrays the way document stores do

package storage

import (
	"reflect"
	"strings"

	"github.com/annoserv/annostore/pkg/query"
)

// plan is the flattened form of a stage list: ordered match conditions plus
// the combined skip/limit window. The compiler only appends skip/limit after
// matches, so flattening preserves semantics.
type plan struct {
	conds []query.Condition
	skip  int64
	limit int64 // -1 means unlimited
}

func buildPlan(stages []query.Stage) plan {
	p := plan{limit: -1}
	for _, st := range stages {
		switch st.Kind {
		case query.StageMatch:
			p.conds = append(p.conds, st.Conds...)
		case query.StageSkip:
			p.skip += st.N
		case query.StageLimit:
			if p.limit < 0 || st.N < p.limit {
				p.limit = st.N
			}
		}
	}
	return p
}

func (p plan) matches(doc Document) bool {
	for _, cond := range p.conds {
		if !evalCondition(doc, cond) {
			return false
		}
	}
	return true
}

// lookupPath resolves a dotted path against a document. Intermediate arrays
// fan out, so a path can yield several candidate values. The boolean reports
// whether the path resolved at all.
func lookupPath(doc Document, path string) ([]any, bool) {
	segments := strings.Split(path, ".")
	current := []any{map[string]any(doc)}

	for _, seg := range segments {
		var next []any
		for _, val := range current {
			switch v := val.(type) {
			case map[string]any:
				if child, ok := v[seg]; ok {
					next = append(next, child)
				}
			case []any:
				for _, elem := range v {
					if m, ok := elem.(map[string]any); ok {
						if child, ok := m[seg]; ok {
							next = append(next, child)
						}
					}
				}
			}
		}
		if len(next) == 0 {
			return nil, false
		}
		current = next
	}
	return current, true
}

func evalCondition(doc Document, cond query.Condition) bool {
	candidates, found := lookupPath(doc, cond.Path)

	switch cond.Op {
	case query.OpExists:
		want, _ := cond.Value.(bool)
		return found == want

	case query.OpEq:
		if !found {
			return false
		}
		for _, cand := range candidates {
			if valueEquals(cand, cond.Value) {
				return true
			}
		}
		return false

	case query.OpIn:
		if !found {
			return false
		}
		set, _ := cond.Value.([]any)
		for _, cand := range candidates {
			for _, want := range set {
				if valueEquals(cand, want) {
					return true
				}
			}
		}
		return false

	case query.OpNotIn:
		// A missing field satisfies negated membership.
		if !found {
			return true
		}
		set, _ := cond.Value.([]any)
		for _, cand := range candidates {
			for _, want := range set {
				if valueEquals(cand, want) {
					return false
				}
			}
		}
		return true

	case query.OpOverlaps:
		if !found {
			return false
		}
		span, ok := cond.Value.(query.Span)
		if !ok {
			return false
		}
		for _, cand := range candidates {
			if spanOverlaps(cand, span) {
				return true
			}
		}
		return false
	}
	return false
}

// spanOverlaps checks a stored span object {source, start, end} against the
// query interval [span.Start, span.End).
func spanOverlaps(cand any, span query.Span) bool {
	m, ok := cand.(map[string]any)
	if !ok {
		return false
	}
	source, _ := m["source"].(string)
	if source != span.Source {
		return false
	}
	start, ok := asFloat(m["start"])
	if !ok {
		return false
	}
	end, ok := asFloat(m["end"])
	if !ok {
		return false
	}
	return start < span.End && end > span.Start
}

// valueEquals compares a stored value with a query value. Numbers compare
// numerically regardless of concrete type; a stored array equals a scalar
// when any element does.
func valueEquals(stored, want any) bool {
	if arr, ok := stored.([]any); ok {
		if _, wantArr := want.([]any); !wantArr {
			for _, elem := range arr {
				if valueEquals(elem, want) {
					return true
				}
			}
			return false
		}
	}

	sf, sok := asFloat(stored)
	wf, wok := asFloat(want)
	if sok && wok {
		return sf == wf
	}
	if sok != wok {
		return false
	}

	return reflect.DeepEqual(stored, want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
