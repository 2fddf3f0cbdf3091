// ABOUTME: Pure compiler from declarative queries to ordered stage lists
// ABOUTME: Operator dispatch happens through a fixed builder registry

package query

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/annoserv/annostore/pkg/errs"
)

// BodyPrefix is prepended to every query field path: queries address fields
// inside the stored annotation body, not the envelope.
const BodyPrefix = "annotation."

// opBuilder turns one operator's raw parameter into a condition for path.
type opBuilder func(path string, param json.RawMessage) (Condition, error)

// operatorRegistry maps operator names (with sentinel) to their builders.
// Compilation dispatches here; an absent entry is a validation error.
var operatorRegistry = map[string]opBuilder{
	":in":       buildIn,
	":notIn":    buildNotIn,
	":overlaps": buildOverlaps,
	":exists":   buildExists,
}

// OperatorNames returns the supported operator names, sorted, for error
// messages and documentation.
func OperatorNames() []string {
	names := make([]string, 0, len(operatorRegistry))
	for name := range operatorRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile walks the query's fields in input order and produces the ordered
// stage list. It is pure: no storage access, no clock, no randomness.
// Identical input structure yields identical output across calls.
func Compile(q Query) ([]Stage, error) {
	stages := make([]Stage, 0, len(q.Fields))
	for _, f := range q.Fields {
		if f.Path == "" {
			return nil, errs.Validation("empty field path")
		}
		path := BodyPrefix + f.Path

		if f.Ops == nil {
			stages = append(stages, Match(literalCondition(path, f.Value)))
			continue
		}

		conds := make([]Condition, 0, len(f.Ops))
		for _, op := range f.Ops {
			builder, ok := operatorRegistry[op.Name]
			if !ok {
				return nil, errs.Validation("unknown operator %q for field %q (supported: %s)",
					op.Name, f.Path, strings.Join(OperatorNames(), ", "))
			}
			cond, err := builder(path, op.Param)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		stages = append(stages, Match(conds...))
	}
	return stages, nil
}

// literalCondition maps a plain value to equality, or membership when the
// value is an array.
func literalCondition(path string, value any) Condition {
	if arr, ok := value.([]any); ok {
		return Condition{Path: path, Op: OpIn, Value: arr}
	}
	return Condition{Path: path, Op: OpEq, Value: value}
}

func buildIn(path string, param json.RawMessage) (Condition, error) {
	var values []any
	if err := json.Unmarshal(param, &values); err != nil {
		return Condition{}, errs.Validation("operator :in on %q requires an array", path)
	}
	return Condition{Path: path, Op: OpIn, Value: values}, nil
}

func buildNotIn(path string, param json.RawMessage) (Condition, error) {
	var values []any
	if err := json.Unmarshal(param, &values); err != nil {
		return Condition{}, errs.Validation("operator :notIn on %q requires an array", path)
	}
	return Condition{Path: path, Op: OpNotIn, Value: values}, nil
}

func buildOverlaps(path string, param json.RawMessage) (Condition, error) {
	// Decode into raw fields first so a missing bound can be told apart
	// from an explicit zero.
	var shape struct {
		Source *string  `json:"source"`
		Start  *float64 `json:"start"`
		End    *float64 `json:"end"`
	}
	if err := json.Unmarshal(param, &shape); err != nil {
		return Condition{}, errs.Validation("operator :overlaps on %q requires an object {source, start, end}", path)
	}
	if shape.Source == nil || *shape.Source == "" {
		return Condition{}, errs.Validation("operator :overlaps on %q is missing \"source\"", path)
	}
	if shape.Start == nil || shape.End == nil {
		return Condition{}, errs.Validation("operator :overlaps on %q requires numeric \"start\" and \"end\"", path)
	}
	if *shape.End <= *shape.Start {
		return Condition{}, errs.Validation("operator :overlaps on %q requires start < end", path)
	}
	span := Span{Source: *shape.Source, Start: *shape.Start, End: *shape.End}
	return Condition{Path: path, Op: OpOverlaps, Value: span}, nil
}

func buildExists(path string, param json.RawMessage) (Condition, error) {
	var want bool
	if err := json.Unmarshal(param, &want); err != nil {
		return Condition{}, errs.Validation("operator :exists on %q requires a boolean", path)
	}
	return Condition{Path: path, Op: OpExists, Value: want}, nil
}
