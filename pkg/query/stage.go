// ABOUTME: Compiled execution stage types produced by the compiler
// ABOUTME: Stages are plain data consumed by the storage aggregation layer

package query

// StageKind discriminates the pipeline stage variants.
type StageKind string

const (
	StageMatch StageKind = "match"
	StageSkip  StageKind = "skip"
	StageLimit StageKind = "limit"
)

// Op is a match predicate operator.
type Op string

const (
	OpEq       Op = "eq"       // Scalar equality
	OpIn       Op = "in"       // Membership in a value set
	OpNotIn    Op = "notIn"    // Negated membership
	OpOverlaps Op = "overlaps" // Interval overlap against stored spans
	OpExists   Op = "exists"   // Field presence
)

// Span is the parameter shape of the overlap operator: the query interval
// [Start, End) must intersect a stored span carrying the same Source.
type Span struct {
	Source string  `json:"source"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
}

// Condition is one predicate over a document path.
type Condition struct {
	Path  string // Full stored path, e.g. "annotation.body.type"
	Op    Op
	Value any // OpEq: scalar; OpIn/OpNotIn: []any; OpOverlaps: Span; OpExists: bool
}

// Stage is one unit of a compiled pipeline. Exactly one of the variant
// payloads is meaningful, selected by Kind.
type Stage struct {
	Kind  StageKind
	Conds []Condition // StageMatch
	N     int64       // StageSkip, StageLimit
}

// Match builds a match stage over the given conditions.
func Match(conds ...Condition) Stage {
	return Stage{Kind: StageMatch, Conds: conds}
}

// Skip builds a skip stage.
func Skip(n int64) Stage {
	return Stage{Kind: StageSkip, N: n}
}

// Limit builds a limit stage.
func Limit(n int64) Stage {
	return Stage{Kind: StageLimit, N: n}
}
