// ABOUTME: Declarative query representation with stable field order
// ABOUTME: JSON decoding preserves input order, which fixes stage order

package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/annoserv/annostore/pkg/errs"
)

// OperatorSentinel is the reserved leading character that marks a key inside
// a value object as an operator name rather than a document field.
const OperatorSentinel = ':'

// Field is one query entry: a field path and either a literal value
// (implicit equality / membership) or an ordered list of operators.
type Field struct {
	Path  string
	Value any        // Literal value; nil when Ops is set
	Ops   []OpEntry  // Operator object entries, in input order
}

// OpEntry is one operator inside an operator object. The parameter is kept
// raw so each operator builder can enforce its own shape.
type OpEntry struct {
	Name  string
	Param json.RawMessage
}

// Query is an ordered mapping from field path to value or operator object.
// Iteration order is the input order and determines compiled stage order.
type Query struct {
	Fields []Field
}

// UnmarshalJSON decodes a JSON object into a Query, preserving key order.
// The default map decoding would lose it, so the token stream is walked
// directly.
func (q *Query) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("query: expected object, got %v", tok)
	}

	q.Fields = q.Fields[:0]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		field := Field{Path: key}
		if isOperatorObject(raw) {
			ops, err := decodeOperatorObject(raw)
			if err != nil {
				return fmt.Errorf("query: field %q: %w", key, err)
			}
			field.Ops = ops
		} else {
			var val any
			if err := json.Unmarshal(raw, &val); err != nil {
				return err
			}
			field.Value = val
		}
		q.Fields = append(q.Fields, field)
	}

	// Consume closing '}'
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON re-emits the query with its original field order.
func (q Query) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range q.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Path)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if f.Ops != nil {
			buf.WriteByte('{')
			for j, op := range f.Ops {
				if j > 0 {
					buf.WriteByte(',')
				}
				name, err := json.Marshal(op.Name)
				if err != nil {
					return nil, err
				}
				buf.Write(name)
				buf.WriteByte(':')
				buf.Write(op.Param)
			}
			buf.WriteByte('}')
		} else {
			val, err := json.Marshal(f.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// isOperatorObject reports whether raw is a JSON object whose first key
// starts with the operator sentinel. Mixed operator/field objects are left
// to the compiler to reject with a proper validation error.
func isOperatorObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if _, err := dec.Token(); err != nil {
		return false
	}
	if !dec.More() {
		return false
	}
	keyTok, err := dec.Token()
	if err != nil {
		return false
	}
	key, ok := keyTok.(string)
	return ok && strings.HasPrefix(key, string(OperatorSentinel))
}

func decodeOperatorObject(raw json.RawMessage) ([]OpEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var ops []OpEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)
		var param json.RawMessage
		if err := dec.Decode(&param); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(key, string(OperatorSentinel)) {
			return nil, fmt.Errorf("operator object mixes plain key %q", key)
		}
		ops = append(ops, OpEntry{Name: key, Param: param})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return ops, nil
}

// Parse decodes a JSON query document. Malformed input is a validation
// error.
func Parse(data []byte) (Query, error) {
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return Query{}, errs.Validation("malformed query: %v", err)
	}
	return q, nil
}
