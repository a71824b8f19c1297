package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Op is a comparison operator of a Match leaf.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpIn     Op = "in"
	OpNin    Op = "nin"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpRegex  Op = "regex"
	OpExists Op = "exists"
)

// Ops lists every supported operator.
var Ops = []Op{OpEq, OpNeq, OpIn, OpNin, OpLt, OpLte, OpGt, OpGte, OpRegex, OpExists}

// Expr is a boolean condition tree. Exactly four shapes exist and the
// interface is sealed: AllExpr, AnyExpr, NotExpr and MatchExpr.
type Expr interface {
	isExpr()
}

// AllExpr is true iff every child is true. An empty list is true.
type AllExpr struct {
	Children []Expr
}

// AnyExpr is true iff at least one child is true. An empty list is false.
type AnyExpr struct {
	Children []Expr
}

// NotExpr negates its child.
type NotExpr struct {
	Child Expr
}

// MatchExpr compares the value at Path against Value using Op.
type MatchExpr struct {
	Path  string `json:"path"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

func (AllExpr) isExpr()   {}
func (AnyExpr) isExpr()   {}
func (NotExpr) isExpr()   {}
func (MatchExpr) isExpr() {}

func All(children ...Expr) Expr { return AllExpr{Children: children} }
func Any(children ...Expr) Expr { return AnyExpr{Children: children} }
func Not(child Expr) Expr       { return NotExpr{Child: child} }

func Match(path string, op Op, value any) Expr {
	return MatchExpr{Path: path, Op: op, Value: value}
}

func (e AllExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]Expr{"all": nonNil(e.Children)})
}

func (e AnyExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]Expr{"any": nonNil(e.Children)})
}

func (e NotExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Expr{"not": e.Child})
}

func (e MatchExpr) MarshalJSON() ([]byte, error) {
	type leaf MatchExpr
	return json.Marshal(map[string]leaf{"match": leaf(e)})
}

func nonNil(c []Expr) []Expr {
	if c == nil {
		return []Expr{}
	}
	return c
}

// ParseExpr decodes the JSON form of an expression: an object with exactly
// one of the keys "all", "any", "not" or "match".
func ParseExpr(data []byte) (Expr, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("expr: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("expr: expected exactly one of all, any, not, match; got %d keys", len(obj))
	}

	for key, raw := range obj {
		switch key {
		case "all", "any":
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("expr: %s: %w", key, err)
			}
			children := make([]Expr, 0, len(items))
			for i, item := range items {
				child, err := ParseExpr(item)
				if err != nil {
					return nil, fmt.Errorf("expr: %s[%d]: %w", key, i, err)
				}
				children = append(children, child)
			}
			if key == "all" {
				return AllExpr{Children: children}, nil
			}
			return AnyExpr{Children: children}, nil
		case "not":
			child, err := ParseExpr(raw)
			if err != nil {
				return nil, fmt.Errorf("expr: not: %w", err)
			}
			return NotExpr{Child: child}, nil
		case "match":
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			var m MatchExpr
			if err := dec.Decode(&m); err != nil {
				return nil, fmt.Errorf("expr: match: %w", err)
			}
			if m.Path == "" {
				return nil, fmt.Errorf("expr: match: path is required")
			}
			if !validOp(m.Op) {
				return nil, fmt.Errorf("expr: match: unknown op %q", m.Op)
			}
			return m, nil
		default:
			return nil, fmt.Errorf("expr: unknown key %q", key)
		}
	}
	panic("unreachable")
}

func validOp(op Op) bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}
