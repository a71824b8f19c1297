package pdp

import (
	"regexp"
	"sync"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/jsonpath"
)

// EvaluateExpr evaluates a condition tree against data, the generic JSON tree
// of an action. A malformed path panics with *jsonpath.PathError.
func EvaluateExpr(expr contracts.Expr, data any) bool {
	switch e := expr.(type) {
	case contracts.AllExpr:
		for _, c := range e.Children {
			if !EvaluateExpr(c, data) {
				return false
			}
		}
		return true
	case contracts.AnyExpr:
		for _, c := range e.Children {
			if EvaluateExpr(c, data) {
				return true
			}
		}
		return false
	case contracts.NotExpr:
		return !EvaluateExpr(e.Child, data)
	case contracts.MatchExpr:
		return evaluateMatch(e, data)
	}
	return false
}

func evaluateMatch(m contracts.MatchExpr, data any) bool {
	actual, defined := jsonpath.Get(data, m.Path)

	switch m.Op {
	case contracts.OpExists:
		return defined && actual != nil
	case contracts.OpEq:
		return matchEq(actual, defined, m.Value)
	case contracts.OpNeq:
		return !matchEq(actual, defined, m.Value)
	case contracts.OpIn:
		list, ok := asList(m.Value)
		return ok && defined && contains(list, actual)
	case contracts.OpNin:
		list, ok := asList(m.Value)
		return ok && !(defined && contains(list, actual))
	case contracts.OpLt, contracts.OpLte, contracts.OpGt, contracts.OpGte:
		a, ok1 := toNumber(actual)
		b, ok2 := toNumber(m.Value)
		if !defined || !ok1 || !ok2 {
			return false
		}
		switch m.Op {
		case contracts.OpLt:
			return a < b
		case contracts.OpLte:
			return a <= b
		case contracts.OpGt:
			return a > b
		default:
			return a >= b
		}
	case contracts.OpRegex:
		s, ok1 := actual.(string)
		pattern, ok2 := m.Value.(string)
		if !defined || !ok1 || !ok2 {
			return false
		}
		re, err := compileRegex(pattern)
		if err != nil {
			// Invalid patterns never match. Policy validation reports them
			// at load time.
			return false
		}
		return re.MatchString(s)
	}
	return false
}

// An undefined value equals nothing, not even null.
func matchEq(actual any, defined bool, want any) bool {
	return defined && valuesEqual(actual, want)
}

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

var regexCache sync.Map // pattern -> regexEntry

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		e := v.(regexEntry)
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	regexCache.Store(pattern, regexEntry{re: re, err: err})
	return re, err
}

// ValidateRegex reports whether pattern compiles under the engine's regex
// dialect (RE2).
func ValidateRegex(pattern string) error {
	_, err := compileRegex(pattern)
	return err
}
