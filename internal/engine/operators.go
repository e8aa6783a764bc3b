package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/velum-io/appconfig-go/internal/models"
)

// operatorFunc checks one entity attribute against one operand value. The
// table holds positive operators only; negated operators resolve to their
// positive counterpart through Operator.Positive and are inverted at the
// condition level, so "isNot" means no operand is-matches.
type operatorFunc func(attribute, operand any) bool

var operatorFuncs = map[models.Operator]operatorFunc{
	models.OpIs:         checkIs,
	models.OpContains:   checkContains,
	models.OpStartsWith: checkStartsWith,
	models.OpEndsWith:   checkEndsWith,
	models.OpIn:         checkIn,
	models.OpGreaterThan: orderingFunc(
		func(a, b float64) bool { return a > b },
		func(a, b string) bool { return a > b },
	),
	models.OpGreaterThanEquals: orderingFunc(
		func(a, b float64) bool { return a >= b },
		func(a, b string) bool { return a >= b },
	),
	models.OpLesserThan: orderingFunc(
		func(a, b float64) bool { return a < b },
		func(a, b string) bool { return a < b },
	),
	models.OpLesserThanEquals: orderingFunc(
		func(a, b float64) bool { return a <= b },
		func(a, b string) bool { return a <= b },
	),
}

// matchesCondition reports whether the entity satisfies one condition. A
// missing attribute never matches, negated operators included. Positive
// operators match when any operand value matches; negated operators match
// only when no operand value matches the positive counterpart.
func matchesCondition(e models.Entity, c models.Condition) bool {
	attribute, ok := e.Attributes[c.AttributeName]
	if !ok {
		return false
	}
	positive, negated := c.Operator.Positive()
	check, ok := operatorFuncs[positive]
	if !ok {
		return false
	}

	matched := false
	for _, operand := range c.Values {
		if check(attribute, operand) {
			matched = true
			break
		}
	}
	if negated {
		return !matched
	}
	return matched
}

// checkIs is equality with type coercion. Booleans compare against booleans
// or parseable bool strings; two strings compare exactly; mixed string and
// number compare numerically when the string parses as a number.
func checkIs(attribute, operand any) bool {
	if a, ok := attribute.(bool); ok {
		b, ok := toBool(operand)
		return ok && a == b
	}
	if b, ok := operand.(bool); ok {
		a, ok := toBool(attribute)
		return ok && a == b
	}

	a, aIsString := attribute.(string)
	b, bIsString := operand.(string)
	if aIsString && bIsString {
		return a == b
	}

	af, aok := toFloat64(attribute)
	bf, bok := toFloat64(operand)
	return aok && bok && af == bf
}

func checkContains(attribute, operand any) bool {
	a, ok := toString(attribute)
	if !ok {
		return false
	}
	b, ok := toString(operand)
	if !ok {
		return false
	}
	return strings.Contains(a, b)
}

func checkStartsWith(attribute, operand any) bool {
	a, ok := toString(attribute)
	if !ok {
		return false
	}
	b, ok := toString(operand)
	if !ok {
		return false
	}
	return strings.HasPrefix(a, b)
}

func checkEndsWith(attribute, operand any) bool {
	a, ok := toString(attribute)
	if !ok {
		return false
	}
	b, ok := toString(operand)
	if !ok {
		return false
	}
	return strings.HasSuffix(a, b)
}

// checkIn treats a list operand as membership and a scalar operand as
// equality, so both `values: [["a","b"]]` and `values: ["a","b"]` work.
func checkIn(attribute, operand any) bool {
	switch list := operand.(type) {
	case []any:
		for _, item := range list {
			if checkIs(attribute, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range list {
			if checkIs(attribute, item) {
				return true
			}
		}
		return false
	}
	return checkIs(attribute, operand)
}

// orderingFunc compares numerically when both sides coerce to float64 and
// falls back to lexicographic comparison when both sides are strings. Any
// other pairing never matches.
func orderingFunc(num func(a, b float64) bool, lex func(a, b string) bool) operatorFunc {
	return func(attribute, operand any) bool {
		af, aok := toFloat64(attribute)
		bf, bok := toFloat64(operand)
		if aok && bok {
			return num(af, bf)
		}
		a, aIsString := attribute.(string)
		b, bIsString := operand.(string)
		if aIsString && bIsString {
			return lex(a, b)
		}
		return false
	}
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	default:
		return false, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
