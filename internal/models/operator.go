package models

// Operator identifies a condition comparison. The set is a closed enumeration
// shared with the service and sibling SDKs; documents carrying anything else
// are rejected when the snapshot is compiled.
type Operator string

const (
	OpIs                Operator = "is"
	OpIsNot             Operator = "isNot"
	OpContains          Operator = "contains"
	OpNotContains       Operator = "notContains"
	OpStartsWith        Operator = "startsWith"
	OpEndsWith          Operator = "endsWith"
	OpIn                Operator = "in"
	OpNotIn             Operator = "notIn"
	OpGreaterThan       Operator = "greaterThan"
	OpGreaterThanEquals Operator = "greaterThanEquals"
	OpLesserThan        Operator = "lesserThan"
	OpLesserThanEquals  Operator = "lesserThanEquals"
)

// Positive returns the operator whose match semantics this operator either
// carries directly or negates, and whether it is a negation.
func (o Operator) Positive() (Operator, bool) {
	switch o {
	case OpIsNot:
		return OpIs, true
	case OpNotContains:
		return OpContains, true
	case OpNotIn:
		return OpIn, true
	default:
		return o, false
	}
}

// Valid reports whether the operator is part of the supported enumeration.
func (o Operator) Valid() bool {
	switch o {
	case OpIs, OpIsNot, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpIn, OpNotIn, OpGreaterThan, OpGreaterThanEquals, OpLesserThan, OpLesserThanEquals:
		return true
	}
	return false
}
