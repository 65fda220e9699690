package detector

import (
	"errors"
	"fmt"
)

// ErrInvalidExpression marks an expression that cannot be flattened into a
// conjunctive tag-set: wrong operator, no operands, or two operands that
// bind the same key to different values.
var ErrInvalidExpression = errors.New("invalid mapping expression")

// Operator combines the operands of an expression. Only conjunction is
// supported: expressions are flat AND-lists over tag equality checks, and
// every consumer (search, invalidation, the mapper cache) relies on that.
type Operator string

// OperatorAnd is the only operator the evaluator accepts. An empty operator
// is treated as AND so that single-operand expressions may omit it.
const OperatorAnd Operator = "AND"

// Field is a single tag equality check.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Operand wraps a field. The indirection keeps the wire shape stable should
// nested expressions ever be introduced.
type Operand struct {
	Field Field `json:"field"`
}

// Expression is a conjunction of tag equality checks. A metric tag-set
// satisfies the expression when every operand's key is present in the
// tag-set with exactly the operand's value.
type Expression struct {
	Operator Operator  `json:"operator"`
	Operands []Operand `json:"operands"`
}

// Flatten reduces the expression to a key-value map under the conjunctive
// assumption. It fails with ErrInvalidExpression when the expression has no
// operands, uses an operator other than AND, binds the same key twice with
// different values, or contains an operand with an empty key. Duplicate
// operands with identical values collapse silently.
func (e Expression) Flatten() (map[string]string, error) {
	if e.Operator != "" && e.Operator != OperatorAnd {
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidExpression, e.Operator)
	}
	if len(e.Operands) == 0 {
		return nil, fmt.Errorf("%w: expression has no operands", ErrInvalidExpression)
	}

	flat := make(map[string]string, len(e.Operands))
	for _, op := range e.Operands {
		key := op.Field.Key
		if key == "" {
			return nil, fmt.Errorf("%w: operand with empty tag key", ErrInvalidExpression)
		}
		if existing, ok := flat[key]; ok && existing != op.Field.Value {
			return nil, fmt.Errorf("%w: conflicting values %q and %q for tag key %q",
				ErrInvalidExpression, existing, op.Field.Value, key)
		}
		flat[key] = op.Field.Value
	}
	return flat, nil
}

// MatchesTags reports whether the tag-set satisfies every condition in the
// flattened expression. An empty condition set matches nothing: it only
// arises from callers bypassing Flatten, and matching everything would be a
// far more dangerous failure mode than matching nothing.
func MatchesTags(conditions, tags map[string]string) bool {
	if len(conditions) == 0 {
		return false
	}
	for key, want := range conditions {
		if got, ok := tags[key]; !ok || got != want {
			return false
		}
	}
	return true
}
