package expressions

import "context"

// ConditionEngine evaluates branch conditions.
// Two implementations: Expr (restricted grammar, default) and CEL.
type ConditionEngine interface {
	Name() string
	// Check compiles the expression without evaluating it.
	Check(expression string) error
	// Test evaluates the expression and reports its truthiness. Compile
	// failures carry ErrCodeDefinition; runtime failures ErrCodeExecution.
	Test(ctx context.Context, expression string, data map[string]any) (bool, error)
}

// Languages maps a config language name to its engine.
type Languages map[string]ConditionEngine

// NewLanguages returns the default Expr engine under "" and "expr" plus CEL
// under "cel".
func NewLanguages() (Languages, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	exprEngine := NewExprEngine()
	return Languages{
		"":     exprEngine,
		"expr": exprEngine,
		"cel":  celEngine,
	}, nil
}

// Truthy reports whether v counts as true in a condition.
// nil, false, zero numbers, empty strings and empty collections are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case uint:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0
	case float32:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
