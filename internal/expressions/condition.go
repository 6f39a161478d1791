package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/agentc2/wfrt/pkg/schema"
)

// ExprEngine evaluates branch conditions with a restricted subset of
// expr-lang/expr: field access, literals, comparison, boolean and
// arithmetic operators, membership and the ternary operator. Function
// calls, builtins, closures, pipes and variable declarations are rejected
// at compile time, so a condition can never reach code outside its data.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new restricted Expr condition engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Check compiles the expression without evaluating it.
func (e *ExprEngine) Check(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Test evaluates expression against data and reports its truthiness.
func (e *ExprEngine) Test(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Evaluate compiles (or retrieves from cache) the expression and runs it
// with data as the environment. Unknown identifiers evaluate to nil.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"condition evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "empty condition expression")
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	source := NormalizeOperators(expression)

	tree, err := parser.Parse(source)
	if err != nil {
		return nil, compileErr(expression, err)
	}
	guard := &grammarGuard{}
	ast.Walk(&tree.Node, guard)
	if guard.err != nil {
		return nil, compileErr(expression, guard.err)
	}

	prg, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, compileErr(expression, err)
	}

	e.cache[expression] = prg
	return prg, nil
}

func compileErr(expression string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeDefinition,
		"invalid condition %q: %s", expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

// grammarGuard rejects every node outside the condition grammar.
type grammarGuard struct {
	err error
}

func (g *grammarGuard) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IdentifierNode, *ast.IntegerNode, *ast.FloatNode,
		*ast.BoolNode, *ast.StringNode, *ast.ConstantNode, *ast.UnaryNode,
		*ast.BinaryNode, *ast.ChainNode, *ast.MemberNode, *ast.ConditionalNode,
		*ast.ArrayNode, *ast.MapNode, *ast.PairNode:
		return
	default:
		g.err = fmt.Errorf("%T is not allowed in conditions; use field access, comparison and boolean operators", n)
	}
}

// NormalizeOperators rewrites JavaScript strict equality operators to their
// expr equivalents outside of string literals: === to == and !== to !=.
func NormalizeOperators(expression string) string {
	var b strings.Builder
	b.Grow(len(expression))

	var quote byte
	for i := 0; i < len(expression); i++ {
		c := expression[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(expression) {
				i++
				b.WriteByte(expression[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
			b.WriteByte(c)
		case strings.HasPrefix(expression[i:], "==="):
			b.WriteString("==")
			i += 2
		case strings.HasPrefix(expression[i:], "!=="):
			b.WriteString("!=")
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var _ ConditionEngine = (*ExprEngine)(nil)
