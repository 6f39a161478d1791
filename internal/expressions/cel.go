package expressions

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/agentc2/wfrt/pkg/schema"
)

// CELEngine evaluates branch conditions written in Google's Common
// Expression Language. CEL is side-effect free and non-Turing complete, so it
// is offered as an alternate condition language (config.language "cel").
// Variables are declared per call from the visible context keys as dyn.
// Thread-safe: compiled programs are cached per variable set and reused.
type CELEngine struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL condition engine.
func NewCELEngine() (*CELEngine, error) {
	// Probe once so a broken CEL build fails at startup, not on first use.
	if _, err := cel.NewEnv(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create CEL environment: %s", err.Error()).WithCause(err)
	}
	return &CELEngine{cache: make(map[string]cel.Program)}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Check compiles the expression. Identifiers referenced by the expression are
// declared as dyn, so only syntax and operator typing are checked.
func (e *CELEngine) Check(expression string) error {
	vars := referencedIdents(expression)
	_, err := e.getOrCompile(expression, vars)
	return err
}

// Test evaluates expression against data and reports its truthiness.
func (e *CELEngine) Test(ctx context.Context, expression string, data map[string]any) (bool, error) {
	vars := make([]string, 0, len(data))
	activation := make(map[string]any, len(data))
	for k, v := range data {
		if !identRe.MatchString(k) {
			continue
		}
		vars = append(vars, k)
		activation[k] = v
	}
	sort.Strings(vars)

	prg, err := e.getOrCompile(expression, vars)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return Truthy(out.Value()), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string, vars []string) (cel.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "empty CEL expression")
	}
	source := NormalizeOperators(expression)
	key := strings.Join(vars, ",") + "\x00" + source

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create CEL environment: %s", err.Error()).WithCause(err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[key] = prg
	return prg, nil
}

var celIdentRe = regexp.MustCompile(`(?:^|[^.\w"'])([A-Za-z_][A-Za-z0-9_]*)`)

var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
}

// referencedIdents extracts candidate root identifiers from a CEL source
// so the expression can be compiled without data. String literals are
// stripped first.
func referencedIdents(expression string) []string {
	stripped := stripStrings(expression)
	seen := make(map[string]bool)
	for _, m := range celIdentRe.FindAllStringSubmatch(stripped, -1) {
		name := m[1]
		if celReserved[name] {
			continue
		}
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stripStrings(s string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
				b.WriteByte(' ')
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var _ ConditionEngine = (*CELEngine)(nil)
