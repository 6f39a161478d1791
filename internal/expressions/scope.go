package expressions

import (
	"sort"
	"sync"
)

// Scope is the execution context of a run: the caller's input under
// "input" plus each completed step's output keyed by step id. Nested step
// lists run in child scopes: reads fall through to the parent, writes stay
// local. A parent must not be written while children are running; the
// engine guarantees this because a control-flow step blocks until its
// nested lists finish.
type Scope struct {
	parent *Scope

	mu   sync.RWMutex
	vars map[string]any
}

// NewScope creates a root scope seeded with a private copy of input.
func NewScope(input map[string]any) *Scope {
	seed, _ := Normalize(input).(map[string]any)
	if seed == nil {
		seed = map[string]any{}
	}
	return &Scope{vars: map[string]any{"input": seed}}
}

// Child returns a scope that sees every variable of s and records its own
// writes privately.
func (s *Scope) Child() *Scope {
	return &Scope{parent: s, vars: make(map[string]any)}
}

// Set records a variable in this scope. The value is normalized, so later
// mutation of v by the caller is not observed.
func (s *Scope) Set(key string, v any) {
	val := Normalize(v)
	s.mu.Lock()
	s.vars[key] = val
	s.mu.Unlock()
}

// Get resolves a top-level variable, walking up to the root.
func (s *Scope) Get(key string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.vars[key]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Lookup resolves a dotted path such as "stepA.result.items.0".
func (s *Scope) Lookup(path string) (any, bool) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return nil, false
	}
	root, ok := s.Get(segments[0])
	if !ok {
		return nil, false
	}
	return LookupPath(root, segments[1:])
}

// Vars returns the flattened view of every visible variable. Inner scopes
// shadow outer ones. Values are shared with the scope and must be treated
// as read-only.
func (s *Scope) Vars() map[string]any {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for k, v := range chain[i].vars {
			out[k] = v
		}
		chain[i].mu.RUnlock()
	}
	return out
}

// Keys returns the sorted names of every visible variable.
func (s *Scope) Keys() []string {
	vars := s.Vars()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Local returns a copy of the variables written directly to s.
func (s *Scope) Local() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DeepCopyMap(s.vars)
}
