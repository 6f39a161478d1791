package tools

import (
	"context"
	"sync"
	"time"

	"github.com/agentc2/wfrt/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breakers set.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call is let through.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int
}

// circuitBreaker tracks failure state for a single tool.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// Breakers manages one circuit breaker per tool name.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates a breaker set. Zero config fields get defaults.
func NewBreakers(config BreakerConfig) *Breakers {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &Breakers{breakers: make(map[string]*circuitBreaker), config: config, now: time.Now}
}

// Allow reports whether a call to name may proceed. A rejected call gets a
// CIRCUIT_OPEN error wrapping ErrCircuitOpen.
func (b *Breakers) Allow(name string) error {
	cb := b.getOrCreate(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		remaining := b.config.Cooldown - b.now().Sub(cb.lastFailure)
		if remaining <= 0 {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request is the first trial
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for tool %q after %d consecutive failures", name, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"tool":                 name,
				"consecutive_failures": cb.consecutiveFailures,
				"cooldown_remaining":   remaining.String(),
			}).WithCause(ErrCircuitOpen)
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for tool %q: trial call in progress", name).WithCause(ErrCircuitOpen)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the circuit for name.
func (b *Breakers) RecordSuccess(name string) {
	cb := b.getOrCreate(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure for name and returns the new state.
func (b *Breakers) RecordFailure(name string) CircuitState {
	cb := b.getOrCreate(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = b.now()
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= b.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// releaseTrial frees a half-open trial slot whose call was abandoned.
func (b *Breakers) releaseTrial(name string) {
	cb := b.getOrCreate(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.halfOpenAttempts > 0 {
		cb.halfOpenAttempts--
	}
}

// State returns the current state of the circuit for name.
func (b *Breakers) State(name string) CircuitState {
	cb := b.getOrCreate(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && b.now().Sub(cb.lastFailure) >= b.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Stats returns diagnostic information about the circuit for name.
func (b *Breakers) Stats(name string) map[string]any {
	cb := b.getOrCreate(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]any{
		"tool":                 name,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    b.config.FailureThreshold,
		"cooldown":             b.config.Cooldown.String(),
	}
}

func (b *Breakers) getOrCreate(name string) *circuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[name]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed}
		b.breakers[name] = cb
	}
	return cb
}

// Middleware guards each tool with its own breaker. Cancellation of the
// caller is not counted as a tool failure.
func (b *Breakers) Middleware() Middleware {
	return func(name string, next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, args map[string]any) (any, error) {
			if err := b.Allow(name); err != nil {
				return nil, err
			}
			out, err := next(ctx, args)
			switch {
			case err == nil:
				b.RecordSuccess(name)
			case ctx.Err() == context.Canceled:
				b.releaseTrial(name)
			default:
				b.RecordFailure(name)
			}
			return out, err
		}
	}
}

// WithCircuitBreaker returns a middleware that opens a tool's circuit after
// threshold consecutive failures and lets one trial call through after cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Middleware {
	return NewBreakers(BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown}).Middleware()
}
