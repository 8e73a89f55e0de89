package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/errs"
)

// State is a circuit breaker state. Transitions never skip a state:
// closed -> open -> half-open -> (closed | open).
type State int

const (
	// Closed is the initial state: the operation runs normally.
	Closed State = iota

	// Open fast-fails every call until the recovery timeout elapses.
	Open

	// HalfOpen allows exactly one trial call through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerOptions configures one circuit breaker.
type BreakerOptions struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker (default 5)
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open trial (default 30s)
	RecoveryTimeout time.Duration
}

func (o *BreakerOptions) applyDefaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 30 * time.Second
	}
}

// Counts is an observability snapshot of one breaker.
type Counts struct {
	Name                string
	State               State
	ConsecutiveFailures int
	LastFailureAt       time.Time
}

// Breaker is a named three-state failure gate guarding one logical
// operation. It shields the system from hammering a known-bad dependency
// while still probing for recovery on a fixed schedule. Safe for concurrent
// use.
type Breaker struct {
	name string
	opts BreakerOptions

	mu                  sync.Mutex
	state               State
	generation          uint64
	consecutiveFailures int
	lastFailureAt       time.Time
	trialInFlight       bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, opts BreakerOptions) *Breaker {
	opts.applyDefaults()
	return &Breaker{name: name, opts: opts}
}

// Name returns the breaker's operation name.
func (b *Breaker) Name() string { return b.name }

// Do runs op through the gate. In the open state it fails immediately with a
// circuit_open error without invoking op, until the recovery timeout has
// elapsed; the next call is then allowed through as the single half-open
// trial. A trial success closes the breaker; a trial failure reopens it and
// resets the recovery timer.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	gen, err := b.beforeCall()
	if err != nil {
		return err
	}

	// The deferred afterCall also runs when op panics, so a panicking trial
	// releases its slot and counts as a failure before the panic propagates.
	success := false
	defer func() { b.afterCall(gen, success) }()

	err = op(ctx)
	success = err == nil
	return err
}

// beforeCall admits or rejects a call and performs the open -> half-open
// transition when the recovery timeout has elapsed. It returns the
// generation the call was admitted under.
func (b *Breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return b.generation, nil

	case Open:
		if time.Since(b.lastFailureAt) < b.opts.RecoveryTimeout {
			return 0, errs.CircuitOpen(b.name)
		}
		b.setState(HalfOpen)
		b.trialInFlight = true
		return b.generation, nil

	default: // HalfOpen
		if b.trialInFlight {
			// Another caller already holds the trial slot.
			return 0, errs.CircuitOpen(b.name)
		}
		b.trialInFlight = true
		return b.generation, nil
	}
}

// setState transitions the breaker and advances the generation, so in-flight
// calls admitted before the transition cannot report into the new state.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.generation++
}

func (b *Breaker) afterCall(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		// The breaker changed state while this call was in flight. Its
		// outcome is stale: a success from before the trip must not close
		// the breaker behind the half-open trial.
		return
	}

	if success {
		b.trialInFlight = false
		b.setState(Closed)
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	b.lastFailureAt = time.Now()
	b.trialInFlight = false

	switch b.state {
	case Closed:
		if b.consecutiveFailures >= b.opts.FailureThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		// Trial failed: back to open with a fresh recovery timer.
		b.setState(Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns an observability snapshot.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
	}
}
