package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tiller-hq/tiller/pkg/events"
)

// State is the gate's circuit state.
type State int32

const (
	// StateClosed lets calls pass through.
	StateClosed State = iota
	// StateOpen fails calls immediately without I/O.
	StateOpen
	// StateHalfOpen lets exactly one trial call through.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrGateOpen is returned without attempting I/O while the gate is open.
// Callers should surface it as "proxy temporarily unavailable" rather than
// retrying immediately.
var ErrGateOpen = errors.New("health gate is open")

// OpenError is the concrete error returned while the gate is open.
type OpenError struct {
	// Since is when the gate last opened.
	Since time.Time

	// RetryAfter is how long until the next trial call will be allowed.
	RetryAfter time.Duration

	// LastFailure describes the failure that tripped the gate, if any.
	LastFailure *FailureRecord
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	if e.LastFailure != nil {
		return fmt.Sprintf("health gate is open (since %s, last failure in %s: %v)",
			e.Since.Format(time.RFC3339), e.LastFailure.Operation, e.LastFailure.Err)
	}
	return fmt.Sprintf("health gate is open (since %s)", e.Since.Format(time.RFC3339))
}

// Is implements error matching for errors.Is().
func (e *OpenError) Is(target error) bool {
	return target == ErrGateOpen
}

// FailureRecord captures the most recent failure seen by the gate.
type FailureRecord struct {
	// Err is the failing call's error.
	Err error

	// Operation is the label of the failing call.
	Operation string

	// Timestamp is when the failure occurred.
	Timestamp time.Time
}

// StateChange is the payload of gate transition events.
type StateChange struct {
	// From and To are the states of the transition.
	From State
	To   State

	// Reason is a human-readable cause ("failure threshold reached",
	// "trial call succeeded", ...).
	Reason string

	// Failures is the consecutive failure count at transition time.
	Failures int

	// Timestamp is when the transition happened.
	Timestamp time.Time
}

// Config contains configuration for the Gate.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the gate open. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the gate stays open before allowing a
	// trial call. Default: 30 seconds.
	ResetTimeout time.Duration

	// Bus receives state-change events. Optional.
	Bus *events.Bus

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
}

// Gate is the failure-isolating wrapper around proxy API calls.
type Gate struct {
	mu sync.Mutex

	state           State
	failures        int
	lastStateChange time.Time
	lastFailure     *FailureRecord
	trialInFlight   bool

	threshold    int
	resetTimeout time.Duration
	bus          *events.Bus
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a new health gate in the CLOSED state.
func New(cfg Config) *Gate {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &Gate{
		state:           StateClosed,
		lastStateChange: cfg.now(),
		threshold:       cfg.FailureThreshold,
		resetTimeout:    cfg.ResetTimeout,
		bus:             cfg.Bus,
		logger:          cfg.Logger.With("component", "gate"),
		now:             cfg.now,
	}
}

// Execute runs op through the gate. While the gate is open it returns an
// *OpenError immediately without invoking op. The label identifies the
// operation in failure records and logs.
func (g *Gate) Execute(ctx context.Context, label string, op func(ctx context.Context) error) error {
	trial, err := g.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	g.settle(label, trial, opErr)
	return opErr
}

// Call runs an operation returning a value through the gate.
func Call[T any](g *Gate, ctx context.Context, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := g.Execute(ctx, label, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// admit decides whether a call may proceed. It returns trial=true when the
// call is the half-open trial.
func (g *Gate) admit() (trial bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		elapsed := g.now().Sub(g.lastStateChange)
		if elapsed < g.resetTimeout {
			return false, g.openErrorLocked()
		}
		g.transitionLocked(StateHalfOpen, "reset timeout elapsed")
		g.trialInFlight = true
		return true, nil

	case StateHalfOpen:
		if g.trialInFlight {
			return false, g.openErrorLocked()
		}
		g.trialInFlight = true
		return true, nil

	default:
		return false, fmt.Errorf("health gate in unknown state %d", g.state)
	}
}

// settle records the outcome of an admitted call.
func (g *Gate) settle(label string, trial bool, opErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if trial {
		g.trialInFlight = false
	}

	if opErr == nil {
		if g.state == StateHalfOpen {
			g.failures = 0
			g.lastFailure = nil
			g.transitionLocked(StateClosed, "trial call succeeded")
		} else if g.state == StateClosed {
			g.failures = 0
		}
		return
	}

	g.lastFailure = &FailureRecord{
		Err:       opErr,
		Operation: label,
		Timestamp: g.now(),
	}

	switch g.state {
	case StateHalfOpen:
		g.transitionLocked(StateOpen, "trial call failed")
	case StateClosed:
		g.failures++
		if g.failures >= g.threshold {
			g.transitionLocked(StateOpen, "failure threshold reached")
		}
	}
}

// Reset forces the gate CLOSED from any state and clears the failure
// counter. Used by out-of-band health probes that have confirmed recovery.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = 0
	g.lastFailure = nil
	g.trialInFlight = false
	if g.state != StateClosed {
		g.transitionLocked(StateClosed, "externally reset")
	}
}

// State returns the current circuit state. A gate whose reset timeout has
// elapsed still reports StateOpen until the next call is admitted.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (g *Gate) ConsecutiveFailures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

// LastFailure returns the most recent failure record, or nil.
func (g *Gate) LastFailure() *FailureRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFailure
}

// openErrorLocked builds the fail-fast error. Caller holds g.mu.
func (g *Gate) openErrorLocked() *OpenError {
	retryAfter := g.resetTimeout - g.now().Sub(g.lastStateChange)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &OpenError{
		Since:       g.lastStateChange,
		RetryAfter:  retryAfter,
		LastFailure: g.lastFailure,
	}
}

// transitionLocked performs a state transition and publishes the
// corresponding event. Caller holds g.mu.
func (g *Gate) transitionLocked(to State, reason string) {
	from := g.state
	g.state = to
	g.lastStateChange = g.now()

	g.logger.Info("health gate state changed",
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
		"consecutive_failures", g.failures,
	)

	if g.bus == nil {
		return
	}

	change := StateChange{
		From:      from,
		To:        to,
		Reason:    reason,
		Failures:  g.failures,
		Timestamp: g.lastStateChange,
	}
	switch to {
	case StateOpen:
		g.bus.Publish(events.TypeGateOpened, change)
	case StateHalfOpen:
		g.bus.Publish(events.TypeGateHalfOpen, change)
	case StateClosed:
		g.bus.Publish(events.TypeGateClosed, change)
	}
}
