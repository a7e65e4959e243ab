package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is the breaker position.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker trips after Threshold consecutive failures and stays open for
// ResetTimeout. The first call after that runs as a half-open trial.
type Breaker struct {
	cfg         Config
	state       atomic.Uint32
	failures    atomic.Int32
	trialWins   atomic.Int32
	lastFailure atomic.Int64
	hook        func(from, to State)
}

// New creates a breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// WithHook registers a state change callback. Call before the breaker is shared.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.hook = fn
	return b
}

// State returns the current position.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Allow returns ErrOpen while the breaker is open and the reset timeout has
// not elapsed.
func (b *Breaker) Allow() error {
	if b.State() != Open {
		return nil
	}
	since := time.Since(time.Unix(0, b.lastFailure.Load()))
	if since <= b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.moveTo(HalfOpen)
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch b.State() {
	case HalfOpen:
		if b.trialWins.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.moveTo(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	n := b.failures.Add(1)

	switch b.State() {
	case HalfOpen:
		b.moveTo(Open)
	case Closed:
		if n >= int32(b.cfg.Threshold) {
			b.moveTo(Open)
		}
	}
}

func (b *Breaker) moveTo(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}
	b.trialWins.Store(0)
	if to == Closed {
		b.failures.Store(0)
	}

	slog.Info("circuit breaker state change", "breaker", b.cfg.Name, "from", from, "to", to,
		"failures", b.failures.Load())
	if b.hook != nil {
		b.hook(from, to)
	}
}

// ExecuteWithResult runs fn under breaker protection and passes its result
// through. Config.Classify decides how fn's error counts; ErrOpen is returned
// without calling fn while the breaker is failing fast.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn()
	switch b.cfg.Classify(err) {
	case CountFailure:
		b.Failure()
	case CountSuccess:
		b.Success()
	}
	if err != nil {
		return zero, err
	}
	return v, nil
}
