// Package breaker implements the per-resource circuit breaker guarding
// upstream providers, the database, and the Redis backend.
package breaker

import (
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/proxed/gateway/common/logger"
)

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker rejects a call without
// attempting the operation.
var ErrOpen = errors.New("circuit breaker is open")

// errOperationTimeout marks an operation that did not settle within the
// configured OperationTimeout.
var errOperationTimeout = errors.New("circuit breaker operation timeout")

// IsOperationTimeout reports whether err is the breaker's own timeout.
func IsOperationTimeout(err error) bool { return errors.Is(err, errOperationTimeout) }

// Config tunes one breaker instance. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the consecutive classified-failure count that
	// opens the breaker. Default 5.
	FailureThreshold int
	// ResetTimeout is how long an open breaker waits before admitting a
	// trial call. Default 30s.
	ResetTimeout time.Duration
	// OperationTimeout, when positive, races the wrapped operation against a
	// deadline; overrunning counts as a failure.
	OperationTimeout time.Duration
	// Classifier decides whether a failure counts against the breaker.
	// Failures it rejects still propagate to the caller. Nil counts all.
	Classifier func(error) bool
	// OnStateChange observes transitions, for metrics. May be nil.
	OnStateChange func(name string, from, to State)
}

// Snapshot is the read-only view exposed to health reporting.
type Snapshot struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	NextRetry   time.Time `json:"next_retry,omitzero"`
}

// Breaker is a single guarded resource's state machine. All mutation happens
// inside Execute/onSuccess/onFailure under the mutex; concurrent requests
// share one instance per resource.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	nextRetry   time.Time
}

// New constructs a breaker for the named resource.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// Name returns the guarded resource's name.
func (b *Breaker) Name() string { return b.name }

// Execute runs op under breaker protection. While OPEN and before the retry
// deadline it fails fast with ErrOpen; the first call past the deadline is
// admitted as the HALF_OPEN trial.
//
// Admission uses a single check-then-act under the mutex: the transition to
// HALF_OPEN happens before the trial runs, so later callers see HALF_OPEN
// and are admitted too. Under high concurrency several callers can act as
// trial requests simultaneously; this relaxation is deliberate (exact
// single-flight is not required at this deployment scale).
func (b *Breaker) Execute(op func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Now().Before(b.nextRetry) {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	b.mu.Unlock()

	err := b.run(op)
	if err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

// run executes op, racing it against OperationTimeout when configured. On
// timeout the operation keeps running in its goroutine; only its verdict is
// abandoned.
func (b *Breaker) run(op func() error) error {
	if b.cfg.OperationTimeout <= 0 {
		return op()
	}
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		return err
	case <-time.After(b.cfg.OperationTimeout):
		return errors.WithStack(errOperationTimeout)
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) onFailure(err error) {
	if b.cfg.Classifier != nil && !b.cfg.Classifier(err) && !IsOperationTimeout(err) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.nextRetry = time.Now().Add(b.cfg.ResetTimeout)
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.nextRetry = time.Now().Add(b.cfg.ResetTimeout)
			b.transition(StateOpen)
		}
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	logger.Logger.Warn("circuit breaker state change",
		zap.String("resource", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// GetState returns a point-in-time snapshot for health reporting. Only the
// OPEN state carries a meaningful next-retry timestamp.
func (b *Breaker) GetState() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
	if b.state == StateOpen {
		s.NextRetry = b.nextRetry
	}
	return s
}
