package errors

import (
	stderrors "errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while a breaker
// is open.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// State is the position of a Breaker.
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
	}
	return "unknown"
}

// Breaker fails calls fast after Threshold consecutive failures, so an
// unreachable Ollama costs one timeout per cooldown rather than one per
// batch. Once the cooldown has passed a single probe call is let through;
// its outcome closes or reopens the breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. Non-positive arguments select 5
// failures and a 30 second cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

// State reports the breaker position at this instant.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state()
}

func (b *Breaker) state() State {
	switch {
	case b.openedAt.IsZero():
		return StateClosed
	case b.now().Sub(b.openedAt) < b.cooldown:
		return StateOpen
	default:
		return StateHalfOpen
	}
}

// Failures is the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// acquire decides whether a call may proceed and whether it is the probe.
func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state() {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	if err == nil {
		b.failures = 0
		b.openedAt = time.Time{}
		return
	}
	b.failures++
	if probe || b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	_, err := Guard(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Guard runs fn through b and returns its result.
func Guard[T any](b *Breaker, fn func() (T, error)) (T, error) {
	probe, err := b.acquire()
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := fn()
	b.release(probe, err)
	return v, err
}
