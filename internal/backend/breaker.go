package backend

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the open timeout passes.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through; enough successes close the
	// breaker and any failure reopens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards the HTTP backend. Only transport failures and 5xx replies
// count as failures; a 4xx reply is a healthy backend saying no.
type Breaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	onChange         func(from, to BreakerState)
	now              func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a breaker. failureThreshold consecutive failures open
// it, it stays open for timeout, and successThreshold probe successes close
// it again. onChange, if set, is called on every state change with the
// breaker lock released.
func NewBreaker(failureThreshold, successThreshold int, timeout time.Duration, onChange func(from, to BreakerState)) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		onChange:         onChange,
		now:              time.Now,
	}
}

// Allow returns an ErrNetwork error while the breaker is open.
func (b *Breaker) Allow() error {
	from, to, err := b.allow()
	b.changed(from, to)
	return err
}

func (b *Breaker) allow() (from, to BreakerState, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.timeout {
			return from, from, fmt.Errorf("%w: circuit breaker is open", ErrNetwork)
		}
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return from, b.state, nil
}

// RecordSuccess records a call that reached a healthy backend.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
}

// RecordFailure records a transport failure or 5xx reply.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.successes = 0
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) changed(from, to BreakerState) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
