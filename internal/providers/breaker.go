package providers

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a per-provider circuit breaker. It opens after a number
// of failures inside a rolling window, rejects calls during a cooldown,
// then allows a single probe in half-open state.
type Breaker struct {
	mu sync.Mutex

	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    BreakerState
	failures []time.Time
	openedAt time.Time
	probing  bool

	totalTrips int64
}

// BreakerStatus reports current breaker state.
type BreakerStatus struct {
	State          BreakerState  `json:"state"`
	RecentFailures int           `json:"recent_failures"`
	Threshold      int           `json:"threshold"`
	CooldownLeft   time.Duration `json:"cooldown_left,omitempty"`
	TotalTrips     int64         `json:"total_trips"`
}

// NewBreaker creates a breaker. Zero values get sane defaults
// (5 failures in 60s, 30s cooldown).
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed. In half-open state only
// one probe is allowed at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// RecordSuccess closes the breaker and clears failure history.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = b.failures[:0]
	b.probing = false
}

// RecordFailure registers a failed call. A failed half-open probe
// reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if b.state == BreakerHalfOpen {
		b.trip(now)
		return
	}

	b.failures = append(b.failures, now)
	b.prune(now)
	if len(b.failures) >= b.threshold {
		b.trip(now)
	}
}

// State returns the current state, advancing open -> half-open when
// the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
		b.probing = false
	}
	return b.state
}

// Status returns a snapshot for health reporting.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(time.Now())

	st := BreakerStatus{
		State:          b.state,
		RecentFailures: len(b.failures),
		Threshold:      b.threshold,
		TotalTrips:     b.totalTrips,
	}
	if b.state == BreakerOpen {
		if left := b.cooldown - time.Since(b.openedAt); left > 0 {
			st.CooldownLeft = left
		}
	}
	return st
}

// trip opens the breaker. Must be called with lock held.
func (b *Breaker) trip(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.failures = b.failures[:0]
	b.probing = false
	b.totalTrips++
}

// prune drops failures outside the rolling window. Must be called with
// lock held.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}
