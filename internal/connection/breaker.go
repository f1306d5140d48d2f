// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a point-in-time view of the breaker.
type BreakerSnapshot struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failureCount"`
	LastFailureTime time.Time    `json:"lastFailureTime,omitempty"`
}

// BreakerListener is called after a state transition, outside the breaker lock.
type BreakerListener func(from, to BreakerState)

// Breaker stops connection attempts after a run of consecutive failures and
// lets one probe through once the reset timeout has elapsed.
//
// The open to half_open transition is driven by a timer and, for callers
// that read the state before the timer fires, by a check on every read.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	state        BreakerState
	failures     int
	lastFailure  time.Time
	openedAt     time.Time
	timer        *time.Timer
	listeners    []BreakerListener
	now          func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          time.Now,
	}
}

// OnStateChange registers a transition listener.
func (b *Breaker) OnStateChange(fn BreakerListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

type transition struct {
	from, to  BreakerState
	listeners []BreakerListener
}

func (t *transition) fire() {
	if t == nil {
		return
	}
	for _, fn := range t.listeners {
		fn(t.from, t.to)
	}
}

// setLocked must be called with b.mu held; the returned transition is fired
// after unlocking.
func (b *Breaker) setLocked(to BreakerState) *transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if to == BreakerOpen {
		b.openedAt = b.now()
		b.timer = time.AfterFunc(b.resetTimeout, b.onResetTimeout)
	}

	getLog().Info().Str("from", string(from)).Str("to", string(to)).Int("failures", b.failures).Msg("Circuit breaker transition")
	return &transition{from: from, to: to, listeners: append([]BreakerListener(nil), b.listeners...)}
}

// expireLocked moves an open breaker to half_open when the reset timeout
// has elapsed.
func (b *Breaker) expireLocked() *transition {
	if b.state == BreakerOpen && !b.now().Before(b.openedAt.Add(b.resetTimeout)) {
		return b.setLocked(BreakerHalfOpen)
	}
	return nil
}

func (b *Breaker) onResetTimeout() {
	b.mu.Lock()
	var t *transition
	if b.state == BreakerOpen {
		t = b.setLocked(BreakerHalfOpen)
	}
	b.mu.Unlock()
	t.fire()
}

// RecordFailure counts a failed attempt. A failure while half_open reopens
// the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	t := b.expireLocked()
	b.failures++
	b.lastFailure = b.now()
	var next *transition
	switch {
	case b.state == BreakerHalfOpen:
		next = b.setLocked(BreakerOpen)
	case b.state == BreakerClosed && b.failures >= b.threshold:
		next = b.setLocked(BreakerOpen)
	}
	b.mu.Unlock()
	t.fire()
	next.fire()
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	t := b.setLocked(BreakerClosed)
	b.mu.Unlock()
	t.fire()
}

// Allow reports whether a connection attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	t := b.expireLocked()
	allowed := b.state != BreakerOpen
	b.mu.Unlock()
	t.fire()
	return allowed
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	return b.Snapshot().State
}

// Snapshot returns state, failure count and time of the last failure.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	t := b.expireLocked()
	s := BreakerSnapshot{State: b.state, FailureCount: b.failures, LastFailureTime: b.lastFailure}
	b.mu.Unlock()
	t.fire()
	return s
}

// Reset closes the breaker and forgets all failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.lastFailure = time.Time{}
	t := b.setLocked(BreakerClosed)
	b.mu.Unlock()
	t.fire()
}

// Stop cancels the pending reset timer.
func (b *Breaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
