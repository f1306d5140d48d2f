// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, reset)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	tests := []struct {
		failures int
		want     BreakerState
	}{
		{0, BreakerClosed},
		{4, BreakerClosed},
		{5, BreakerOpen},
		{7, BreakerOpen},
	}
	for _, tt := range tests {
		b, _ := newClockedBreaker(5, time.Hour)
		for i := 0; i < tt.failures; i++ {
			b.RecordFailure()
		}
		assert.Equal(t, tt.want, b.State(), "after %d failures", tt.failures)
		b.Stop()
	}
}

func TestBreaker_SuccessWhileClosedResetsCount(t *testing.T) {
	b, _ := newClockedBreaker(5, time.Hour)
	defer b.Stop()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	snap := b.Snapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Equal(t, 4, snap.FailureCount)
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b, clock := newClockedBreaker(5, 30*time.Second)
	defer b.Stop()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	clock.Advance(29 * time.Second)
	assert.Equal(t, BreakerOpen, b.State())

	clock.Advance(time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_HalfOpenOutcomes(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, clock := newClockedBreaker(5, 30*time.Second)
		defer b.Stop()
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}
		clock.Advance(30 * time.Second)
		require.Equal(t, BreakerHalfOpen, b.State())

		b.RecordSuccess()

		snap := b.Snapshot()
		assert.Equal(t, BreakerClosed, snap.State)
		assert.Zero(t, snap.FailureCount)
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, clock := newClockedBreaker(5, 30*time.Second)
		defer b.Stop()
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}
		clock.Advance(30 * time.Second)
		require.Equal(t, BreakerHalfOpen, b.State())

		b.RecordFailure()

		snap := b.Snapshot()
		assert.Equal(t, BreakerOpen, snap.State)
		assert.Equal(t, clock.Now(), snap.LastFailureTime)
	})
}

func TestBreaker_TimerDrivesHalfOpen(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	defer b.Stop()

	var mu sync.Mutex
	var seen []BreakerState
	b.OnStateChange(func(_, to BreakerState) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	b.RecordFailure()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen}, seen)
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newClockedBreaker(2, time.Hour)
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()

	snap := b.Snapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.True(t, snap.LastFailureTime.IsZero())
}

func TestReconnectBackOff(t *testing.T) {
	b := newReconnectBackOff(time.Second, 30*time.Second)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "attempt %d", i)
	}
	for i := 0; i < 200; i++ {
		assert.Equal(t, 30*time.Second, b.NextBackOff(), "never stops on its own")
	}

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}
