// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newReconnectBackOff yields base*2^n delays capped at max. It never gives
// up on its own; the manager's retry cap decides when to stop.
func newReconnectBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithMaxInterval(max),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}
