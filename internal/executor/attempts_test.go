// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForgetDropsAttemptCounters(t *testing.T) {
	e := New(nil, nil, nil)

	assert.Equal(t, 1, e.nextAttempt("p1", "s1"))
	assert.Equal(t, 2, e.nextAttempt("p1", "s1"))
	assert.Equal(t, 1, e.nextAttempt("p1", "s1:pause"))
	assert.Equal(t, 1, e.nextAttempt("p2", "s1"))

	e.Forget("p1")
	assert.Len(t, e.attempts, 1)
	assert.Equal(t, 1, e.nextAttempt("p1", "s1"), "counting restarts")
	assert.Equal(t, 2, e.nextAttempt("p2", "s1"))
}
