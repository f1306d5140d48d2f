// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package recovery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noldarim/inkwell/internal/ai"
	"github.com/noldarim/inkwell/internal/connection"
	"github.com/noldarim/inkwell/internal/executor"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/noldarim/inkwell/internal/recovery"
	"github.com/noldarim/inkwell/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu         sync.Mutex
	state      connection.State
	reconnects int
}

func (f *fakeConn) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Reconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.state = connection.StateConnecting
}

func (f *fakeConn) set(s connection.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type harness struct {
	stores  *testutil.Stores
	invoker *testutil.ScriptedInvoker
	exec    *executor.Executor
	conn    *fakeConn
	ctrl    *recovery.Controller
}

func runNow(f func()) { f() }

func newHarness(t *testing.T, opts ...recovery.Option) *harness {
	t.Helper()
	h := &harness{
		stores:  testutil.NewStores(t),
		invoker: testutil.NewScriptedInvoker(),
		conn:    &fakeConn{state: connection.StateConnected},
	}
	h.exec = executor.New(h.stores.Pipelines, h.stores.Research, h.invoker)
	opts = append([]recovery.Option{recovery.WithSpawn(runNow)}, opts...)
	h.ctrl = recovery.New(h.stores.Pipelines, h.exec, h.conn, 3, opts...)
	return h
}

// failedPipeline builds [brainstorm, hypothesis, conclusion] and runs it until
// hypothesis fails with every reply in replies.
func (h *harness) failedPipeline(t *testing.T, replies ...testutil.Reply) models.Pipeline {
	t.Helper()
	if len(replies) == 0 {
		replies = []testutil.Reply{testutil.Fail("model overloaded")}
	}
	h.invoker.On(models.StepTypeHypothesis, replies...)
	p := testutil.NewPipeline(t, h.stores.Pipelines, "p",
		models.StepTypeBrainstorm, models.StepTypeHypothesis, models.StepTypeConclusion)
	require.NoError(t, h.exec.Start(context.Background(), p.ID))
	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID,
		models.StepStatusCompleted, models.StepStatusError, models.StepStatusPending)
	return p
}

func failures(n int) []testutil.Reply {
	out := make([]testutil.Reply, n)
	for i := range out {
		out[i] = testutil.Fail("still failing")
	}
	return out
}

func TestStatus_Modes(t *testing.T) {
	tests := []struct {
		name     string
		conn     connection.State
		withErr  bool
		wantMode recovery.Mode
	}{
		{"all clear", connection.StateConnected, false, recovery.ModeNone},
		{"connecting is not a network issue", connection.StateConnecting, false, recovery.ModeNone},
		{"step error", connection.StateConnected, true, recovery.ModeStepError},
		{"disconnected", connection.StateDisconnected, false, recovery.ModeNetwork},
		{"circuit open", connection.StateCircuitOpen, false, recovery.ModeNetwork},
		{"network takes priority over step error", connection.StateDisconnected, true, recovery.ModeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			var p models.Pipeline
			if tt.withErr {
				p = h.failedPipeline(t)
			} else {
				p = testutil.NewPipeline(t, h.stores.Pipelines, "p", models.StepTypeBrainstorm)
			}
			h.conn.set(tt.conn)

			st := h.ctrl.Status(p.ID)
			assert.Equal(t, tt.wantMode, st.Mode)
			assert.Equal(t, tt.wantMode != recovery.ModeNone, st.Visible)
		})
	}
}

func TestStatus_StepErrorActions(t *testing.T) {
	h := newHarness(t)
	p := h.failedPipeline(t)

	st := h.ctrl.Status(p.ID)
	assert.Equal(t, recovery.ModeStepError, st.Mode)
	assert.Equal(t, `Step "hypothesis" failed: model overloaded`, st.Message)
	for _, a := range []recovery.Action{recovery.ActionRetryStep, recovery.ActionSkipStep, recovery.ActionRetryAll} {
		as, ok := st.Action(a)
		require.True(t, ok, a)
		assert.True(t, as.Enabled, a)
	}
	_, ok := st.Action(recovery.ActionCheckConnection)
	assert.False(t, ok)
}

func TestStatus_NetworkActions(t *testing.T) {
	h := newHarness(t)
	p := testutil.NewPipeline(t, h.stores.Pipelines, "p", models.StepTypeBrainstorm)
	h.conn.set(connection.StateCircuitOpen)

	st := h.ctrl.Status(p.ID)
	require.Len(t, st.Actions, 2)
	assert.Equal(t, recovery.ActionCheckConnection, st.Actions[0].Action)
	assert.Equal(t, recovery.ActionWaitConnection, st.Actions[1].Action)
	assert.Contains(t, st.Message, "Too many connection failures")
}

func TestDispatch_RetryStepCap(t *testing.T) {
	h := newHarness(t)
	p := h.failedPipeline(t, failures(4)...)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		st, err := h.ctrl.Dispatch(ctx, p.ID, recovery.ActionRetryStep)
		require.NoError(t, err)
		assert.Equal(t, i, st.Attempts)
		assert.Equal(t, recovery.ModeStepError, st.Mode)
	}
	assert.Equal(t, 4, h.invoker.CallCount(models.StepTypeHypothesis))

	st := h.ctrl.Status(p.ID)
	retry, _ := st.Action(recovery.ActionRetryStep)
	skip, _ := st.Action(recovery.ActionSkipStep)
	retryAll, _ := st.Action(recovery.ActionRetryAll)
	assert.False(t, retry.Enabled)
	assert.False(t, retryAll.Enabled)
	assert.True(t, skip.Enabled)
	assert.Contains(t, st.Message, "Retry limit reached")

	_, err := h.ctrl.Dispatch(ctx, p.ID, recovery.ActionRetryStep)
	assert.ErrorIs(t, err, recovery.ErrRetryLimitReached)
	_, err = h.ctrl.Dispatch(ctx, p.ID, recovery.ActionRetryAll)
	assert.ErrorIs(t, err, recovery.ErrRetryLimitReached)
	assert.Equal(t, 4, h.invoker.CallCount(models.StepTypeHypothesis))

	// skip still works at the cap and clears the panel
	st, err = h.ctrl.Dispatch(ctx, p.ID, recovery.ActionSkipStep)
	require.NoError(t, err)
	assert.Equal(t, recovery.ModeNone, st.Mode)
	assert.Equal(t, 0, st.Attempts)
	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID,
		models.StepStatusCompleted, models.StepStatusCompleted, models.StepStatusCompleted)
}

func TestDispatch_SharedCounter(t *testing.T) {
	tests := []struct {
		name            string
		opts            []recovery.Option
		retryAllEnabled bool
	}{
		{"capped retry all", nil, false},
		{"uncapped retry all", []recovery.Option{recovery.WithUncappedRetryAll()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts...)
			p := h.failedPipeline(t, failures(4)...)
			ctx := context.Background()

			_, err := h.ctrl.Dispatch(ctx, p.ID, recovery.ActionRetryStep)
			require.NoError(t, err)
			_, err = h.ctrl.Dispatch(ctx, p.ID, recovery.ActionRetryAll)
			require.NoError(t, err)
			st, err := h.ctrl.Dispatch(ctx, p.ID, recovery.ActionRetryAll)
			require.NoError(t, err)
			assert.Equal(t, 3, st.Attempts)

			retry, _ := st.Action(recovery.ActionRetryStep)
			retryAll, _ := st.Action(recovery.ActionRetryAll)
			assert.False(t, retry.Enabled)
			assert.Equal(t, tt.retryAllEnabled, retryAll.Enabled)
		})
	}
}

func TestDispatch_RetrySucceedsAndRearms(t *testing.T) {
	h := newHarness(t)
	p := h.failedPipeline(t)

	h.ctrl.Dismiss(p.ID)
	st := h.ctrl.Status(p.ID)
	assert.False(t, st.Visible)
	assert.True(t, st.Dismissed)

	st, err := h.ctrl.Dispatch(context.Background(), p.ID, recovery.ActionRetryStep)
	require.NoError(t, err)
	assert.Equal(t, recovery.ModeNone, st.Mode)
	assert.False(t, st.Dismissed)
	assert.Equal(t, 0, st.Attempts)
	testutil.AssertPipelineStatus(t, h.stores.Pipelines, p.ID, models.PipelineStatusCompleted)
}

func TestStatus_StaysVisibleWhileRetryInFlight(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	// use the default goroutine spawn for this one
	h.ctrl = recovery.New(h.stores.Pipelines, h.exec, h.conn, 3)
	p := h.failedPipeline(t, testutil.Fail("first"),
		testutil.Reply{Result: ai.Result{Success: true, Data: "h"}, Wait: release})

	_, err := h.ctrl.Dispatch(context.Background(), p.ID, recovery.ActionRetryStep)
	require.NoError(t, err)
	testutil.WaitForStepStatus(t, h.stores.Pipelines, p.ID, 1, models.StepStatusRunning)

	st := h.ctrl.Status(p.ID)
	assert.Equal(t, recovery.ModeStepError, st.Mode)
	assert.True(t, st.Visible)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, "Recovery in progress.", st.Message)

	close(release)
	assert.Eventually(t, func() bool {
		return h.ctrl.Status(p.ID).Mode == recovery.ModeNone
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatch_ConnectionActions(t *testing.T) {
	h := newHarness(t)
	p := h.failedPipeline(t)
	h.conn.set(connection.StateDisconnected)

	st, err := h.ctrl.Dispatch(context.Background(), p.ID, recovery.ActionWaitConnection)
	require.NoError(t, err)
	assert.Equal(t, recovery.ModeNetwork, st.Mode)
	assert.False(t, st.Visible)
	assert.Equal(t, 0, h.conn.reconnects)

	st, err = h.ctrl.Dispatch(context.Background(), p.ID, recovery.ActionCheckConnection)
	require.NoError(t, err)
	assert.Equal(t, 1, h.conn.reconnects)
	// once the manager is connecting the step error is the mode again
	assert.Equal(t, recovery.ModeStepError, st.Mode)
	assert.Equal(t, 0, st.Attempts)

	// step state is untouched by connection actions
	testutil.AssertStepStatuses(t, h.stores.Pipelines, p.ID,
		models.StepStatusCompleted, models.StepStatusError, models.StepStatusPending)
}

func TestDispatch_NotAvailable(t *testing.T) {
	h := newHarness(t)
	p := testutil.NewPipeline(t, h.stores.Pipelines, "p", models.StepTypeBrainstorm)

	_, err := h.ctrl.Dispatch(context.Background(), p.ID, recovery.ActionRetryStep)
	assert.ErrorIs(t, err, recovery.ErrActionNotAvailable)
	_, err = h.ctrl.Dispatch(context.Background(), p.ID, recovery.Action("reboot"))
	assert.ErrorIs(t, err, recovery.ErrActionNotAvailable)
	assert.Empty(t, h.invoker.Calls())
}

func TestDispatch_PublishesStatus(t *testing.T) {
	capture := testutil.NewEventCapture()
	h := newHarness(t, recovery.WithEvents(capture.Channel()))
	p := h.failedPipeline(t, failures(2)...)

	_, err := h.ctrl.Dispatch(context.Background(), p.ID, recovery.ActionRetryStep)
	require.NoError(t, err)
	capture.Close()

	events := capture.AllEvents()
	require.Len(t, events, 1)
	ev, ok := events[0].(protocol.RecoveryStatusEvent)
	require.True(t, ok)
	assert.Equal(t, p.ID, ev.PipelineID)
	assert.Equal(t, string(recovery.ModeStepError), ev.Mode)
	assert.Equal(t, 1, ev.Attempts)
	assert.True(t, ev.Visible)
}

func TestParseAction(t *testing.T) {
	a, ok := recovery.ParseAction("skip_step")
	assert.True(t, ok)
	assert.Equal(t, recovery.ActionSkipStep, a)

	_, ok = recovery.ParseAction("skip")
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	h := newHarness(t)
	p := h.failedPipeline(t)
	h.ctrl.Dismiss(p.ID)
	require.NoError(t, h.stores.Pipelines.DeletePipeline(p.ID))
	h.ctrl.Forget(p.ID)

	st := h.ctrl.Status(p.ID)
	assert.Equal(t, recovery.ModeNone, st.Mode)
	assert.False(t, st.Dismissed)
}
