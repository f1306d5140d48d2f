// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package recovery decides which recovery affordances a pipeline offers after
// a network problem or a failed step, and dispatches the chosen action.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/inkwell/internal/connection"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrRetryLimitReached  = errors.New("retry limit reached")
	ErrActionNotAvailable = errors.New("recovery action not available")
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetRecoveryLogger()
		log = &l
	})
	return log
}

// Mode is the failure class a recovery panel is showing.
type Mode string

const (
	ModeNone      Mode = "none"
	ModeNetwork   Mode = "network"
	ModeStepError Mode = "step_error"
)

// Action is a recovery affordance.
type Action string

const (
	ActionRetryStep       Action = "retry_step"
	ActionSkipStep        Action = "skip_step"
	ActionRetryAll        Action = "retry_all"
	ActionCheckConnection Action = "check_connection"
	ActionWaitConnection  Action = "wait_connection"
)

// ParseAction converts s to an Action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	switch a {
	case ActionRetryStep, ActionSkipStep, ActionRetryAll, ActionCheckConnection, ActionWaitConnection:
		return a, true
	}
	return "", false
}

// ActionStatus is one action as offered on the panel.
type ActionStatus struct {
	Action  Action `json:"action"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// Status is the recovery panel state for one pipeline.
type Status struct {
	PipelineID  string         `json:"pipeline_id"`
	Mode        Mode           `json:"mode"`
	Visible     bool           `json:"visible"`
	Dismissed   bool           `json:"dismissed"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Actions     []ActionStatus `json:"actions"`
	Message     string         `json:"message,omitempty"`
}

// Action returns the entry for a in s.Actions.
func (s Status) Action(a Action) (ActionStatus, bool) {
	return lo.Find(s.Actions, func(as ActionStatus) bool { return as.Action == a })
}

// Pipelines reads pipeline state.
type Pipelines interface {
	Pipeline(pipelineID string) (models.Pipeline, bool)
}

// Executor runs the step-level recovery primitives.
type Executor interface {
	IsExecuting(pipelineID string) bool
	RetryStep(ctx context.Context, pipelineID string) error
	SkipStep(ctx context.Context, pipelineID string) error
	RetryAll(ctx context.Context, pipelineID string) error
}

// Connection reports the backend connection state and can be asked to reconnect.
type Connection interface {
	State() connection.State
	Reconnect(ctx context.Context)
}

type panel struct {
	dismissed bool
	attempts  int
	inflight  int
}

// Controller tracks recovery panels per pipeline.
type Controller struct {
	pipelines   Pipelines
	exec        Executor
	conn        Connection
	maxAttempts int
	capRetryAll bool
	spawn       func(func())
	events      chan<- protocol.Event

	mu     sync.Mutex
	panels map[string]*panel
}

// Option configures a Controller.
type Option func(*Controller)

// WithSpawn replaces how dispatched actions are run. The default starts a goroutine.
func WithSpawn(spawn func(func())) Option {
	return func(c *Controller) { c.spawn = spawn }
}

// WithEvents publishes a RecoveryStatusEvent after every dispatched action.
func WithEvents(ch chan<- protocol.Event) Option {
	return func(c *Controller) { c.events = ch }
}

// WithUncappedRetryAll leaves retry_all enabled after the attempt cap.
func WithUncappedRetryAll() Option {
	return func(c *Controller) { c.capRetryAll = false }
}

// New creates a controller. conn may be nil when there is no backend socket.
func New(pipelines Pipelines, exec Executor, conn Connection, maxAttempts int, opts ...Option) *Controller {
	c := &Controller{
		pipelines:   pipelines,
		exec:        exec,
		conn:        conn,
		maxAttempts: maxAttempts,
		capRetryAll: true,
		spawn:       func(f func()) { go f() },
		panels:      make(map[string]*panel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) panelLocked(pipelineID string) *panel {
	p, ok := c.panels[pipelineID]
	if !ok {
		p = &panel{}
		c.panels[pipelineID] = p
	}
	return p
}

func (c *Controller) networkDown() (connection.State, bool) {
	if c.conn == nil {
		return "", false
	}
	s := c.conn.State()
	return s, s == connection.StateCircuitOpen || s == connection.StateDisconnected
}

// Status refreshes and returns the panel state of pipelineID. When there is
// no error step, no network issue and no execution in flight the panel hides
// and its dismissed flag and attempt counter are cleared. An action counts
// as in flight from Dispatch until the executor call returns.
func (c *Controller) Status(pipelineID string) Status {
	p, ok := c.pipelines.Pipeline(pipelineID)
	if !ok {
		return Status{PipelineID: pipelineID, Mode: ModeNone, MaxAttempts: c.maxAttempts}
	}
	connState, network := c.networkDown()
	executing := c.exec.IsExecuting(pipelineID)

	c.mu.Lock()
	defer c.mu.Unlock()
	pn := c.panelLocked(pipelineID)

	if !network && !p.HasErrors() && !executing && pn.inflight == 0 {
		pn.dismissed = false
		pn.attempts = 0
	}

	st := Status{
		PipelineID:  pipelineID,
		Dismissed:   pn.dismissed,
		Attempts:    pn.attempts,
		MaxAttempts: c.maxAttempts,
	}
	switch {
	case network:
		st.Mode = ModeNetwork
		st.Actions = []ActionStatus{
			{ActionCheckConnection, "Check connection", true},
			{ActionWaitConnection, "Wait for connection", true},
		}
		if connState == connection.StateCircuitOpen {
			st.Message = "Too many connection failures. Pipelines are paused until the backend is reachable again."
		} else {
			st.Message = "The connection to the backend was lost."
		}
	case p.HasErrors() || pn.attempts > 0:
		st.Mode = ModeStepError
		hasError := p.HasErrors()
		capped := pn.attempts >= c.maxAttempts
		st.Actions = []ActionStatus{
			{ActionRetryStep, "Retry step", hasError && !capped},
			{ActionSkipStep, "Skip step", hasError},
			{ActionRetryAll, "Retry all failed steps", hasError && !(capped && c.capRetryAll)},
		}
		switch {
		case capped:
			st.Message = fmt.Sprintf("Retry limit reached after %d attempts. Skip the step or reset the pipeline.", pn.attempts)
		case hasError:
			step := p.Steps[p.FirstErrorStep()]
			st.Message = fmt.Sprintf("Step %q failed: %s", step.Name, step.Error)
		default:
			st.Message = "Recovery in progress."
		}
	default:
		st.Mode = ModeNone
	}
	st.Visible = st.Mode != ModeNone && !pn.dismissed
	return st
}

// Dismiss hides the panel of pipelineID until it re-arms.
func (c *Controller) Dismiss(pipelineID string) {
	if _, ok := c.pipelines.Pipeline(pipelineID); !ok {
		return
	}
	c.mu.Lock()
	c.panelLocked(pipelineID).dismissed = true
	c.mu.Unlock()
	getLog().Debug().Str("pipeline_id", pipelineID).Msg("Recovery panel dismissed")
}

// Dispatch performs action for pipelineID. Step-level actions count against
// the shared attempt budget and run the executor in the background; the
// returned Status reflects the state right after dispatch.
func (c *Controller) Dispatch(ctx context.Context, pipelineID string, action Action) (Status, error) {
	l := getLog().With().Str("pipeline_id", pipelineID).Str("action", string(action)).Logger()
	bg := context.WithoutCancel(ctx)

	switch action {
	case ActionCheckConnection:
		c.Dismiss(pipelineID)
		if c.conn != nil {
			c.spawn(func() { c.conn.Reconnect(bg) })
		}
		l.Info().Msg("Reconnect requested")
		return c.publish(pipelineID), nil
	case ActionWaitConnection:
		c.Dismiss(pipelineID)
		return c.publish(pipelineID), nil
	}

	var run func(context.Context, string) error
	switch action {
	case ActionRetryStep:
		run = c.exec.RetryStep
	case ActionSkipStep:
		run = c.exec.SkipStep
	case ActionRetryAll:
		run = c.exec.RetryAll
	default:
		return c.Status(pipelineID), fmt.Errorf("%w: %q", ErrActionNotAvailable, action)
	}

	st := c.Status(pipelineID)
	as, ok := st.Action(action)
	if !ok || !as.Enabled {
		if st.Mode == ModeStepError && st.Attempts >= c.maxAttempts {
			l.Warn().Int("attempts", st.Attempts).Msg("Recovery action refused, retry limit reached")
			return st, ErrRetryLimitReached
		}
		return st, fmt.Errorf("%w: %s in mode %s", ErrActionNotAvailable, action, st.Mode)
	}

	c.mu.Lock()
	pn := c.panelLocked(pipelineID)
	pn.attempts++
	pn.inflight++
	attempts := pn.attempts
	c.mu.Unlock()
	l.Info().Int("attempt", attempts).Msg("Dispatching recovery action")

	c.spawn(func() {
		defer func() {
			c.mu.Lock()
			pn.inflight--
			c.mu.Unlock()
		}()
		if err := run(bg, pipelineID); err != nil {
			l.Warn().Err(err).Msg("Recovery action failed")
		}
	})
	return c.publish(pipelineID), nil
}

func (c *Controller) publish(pipelineID string) Status {
	st := c.Status(pipelineID)
	if c.events == nil {
		return st
	}
	ev := protocol.RecoveryStatusEvent{
		Metadata:   protocol.NewMetadata(fmt.Sprintf("recovery:%s:%s:%d:%t", pipelineID, st.Mode, st.Attempts, st.Visible)),
		PipelineID: pipelineID,
		Mode:       string(st.Mode),
		Visible:    st.Visible,
		Attempts:   st.Attempts,
		Message:    st.Message,
	}
	select {
	case c.events <- ev:
	default:
		getLog().Warn().Str("pipeline_id", pipelineID).Msg("Event channel full, dropping recovery status")
	}
	return st
}

// Forget drops the panel state of a deleted pipeline.
func (c *Controller) Forget(pipelineID string) {
	c.mu.Lock()
	delete(c.panels, pipelineID)
	c.mu.Unlock()
}
