// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/noldarim/inkwell/internal/ai"
	"github.com/noldarim/inkwell/internal/models"
	"github.com/noldarim/inkwell/internal/protocol"
	"github.com/stretchr/testify/mock"
)

// EventCapture collects events sent through a channel
type EventCapture struct {
	Events []protocol.Event
	ch     chan protocol.Event
	mu     sync.RWMutex
	done   chan struct{}
}

// NewEventCapture creates a new event capture instance
func NewEventCapture() *EventCapture {
	capture := &EventCapture{
		ch:   make(chan protocol.Event, 256),
		done: make(chan struct{}),
	}

	go func() {
		defer close(capture.done)
		for ev := range capture.ch {
			capture.mu.Lock()
			capture.Events = append(capture.Events, ev)
			capture.mu.Unlock()
		}
	}()

	return capture
}

// Channel returns the send channel for events
func (c *EventCapture) Channel() chan<- protocol.Event {
	return c.ch
}

// Close stops capturing and waits until every buffered event is recorded
func (c *EventCapture) Close() {
	close(c.ch)
	<-c.done
}

// AllEvents returns a copy of all captured events
func (c *EventCapture) AllEvents() []protocol.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]protocol.Event, len(c.Events))
	copy(result, c.Events)
	return result
}

// LifecycleTypes returns the types of captured lifecycle events, in order
func (c *EventCapture) LifecycleTypes() []protocol.PipelineLifecycleType {
	var out []protocol.PipelineLifecycleType
	for _, ev := range c.AllEvents() {
		if lc, ok := ev.(protocol.PipelineLifecycleEvent); ok {
			out = append(out, lc.Type)
		}
	}
	return out
}

// Reply is one scripted answer of a ScriptedInvoker.
type Reply struct {
	Result ai.Result
	Err    error
	// Wait, when set, blocks the call until it is closed or ctx ends.
	Wait <-chan struct{}
}

// Succeed returns a successful reply carrying data
func Succeed(data any) Reply {
	return Reply{Result: ai.Result{Success: true, Data: data}}
}

// Fail returns an unsuccessful reply with the given reason
func Fail(reason string) Reply {
	return Reply{Result: ai.Result{Success: false, Error: reason}}
}

// InvokeCall records one call made to a ScriptedInvoker.
type InvokeCall struct {
	StepType models.StepType
	Params   map[string]any
	Context  map[string]any
}

// ScriptedInvoker answers AI requests from per-step-type reply queues.
// Once a queue is empty, calls succeed with "<type> result".
type ScriptedInvoker struct {
	mu      sync.Mutex
	replies map[models.StepType][]Reply
	calls   []InvokeCall
}

// NewScriptedInvoker creates an invoker with empty queues
func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{replies: make(map[models.StepType][]Reply)}
}

// On queues replies for stepType
func (s *ScriptedInvoker) On(stepType models.StepType, replies ...Reply) *ScriptedInvoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[stepType] = append(s.replies[stepType], replies...)
	return s
}

func (s *ScriptedInvoker) Invoke(ctx context.Context, stepType models.StepType, params, stepContext map[string]any) (ai.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, InvokeCall{StepType: stepType, Params: params, Context: stepContext})
	reply := Succeed(fmt.Sprintf("%s result", stepType))
	if q := s.replies[stepType]; len(q) > 0 {
		reply = q[0]
		s.replies[stepType] = q[1:]
	}
	s.mu.Unlock()

	if reply.Wait != nil {
		select {
		case <-reply.Wait:
		case <-ctx.Done():
			return ai.Result{}, ctx.Err()
		}
	}
	return reply.Result, reply.Err
}

// Calls returns a copy of all recorded calls
func (s *ScriptedInvoker) Calls() []InvokeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InvokeCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of calls made for stepType
func (s *ScriptedInvoker) CallCount(stepType models.StepType) int {
	n := 0
	for _, c := range s.Calls() {
		if c.StepType == stepType {
			n++
		}
	}
	return n
}

// MockInvoker is a testify mock of ai.Invoker
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, stepType models.StepType, params, stepContext map[string]any) (ai.Result, error) {
	args := m.Called(ctx, stepType, params, stepContext)
	return args.Get(0).(ai.Result), args.Error(1)
}
