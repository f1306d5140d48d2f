// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package connection maintains the single long-lived socket to the AI
// backend: reconnection with exponential backoff, a retry cap, and a circuit
// breaker that pauses pipeline execution while the backend is unreachable.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/rs/zerolog"
)

// State is the connection state reported to the rest of the application.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateCircuitOpen  State = "circuit_open"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrSendBufferFull = errors.New("send buffer full")
)

const sendBuffer = 64

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetConnectionLogger()
		log = &l
	})
	return log
}

// PipelinePauser is told to suspend pipeline execution while the circuit is
// open and to release it once a connection succeeds.
type PipelinePauser interface {
	SetPausePipeline(paused bool)
}

// Metrics are cumulative connection counters.
type Metrics struct {
	Connects    int           `json:"connects"`
	Disconnects int           `json:"disconnects"`
	Failures    int           `json:"failures"`
	Uptime      time.Duration `json:"uptime"`
}

type subscription struct {
	id uint64
	fn Handler
}

// Manager owns the backend socket.
type Manager struct {
	cfg     config.ConnectionConfig
	breaker *Breaker
	delays  *backoff.ExponentialBackOff
	dialer  *websocket.Dialer
	pauser  PipelinePauser
	now     func() time.Time

	mu             sync.Mutex
	ctx            context.Context
	state          State
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	dialing        bool
	closed         bool
	retries        int
	retryTimer     *time.Timer
	connectedAt    time.Time
	metrics        Metrics
	pausedPipeline bool
	started        bool

	subs           map[string][]subscription
	nextSubID      uint64
	stateListeners []func(State)
}

// NewManager creates a manager in the disconnected state. Call Start to
// begin connecting. pauser may be nil.
func NewManager(cfg config.ConnectionConfig, bcfg config.BreakerConfig, pauser PipelinePauser) *Manager {
	m := &Manager{
		cfg:     cfg,
		breaker: NewBreaker(bcfg.FailureThreshold, bcfg.ResetTimeout),
		delays:  newReconnectBackOff(cfg.BaseDelay, cfg.MaxDelay),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		pauser: pauser,
		now:    time.Now,
		ctx:    context.Background(),
		state:  StateDisconnected,
		subs:   make(map[string][]subscription),
	}
	m.breaker.OnStateChange(m.onBreakerChange)
	return m
}

// Start begins connecting in the background. The manager closes itself when
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.started = true
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.Close()
	}()
	go m.attempt()
}

// setStateLocked must be called with m.mu held. The returned func notifies
// listeners and must be called after unlocking.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	from := m.state
	m.state = s
	listeners := append([]func(State){}, m.stateListeners...)
	return func() {
		getLog().Info().Str("from", string(from)).Str("to", string(s)).Msg("Connection state changed")
		for _, fn := range listeners {
			fn(s)
		}
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// attempt makes one dial. It is a no-op while the breaker is open, while
// another dial is in flight, or when already connected.
func (m *Manager) attempt() {
	if !m.breaker.Allow() {
		return
	}

	m.mu.Lock()
	if m.closed || m.conn != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.retryTimer = nil
	ctx := m.ctx
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	if m.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
		m.handleFailure(err)
		return
	}
	m.handleConnected(conn)
}

func (m *Manager) handleFailure(err error) {
	m.mu.Lock()
	m.metrics.Failures++
	failures := m.metrics.Failures
	closed := m.closed
	m.mu.Unlock()

	getLog().Warn().Err(err).Str("url", m.cfg.URL).Int("failures", failures).Msg("Connection attempt failed")
	if closed {
		return
	}

	m.breaker.RecordFailure()
	if m.breaker.State() == BreakerOpen {
		// The reset timer probes once it elapses.
		return
	}
	m.scheduleRetry()
}

// reserveRetryLocked takes one retry from the budget. When the budget is
// spent it moves to disconnected and returns false with the notify func for
// that transition; the caller must not dial again.
func (m *Manager) reserveRetryLocked() (func(), bool) {
	if m.retries >= m.cfg.MaxRetries {
		m.stopRetryLocked()
		return m.setStateLocked(StateDisconnected), false
	}
	m.retries++
	return nil, true
}

func (m *Manager) giveUp(notify func()) {
	getLog().Error().Int("retries", m.cfg.MaxRetries).Msg("Retry limit reached, giving up")
	notify()
}

func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if notify, ok := m.reserveRetryLocked(); !ok {
		m.mu.Unlock()
		m.giveUp(notify)
		return
	}

	delay := m.delays.NextBackOff()
	notify := m.setStateLocked(StateDisconnected)
	m.stopRetryLocked()
	m.retryTimer = time.AfterFunc(delay, m.attempt)
	retries := m.retries
	m.mu.Unlock()

	getLog().Debug().Dur("delay", delay).Int("retry", retries).Msg("Reconnect scheduled")
	notify()
}

func (m *Manager) handleConnected(conn *websocket.Conn) {
	m.mu.Lock()
	m.dialing = false
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	send := make(chan []byte, sendBuffer)
	done := make(chan struct{})
	m.send = send
	m.done = done
	m.retries = 0
	m.delays.Reset()
	m.connectedAt = m.now()
	m.metrics.Connects++
	resume := m.pausedPipeline
	m.pausedPipeline = false
	notify := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.breaker.RecordSuccess()
	notify()
	if resume && m.pauser != nil {
		m.pauser.SetPausePipeline(false)
	}

	go m.writePump(conn, send, done)
	go m.readPump(conn, done)
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, done chan struct{}) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.send = nil
	close(done)
	m.metrics.Disconnects++
	m.connectedAt = time.Time{}
	closed := m.closed
	m.mu.Unlock()

	conn.Close()
	if closed {
		return
	}
	getLog().Warn().Msg("Connection lost")
	m.scheduleRetry()
}

func (m *Manager) onBreakerChange(_, to BreakerState) {
	switch to {
	case BreakerOpen:
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.stopRetryLocked()
		notify := m.setStateLocked(StateCircuitOpen)
		pause := m.pauser != nil && !m.pausedPipeline
		m.pausedPipeline = m.pausedPipeline || pause
		m.mu.Unlock()
		notify()
		if pause {
			m.pauser.SetPausePipeline(true)
		}
	case BreakerHalfOpen:
		// Probes draw on the same retry budget as scheduled reconnects.
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		notify, ok := m.reserveRetryLocked()
		m.mu.Unlock()
		if !ok {
			m.giveUp(notify)
			return
		}
		go m.attempt()
	}
}

func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	defer m.handleDisconnect(conn, done)

	if m.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageBytes)
	}
	if m.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
			return nil
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Warn().Err(err).Msg("Socket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			getLog().Warn().Err(err).Msg("Invalid inbound message")
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	pingPeriod := m.cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-send:
			conn.SetWriteDeadline(m.writeDeadline())
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Warn().Err(err).Msg("Socket write error")
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(m.writeDeadline())
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) writeDeadline() time.Time {
	if m.cfg.WriteWait <= 0 {
		return time.Time{}
	}
	return time.Now().Add(m.cfg.WriteWait)
}

func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	subs := append([]subscription(nil), m.subs[msg.Type]...)
	m.mu.Unlock()

	if len(subs) == 0 {
		getLog().Trace().Str("type", msg.Type).Msg("No subscribers for message")
		return
	}
	for _, s := range subs {
		s.fn(msg)
	}
}

// Subscribe registers fn for inbound messages of msgType and returns a
// function that removes it.
func (m *Manager) Subscribe(msgType string, fn Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[msgType] = append(m.subs[msgType], subscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[msgType]
		for i, s := range subs {
			if s.id == id {
				m.subs[msgType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn to be called on every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListeners = append(m.stateListeners, fn)
}

// Send queues msg for delivery.
func (m *Manager) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateCircuitOpen {
		return ErrCircuitOpen
	}
	if m.conn == nil {
		return ErrNotConnected
	}
	select {
	case m.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// JoinProject announces interest in a project's messages.
func (m *Manager) JoinProject(projectID string) error {
	return m.Send(Message{Type: TypeJoinProject, Payload: map[string]any{"projectId": projectID}})
}

// LeaveProject withdraws from a project's messages.
func (m *Manager) LeaveProject(projectID string) error {
	return m.Send(Message{Type: TypeLeaveProject, Payload: map[string]any{"projectId": projectID}})
}

// StartTyping notifies collaborators that the user is typing.
func (m *Manager) StartTyping(projectID string) error {
	return m.Send(Message{Type: TypeTypingStart, Payload: map[string]any{"projectId": projectID}})
}

// StopTyping clears the typing indicator.
func (m *Manager) StopTyping(projectID string) error {
	return m.Send(Message{Type: TypeTypingStop, Payload: map[string]any{"projectId": projectID}})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CircuitBreakerState returns the breaker snapshot.
func (m *Manager) CircuitBreakerState() BreakerSnapshot {
	return m.breaker.Snapshot()
}

// Metrics returns the connection counters. Uptime is measured from the last
// successful connect and is zero while not connected.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.metrics
	if m.conn != nil && !m.connectedAt.IsZero() {
		out.Uptime = m.now().Sub(m.connectedAt)
	}
	return out
}

// Reconnect is the manual recovery path: it resets the retry budget and the
// breaker and dials immediately unless already connected.
func (m *Manager) Reconnect(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopRetryLocked()
	m.retries = 0
	m.delays.Reset()
	if !m.started {
		m.ctx = ctx
	}
	m.mu.Unlock()

	getLog().Info().Msg("Manual reconnect requested")
	m.breaker.Reset()
	go m.attempt()
}

// Close tears down the socket and clears the reconnect and breaker timers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopRetryLocked()
	conn := m.conn
	if conn != nil {
		m.conn = nil
		m.send = nil
		close(m.done)
		m.metrics.Disconnects++
		m.connectedAt = time.Time{}
	}
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.breaker.Stop()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	notify()
}
