// Package sos implements the on-device emergency escalation state machine:
// a cancellable countdown that, on expiry, dispatches an emergency message
// exactly once.
package sos

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vigil-app/vigil/internal/geo"
)

// State is the escalation machine state.
type State string

// Machine states. Cancelled and Dispatching are transient terminal states
// for a session; the machine returns to Idle after either.
const (
	StateIdle        State = "idle"
	StateArmed       State = "armed"
	StateCancelled   State = "cancelled"
	StateDispatching State = "dispatching"
)

// Countdown defaults.
const (
	DefaultCountdown = 5 * time.Second
	TickInterval     = time.Second
)

// session is one arming of the machine, from trigger to terminal outcome.
type session struct {
	armedAt   time.Time
	remaining int
	cancelled bool
	ticker    *clock.Timer
}

// Machine runs the SOS escalation countdown. The remaining-seconds value
// displayed by any UI must come from Remaining(); recomputing it elsewhere
// would drift from the actual dispatch timing.
//
// One mutex guards all state, so cancellation and countdown expiry are
// checked atomically: a cancelled session can never dispatch, and dispatch
// fires at most once per session.
type Machine struct {
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
	countdown  time.Duration

	mu       sync.Mutex
	state    State
	current  *session
	location *geo.Point

	// Observers, called outside the lock.
	onStateChange func(State, int)
	onError       func(error)
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock substitutes the wall clock. Test hook.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithCountdown overrides the countdown duration.
func WithCountdown(d time.Duration) Option {
	return func(m *Machine) { m.countdown = d }
}

// WithStateChange registers an observer for state transitions, receiving the
// new state and the remaining whole seconds.
func WithStateChange(fn func(State, int)) Option {
	return func(m *Machine) { m.onStateChange = fn }
}

// WithErrorHandler registers an observer for dispatch failures.
func WithErrorHandler(fn func(error)) Option {
	return func(m *Machine) { m.onError = fn }
}

// NewMachine creates an idle Machine that escalates through dispatcher.
func NewMachine(dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		dispatcher: dispatcher,
		clock:      clock.New(),
		logger:     logger,
		countdown:  DefaultCountdown,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the whole seconds left on the countdown, or zero when no
// session is armed. This is the single source of truth for countdown display.
func (m *Machine) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.remaining
}

// SetLocation records the device's last known location, included in the
// dispatch message.
func (m *Machine) SetLocation(p geo.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := p
	m.location = &loc
}

// Arm starts a new escalation session with the configured countdown. Arming
// is a no-op unless the machine is idle: a double-tap on the SOS control
// cannot shorten or restart the countdown, and a session cannot start while
// a previous dispatch is still in flight. Returns true if a new session
// started.
func (m *Machine) Arm(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return false
	}

	sess := &session{
		armedAt:   m.clock.Now(),
		remaining: int(m.countdown / time.Second),
	}
	m.current = sess
	m.state = StateArmed
	sess.ticker = m.clock.AfterFunc(TickInterval, func() {
		m.tick(ctx, sess)
	})
	remaining := sess.remaining
	m.mu.Unlock()

	m.logger.Info("sos armed", slog.Int("countdown_seconds", remaining))
	m.notify(StateArmed, remaining)
	return true
}

// Cancel aborts the active session. Guaranteed effective at any point before
// countdown expiry: once Cancel has returned true, dispatch will not fire
// for that session. Returns false when nothing is armed.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	if m.state != StateArmed || m.current == nil {
		m.mu.Unlock()
		return false
	}
	m.current.cancelled = true
	m.current.ticker.Stop()
	m.current = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.logger.Info("sos cancelled")
	m.notify(StateCancelled, 0)
	m.notify(StateIdle, 0)
	return true
}

// tick decrements the session countdown. The cancellation check and the
// transition to dispatching happen under the same lock acquisition, so a
// cancel racing with the final tick resolves to exactly one of the two
// outcomes, never both.
func (m *Machine) tick(ctx context.Context, sess *session) {
	m.mu.Lock()
	if sess.cancelled || m.current != sess {
		m.mu.Unlock()
		return
	}
	sess.remaining--
	if sess.remaining > 0 {
		remaining := sess.remaining
		sess.ticker = m.clock.AfterFunc(TickInterval, func() {
			m.tick(ctx, sess)
		})
		m.mu.Unlock()
		m.notify(StateArmed, remaining)
		return
	}

	// Countdown reached zero with no cancellation recorded.
	m.state = StateDispatching
	m.current = nil
	var location *geo.Point
	if m.location != nil {
		loc := *m.location
		location = &loc
	}
	m.mu.Unlock()

	m.notify(StateDispatching, 0)
	m.dispatch(ctx, location)

	// Restore Idle only if no other transition happened while the
	// dispatcher ran; a state set by a newer session must not be clobbered.
	m.mu.Lock()
	settled := m.state == StateDispatching
	if settled {
		m.state = StateIdle
	}
	m.mu.Unlock()
	if settled {
		m.notify(StateIdle, 0)
	}
}

// dispatch invokes the emergency dispatch action exactly once per session.
func (m *Machine) dispatch(ctx context.Context, location *geo.Point) {
	err := m.dispatcher.Dispatch(ctx, location)
	if err != nil {
		// Both the message transport and the dial fallback failed. Surface
		// immediately; a silent retry loop would delay manual escalation.
		m.logger.Error("sos dispatch failed", slog.String("error", err.Error()))
		m.notifyError(err)
		return
	}
	m.logger.Info("sos dispatched")
}

func (m *Machine) notify(state State, remaining int) {
	if m.onStateChange != nil {
		m.onStateChange(state, remaining)
	}
}

func (m *Machine) notifyError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}
