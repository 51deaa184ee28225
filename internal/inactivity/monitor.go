// Package inactivity drives a two-stage idle timeout: a warning after
// warnAfter without qualifying activity, then a logout after logoutAfter.
// The countdown pauses while the client reports itself hidden.
package inactivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"jobcard-backend/internal/logging"
)

const (
	DefaultWarnAfter   = 4 * time.Minute
	DefaultLogoutAfter = 5 * time.Minute
)

// Activity kinds that count as user interaction.
const (
	ActivityPointer = "pointer"
	ActivityKey     = "key"
	ActivityScroll  = "scroll"
	ActivityTouch   = "touch"
	ActivityClick   = "click"
)

func IsQualifying(kind string) bool {
	switch kind {
	case ActivityPointer, ActivityKey, ActivityScroll, ActivityTouch, ActivityClick:
		return true
	}
	return false
}

// Monitor is owned by whoever starts it; it is inert until Start and again
// after Destroy or a logout.
type Monitor struct {
	clock       Clock
	warnAfter   time.Duration
	logoutAfter time.Duration

	mu          sync.Mutex
	onLogout    func()
	onWarning   func()
	warnTimer   Timer
	logoutTimer Timer
	warnAt      time.Time
	logoutAt    time.Time
	running     bool
	paused      bool
	warned      bool
	generation  uint64
}

// NewMonitor returns an idle monitor. Non-positive durations fall back to the
// defaults, and warnAfter is clamped below logoutAfter.
func NewMonitor(clock Clock, warnAfter, logoutAfter time.Duration) *Monitor {
	if clock == nil {
		clock = RealClock{}
	}
	if logoutAfter <= 0 {
		logoutAfter = DefaultLogoutAfter
	}
	if warnAfter <= 0 || warnAfter >= logoutAfter {
		warnAfter = logoutAfter - logoutAfter/5
	}
	return &Monitor{clock: clock, warnAfter: warnAfter, logoutAfter: logoutAfter}
}

func (m *Monitor) WarnAfter() time.Duration   { return m.warnAfter }
func (m *Monitor) LogoutAfter() time.Duration { return m.logoutAfter }

// Start binds the logout callback and schedules both deadlines from now.
// Calling it again replaces the callback and restarts the countdown.
func (m *Monitor) Start(onLogout func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = onLogout
	m.running = true
	m.paused = false
	m.scheduleLocked()
}

// OnWarning binds the warning callback, replacing any previous one.
func (m *Monitor) OnWarning(fn func()) {
	m.mu.Lock()
	m.onWarning = fn
	m.mu.Unlock()
}

// ResetTimer reschedules both deadlines from now. It does nothing while
// paused or before Start.
func (m *Monitor) ResetTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.paused {
		return
	}
	m.scheduleLocked()
}

// RecordActivity treats a qualifying interaction as a reset. It reports
// whether the event moved the deadlines.
func (m *Monitor) RecordActivity(kind string) bool {
	if !IsQualifying(kind) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.paused {
		return false
	}
	m.scheduleLocked()
	return true
}

// SetVisible pauses the countdown when the client is hidden and restarts it
// fresh when it becomes visible again.
func (m *Monitor) SetVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !visible {
		if m.paused {
			return
		}
		m.paused = true
		m.cancelLocked()
		return
	}
	if !m.paused {
		return
	}
	m.paused = false
	if m.running {
		m.scheduleLocked()
	}
}

// Destroy cancels both deadlines and drops both callbacks.
func (m *Monitor) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	m.onLogout = nil
	m.onWarning = nil
	m.running = false
	m.paused = false
}

// Deadlines returns the scheduled warning and logout instants. ok is false
// when nothing is scheduled.
func (m *Monitor) Deadlines() (warnAt, logoutAt time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logoutTimer == nil {
		return time.Time{}, time.Time{}, false
	}
	return m.warnAt, m.logoutAt, true
}

func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Warned reports whether the warning fired for the current deadlines.
func (m *Monitor) Warned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warned
}

// Remaining is the time left before logout, zero when nothing is scheduled.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logoutTimer == nil {
		return 0
	}
	if d := m.logoutAt.Sub(m.clock.Now()); d > 0 {
		return d
	}
	return 0
}

func (m *Monitor) scheduleLocked() {
	m.cancelLocked()
	gen := m.generation
	now := m.clock.Now()
	m.warnAt = now.Add(m.warnAfter)
	m.logoutAt = now.Add(m.logoutAfter)
	m.warnTimer = m.clock.AfterFunc(m.warnAfter, func() { m.fireWarning(gen) })
	m.logoutTimer = m.clock.AfterFunc(m.logoutAfter, func() { m.fireLogout(gen) })
}

// cancelLocked stops both timers and invalidates any callback already queued
// by the runtime.
func (m *Monitor) cancelLocked() {
	m.generation++
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
		m.logoutTimer = nil
	}
	m.warnAt = time.Time{}
	m.logoutAt = time.Time{}
	m.warned = false
}

func (m *Monitor) fireWarning(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.warned = true
	m.warnTimer = nil
	cb := m.onWarning
	logoutAt := m.logoutAt
	m.mu.Unlock()

	logging.Debug(context.Background(), "inactivity warning", slog.Time("logout_at", logoutAt))
	if cb != nil {
		cb()
	}
}

func (m *Monitor) fireLogout(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.cancelLocked()
	m.running = false
	cb := m.onLogout
	m.mu.Unlock()

	logging.Info(context.Background(), "inactivity timeout reached")
	if cb != nil {
		cb()
	}
}
