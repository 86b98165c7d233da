// Package silence watches the session's activity clock and ends the
// recording after a configurable stretch of silence, so a forgotten
// recorder does not run forever.
package silence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for the monitor and the per-source activity thresholds. The
// thresholds differ because the microphone meters device peak level
// while the loopback path meters frame RMS.
const (
	DefaultMicThreshold      = 0.005
	DefaultLoopbackThreshold = 0.001
	DefaultCheckPeriod       = 30 * time.Second
	DefaultAutoStopAfter     = 5 * time.Minute
)

// Monitor periodically compares the activity clock's idle time against
// the auto-stop window. When the window is exceeded it invokes onIdle
// exactly once and disengages; it never fires again for the same run.
type Monitor struct {
	clock     *ActivityClock
	sched     Scheduler
	period    time.Duration
	stopAfter time.Duration
	onIdle    func()
	log       zerolog.Logger

	mu        sync.Mutex
	cancel    func()
	triggered bool
}

// NewMonitor creates a silence monitor. onIdle is called asynchronously
// from the scheduler's context.
func NewMonitor(clock *ActivityClock, sched Scheduler, period, stopAfter time.Duration, onIdle func(), log zerolog.Logger) *Monitor {
	if period <= 0 {
		period = DefaultCheckPeriod
	}
	if stopAfter <= 0 {
		stopAfter = DefaultAutoStopAfter
	}
	return &Monitor{
		clock:     clock,
		sched:     sched,
		period:    period,
		stopAfter: stopAfter,
		onIdle:    onIdle,
		log:       log.With().Str("component", "silence").Logger(),
	}
}

// Start begins periodic checks. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	m.triggered = false
	m.cancel = m.sched.Every(m.period, m.Check)
}

// Check runs one idle evaluation. The scheduler calls it on every
// period; tests call it directly.
func (m *Monitor) Check() {
	m.mu.Lock()
	if m.triggered {
		m.mu.Unlock()
		return
	}
	idle := m.clock.IdleFor()
	if idle < m.stopAfter {
		m.mu.Unlock()
		return
	}
	m.triggered = true
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	m.log.Info().Dur("idle", idle).Dur("limit", m.stopAfter).Msg("Silence limit reached, stopping session")
	if cancel != nil {
		cancel()
	}
	if m.onIdle != nil {
		m.onIdle()
	}
}

// Stop halts the periodic checks. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
