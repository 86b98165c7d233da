// Package session owns the recording lifecycle: acquiring both capture
// sources, running the silence monitor, and handing the finished
// tracks to the mixer.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/callrec/internal/audio"
	"github.com/petems/callrec/internal/silence"
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// quiescent reports whether Start may create a new session from s.
// Failed counts: a failed Start releases everything it acquired, so
// the controller is as idle as after a clean Stop.
func (s State) quiescent() bool {
	return s == Idle || s == Stopped || s == Failed
}

// Session describes one recording, created on Start and immutable
// apart from its degraded flag.
type Session struct {
	ID                 string
	Label              string
	StartedAt          time.Time
	PrimaryTrackPath   string
	SecondaryTrackPath string

	degraded bool
	artifact string
}

// Degraded reports whether the session is microphone-only because the
// system-audio source could not be opened.
func (s *Session) Degraded() bool {
	return s.degraded
}

// Artifact returns the final artifact path once the session has
// stopped, or empty while it is still running.
func (s *Session) Artifact() string {
	return s.artifact
}

// SourceFactory builds a capture source wired to the session's
// activity signal.
type SourceFactory func(onActivity audio.ActivityFunc) audio.Source

// Mixer combines the two finished tracks into one artifact.
type Mixer interface {
	Mix(ctx context.Context, primaryPath, secondaryPath string) (string, error)
}

// Config holds controller tunables.
type Config struct {
	OutputDir        string
	MinLoopbackBytes int64
	CheckPeriod      time.Duration
	AutoStopAfter    time.Duration
}

// Deps are the controller's collaborators, all injected by the
// composition root. CheckPermission and Now may be nil.
type Deps struct {
	Mic             SourceFactory
	Loopback        SourceFactory
	Mixer           Mixer
	Scheduler       silence.Scheduler
	CheckPermission func() error
	Now             func() time.Time
}

// Controller serializes the session lifecycle. Start and Stop are
// expected from a single coordinating context; the silence monitor's
// asynchronous stop goes through the same mutex.
type Controller struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	session  *Session
	mic      audio.Source
	loopback audio.Source
	monitor  *silence.Monitor
}

// NewController creates an idle controller.
func NewController(cfg Config, deps Deps, log zerolog.Logger) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Scheduler == nil {
		deps.Scheduler = silence.TickerScheduler{}
	}
	return &Controller{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "session").Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the active or most recent session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start begins a new recording session and returns the primary track
// path. The microphone is a hard dependency; the system-audio source
// is opened best-effort and its absence only degrades the session.
func (c *Controller) Start(label string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.quiescent() {
		return "", fmt.Errorf("%w (state %s)", ErrAlreadyRecording, c.state)
	}

	if c.deps.CheckPermission != nil {
		if err := c.deps.CheckPermission(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	c.state = Starting

	startedAt := c.deps.Now()
	id := uuid.New()
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		c.state = Failed
		return "", fmt.Errorf("%w: create output dir: %v", ErrEncoderInitFailed, err)
	}
	primary, secondary := trackPaths(c.cfg.OutputDir, label, startedAt, id.String()[:8])

	sess := &Session{
		ID:                 id.String(),
		Label:              label,
		StartedAt:          startedAt,
		PrimaryTrackPath:   primary,
		SecondaryTrackPath: secondary,
	}

	clock := silence.NewActivityClock(c.deps.Now)

	mic := c.deps.Mic(clock.Touch)
	if err := mic.Open(primary); err != nil {
		c.state = Failed
		if errors.Is(err, audio.ErrSourceUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrEncoderInitFailed, err)
	}

	var loopback audio.Source
	if c.deps.Loopback != nil {
		lb := c.deps.Loopback(clock.Touch)
		if err := lb.Open(secondary); err != nil {
			// Degraded mode: keep recording with the microphone only.
			c.log.Warn().Err(err).Msg("System audio unavailable, recording microphone only")
			sess.degraded = true
		} else {
			loopback = lb
		}
	} else {
		sess.degraded = true
	}

	monitor := silence.NewMonitor(clock, c.deps.Scheduler, c.cfg.CheckPeriod, c.cfg.AutoStopAfter, c.autoStop, c.log)
	monitor.Start()

	c.session = sess
	c.mic = mic
	c.loopback = loopback
	c.monitor = monitor
	c.state = Recording

	c.log.Info().
		Str("session", sess.ID).
		Str("primary", primary).
		Bool("degraded", sess.degraded).
		Msg("Recording started")
	return primary, nil
}

// autoStop is the silence monitor's callback. The monitor fires it at
// most once per session, off the coordinating context.
func (c *Controller) autoStop() {
	if _, err := c.Stop(context.Background()); err != nil {
		c.log.Error().Err(err).Msg("Auto-stop failed")
	}
}

// Stop ends the active session and returns the final artifact path: the
// mixed track when the secondary sink captured meaningful content and
// the mix succeeded, otherwise the primary track. Calling Stop when no
// session is active is a no-op. Stop does not return until both sinks
// are flushed and closed and the mix has completed or failed.
func (c *Controller) Stop(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Recording && c.state != Starting {
		return "", nil
	}
	c.state = Stopping
	sess := c.session

	if c.monitor != nil {
		c.monitor.Stop()
	}

	// Close independently: a failure on one side must not leave the
	// other sink unflushed.
	if err := c.mic.Close(); err != nil {
		c.log.Error().Err(err).Msg("Closing microphone source failed")
	}
	var secondaryBytes int64
	if c.loopback != nil {
		if err := c.loopback.Close(); err != nil {
			c.log.Error().Err(err).Msg("Closing system audio source failed")
		}
		secondaryBytes = c.loopback.SinkBytes()
	}

	artifact := sess.PrimaryTrackPath
	if secondaryBytes >= c.cfg.MinLoopbackBytes && secondaryBytes > 0 {
		mixed, err := c.deps.Mixer.Mix(ctx, sess.PrimaryTrackPath, sess.SecondaryTrackPath)
		if err != nil {
			c.log.Error().Err(errors.Join(ErrMixFailed, err)).Msg("Falling back to primary track")
		} else {
			artifact = mixed
		}
	} else {
		c.log.Debug().Int64("bytes", secondaryBytes).Msg("Secondary track below threshold, skipping mix")
	}

	sess.artifact = artifact
	c.mic = nil
	c.loopback = nil
	c.monitor = nil
	c.state = Stopped

	c.log.Info().
		Str("session", sess.ID).
		Str("artifact", artifact).
		Dur("duration", c.deps.Now().Sub(sess.StartedAt)).
		Msg("Recording stopped")
	return artifact, nil
}
