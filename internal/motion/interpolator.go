// Package motion animates the live marker between discrete fixes.
package motion

import (
	"log/slog"
	"sync"
	"time"

	"trail-svr/internal/timeutil"
)

const DefaultDuration = 700 * time.Millisecond

// Interpolator moves one marker smoothly toward each new target. Only the
// marker position is reported per frame, through the sink. The sink runs
// with the interpolator locked and must not call back into it.
type Interpolator struct {
	sched    Scheduler
	clock    timeutil.Clock
	duration time.Duration
	ease     Easing
	sink     func(Position)
	log      *slog.Logger

	mu       sync.Mutex
	rendered Position
	placed   bool
	anim     *Animation
	task     Task
	gen      uint64
}

type Config struct {
	Scheduler Scheduler
	Clock     timeutil.Clock
	Duration  time.Duration
	Ease      Easing
	Logger    *slog.Logger
}

func NewInterpolator(cfg Config, sink func(Position)) *Interpolator {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewTickerScheduler(cfg.Clock, DefaultFrameInterval)
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Ease == nil {
		cfg.Ease = EaseInOutCubic
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if sink == nil {
		sink = func(Position) {}
	}
	return &Interpolator{
		sched:    cfg.Scheduler,
		clock:    cfg.Clock,
		duration: cfg.Duration,
		ease:     cfg.Ease,
		sink:     sink,
		log:      cfg.Logger.With("component", "motion"),
	}
}

// MoveTo retargets the marker. The first target is placed directly. A
// target equal to the one already being animated to changes nothing. A
// target equal to the rendered position stops any running animation there.
// Otherwise any running animation is cancelled and a new one starts from
// the last rendered position.
func (m *Interpolator) MoveTo(target Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.placed {
		m.placed = true
		m.rendered = target
		m.sink(target)
		return
	}
	if m.anim != nil && m.anim.To == target {
		return
	}
	m.cancel()
	if target == m.rendered {
		return
	}
	gen := m.gen
	m.anim = &Animation{
		From:     m.rendered,
		To:       target,
		Start:    m.clock.Now(),
		Duration: m.duration,
		Ease:     m.ease,
	}
	m.log.Debug("animating marker", "from", m.rendered, "to", target)
	m.task = m.sched.Every(func(now time.Time) bool { return m.frame(gen, now) })
}

// cancel must be called with m.mu held. Frames of the cancelled task that
// are already running see the new gen and deliver nothing.
func (m *Interpolator) cancel() {
	if m.task != nil {
		m.task.Cancel()
	}
	m.gen++
	m.anim = nil
	m.task = nil
}

// frame delivers to the sink with m.mu held, so a superseded frame can
// never reach the sink after MoveTo returns.
func (m *Interpolator) frame(gen uint64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.anim == nil {
		return false
	}
	pos, done := m.anim.At(now)
	m.rendered = pos
	if done {
		m.anim = nil
		m.task = nil
	}
	m.sink(pos)
	return !done
}

// Rendered returns the last position handed to the sink.
func (m *Interpolator) Rendered() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rendered, m.placed
}

// Animating reports whether an animation is in flight.
func (m *Interpolator) Animating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anim != nil
}

// Reset forgets the marker, e.g. after the active device changed, so the
// next target is placed without animating from the old device's position.
func (m *Interpolator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	m.placed = false
}

// Stop cancels any running animation, leaving the marker where it is.
func (m *Interpolator) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
}
