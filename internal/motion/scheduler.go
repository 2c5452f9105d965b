package motion

import (
	"sync"
	"time"

	"trail-svr/internal/timeutil"
)

// DefaultFrameInterval approximates a 60 Hz display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler runs a per-frame callback until it returns false or the task
// is cancelled.
type Scheduler interface {
	Every(frame func(now time.Time) bool) Task
}

type Task interface {
	Cancel()
}

// TickerScheduler drives frames from a clock ticker.
type TickerScheduler struct {
	Clock    timeutil.Clock
	Interval time.Duration
}

func NewTickerScheduler(clock timeutil.Clock, interval time.Duration) *TickerScheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &TickerScheduler{Clock: clock, Interval: interval}
}

type tickerTask struct {
	once sync.Once
	stop chan struct{}
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() { close(t.stop) })
}

func (s *TickerScheduler) Every(frame func(now time.Time) bool) Task {
	task := &tickerTask{stop: make(chan struct{})}
	ticker := s.Clock.NewTicker(s.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-task.stop:
				return
			case now := <-ticker.C():
				if !frame(now) {
					return
				}
			}
		}
	}()
	return task
}
