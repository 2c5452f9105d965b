package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"trail-svr/internal/observability"
	"trail-svr/internal/pipeline"
	"trail-svr/internal/timeutil"
)

const (
	DefaultLatestTimeout   = 12 * time.Second
	DefaultHistoryTimeout  = 15 * time.Second
	DefaultRefreshInterval = 10 * time.Second
)

// Source is the external fix service.
type Source interface {
	Latest(ctx context.Context, deviceID string) (*pipeline.RawSample, error)
	History(ctx context.Context, deviceID string) ([]pipeline.RawSample, error)
}

// Cache is the local per-device trajectory fallback.
type Cache interface {
	Save(ctx context.Context, deviceID string, t pipeline.Trajectory)
	Load(ctx context.Context, deviceID string) pipeline.Trajectory
	Clear(ctx context.Context, deviceID string)
}

type Options struct {
	Clean          pipeline.Options
	LatestTimeout  time.Duration
	HistoryTimeout time.Duration
	Clock          timeutil.Clock
	Logger         *slog.Logger
}

// Controller runs refresh cycles for the active device and publishes the
// resulting State to subscribers.
type Controller struct {
	src   Source
	cache Cache
	opts  Options
	clock timeutil.Clock
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	seq      uint64
	subs     map[int]func(State)
	nextSub  int
	autoStop chan struct{}

	// serializes mutations with their delivery so subscribers observe
	// commits in order; always taken before mu
	notifyMu sync.Mutex
}

func New(src Source, cache Cache, opts Options) *Controller {
	if opts.LatestTimeout <= 0 {
		opts.LatestTimeout = DefaultLatestTimeout
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = DefaultHistoryTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		src:    src,
		cache:  cache,
		opts:   opts,
		clock:  opts.Clock,
		log:    opts.Logger.With("component", "controller"),
		ctx:    ctx,
		cancel: cancel,
		subs:   map[int]func(State){},
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state change and returns an unsubscribe
// func. fn runs on the goroutine that changed the state. It may call State
// or unsubscribe, but must not call the controller's mutating methods
// synchronously.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// lock takes notifyMu then mu. Mutators pair it with publish, or with
// c.mu.Unlock and c.notifyMu.Unlock when there is nothing to publish.
func (c *Controller) lock() {
	c.notifyMu.Lock()
	c.mu.Lock()
}

// publish must be called after lock; it releases both mutexes. Subscribers
// run with only notifyMu held.
func (c *Controller) publish() {
	snap := c.state
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// SetActiveDevice switches the displayed device. Any cycle in flight for
// the previous selection is invalidated and a refresh starts for id.
func (c *Controller) SetActiveDevice(id string) {
	c.lock()
	c.seq++
	c.state.DeviceID = id
	c.state.Status = StatusIdle
	c.state.Fix = nil
	c.state.Trajectory = nil
	c.state.Error = ""
	c.state.CycleID = ""
	c.state.UpdatedAt = c.clock.Now()
	c.log.Info("active device changed", "device", id)
	c.publish()

	if id != "" {
		c.RefreshNow()
	}
}

// RefreshNow starts a cycle in the background.
func (c *Controller) RefreshNow() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Refresh(c.ctx)
	}()
}

// Refresh runs one cycle synchronously. It returns the state after the
// cycle and whether this cycle's result was committed; a cycle overtaken by
// a device change or a newer cycle is discarded.
func (c *Controller) Refresh(ctx context.Context) (State, bool) {
	tok, ok := c.begin()
	if !ok {
		return c.State(), false
	}
	start := c.clock.Now()
	fix, traj, err := c.run(ctx, tok)
	committed := c.commit(tok, fix, traj, err)
	observability.ObserveCycleLatency(start)
	return c.State(), committed
}

func (c *Controller) begin() (cycleToken, bool) {
	c.lock()
	if c.state.DeviceID == "" {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		return cycleToken{}, false
	}
	c.seq++
	tok := cycleToken{id: uuid.NewString(), device: c.state.DeviceID, seq: c.seq}
	c.state.Status = StatusLoading
	c.state.Fix = nil
	c.state.Trajectory = nil
	c.state.Error = ""
	c.state.CycleID = tok.id
	c.state.UpdatedAt = c.clock.Now()
	c.log.Debug("cycle started", "cycle", tok.id, "device", tok.device)
	c.publish()
	return tok, true
}

func (c *Controller) run(ctx context.Context, tok cycleToken) (*pipeline.Fix, pipeline.Trajectory, error) {
	var (
		latest  *pipeline.RawSample
		history []pipeline.RawSample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lctx, cancel := context.WithTimeout(gctx, c.opts.LatestTimeout)
		defer cancel()
		r, err := c.src.Latest(lctx, tok.device)
		if err != nil {
			return err
		}
		latest = r
		return nil
	})
	g.Go(func() error {
		hctx, cancel := context.WithTimeout(gctx, c.opts.HistoryTimeout)
		defer cancel()
		h, err := c.src.History(hctx, tok.device)
		if err != nil {
			return err
		}
		history = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var points []pipeline.Fix
	if len(history) == 0 {
		points = c.cache.Load(ctx, tok.device)
		observability.CacheFallbacks.Inc()
		c.log.Debug("history empty, using cache", "device", tok.device, "points", len(points))
	} else {
		points = make([]pipeline.Fix, 0, len(history))
		for _, r := range history {
			// An unusable timestamp normalizes to 0 and is dropped by Clean.
			f, _ := r.Fix()
			f.DeviceID = tok.device
			points = append(points, f)
		}
	}

	opts := c.cleanOptions()
	opts.OnDrop = func(reason string, _ pipeline.Fix) {
		observability.PointsDropped.WithLabelValues(reason).Inc()
	}
	traj := pipeline.Clean(points, opts)
	observability.PointsKept.Add(float64(len(traj)))

	// An empty cleaned result is not saved: it would erase the trajectory
	// the next empty history falls back to.
	if len(traj) > 0 {
		c.cache.Save(ctx, tok.device, traj)
	}

	var fix *pipeline.Fix
	if latest != nil {
		if f, ok := latest.Fix(); ok {
			f.DeviceID = tok.device
			if valid := pipeline.Clean([]pipeline.Fix{f}, c.cleanOptions()); len(valid) == 1 {
				fix = &valid[0]
			}
		}
	}
	if fix == nil {
		if last, ok := traj.Last(); ok {
			fix = &last
		}
	}
	return fix, traj, nil
}

func (c *Controller) cleanOptions() pipeline.Options {
	opts := c.opts.Clean
	if opts.Now == nil {
		opts.Now = c.clock.Now
	}
	return opts
}

func (c *Controller) commit(tok cycleToken, fix *pipeline.Fix, traj pipeline.Trajectory, err error) bool {
	c.lock()
	if tok.seq != c.seq || tok.device != c.state.DeviceID {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		observability.Cycles.WithLabelValues("stale").Inc()
		c.log.Info("discarding stale cycle", "cycle", tok.id, "device", tok.device)
		return false
	}
	c.state.UpdatedAt = c.clock.Now()
	if err != nil {
		c.state.Status = StatusFailed
		c.state.Error = fmt.Sprintf("refresh failed: %v", err)
		c.state.Fix = nil
		c.state.Trajectory = nil
		observability.Cycles.WithLabelValues("failed").Inc()
		c.log.Warn("cycle failed", "cycle", tok.id, "device", tok.device, "err", err)
	} else {
		c.state.Status = StatusReady
		c.state.Error = ""
		c.state.Fix = fix
		c.state.Trajectory = traj
		observability.Cycles.WithLabelValues("ready").Inc()
		c.log.Debug("cycle committed", "cycle", tok.id, "device", tok.device, "points", len(traj))
	}
	c.publish()
	return true
}

// SetAutoRefresh starts or stops timer-driven refreshes. A failed cycle is
// not retried early; the next tick is the only retry.
func (c *Controller) SetAutoRefresh(enabled bool, interval time.Duration) {
	c.lock()
	if c.autoStop != nil {
		close(c.autoStop)
		c.autoStop = nil
	}
	c.state.AutoRefresh = enabled
	c.state.RefreshIntervalMS = 0
	if enabled {
		if interval <= 0 {
			interval = DefaultRefreshInterval
		}
		c.state.RefreshIntervalMS = interval.Milliseconds()
		stop := make(chan struct{})
		c.autoStop = stop
		ticker := c.clock.NewTicker(interval)
		c.wg.Add(1)
		go c.autoLoop(ticker, stop)
	}
	c.publish()
}

func (c *Controller) autoLoop(t timeutil.Ticker, stop <-chan struct{}) {
	defer c.wg.Done()
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-t.C():
			c.Refresh(c.ctx)
		}
	}
}

// ClearLocalData drops the cached trajectory of deviceID. The external
// service is not touched.
func (c *Controller) ClearLocalData(deviceID string) {
	c.cache.Clear(c.ctx, deviceID)
	c.log.Info("local data cleared", "device", deviceID)
}

// Close stops auto-refresh and waits for background cycles to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.autoStop != nil {
		close(c.autoStop)
		c.autoStop = nil
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
