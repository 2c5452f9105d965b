package pipeline

import (
	"slices"
	"time"
)

// Drop reasons reported through Options.OnDrop.
const (
	DropCoords = "coords"
	DropTime   = "time"
	DropSpike  = "spike"
)

const (
	DefaultMinYear     = 2009
	DefaultJumpKm      = 200.0
	DefaultMaxFuture   = 24 * time.Hour
	DefaultSpikeWindow = 60 * time.Second
)

// Options tunes Clean. Zero fields take the defaults above.
type Options struct {
	MinYear     int
	JumpKm      float64
	MaxFuture   time.Duration
	SpikeWindow time.Duration
	Now         func() time.Time

	// OnDrop, when set, is called once for every discarded point.
	OnDrop func(reason string, f Fix)
}

// DefaultOptions returns the cleaning defaults.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.MinYear == 0 {
		o.MinYear = DefaultMinYear
	}
	if o.JumpKm <= 0 {
		o.JumpKm = DefaultJumpKm
	}
	if o.MaxFuture <= 0 {
		o.MaxFuture = DefaultMaxFuture
	}
	if o.SpikeWindow <= 0 {
		o.SpikeWindow = DefaultSpikeWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// MinTS is the lowest accepted timestamp: Jan 1st of MinYear, UTC.
func (o Options) MinTS() int64 {
	return time.Date(o.withDefaults().MinYear, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
}

// Clean filters and orders points into a trajectory. Points with invalid
// coordinates or out-of-range timestamps are dropped, the rest are sorted by
// time (stable for ties), then isolated spikes are rejected: a point further
// than JumpKm from the last accepted point, less than SpikeWindow after it,
// is discarded and the last accepted point stays the baseline.
//
// Clean never mutates its input; the result is a new slice.
func Clean(points []Fix, opts Options) Trajectory {
	opts = opts.withDefaults()
	drop := func(reason string, f Fix) {
		if opts.OnDrop != nil {
			opts.OnDrop(reason, f)
		}
	}

	minTS := opts.MinTS()
	maxTS := opts.Now().Add(opts.MaxFuture).Unix()

	kept := make([]Fix, 0, len(points))
	for _, p := range points {
		if !CoordsValid(p.Lat, p.Lon) {
			drop(DropCoords, p)
			continue
		}
		if p.TS < minTS || p.TS > maxTS {
			drop(DropTime, p)
			continue
		}
		kept = append(kept, p)
	}

	slices.SortStableFunc(kept, func(a, b Fix) int {
		switch {
		case a.TS < b.TS:
			return -1
		case a.TS > b.TS:
			return 1
		}
		return 0
	})

	window := int64(opts.SpikeWindow / time.Second)
	out := make(Trajectory, 0, len(kept))
	for _, p := range kept {
		if len(out) > 0 {
			last := out[len(out)-1]
			dt := p.TS - last.TS
			if dt < window && HaversineKm(last.Lat, last.Lon, p.Lat, p.Lon) > opts.JumpKm {
				drop(DropSpike, p)
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
