package motion

import (
	"math"
	"time"
)

// Position is a marker coordinate in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Easing maps linear progress in [0,1] to eased progress.
type Easing func(t float64) float64

func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func Linear(t float64) float64 { return t }

// Animation moves a marker From -> To over Duration starting at Start.
type Animation struct {
	From     Position
	To       Position
	Start    time.Time
	Duration time.Duration
	Ease     Easing
}

// At returns the interpolated position at now and whether the animation
// has reached To.
func (a Animation) At(now time.Time) (Position, bool) {
	if a.Duration <= 0 {
		return a.To, true
	}
	p := float64(now.Sub(a.Start)) / float64(a.Duration)
	if p >= 1 {
		return a.To, true
	}
	if p < 0 {
		p = 0
	}
	ease := a.Ease
	if ease == nil {
		ease = EaseInOutCubic
	}
	e := ease(p)
	return Position{
		Lat: a.From.Lat + (a.To.Lat-a.From.Lat)*e,
		Lon: a.From.Lon + (a.To.Lon-a.From.Lon)*e,
	}, false
}
