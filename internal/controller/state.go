package controller

import (
	"time"

	"trail-svr/internal/pipeline"
)

// Status is the controller lifecycle: Idle -> Loading -> Ready | Failed,
// and back to Loading on every refresh.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	}
	return "idle"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is what the view renders. Fix and Trajectory are replaced as a
// whole on commit and never modified afterwards, so snapshots may be shared.
type State struct {
	DeviceID   string              `json:"device_id"`
	Status     Status              `json:"status"`
	Fix        *pipeline.Fix       `json:"fix"`
	Trajectory pipeline.Trajectory `json:"trajectory"`
	Error      string              `json:"error,omitempty"`
	CycleID    string              `json:"cycle_id,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`

	AutoRefresh       bool  `json:"auto_refresh"`
	RefreshIntervalMS int64 `json:"refresh_interval_ms,omitempty"`
}

// cycleToken identifies one refresh cycle. Only the newest cycle for the
// still-active device may commit.
type cycleToken struct {
	id     string
	device string
	seq    uint64
}
