package capture

import "time"

// Health is the stall watchdog's view of a stream.
type Health int

const (
	HealthHealthy Health = iota
	HealthSuspected
	HealthRecovering
)

func (h Health) String() string {
	switch h {
	case HealthSuspected:
		return "suspected"
	case HealthRecovering:
		return "recovering"
	default:
		return "healthy"
	}
}

func (h Health) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// Action is what the watchdog asks the session to do after an observation.
type Action int

const (
	ActionNone Action = iota
	// ActionResume restarts playback.
	ActionResume
	// ActionToggleTrack disables then re-enables the track.
	ActionToggleTrack
)

func (a Action) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionToggleTrack:
		return "toggle_track"
	default:
		return "none"
	}
}

// Default watchdog timing.
const (
	DefaultPollInterval = time.Second
	DefaultStallAfter   = 3 * time.Second
)

// Watchdog detects a stream whose position has stopped advancing and escalates
// recovery: resume first, then toggle the track, repeating the toggle every
// StallAfter while the stall persists. It is not safe for concurrent use.
type Watchdog struct {
	StallAfter time.Duration

	state        Health
	started      bool
	lastPos      time.Duration
	lastProgress time.Time
	lastAction   time.Time
}

func NewWatchdog(stallAfter time.Duration) *Watchdog {
	if stallAfter <= 0 {
		stallAfter = DefaultStallAfter
	}
	return &Watchdog{StallAfter: stallAfter}
}

// State returns the current health.
func (w *Watchdog) State() Health { return w.state }

// Observe feeds the latest stream position sampled at now.
func (w *Watchdog) Observe(pos time.Duration, now time.Time) Action {
	if !w.started || pos != w.lastPos {
		w.started = true
		w.lastPos = pos
		w.lastProgress = now
		w.state = HealthHealthy
		return ActionNone
	}

	switch w.state {
	case HealthHealthy:
		if now.Sub(w.lastProgress) >= w.StallAfter {
			w.state = HealthSuspected
			w.lastAction = now
			return ActionResume
		}
	case HealthSuspected, HealthRecovering:
		if now.Sub(w.lastAction) >= w.StallAfter {
			w.state = HealthRecovering
			w.lastAction = now
			return ActionToggleTrack
		}
	}
	return ActionNone
}
