// Package capture acquires a live camera stream and keeps it flowing.
package capture

import (
	"context"
	"image"
	"time"
)

// State is the lifecycle of a capture Session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Request holds the ideal capture parameters. Backends negotiate the closest
// mode the device supports; the real size is reported by Stream.Size.
type Request struct {
	DeviceID   string `json:"device_id,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FPS        int    `json:"fps"`
	FacingMode string `json:"facing_mode"`
}

// Default ideal values.
const (
	DefaultWidth      = 640
	DefaultHeight     = 480
	DefaultFPS        = 30
	DefaultFacingMode = "user"
	DefaultDevice     = "/dev/video0"
)

func (r Request) withDefaults() Request {
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
	if r.FPS <= 0 {
		r.FPS = DefaultFPS
	}
	if r.FacingMode == "" {
		r.FacingMode = DefaultFacingMode
	}
	return r
}

// Backend opens camera streams.
type Backend interface {
	// Name returns a human-readable name for this backend
	Name() string

	// IsAvailable checks if this backend can be used in the current environment
	IsAvailable() bool

	// Open acquires the device and starts delivering frames. It may block on
	// device negotiation; cancellation is through ctx.
	Open(ctx context.Context, req Request) (Stream, error)
}

// Stream is one acquired camera track.
type Stream interface {
	// Size returns the negotiated frame size, or 0,0 until the first
	// metadata is known.
	Size() (width, height int)

	// LatestFrame returns a copy of the most recent frame.
	LatestFrame() (*image.RGBA, error)

	// Position is the presentation time of the latest frame. It advances
	// with every delivered frame and is what the stall watchdog observes.
	Position() time.Duration

	// Resume (re)starts playback.
	Resume() error

	// SetEnabled pauses or re-enables the track without releasing the device.
	SetEnabled(enabled bool) error

	// Stop releases the device. Safe to call more than once.
	Stop() error
}

// DeviceInfo describes a capture device a backend can open.
type DeviceInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Backend string `json:"backend"`
}

// Enumerator is implemented by backends that can list their devices.
type Enumerator interface {
	Devices() ([]DeviceInfo, error)
}
