package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

var (
	// ErrDisposed is returned by operations on a disposed session.
	ErrDisposed = errors.New("capture session disposed")
	// ErrNotReady is returned when no stream is delivering frames.
	ErrNotReady = errors.New("capture not ready")
	// ErrNoFrame is returned by a stream that has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrNoBackend is returned when no configured backend is available.
	ErrNoBackend = errors.New("no capture backend available")
)

// Reason classifies why a capture could not be acquired or read.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonPermissionDenied
	ReasonDeviceUnavailable
	ReasonDeviceBusy
	ReasonUnreadable
)

func (r Reason) String() string {
	switch r {
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonDeviceUnavailable:
		return "device_unavailable"
	case ReasonDeviceBusy:
		return "device_busy"
	case ReasonUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// CaptureError is a classified acquisition failure.
type CaptureError struct {
	Reason  Reason
	Backend string
	Err     error
}

func (e *CaptureError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("capture %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("capture %s (%s): %v", e.Reason, e.Backend, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ReasonOf returns the classification carried by err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonUnknown
}

// Classify wraps err in a CaptureError. Typed errors are checked first; backends
// that only surface text (GStreamer, subprocess stderr) fall through to keyword
// matching, most specific category first.
func Classify(backend string, err error) *CaptureError {
	if err == nil {
		return nil
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		if ce.Backend == "" {
			return &CaptureError{Reason: ce.Reason, Backend: backend, Err: ce.Err}
		}
		return ce
	}

	reason := ReasonUnknown
	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		reason = ReasonPermissionDenied
	case errors.Is(err, syscall.EBUSY):
		reason = ReasonDeviceBusy
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		reason = ReasonDeviceUnavailable
	default:
		reason = classifyMessage(strings.ToLower(err.Error()))
	}
	return &CaptureError{Reason: reason, Backend: backend, Err: err}
}

var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"not authorized",
		"notallowed",
		"access denied",
	}
	busyKeywords = []string{
		"device or resource busy",
		"busy",
		"in use",
		"already streaming",
	}
	unavailableKeywords = []string{
		"no such file",
		"no such device",
		"not found",
		"could not open",
		"cannot identify device",
		"no device",
		"executable file not found",
	}
	unreadableKeywords = []string{
		"not negotiated",
		"negotiation",
		"unsupported format",
		"no supported format",
		"decode",
		"caps",
		"short read",
	}
)

func classifyMessage(msg string) Reason {
	switch {
	case containsAny(msg, permissionKeywords):
		return ReasonPermissionDenied
	case containsAny(msg, busyKeywords):
		return ReasonDeviceBusy
	case containsAny(msg, unavailableKeywords):
		return ReasonDeviceUnavailable
	case containsAny(msg, unreadableKeywords):
		return ReasonUnreadable
	}
	return ReasonUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
