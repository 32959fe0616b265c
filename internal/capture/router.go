package capture

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// AutoBackend selects the first available backend in preference order.
const AutoBackend = "auto"

// Router chooses a capture backend by name, falling back through its preference
// order when the requested one is unavailable.
type Router struct {
	backends []Backend
	// explicit backends are only used when requested by name.
	explicit []Backend
}

// NewRouter keeps backends in the given preference order.
func NewRouter(backends ...Backend) *Router {
	return &Router{backends: backends}
}

// DefaultRouter orders backends gstreamer, gst-launch, v4l2, synthetic, with
// x11grab available by name.
func DefaultRouter() *Router {
	r := NewRouter(NewGStreamer(), NewGstLaunch(), NewV4L2(), NewSynthetic())
	r.AddExplicit(NewX11Grab())
	return r
}

// AddExplicit registers backends that never take part in fallback.
func (r *Router) AddExplicit(backends ...Backend) {
	r.explicit = append(r.explicit, backends...)
}

func (r *Router) all() []Backend {
	return append(append([]Backend(nil), r.backends...), r.explicit...)
}

// Names lists the registered backends.
func (r *Router) Names() []string {
	all := r.all()
	names := make([]string, len(all))
	for i, b := range all {
		names[i] = b.Name()
	}
	return names
}

// Lookup finds a backend by name regardless of availability.
func (r *Router) Lookup(name string) (Backend, bool) {
	for _, b := range r.all() {
		if strings.EqualFold(b.Name(), name) {
			return b, true
		}
	}
	return nil, false
}

// Select returns the named backend if it is available, otherwise the first
// available backend. An empty name or "auto" means no preference.
func (r *Router) Select(name string) (Backend, error) {
	log := logger.WithComponent("capture-router")

	if name != "" && name != AutoBackend {
		b, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown capture backend %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
		if b.IsAvailable() {
			log.Debug().Str("backend", b.Name()).Msg("Using requested capture backend")
			return b, nil
		}
		log.Warn().Str("backend", name).Msg("Requested capture backend not available, falling back")
	}

	for _, b := range r.backends {
		if b.IsAvailable() {
			log.Info().Str("backend", b.Name()).Msg("Selected capture backend")
			return b, nil
		}
	}
	return nil, ErrNoBackend
}

// Devices lists devices from every available backend that can enumerate them.
func (r *Router) Devices() []DeviceInfo {
	var out []DeviceInfo
	for _, b := range r.backends {
		e, ok := b.(Enumerator)
		if !ok || !b.IsAvailable() {
			continue
		}
		devs, err := e.Devices()
		if err != nil {
			logger.WithComponent("capture-router").Warn().Err(err).Str("backend", b.Name()).Msg("Device enumeration failed")
			continue
		}
		out = append(out, devs...)
	}
	return out
}
