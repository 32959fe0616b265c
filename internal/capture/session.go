package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// Options configure a Session.
type Options struct {
	// Name labels the session in logs, usually the owning pipeline id.
	Name    string
	Backend Backend
	Request Request

	PollInterval time.Duration
	StallAfter   time.Duration
	// MetadataPoll is how often Initialize checks for the negotiated size.
	MetadataPoll time.Duration
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Backend string   `json:"backend"`
	Device  string   `json:"device"`
	State   State    `json:"state"`
	Health  Health   `json:"health"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Reason  Reason   `json:"reason,omitempty"`
	Error   string   `json:"error,omitempty"`
	FPS     FPSStats `json:"fps"`
}

// initCall is one acquisition shared by every Initialize caller. cancel
// abandons it; only SwitchSource and Dispose do that.
type initCall struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Session owns at most one camera Stream and drives its lifecycle. All methods are
// safe for concurrent use.
type Session struct {
	id      string
	name    string
	backend Backend
	opts    Options
	log     zerolog.Logger
	clock   *frameClock

	// ctx bounds every acquisition; Dispose cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	req       Request
	state     State
	stream    Stream
	width     int
	height    int
	lastErr   error
	health    Health
	inflight  *initCall
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewSession creates an uninitialized session. Nothing is acquired until
// Initialize is called.
func NewSession(opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = DefaultStallAfter
	}
	if opts.MetadataPoll <= 0 {
		opts.MetadataPoll = 10 * time.Millisecond
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:     ctx,
		cancel:  cancel,
		id:      id,
		name:    opts.Name,
		backend: opts.Backend,
		opts:    opts,
		req:     opts.Request.withDefaults(),
		clock:   newFrameClock(),
		log: logger.WithComponent("capture").With().
			Str("session", id).
			Str("pipeline", opts.Name).
			Logger(),
	}
}

func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether frames can be read.
func (s *Session) Ready() bool { return s.State() == StateReady }

// Size returns the negotiated frame size; 0,0 before the first successful
// initialization.
func (s *Session) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Aspect returns width/height of the live capture, or 0 when unknown.
func (s *Session) Aspect() float32 {
	w, h := s.Size()
	if w <= 0 || h <= 0 {
		return 0
	}
	return float32(w) / float32(h)
}

// Err returns the last acquisition error, nil once Ready.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Initialize acquires the camera. It is idempotent: a Ready session returns nil,
// and concurrent callers share one acquisition. A failed session may be retried.
//
// Acquisition has no deadline. ctx only bounds how long this caller waits: when
// it ends first, ctx.Err() is returned and the session stays Initializing until
// the device answers or the session is disposed.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisposed:
		s.mu.Unlock()
		return ErrDisposed
	case StateReady:
		s.mu.Unlock()
		return nil
	}
	call := s.inflight
	if call == nil {
		call = s.startAcquireLocked()
	}
	s.mu.Unlock()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startAcquireLocked launches an acquisition on the session context.
func (s *Session) startAcquireLocked() *initCall {
	ctx, cancel := context.WithCancel(s.ctx)
	call := &initCall{done: make(chan struct{}), cancel: cancel}
	s.inflight = call
	s.state = StateInitializing
	req := s.req

	go func() {
		err := s.acquire(ctx, req)
		cancel()

		s.mu.Lock()
		if s.inflight == call {
			s.inflight = nil
		}
		call.err = err
		close(call.done)
		s.mu.Unlock()
	}()
	return call
}

func (s *Session) acquire(ctx context.Context, req Request) error {
	if s.backend == nil {
		return s.fail(ErrNoBackend)
	}
	s.log.Info().
		Str("backend", s.backend.Name()).
		Str("device", req.DeviceID).
		Int("width", req.Width).
		Int("height", req.Height).
		Int("fps", req.FPS).
		Msg("Acquiring camera")

	stream, err := s.backend.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return s.abandon(ctx.Err())
		}
		return s.fail(err)
	}

	w, h, err := s.waitForMetadata(ctx, stream)
	if err == nil {
		err = stream.Resume()
	}
	if err != nil {
		if stopErr := stream.Stop(); stopErr != nil {
			s.log.Warn().Err(stopErr).Msg("Failed to release stream after error")
		}
		if ctx.Err() != nil {
			return s.abandon(ctx.Err())
		}
		return s.fail(err)
	}

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		_ = stream.Stop()
		return ErrDisposed
	}
	s.stream = stream
	s.width, s.height = w, h
	s.state = StateReady
	s.lastErr = nil
	s.health = HealthHealthy
	s.clock.reset()
	s.startWatchLocked(stream)
	s.mu.Unlock()

	s.log.Info().Int("width", w).Int("height", h).Msg("Camera ready")
	return nil
}

// waitForMetadata blocks until the stream reports its negotiated size. A stream
// error other than ErrNoFrame aborts the wait.
func (s *Session) waitForMetadata(ctx context.Context, stream Stream) (int, int, error) {
	ticker := time.NewTicker(s.opts.MetadataPoll)
	defer ticker.Stop()
	for {
		if w, h := stream.Size(); w > 0 && h > 0 {
			return w, h, nil
		}
		if _, err := stream.LatestFrame(); err != nil && !errors.Is(err, ErrNoFrame) {
			return 0, 0, err
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// abandon records an acquisition cancelled by SwitchSource or Dispose. It is not
// a device failure, so no reason is recorded.
func (s *Session) abandon(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return ErrDisposed
	}
	s.state = StateUninitialized
	s.log.Info().Msg("Camera acquisition abandoned")
	return err
}

func (s *Session) fail(err error) error {
	name := ""
	if s.backend != nil {
		name = s.backend.Name()
	}
	ce := Classify(name, err)

	s.mu.Lock()
	if s.state != StateDisposed {
		s.state = StateFailed
		s.lastErr = ce
	}
	s.mu.Unlock()

	s.log.Error().Err(err).Str("reason", ce.Reason.String()).Msg("Camera acquisition failed")
	return ce
}

// SwitchSource releases the current device before acquiring deviceID. A pending
// acquisition of the previous device is abandoned.
func (s *Session) SwitchSource(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	for s.inflight != nil {
		call := s.inflight
		call.cancel()
		s.mu.Unlock()
		<-call.done
		s.mu.Lock()
	}
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	stream := s.stream
	s.stream = nil
	done := s.stopWatchLocked()
	s.req.DeviceID = deviceID
	s.state = StateUninitialized
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if stream != nil {
		if err := stream.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to stop previous stream")
		}
	}
	s.log.Info().Str("device", deviceID).Msg("Switching camera source")
	return s.Initialize(ctx)
}

// Frame returns the latest frame. ErrNotReady is returned unless the session is
// Ready; stream read errors are passed through.
func (s *Session) Frame() (*image.RGBA, error) {
	s.mu.RLock()
	stream, state := s.stream, s.state
	s.mu.RUnlock()
	if state != StateReady || stream == nil {
		return nil, ErrNotReady
	}

	img, err := stream.LatestFrame()
	if err != nil {
		return nil, err
	}
	s.clock.observe(stream.Position(), time.Now())

	if b := img.Bounds(); b.Dx() > 0 && b.Dy() > 0 {
		s.mu.Lock()
		s.width, s.height = b.Dx(), b.Dy()
		s.mu.Unlock()
	}
	return img, nil
}

// Resume forces playback to restart; used when the host wakes from sleep.
func (s *Session) Resume() error {
	s.mu.RLock()
	stream, state := s.stream, s.state
	s.mu.RUnlock()
	if state != StateReady || stream == nil {
		return ErrNotReady
	}
	s.log.Info().Msg("Resuming camera playback")
	return stream.Resume()
}

// Dispose stops the watchdog and releases the device. Safe to call more than once.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisposed
	stream := s.stream
	s.stream = nil
	done := s.stopWatchLocked()
	call := s.inflight
	s.cancel()
	s.mu.Unlock()

	if call != nil {
		<-call.done
	}
	if done != nil {
		<-done
	}
	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop stream on dispose")
		return err
	}
	s.log.Info().Msg("Camera released")
	return nil
}

// Stats returns a snapshot for diagnostics.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		ID:     s.id,
		Name:   s.name,
		Device: s.req.DeviceID,
		State:  s.state,
		Health: s.health,
		Width:  s.width,
		Height: s.height,
	}
	if s.backend != nil {
		st.Backend = s.backend.Name()
	}
	if s.lastErr != nil {
		st.Reason = ReasonOf(s.lastErr)
		st.Error = s.lastErr.Error()
	}
	s.mu.RUnlock()
	st.FPS = s.clock.stats()
	return st
}

// Health returns the watchdog state.
func (s *Session) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *Session) startWatchLocked(stream Stream) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopWatch = cancel
	s.watchDone = done
	go s.watch(ctx, stream, done)
}

// stopWatchLocked cancels the watchdog and returns a channel closed once it has
// exited. The caller must wait on it without holding s.mu.
func (s *Session) stopWatchLocked() chan struct{} {
	if s.stopWatch == nil {
		return nil
	}
	s.stopWatch()
	done := s.watchDone
	s.stopWatch = nil
	s.watchDone = nil
	return done
}

func (s *Session) watch(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	wd := NewWatchdog(s.opts.StallAfter)
	wd.Observe(stream.Position(), time.Now())

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pos := stream.Position()
			action := wd.Observe(pos, now)

			s.mu.Lock()
			s.health = wd.State()
			s.mu.Unlock()

			switch action {
			case ActionResume:
				s.log.Warn().Dur("position", pos).Msg("Camera stalled, resuming playback")
				if err := stream.Resume(); err != nil {
					s.log.Warn().Err(err).Msg("Resume failed")
				}
			case ActionToggleTrack:
				s.log.Warn().Dur("position", pos).Msg("Camera still stalled, toggling track")
				if err := stream.SetEnabled(false); err != nil {
					s.log.Warn().Err(err).Msg("Disabling track failed")
				}
				if err := stream.SetEnabled(true); err != nil {
					s.log.Warn().Err(err).Msg("Re-enabling track failed")
				}
			}
		}
	}
}
