package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
	"github.com/bryanchriswhite/MirrorRoom/internal/config"
	"github.com/bryanchriswhite/MirrorRoom/internal/device"
	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/output"
	"github.com/bryanchriswhite/MirrorRoom/internal/overlay"
	"github.com/bryanchriswhite/MirrorRoom/internal/projection"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// Options configure an Installation.
type Options struct {
	Config *config.Config
	Router *capture.Router
	// Preset overrides the device-profile defaults per pipeline.
	Preset config.Preset
	// WatchResume resumes every session when the host wakes from sleep.
	WatchResume bool
}

// Installation owns the room: two walls and a screen, their settings stores and
// their camera sessions.
type Installation struct {
	profile   device.Profile
	pipelines []*Pipeline
	byID      map[string]*Pipeline
	sessions  []*capture.Session
	mjpeg     *output.MJPEGOutput
	hud       *overlay.Manager
	watch     bool

	mu       sync.Mutex
	disposed bool
	resume   *capture.ResumeWatcher
}

// New resolves the device profile once and builds every enabled pipeline. No
// camera is acquired until Initialize.
func New(opts Options) (*Installation, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	router := opts.Router
	if router == nil {
		router = capture.DefaultRouter()
	}
	log := logger.WithComponent("installation")

	prof := device.Resolve(cfg.Device)
	log.Info().
		Str("class", string(prof.Class)).
		Int("max_samples", prof.MaxSamples).
		Msg("Resolved device profile")

	backend, err := router.Select(cfg.Capture.Backend)
	if err != nil {
		// Sessions without a backend fail on Initialize and show placeholders.
		log.Warn().Err(err).Msg("No capture backend available")
		backend = nil
	}

	inst := &Installation{
		profile: prof,
		byID:    make(map[string]*Pipeline),
		watch:   opts.WatchResume,
	}
	newSession := func(name string) *capture.Session {
		s := capture.NewSession(capture.Options{
			Name:    name,
			Backend: backend,
			Request: capture.Request{
				DeviceID: cfg.Capture.Device,
				Width:    cfg.Capture.Width,
				Height:   cfg.Capture.Height,
				FPS:      cfg.Capture.FPS,
			},
			StallAfter: cfg.Capture.StallTimeout,
		})
		inst.sessions = append(inst.sessions, s)
		return s
	}
	newStore := func(id string) *settings.Store {
		sample, text := prof.Sample, prof.Text
		if ov, ok := opts.Preset.Pipelines[id]; ok {
			if ov.Sample != nil {
				sample = *ov.Sample
			}
			if ov.Text != nil {
				text = *ov.Text
			}
		}
		return settings.NewStore(id, sample, text)
	}

	var wallSession *capture.Session
	if cfg.Capture.Shared && cfg.LeftWall.Enabled && cfg.RightWall.Enabled {
		wallSession = newSession("walls")
	}
	walls := []struct {
		id   string
		side projection.Side
		wc   config.WallConfig
	}{
		{LeftWallID, projection.Left, cfg.LeftWall},
		{RightWallID, projection.Right, cfg.RightWall},
	}
	for _, w := range walls {
		if !w.wc.Enabled {
			continue
		}
		sess := wallSession
		if sess == nil {
			sess = newSession(w.id)
		}
		wall := projection.Wall{
			Side:   w.side,
			Center: projection.Vec3{X: w.wc.Center[0], Y: w.wc.Center[1], Z: w.wc.Center[2]},
			Height: w.wc.Height,
		}
		inst.add(NewWall(w.id, wall, prof, newStore(w.id), sess))
	}

	if cfg.Screen.Enabled {
		screen, err := NewScreen(ScreenID, cfg.Screen.Width, cfg.Screen.Height, cfg.Screen.Seed, newStore(ScreenID), newSession(ScreenID))
		if err != nil {
			inst.Dispose()
			return nil, err
		}
		inst.mjpeg = output.NewMJPEGOutput(ScreenID, output.Config{
			Width:  cfg.Screen.Width,
			Height: cfg.Screen.Height,
			FPS:    cfg.Screen.FPS,
		}, cfg.Screen.Quality)
		if err := inst.mjpeg.Start(); err != nil {
			inst.Dispose()
			return nil, err
		}
		screen.AddOutput(inst.mjpeg)
		inst.add(screen)

		if cfg.Screen.HUD {
			inst.hud = overlay.NewManager()
			inst.hud.AddWidget(overlay.NewStatsWidget("status", inst.statusLines, time.Second, 8, 8))
			screen.SetOverlay(inst.hud)
		}
	}

	log.Info().
		Int("pipelines", len(inst.pipelines)).
		Int("sessions", len(inst.sessions)).
		Bool("shared_capture", wallSession != nil).
		Msg("Installation ready")
	return inst, nil
}

func (i *Installation) add(p *Pipeline) {
	i.pipelines = append(i.pipelines, p)
	i.byID[p.ID()] = p
}

// Profile returns the device profile resolved at construction.
func (i *Installation) Profile() device.Profile { return i.profile }

// Pipelines returns the pipelines in construction order.
func (i *Installation) Pipelines() []*Pipeline {
	return append([]*Pipeline(nil), i.pipelines...)
}

// Pipeline looks up a pipeline by id.
func (i *Installation) Pipeline(id string) (*Pipeline, bool) {
	p, ok := i.byID[id]
	return p, ok
}

// Sessions returns the distinct camera sessions.
func (i *Installation) Sessions() []*capture.Session {
	return append([]*capture.Session(nil), i.sessions...)
}

// Stream returns the MJPEG output of the screen, nil when it is disabled.
func (i *Installation) Stream() *output.MJPEGOutput { return i.mjpeg }

// Initialize acquires every session concurrently. Failures are collected; the
// failing pipelines keep showing placeholders and may be retried. Returning
// because ctx ended does not abandon the acquisitions still pending.
func (i *Installation) Initialize(ctx context.Context) error {
	errs := make([]error, len(i.sessions))
	var wg sync.WaitGroup
	for n, s := range i.sessions {
		wg.Add(1)
		go func(n int, s *capture.Session) {
			defer wg.Done()
			errs[n] = s.Initialize(ctx)
		}(n, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Run drives every pipeline at its own rate until ctx is done, then returns.
func (i *Installation) Run(ctx context.Context) error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return ErrClosed
	}
	if i.watch && i.resume == nil {
		w, err := capture.NewResumeWatcher()
		if err != nil {
			logger.WithComponent("installation").Warn().Err(err).Msg("Sleep/resume watching unavailable")
		} else {
			for _, s := range i.sessions {
				w.Add(s)
			}
			i.resume = w
		}
	}
	resume := i.resume
	i.mu.Unlock()

	var wg sync.WaitGroup
	if resume != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := resume.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithComponent("installation").Warn().Err(err).Msg("Resume watcher stopped")
			}
		}()
	}
	for _, p := range i.pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Wait()
	return nil
}

// Dispose stops outputs and releases every camera. It is synchronous and
// idempotent.
func (i *Installation) Dispose() error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return nil
	}
	i.disposed = true
	resume := i.resume
	i.resume = nil
	i.mu.Unlock()

	if i.hud != nil {
		i.hud.Clear()
	}
	for _, p := range i.pipelines {
		p.close()
	}
	var errs []error
	for _, s := range i.sessions {
		if err := s.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	if resume != nil {
		if err := resume.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	logger.WithComponent("installation").Info().Msg("Installation disposed")
	return errors.Join(errs...)
}

// HUD returns the screen overlay, nil unless enabled in the config.
func (i *Installation) HUD() *overlay.Manager { return i.hud }

// statusLines summarizes every pipeline for the HUD.
func (i *Installation) statusLines() []overlay.Line {
	lines := make([]overlay.Line, 0, len(i.pipelines))
	for _, p := range i.pipelines {
		st := p.Status()
		level := overlay.LevelInfo
		switch st.Capture.State {
		case capture.StateReady:
			level = overlay.LevelOK
			if st.Capture.Health != capture.HealthHealthy {
				level = overlay.LevelWarn
			}
		case capture.StateInitializing:
			level = overlay.LevelWarn
		case capture.StateFailed:
			level = overlay.LevelError
		}
		text := fmt.Sprintf("%-10s %-12s %5.1f fps", st.ID, st.Capture.State, st.Capture.FPS.FPSMean)
		if st.Instance != nil {
			text += fmt.Sprintf("  %5d pts", st.Instance.Visible)
		}
		lines = append(lines, overlay.Line{Text: text, Level: level})
	}
	return lines
}
