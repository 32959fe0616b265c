package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
	"github.com/bryanchriswhite/MirrorRoom/internal/config"
	"github.com/bryanchriswhite/MirrorRoom/internal/device"
	"github.com/bryanchriswhite/MirrorRoom/internal/projection"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
	"github.com/bryanchriswhite/MirrorRoom/internal/silhouette"
)

type recordingOutput struct {
	mu      sync.Mutex
	running bool
	frames  int
	last    image.Rectangle
}

func (o *recordingOutput) Start() error { o.mu.Lock(); o.running = true; o.mu.Unlock(); return nil }
func (o *recordingOutput) Stop() error  { o.mu.Lock(); o.running = false; o.mu.Unlock(); return nil }
func (o *recordingOutput) Name() string { return "recording" }

func (o *recordingOutput) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *recordingOutput) WriteFrame(frame *image.RGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
	o.last = frame.Bounds()
	return nil
}

func (o *recordingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

// silentBackend opens streams that never report a size, like a camera waiting
// on a permission prompt.
type silentBackend struct {
	mu      sync.Mutex
	streams []*silentStream
}

func (b *silentBackend) Name() string      { return "silent" }
func (b *silentBackend) IsAvailable() bool { return true }

func (b *silentBackend) Open(ctx context.Context, req capture.Request) (capture.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &silentStream{}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *silentBackend) stopped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.streams {
		if s.isStopped() {
			n++
		}
	}
	return n
}

type silentStream struct {
	mu      sync.Mutex
	stopped bool
}

func (s *silentStream) Size() (int, int)                  { return 0, 0 }
func (s *silentStream) LatestFrame() (*image.RGBA, error) { return nil, capture.ErrNoFrame }
func (s *silentStream) Position() time.Duration           { return 0 }
func (s *silentStream) Resume() error                     { return nil }
func (s *silentStream) SetEnabled(bool) error             { return nil }

func (s *silentStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *silentStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func testSession(t *testing.T) *capture.Session {
	t.Helper()
	s := capture.NewSession(capture.Options{
		Name:    t.Name(),
		Backend: capture.NewSynthetic(),
		Request: capture.Request{Width: 64, Height: 48, FPS: 30},
	})
	t.Cleanup(func() { _ = s.Dispose() })
	return s
}

func testWall(t *testing.T) *Pipeline {
	t.Helper()
	prof := device.Resolve(device.Signals{})
	store := settings.NewStore(LeftWallID, prof.Sample, prof.Text)
	wall := projection.Wall{Side: projection.Left, Center: projection.Vec3{X: -4.95, Y: 1.6}, Height: 2.4}
	p := NewWall(LeftWallID, wall, prof, store, testSession(t))
	t.Cleanup(p.close)
	return p
}

func testScreen(t *testing.T) *Pipeline {
	t.Helper()
	prof := device.Resolve(device.Signals{})
	store := settings.NewStore(ScreenID, prof.Sample, prof.Text)
	p, err := NewScreen(ScreenID, 160, 120, 1, store, testSession(t))
	require.NoError(t, err)
	t.Cleanup(p.close)
	return p
}

func TestWallTickPlaceholderThenLive(t *testing.T) {
	p := testWall(t)
	pool := p.Pool()
	require.NotNil(t, pool)

	p.Tick(time.Now())
	st := p.Status()
	assert.Equal(t, uint64(1), st.Frames.Ticks)
	assert.Equal(t, uint64(1), st.Frames.Placeholders)
	assert.Equal(t, uint64(1), pool.Version())
	assert.Greater(t, pool.Visible(), 0)

	require.NoError(t, p.Initialize(context.Background()))
	p.Tick(time.Now())
	st = p.Status()
	assert.Equal(t, uint64(1), st.Frames.LiveFrames)
	assert.Equal(t, uint64(2), pool.Version())
	assert.Equal(t, KindWall, st.Kind)
	assert.Equal(t, WallRate, st.RateHz)
	require.NotNil(t, st.Instance)
	assert.Equal(t, "left", st.Instance.Side)
	assert.Nil(t, st.Grid)
	assert.Equal(t, capture.StateReady, st.Capture.State)
}

func TestWallSubscribe(t *testing.T) {
	p := testWall(t)
	ch, cancel := p.Subscribe()

	p.Tick(time.Now())
	select {
	case snap := <-ch:
		assert.Equal(t, uint64(1), snap.Version)
		assert.Equal(t, p.Pool().Size(), snap.Slots)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Without subscribers nothing is queued.
	p.Tick(time.Now())
	assert.Equal(t, 0, p.subscribers())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	p := testWall(t)
	_, cancel := p.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+3; i++ {
		p.Tick(time.Now())
	}
	assert.Equal(t, uint64(subscriberBuffer+3), p.Pool().Version())
}

func TestScreenTickWritesOutputs(t *testing.T) {
	p := testScreen(t)
	out := &recordingOutput{}
	stopped := &recordingOutput{}
	require.NoError(t, out.Start())
	p.AddOutput(out)
	p.AddOutput(stopped)

	p.Tick(time.Now())
	assert.Equal(t, 1, out.count())
	assert.Equal(t, 0, stopped.count())
	assert.Equal(t, image.Rect(0, 0, 160, 120), out.last)
	assert.Equal(t, uint64(1), p.Status().Frames.Placeholders)

	require.NoError(t, p.Initialize(context.Background()))
	p.Tick(time.Now())
	assert.Equal(t, 2, out.count())
	st := p.Status()
	assert.Equal(t, uint64(1), st.Frames.LiveFrames)
	assert.Equal(t, ScreenRate, st.RateHz)
	assert.Nil(t, st.Instance)
	assert.Nil(t, p.Pool())
}

func TestScreenSettingChangeRebuildsGrid(t *testing.T) {
	p := testScreen(t)
	before := p.Status().Grid
	require.NotNil(t, before)
	assert.Equal(t, 5, before.Cols)

	require.NoError(t, p.Store().Set("fontSize", 28))
	after := p.Status().Grid
	assert.Equal(t, 3, after.Cols)
	assert.Greater(t, after.CellW, before.CellW)

	// Sampling settings leave the grid alone.
	require.NoError(t, p.Store().Set("threshold", 10))
	assert.Equal(t, after, p.Status().Grid)
}

func TestScreenResize(t *testing.T) {
	p := testScreen(t)
	require.NoError(t, p.Resize(320, 240))
	g := p.Status().Grid
	assert.Equal(t, 320, g.Width)
	assert.Equal(t, 240, g.Height)

	out := &recordingOutput{running: true}
	p.AddOutput(out)
	p.Tick(time.Now())
	assert.Equal(t, image.Rect(0, 0, 320, 240), out.last)
}

func TestScreenResizeRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
	}{
		{"zero", 0, 120},
		{"negative", 160, -1},
		{"oversized width", silhouette.MaxSize + 1, 120},
		{"oversized both", 1 << 40, 1 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testScreen(t)
			require.NoError(t, p.Initialize(context.Background()))
			before := p.Status().Grid

			assert.ErrorIs(t, p.Resize(tt.width, tt.height), ErrInvalidSize)
			assert.Equal(t, before, p.Status().Grid)

			out := &recordingOutput{running: true}
			p.AddOutput(out)
			p.Tick(time.Now())
			assert.Equal(t, image.Rect(0, 0, 160, 120), out.last)
		})
	}
}

func TestWallRejectsScreenOperations(t *testing.T) {
	p := testWall(t)
	assert.Error(t, p.ResetGrid())
	assert.Error(t, p.Resize(10, 10))
}

func TestClosedPipeline(t *testing.T) {
	p := testScreen(t)
	out := &recordingOutput{running: true}
	p.AddOutput(out)
	ch, _ := p.Subscribe()

	p.close()
	p.close()
	assert.False(t, out.IsRunning())
	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, p.ResetGrid(), ErrClosed)
	assert.ErrorIs(t, p.Resize(10, 10), ErrClosed)

	p.Tick(time.Now())
	assert.Equal(t, uint64(0), p.Status().Frames.Ticks)
}

func TestRunStopsOnCancel(t *testing.T) {
	p := testWall(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Status().Frames.Ticks > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Capture.Backend = capture.SyntheticName
	cfg.Capture.Width, cfg.Capture.Height = 64, 48
	cfg.Screen.Width, cfg.Screen.Height = 160, 120
	return cfg
}

func newTestInstallation(t *testing.T, cfg *config.Config, preset config.Preset) *Installation {
	t.Helper()
	inst, err := New(Options{
		Config: cfg,
		Router: capture.NewRouter(capture.NewSynthetic()),
		Preset: preset,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Dispose() })
	return inst
}

func TestInstallationBuildsPipelines(t *testing.T) {
	inst := newTestInstallation(t, testConfig(), config.Preset{})

	var ids []string
	for _, p := range inst.Pipelines() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{LeftWallID, RightWallID, ScreenID}, ids)
	assert.Len(t, inst.Sessions(), 3)
	assert.Equal(t, device.Desktop, inst.Profile().Class)

	screen, ok := inst.Pipeline(ScreenID)
	require.True(t, ok)
	require.NotNil(t, inst.Stream())
	assert.True(t, inst.Stream().IsRunning())
	assert.Len(t, screen.Outputs(), 1)

	right, _ := inst.Pipeline(RightWallID)
	assert.Equal(t, string(projection.Right), right.Status().Instance.Side)

	_, ok = inst.Pipeline("ceiling")
	assert.False(t, ok)
}

func TestInstallationSharedCapture(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.Shared = true
	inst := newTestInstallation(t, cfg, config.Preset{})

	left, _ := inst.Pipeline(LeftWallID)
	right, _ := inst.Pipeline(RightWallID)
	screen, _ := inst.Pipeline(ScreenID)
	assert.Same(t, left.Session(), right.Session())
	assert.NotSame(t, left.Session(), screen.Session())
	assert.Len(t, inst.Sessions(), 2)
}

func TestInstallationDisabledParts(t *testing.T) {
	cfg := testConfig()
	cfg.RightWall.Enabled = false
	cfg.Screen.Enabled = false
	cfg.Capture.Shared = true
	inst := newTestInstallation(t, cfg, config.Preset{})

	require.Len(t, inst.Pipelines(), 1)
	assert.Equal(t, LeftWallID, inst.Pipelines()[0].ID())
	assert.Nil(t, inst.Stream())
}

func TestInstallationPresetOverrides(t *testing.T) {
	sample := settings.SampleSettings{Threshold: 42, PixelSize: 0.2, PixelDensity: 70, Intensity: 1}
	preset := config.Preset{
		ID: "p",
		Pipelines: map[string]config.PipelineSettings{
			RightWallID: {Sample: &sample},
		},
	}
	inst := newTestInstallation(t, testConfig(), preset)

	right, _ := inst.Pipeline(RightWallID)
	left, _ := inst.Pipeline(LeftWallID)
	assert.Equal(t, 42, right.Store().Sample().Threshold)
	assert.Equal(t, inst.Profile().Sample.Threshold, left.Store().Sample().Threshold)
}

func TestInstallationInitializeAndDispose(t *testing.T) {
	inst := newTestInstallation(t, testConfig(), config.Preset{})
	require.NoError(t, inst.Initialize(context.Background()))
	for _, s := range inst.Sessions() {
		assert.True(t, s.Ready())
	}

	require.NoError(t, inst.Dispose())
	require.NoError(t, inst.Dispose())
	for _, s := range inst.Sessions() {
		assert.Equal(t, capture.StateDisposed, s.State())
	}
	assert.False(t, inst.Stream().IsRunning())
	assert.ErrorIs(t, inst.Run(context.Background()), ErrClosed)
}

func TestInstallationInitializeWhileCameraPending(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.Backend = capture.AutoBackend
	backend := &silentBackend{}
	inst, err := New(Options{Config: cfg, Router: capture.NewRouter(backend)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Dispose() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, inst.Initialize(ctx), context.DeadlineExceeded)

	for _, s := range inst.Sessions() {
		assert.Equal(t, capture.StateInitializing, s.State())
		assert.NoError(t, s.Err())
	}
	left, _ := inst.Pipeline(LeftWallID)
	left.Tick(time.Now())
	assert.Equal(t, uint64(1), left.Status().Frames.Placeholders)
	assert.Zero(t, backend.stopped())

	require.NoError(t, inst.Dispose())
	for _, s := range inst.Sessions() {
		assert.Equal(t, capture.StateDisposed, s.State())
	}
	assert.Equal(t, len(inst.Sessions()), backend.stopped())
}

func TestInstallationWithoutBackend(t *testing.T) {
	inst, err := New(Options{Config: testConfig(), Router: capture.NewRouter()})
	require.NoError(t, err)
	defer inst.Dispose()

	err = inst.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrNoBackend)

	// Pipelines still tick on placeholders.
	left, _ := inst.Pipeline(LeftWallID)
	left.Tick(time.Now())
	assert.Equal(t, uint64(1), left.Status().Frames.Placeholders)
}

func TestInstallationRun(t *testing.T) {
	inst := newTestInstallation(t, testConfig(), config.Preset{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inst.Run(ctx) }()

	screen, _ := inst.Pipeline(ScreenID)
	require.Eventually(t, func() bool { return screen.Status().Frames.Ticks > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestInstallationHUD(t *testing.T) {
	cfg := testConfig()
	cfg.Screen.HUD = true
	inst := newTestInstallation(t, cfg, config.Preset{})

	hud := inst.HUD()
	require.NotNil(t, hud)
	require.Len(t, hud.Widgets(), 1)

	lines := inst.statusLines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0].Text, LeftWallID)
	assert.Contains(t, lines[0].Text, "pts")
	assert.NotContains(t, lines[2].Text, "pts")

	screen, _ := inst.Pipeline(ScreenID)
	screen.Tick(time.Now())
	assert.Equal(t, uint64(1), screen.Status().Frames.Ticks)

	require.NoError(t, inst.Dispose())
	assert.Empty(t, hud.Widgets())
}
