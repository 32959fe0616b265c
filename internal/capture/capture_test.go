package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	w, h int
	// meta, when set, hides the size until it is closed.
	meta    chan struct{}
	frozen  bool
	readErr error
	start   time.Time
	resumes atomic.Int32
	toggles atomic.Int32
	stops   atomic.Int32
	stopped atomic.Bool
}

func newFakeStream(w, h int) *fakeStream {
	return &fakeStream{w: w, h: h, start: time.Now()}
}

func (s *fakeStream) pending() bool {
	if s.meta == nil {
		return false
	}
	select {
	case <-s.meta:
		return false
	default:
		return true
	}
}

func (s *fakeStream) Size() (int, int) {
	if s.pending() {
		return 0, 0
	}
	return s.w, s.h
}

func (s *fakeStream) LatestFrame() (*image.RGBA, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.w == 0 || s.pending() {
		return nil, ErrNoFrame
	}
	return image.NewRGBA(image.Rect(0, 0, s.w, s.h)), nil
}

func (s *fakeStream) Position() time.Duration {
	if s.frozen {
		return 0
	}
	return time.Since(s.start)
}

func (s *fakeStream) Resume() error {
	s.resumes.Add(1)
	return nil
}

func (s *fakeStream) SetEnabled(enabled bool) error {
	if !enabled {
		s.toggles.Add(1)
	}
	return nil
}

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.stopped.Store(true)
	return nil
}

type fakeBackend struct {
	mu        sync.Mutex
	openErr   error
	gate      chan struct{}
	opens     int
	devices   []string
	streams   []*fakeStream
	available bool
	name      string
	newStream func() *fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{available: true, name: "fake"}
}

func (b *fakeBackend) Name() string      { return b.name }
func (b *fakeBackend) IsAvailable() bool { return b.available }

func (b *fakeBackend) Open(ctx context.Context, req Request) (Stream, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	b.devices = append(b.devices, req.DeviceID)
	if b.openErr != nil {
		return nil, b.openErr
	}
	for _, prev := range b.streams {
		if !prev.stopped.Load() {
			return nil, errors.New("device or resource busy")
		}
	}
	s := newFakeStream(640, 480)
	if b.newStream != nil {
		s = b.newStream()
	}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *fakeBackend) stream(i int) *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[i]
}

func (b *fakeBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func newTestSession(b Backend) *Session {
	return NewSession(Options{
		Name:         "test",
		Backend:      b,
		MetadataPoll: time.Millisecond,
		PollInterval: time.Hour,
		StallAfter:   time.Hour,
	})
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	s := newTestSession(b)
	t.Cleanup(func() { _ = s.Dispose() })

	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, b.openCount())
	assert.Equal(t, StateReady, s.State())

	w, h := s.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
	assert.InDelta(t, 4.0/3.0, s.Aspect(), 1e-6)
}

func TestConcurrentInitializeSharesOneAcquisition(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.gate = make(chan struct{})
	s := newTestSession(b)
	t.Cleanup(func() { _ = s.Dispose() })

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Initialize(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return s.State() == StateInitializing }, time.Second, time.Millisecond)
	close(b.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, b.openCount())
}

func TestDisposeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	s := newTestSession(b)
	require.NoError(t, s.Initialize(context.Background()))

	require.NoError(t, s.Dispose())
	require.NoError(t, s.Dispose())

	assert.Equal(t, StateDisposed, s.State())
	assert.Equal(t, int32(1), b.stream(0).stops.Load())
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrDisposed)

	_, err := s.Frame()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.Resume(), ErrNotReady)
}

func TestDisposeBeforeInitialize(t *testing.T) {
	t.Parallel()
	s := newTestSession(newFakeBackend())
	require.NoError(t, s.Dispose())
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrDisposed)
}

func TestPermissionDeniedIsRetriable(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.openErr = fmt.Errorf("open /dev/video0: %w", fs.ErrPermission)
	s := newTestSession(b)
	t.Cleanup(func() { _ = s.Dispose() })

	err := s.Initialize(context.Background())
	require.Error(t, err)
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonPermissionDenied, ce.Reason)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, ReasonPermissionDenied, s.Stats().Reason)

	_, err = s.Frame()
	assert.ErrorIs(t, err, ErrNotReady)

	b.mu.Lock()
	b.openErr = nil
	b.mu.Unlock()
	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.Ready())
	assert.NoError(t, s.Err())
}

func TestCallerGivingUpLeavesAcquisitionPending(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			wantErr: context.DeadlineExceeded,
		},
		{
			name: "cancelled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			meta := make(chan struct{})
			b := newFakeBackend()
			b.newStream = func() *fakeStream {
				fs := newFakeStream(320, 240)
				fs.meta = meta
				return fs
			}
			s := newTestSession(b)
			t.Cleanup(func() { _ = s.Dispose() })

			ctx, cancel := tt.ctx()
			defer cancel()
			require.ErrorIs(t, s.Initialize(ctx), tt.wantErr)

			// The device has not answered: still waiting, nothing released.
			assert.Equal(t, StateInitializing, s.State())
			assert.NoError(t, s.Err())
			assert.False(t, b.stream(0).stopped.Load())

			close(meta)
			require.NoError(t, s.Initialize(context.Background()))
			assert.True(t, s.Ready())
			assert.Equal(t, 1, b.openCount())
		})
	}
}

func TestSharedAcquisitionSurvivesOneCallerLeaving(t *testing.T) {
	t.Parallel()
	meta := make(chan struct{})
	b := newFakeBackend()
	b.newStream = func() *fakeStream {
		fs := newFakeStream(320, 240)
		fs.meta = meta
		return fs
	}
	s := newTestSession(b)
	t.Cleanup(func() { _ = s.Dispose() })

	waiter := make(chan error, 1)
	go func() { waiter <- s.Initialize(context.Background()) }()

	require.Eventually(t, func() bool { return s.State() == StateInitializing }, time.Second, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	require.ErrorIs(t, s.Initialize(ctx), context.Canceled)

	close(meta)
	select {
	case err := <-waiter:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("remaining caller never returned")
	}
	assert.True(t, s.Ready())
	assert.Equal(t, 1, b.openCount())
}

func TestDisposeAbandonsPendingAcquisition(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.newStream = func() *fakeStream {
		fs := newFakeStream(320, 240)
		fs.meta = make(chan struct{})
		return fs
	}
	s := newTestSession(b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Initialize(ctx), context.DeadlineExceeded)
	require.Equal(t, StateInitializing, s.State())

	require.NoError(t, s.Dispose())
	assert.Equal(t, StateDisposed, s.State())
	assert.True(t, b.stream(0).stopped.Load(), "pending stream released on dispose")
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrDisposed)
}

func TestSwitchSourceAbandonsPendingAcquisition(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	opened := 0
	b.newStream = func() *fakeStream {
		opened++
		fs := newFakeStream(320, 240)
		if opened == 1 {
			fs.meta = make(chan struct{})
		}
		return fs
	}
	s := newTestSession(b)
	t.Cleanup(func() { _ = s.Dispose() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Initialize(ctx), context.DeadlineExceeded)

	require.NoError(t, s.SwitchSource(context.Background(), "/dev/video2"))
	assert.True(t, s.Ready())
	assert.True(t, b.stream(0).stopped.Load())
	assert.Equal(t, "/dev/video2", s.Stats().Device)
}

func TestStreamErrorDuringMetadataWait(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.newStream = func() *fakeStream {
		s := newFakeStream(0, 0)
		s.readErr = errors.New("Internal data stream error: not negotiated")
		return s
	}
	s := newTestSession(b)

	err := s.Initialize(context.Background())
	assert.Equal(t, ReasonUnreadable, ReasonOf(err))
}

func TestSwitchSourceReleasesPreviousDevice(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	s := newTestSession(b)
	t.Cleanup(func() { _ = s.Dispose() })

	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.SwitchSource(context.Background(), "/dev/video2"))

	require.Len(t, b.streams, 2)
	assert.True(t, b.stream(0).stopped.Load())
	assert.False(t, b.stream(1).stopped.Load())
	assert.Equal(t, "/dev/video2", b.devices[1])
	assert.Equal(t, "/dev/video2", s.Stats().Device)
	assert.True(t, s.Ready())
}

func TestSessionWatchdogRecoversStall(t *testing.T) {
	t.Parallel()
	b := newFakeBackend()
	b.newStream = func() *fakeStream {
		s := newFakeStream(320, 240)
		s.frozen = true
		return s
	}
	s := NewSession(Options{
		Backend:      b,
		MetadataPoll: time.Millisecond,
		PollInterval: 2 * time.Millisecond,
		StallAfter:   10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Dispose() })
	require.NoError(t, s.Initialize(context.Background()))

	stream := b.stream(0)
	// One resume comes from Initialize itself.
	require.Eventually(t, func() bool { return stream.resumes.Load() >= 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return stream.toggles.Load() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, HealthRecovering, s.Health())
}

func TestWatchdogTransitions(t *testing.T) {
	t.Parallel()
	base := time.Unix(0, 0)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	w := NewWatchdog(100 * time.Millisecond)
	assert.Equal(t, ActionNone, w.Observe(0, at(0)))
	assert.Equal(t, HealthHealthy, w.State())

	assert.Equal(t, ActionNone, w.Observe(0, at(50)))
	assert.Equal(t, ActionResume, w.Observe(0, at(100)))
	assert.Equal(t, HealthSuspected, w.State())

	assert.Equal(t, ActionNone, w.Observe(0, at(150)))
	assert.Equal(t, ActionToggleTrack, w.Observe(0, at(200)))
	assert.Equal(t, HealthRecovering, w.State())

	assert.Equal(t, ActionNone, w.Observe(0, at(250)))
	assert.Equal(t, ActionToggleTrack, w.Observe(0, at(300)))
	assert.Equal(t, HealthRecovering, w.State())

	assert.Equal(t, ActionNone, w.Observe(33*time.Millisecond, at(310)))
	assert.Equal(t, HealthHealthy, w.State())
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want Reason
	}{
		{fs.ErrPermission, ReasonPermissionDenied},
		{fmt.Errorf("open: %w", syscall.EACCES), ReasonPermissionDenied},
		{syscall.EBUSY, ReasonDeviceBusy},
		{fmt.Errorf("open: %w", fs.ErrNotExist), ReasonDeviceUnavailable},
		{errors.New("Cannot identify device '/dev/video9'."), ReasonDeviceUnavailable},
		{errors.New("Device '/dev/video0' is busy"), ReasonDeviceBusy},
		{errors.New("streaming stopped, reason not-negotiated (-4): not negotiated"), ReasonUnreadable},
		{errors.New("Could not open device: Permission denied"), ReasonPermissionDenied},
		{errors.New("something odd"), ReasonUnknown},
		{&CaptureError{Reason: ReasonDeviceBusy, Backend: "test", Err: errors.New("x")}, ReasonDeviceBusy},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ce := Classify("test", tt.err)
			assert.Equal(t, tt.want, ce.Reason)
			assert.Equal(t, "test", ce.Backend)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
	assert.Nil(t, Classify("test", nil))
}

func TestCalculateFPSStats(t *testing.T) {
	t.Parallel()
	var times []time.Time
	base := time.Now()
	for i := 0; i < 31; i++ {
		times = append(times, base.Add(time.Duration(i)*time.Second/30))
	}
	s := CalculateFPSStats(times)
	assert.Equal(t, uint64(31), s.Frames)
	assert.InDelta(t, 30, s.FPSMean, 0.5)
	assert.InDelta(t, 0, s.FPSStdDev, 0.5)
	assert.True(t, s.Stable)

	assert.Zero(t, CalculateFPSStats(times[:1]).FPSMean)
}

func TestFrameClockCountsDistinctPositions(t *testing.T) {
	t.Parallel()
	c := newFrameClock()
	now := time.Now()
	c.observe(0, now)
	c.observe(0, now.Add(time.Millisecond))
	c.observe(time.Second, now.Add(2*time.Millisecond))
	assert.Equal(t, uint64(2), c.stats().Frames)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSyntheticStream(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(100, 0)}
	b := &Synthetic{now: clk.now}

	st, err := b.Open(context.Background(), Request{Width: 64, Height: 48, FPS: 10})
	require.NoError(t, err)
	w, h := st.Size()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
	assert.Equal(t, time.Duration(0), st.Position(), "not playing before Resume")

	require.NoError(t, st.Resume())
	clk.advance(250 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, st.Position())

	require.NoError(t, st.SetEnabled(false))
	clk.advance(time.Second)
	assert.Equal(t, 200*time.Millisecond, st.Position(), "paused track does not advance")

	require.NoError(t, st.SetEnabled(true))
	clk.advance(100 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, st.Position())

	f1, err := st.LatestFrame()
	require.NoError(t, err)
	assert.Equal(t, SyntheticFrame(64, 48, 3).Pix, f1.Pix)

	require.NoError(t, st.Stop())
	require.NoError(t, st.Stop())
	_, err = st.LatestFrame()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSyntheticSessionDeliversFrames(t *testing.T) {
	t.Parallel()
	s := newTestSession(NewSynthetic())
	t.Cleanup(func() { _ = s.Dispose() })
	require.NoError(t, s.Initialize(context.Background()))

	img, err := s.Frame()
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, img.Bounds().Dx())
	assert.Equal(t, DefaultHeight, img.Bounds().Dy())
}

func TestRouterSelect(t *testing.T) {
	t.Parallel()
	down := newFakeBackend()
	down.name, down.available = "down", false
	up := newFakeBackend()
	up.name = "up"
	r := NewRouter(down, up, NewSynthetic())

	b, err := r.Select("down")
	require.NoError(t, err)
	assert.Equal(t, "up", b.Name(), "falls back to first available")

	b, err = r.Select(SyntheticName)
	require.NoError(t, err)
	assert.Equal(t, SyntheticName, b.Name())

	b, err = r.Select("")
	require.NoError(t, err)
	assert.Equal(t, "up", b.Name())

	_, err = r.Select("nope")
	assert.Error(t, err)

	_, err = NewRouter(down).Select(AutoBackend)
	assert.ErrorIs(t, err, ErrNoBackend)

	assert.Equal(t, []string{"down", "up", SyntheticName}, r.Names())

	grab := newFakeBackend()
	grab.name = "grab"
	r.AddExplicit(grab)
	b, err = r.Select("grab")
	require.NoError(t, err)
	assert.Equal(t, "grab", b.Name())
	b, err = NewRouter(down).Select("")
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.Nil(t, b)
	assert.Equal(t, []DeviceInfo{{ID: "pattern", Name: "Synthetic test pattern", Backend: SyntheticName}}, r.Devices())
}

type countingResumer struct {
	id string
	n  atomic.Int32
}

func (c *countingResumer) ID() string { return c.id }
func (c *countingResumer) Resume() error {
	c.n.Add(1)
	return nil
}

func TestParseGeometry(t *testing.T) {
	t.Parallel()
	r, err := ParseGeometry("640x480+100+50")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(100, 50, 740, 530), r)

	r, err = ParseGeometry("320x240")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), r)

	for _, bad := range []string{"", "640", "0x480", "640x480+1", "axb"} {
		_, err := ParseGeometry(bad)
		assert.Error(t, err, bad)
	}
}

func TestBGRAToRGBA(t *testing.T) {
	t.Parallel()
	img := bgraToRGBA([]byte{1, 2, 3, 0, 4, 5, 6, 0}, 2, 1)
	assert.Equal(t, []uint8{3, 2, 1, 255, 6, 5, 4, 255}, img.Pix)
}

func TestResumeWatcherHandlesWake(t *testing.T) {
	t.Parallel()
	w := newResumeWatcher()
	a, b := &countingResumer{id: "a"}, &countingResumer{id: "b"}
	w.Add(a)
	w.Add(b)

	name := login1ManagerIface + "." + prepareForSleep
	assert.Equal(t, 0, w.handle(&dbus.Signal{Name: name, Body: []interface{}{true}}), "going to sleep")
	assert.Equal(t, 2, w.handle(&dbus.Signal{Name: name, Body: []interface{}{false}}))
	assert.Equal(t, 0, w.handle(&dbus.Signal{Name: "org.example.Other", Body: []interface{}{false}}))
	assert.Equal(t, 0, w.handle(nil))

	w.Remove("b")
	assert.Equal(t, 1, w.handle(&dbus.Signal{Name: name, Body: []interface{}{false}}))
	assert.Equal(t, int32(2), a.n.Load())
	assert.Equal(t, int32(1), b.n.Load())
	assert.NoError(t, w.Close())
}
