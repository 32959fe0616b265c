// Package pipeline drives the three capture-to-render loops of the installation:
// the two projection walls and the silhouette screen.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
	"github.com/bryanchriswhite/MirrorRoom/internal/device"
	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/output"
	"github.com/bryanchriswhite/MirrorRoom/internal/projection"
	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
	"github.com/bryanchriswhite/MirrorRoom/internal/silhouette"
)

// Kind distinguishes the two pipeline variants.
type Kind string

const (
	KindWall   Kind = "wall"
	KindScreen Kind = "screen"
)

// Pipeline ids used by the installation.
const (
	LeftWallID  = "left-wall"
	RightWallID = "right-wall"
	ScreenID    = "screen"
)

// Tick rates. The screen runs slower because text rendering costs more than the
// wall path and gains nothing from display refresh rate.
const (
	WallRate   = 60
	ScreenRate = 30
)

// ErrClosed is returned by operations on a disposed pipeline.
var (
	ErrClosed = errors.New("pipeline closed")
	// ErrInvalidSize is returned by Resize for sizes outside 1-silhouette.MaxSize.
	ErrInvalidSize = errors.New("invalid screen size")
)

// subscriberBuffer is the per-subscriber snapshot queue length.
const subscriberBuffer = 2

// Pipeline is one capture → sample/render → publish loop. A wall pipeline
// samples into a projection pool; a screen pipeline renders the text silhouette
// and writes it to its outputs.
type Pipeline struct {
	id       string
	kind     Kind
	store    *settings.Store
	session  *capture.Session
	interval time.Duration
	epoch    time.Time
	log      zerolog.Logger

	// mu serializes ticks with grid and size changes.
	mu       sync.Mutex
	sampler  *sampler.Sampler
	updater  *projection.Updater
	renderer *silhouette.Renderer
	outputs  []output.Output
	overlay  Overlay
	stats    Stats
	closed   bool

	subMu sync.Mutex
	subs  map[chan projection.Snapshot]struct{}
}

// Overlay draws over a rendered screen frame before it reaches the outputs.
type Overlay interface {
	Render(img *image.RGBA) error
}

// Stats counts frames by source.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	LiveFrames   uint64 `json:"live_frames"`
	Placeholders uint64 `json:"placeholder_frames"`
	Visible      int    `json:"visible"`
	LastTick     string `json:"last_tick,omitempty"`
}

// Status is the API view of a pipeline.
type Status struct {
	ID       string                  `json:"id"`
	Kind     Kind                    `json:"kind"`
	RateHz   int                     `json:"rate_hz"`
	Capture  capture.Stats           `json:"capture"`
	Frames   Stats                   `json:"frames"`
	Sample   settings.SampleSettings `json:"sample"`
	Text     *settings.TextSettings  `json:"text,omitempty"`
	Grid     *GridInfo               `json:"grid,omitempty"`
	Instance *InstanceInfo           `json:"instances,omitempty"`
}

type GridInfo struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Cols   int     `json:"cols"`
	Rows   int     `json:"rows"`
	CellW  float64 `json:"cell_w"`
	CellH  float64 `json:"cell_h"`
}

type InstanceInfo struct {
	Slots   int    `json:"slots"`
	Visible int    `json:"visible"`
	Version uint64 `json:"version"`
	Side    string `json:"side"`
}

func newPipeline(id string, kind Kind, rate int, store *settings.Store, session *capture.Session) *Pipeline {
	return &Pipeline{
		id:       id,
		kind:     kind,
		store:    store,
		session:  session,
		interval: time.Second / time.Duration(rate),
		epoch:    time.Now(),
		log:      *logger.WithPipeline("pipeline", id),
		subs:     make(map[chan projection.Snapshot]struct{}),
	}
}

// NewWall builds a wall pipeline. The pool holds prof.MaxSamples slots and the
// working raster uses the profile's sampling resolution.
func NewWall(id string, wall projection.Wall, prof device.Profile, store *settings.Store, session *capture.Session) *Pipeline {
	p := newPipeline(id, KindWall, WallRate, store, session)
	p.sampler = sampler.New(prof.SampleWidth, prof.SampleHeight, prof.MaxSamples)
	p.updater = projection.NewUpdater(wall, projection.NewPool(prof.MaxSamples), prof.PlaceholderW, prof.PlaceholderH)
	return p
}

// NewScreen builds a screen pipeline rendering width×height.
func NewScreen(id string, width, height int, seed int64, store *settings.Store, session *capture.Session) (*Pipeline, error) {
	r, err := silhouette.NewRenderer(width, height, store.Text(), seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	p := newPipeline(id, KindScreen, ScreenRate, store, session)
	p.renderer = r
	store.Subscribe(p.onSettingChange)
	return p, nil
}

func (p *Pipeline) onSettingChange(c settings.Change) {
	switch c.Key {
	case "fontSize", "textDensity", "words":
		if err := p.ResetGrid(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to rebuild text grid")
		}
	}
}

func (p *Pipeline) ID() string                { return p.id }
func (p *Pipeline) Kind() Kind                { return p.kind }
func (p *Pipeline) Store() *settings.Store    { return p.store }
func (p *Pipeline) Session() *capture.Session { return p.session }
func (p *Pipeline) Interval() time.Duration   { return p.interval }

// Pool returns the wall's instance pool, nil for a screen.
func (p *Pipeline) Pool() *projection.Pool {
	if p.updater == nil {
		return nil
	}
	return p.updater.Pool()
}

// AddOutput attaches an output that receives every rendered screen frame.
func (p *Pipeline) AddOutput(o output.Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs = append(p.outputs, o)
}

// SetOverlay installs the overlay drawn over every screen frame; nil removes it.
func (p *Pipeline) SetOverlay(o Overlay) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlay = o
}

// Outputs returns the attached outputs.
func (p *Pipeline) Outputs() []output.Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]output.Output(nil), p.outputs...)
}

// Initialize acquires the camera. It is the user-gesture entry point.
func (p *Pipeline) Initialize(ctx context.Context) error {
	return p.session.Initialize(ctx)
}

// SwitchSource moves the pipeline's session to another device.
func (p *Pipeline) SwitchSource(ctx context.Context, deviceID string) error {
	return p.session.SwitchSource(ctx, deviceID)
}

// ResetGrid reassigns the screen's words and colors.
func (p *Pipeline) ResetGrid() error {
	if p.renderer == nil {
		return fmt.Errorf("pipeline %s has no text grid", p.id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.renderer.ResetGrid(p.store.Text())
}

// Resize changes the screen raster size and rebuilds its grid.
func (p *Pipeline) Resize(width, height int) error {
	if p.renderer == nil {
		return fmt.Errorf("pipeline %s cannot be resized", p.id)
	}
	if err := silhouette.ValidateSize(width, height); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.renderer.Resize(width, height, p.store.Text())
}

// Tick runs one frame to completion. Walls sample then update the pool then
// publish; the screen renders then writes to its outputs. A source that is not
// ready, or whose frame cannot be read, yields the placeholder.
func (p *Pipeline) Tick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	t := now.Sub(p.epoch).Seconds()
	live := false
	switch p.kind {
	case KindWall:
		live = p.tickWall(t)
	case KindScreen:
		live = p.tickScreen(t)
	}

	p.stats.Ticks++
	if live {
		p.stats.LiveFrames++
	} else {
		p.stats.Placeholders++
	}
	p.stats.LastTick = now.Format(time.RFC3339Nano)
}

func (p *Pipeline) aspect() float32 {
	if a := p.session.Aspect(); a > 0 {
		return a
	}
	return projection.DefaultAspect
}

func (p *Pipeline) tickWall(t float64) bool {
	s := p.store.Sample()
	aspect := p.aspect()

	pts, ok := p.sampler.CaptureFrame(p.session, s)
	if ok {
		p.stats.Visible = p.updater.Update(pts, s, aspect)
	} else {
		p.stats.Visible = p.updater.UpdatePlaceholder(t, s, aspect)
	}

	if p.subscribers() > 0 {
		p.publish(p.updater.Pool().Snapshot())
	}
	return ok
}

func (p *Pipeline) tickScreen(t float64) bool {
	var frame *image.RGBA
	if p.session.Ready() {
		f, err := p.session.Frame()
		if err != nil && !errors.Is(err, capture.ErrNoFrame) {
			p.log.Debug().Err(err).Msg("Unreadable frame, showing placeholder")
		}
		frame = f
	}
	if frame == nil {
		p.renderer.SetLabels("NO SIGNAL", p.id, p.session.State().String())
	}

	out := p.renderer.Render(frame, p.store.Sample(), p.store.Text(), t)
	if p.overlay != nil {
		if err := p.overlay.Render(out); err != nil {
			p.log.Debug().Err(err).Msg("Overlay failed")
		}
	}
	for _, o := range p.outputs {
		if !o.IsRunning() {
			continue
		}
		if err := o.WriteFrame(out); err != nil {
			p.log.Debug().Err(err).Str("output", o.Name()).Msg("Failed to write frame")
		}
	}
	return frame != nil
}

// Run ticks at the pipeline's rate until ctx is done. A tick in progress always
// completes.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().
		Str("kind", string(p.kind)).
		Dur("interval", p.interval).
		Msg("Pipeline started")
	defer p.log.Info().Msg("Pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.safeTick(now)
		}
	}
}

func (p *Pipeline) safeTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("Frame aborted")
		}
	}()
	p.Tick(now)
}

// Subscribe returns a channel of wall snapshots. Slow subscribers miss
// snapshots rather than delaying the pipeline. Call the returned function to
// unsubscribe.
func (p *Pipeline) Subscribe() (<-chan projection.Snapshot, func()) {
	ch := make(chan projection.Snapshot, subscriberBuffer)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			if _, ok := p.subs[ch]; ok {
				delete(p.subs, ch)
				close(ch)
			}
			p.subMu.Unlock()
		})
	}
}

func (p *Pipeline) subscribers() int {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	return len(p.subs)
}

func (p *Pipeline) publish(snap projection.Snapshot) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// closeSubscribers ends every subscription.
func (p *Pipeline) closeSubscribers() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		close(ch)
		delete(p.subs, ch)
	}
}

// Status returns the API view.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := Status{
		ID:      p.id,
		Kind:    p.kind,
		RateHz:  int(time.Second / p.interval),
		Capture: p.session.Stats(),
		Frames:  p.stats,
		Sample:  p.store.Sample(),
	}
	if p.renderer != nil {
		text := p.store.Text()
		g := p.renderer.Grid()
		b := p.renderer.Bounds()
		st.Text = &text
		st.Grid = &GridInfo{Width: b.Dx(), Height: b.Dy(), Cols: g.Cols, Rows: g.Rows, CellW: g.CellW, CellH: g.CellH}
	}
	if p.updater != nil {
		pool := p.updater.Pool()
		st.Instance = &InstanceInfo{
			Slots:   pool.Size(),
			Visible: pool.Visible(),
			Version: pool.Version(),
			Side:    string(p.updater.Wall().Side),
		}
	}
	p.mu.Unlock()
	return st
}

// close stops outputs and subscriptions. Sessions are released by the owner.
func (p *Pipeline) close() {
	p.closeSubscribers()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, o := range p.outputs {
		if err := o.Stop(); err != nil {
			p.log.Warn().Err(err).Str("output", o.Name()).Msg("Failed to stop output")
		}
	}
	if p.renderer != nil {
		p.renderer.Close()
	}
}
