package overlay

import (
	"image"
	"image/color"
	"sync"
	"time"
)

// Level colors a status line.
type Level int

const (
	LevelInfo Level = iota
	LevelOK
	LevelWarn
	LevelError
)

var levelColors = map[Level]color.RGBA{
	LevelInfo:  {200, 200, 200, 255},
	LevelOK:    {46, 160, 67, 255},
	LevelWarn:  {219, 154, 4, 255},
	LevelError: {203, 36, 49, 255},
}

// Line is one row of the stats panel.
type Line struct {
	Text  string
	Level Level
}

// Provider returns the current panel contents. It is called from the widget's
// poll goroutine, never from Render.
type Provider func() []Line

// StatsWidget shows a periodically refreshed panel of status lines.
type StatsWidget struct {
	*BaseWidget
	provider     Provider
	pollInterval time.Duration
	bgColor      color.RGBA
	padding      int

	mu         sync.RWMutex
	lines      []Line
	lastUpdate time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewStatsWidget starts polling provider every interval.
func NewStatsWidget(id string, provider Provider, interval time.Duration, x, y int) *StatsWidget {
	if interval <= 0 {
		interval = time.Second
	}
	w := &StatsWidget{
		BaseWidget:   NewBaseWidget(id, x, y, 0.9),
		provider:     provider,
		pollInterval: interval,
		bgColor:      color.RGBA{30, 30, 40, 220},
		padding:      8,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	w.refresh()
	go w.poll()
	return w
}

func (w *StatsWidget) Type() string { return "stats" }

func (w *StatsWidget) poll() {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *StatsWidget) refresh() {
	lines := w.provider()
	w.mu.Lock()
	w.lines = lines
	w.lastUpdate = time.Now()
	w.mu.Unlock()
}

// Lines returns the cached panel contents.
func (w *StatsWidget) Lines() []Line {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Line(nil), w.lines...)
}

// Stop ends polling and waits for the poll goroutine.
func (w *StatsWidget) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

func (w *StatsWidget) Render(img *image.RGBA) error {
	lines := w.Lines()
	if !w.IsEnabled() || len(lines) == 0 {
		return nil
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	size := image.Pt(
		measure(texts)+w.padding*2,
		len(lines)*lineHeight+(len(lines)-1)*2+w.padding*2,
	)
	r := w.anchor(img.Bounds(), size)
	op := w.Opacity()
	DrawRectangle(img, r, w.bgColor, op)

	layer := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for i, l := range lines {
		drawLine(layer, image.Pt(w.padding, w.padding+i*(lineHeight+2)), l.Text, levelColors[l.Level])
	}
	BlendImage(img, layer, r.Min.X, r.Min.Y, op)
	return nil
}
