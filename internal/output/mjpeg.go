package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// DefaultJPEGQuality is used when MJPEGOutput is created with quality 0.
const DefaultJPEGQuality = 85

// MJPEGOutput streams frames as Motion JPEG over HTTP. Each client has a two-frame
// buffer; a client that falls behind skips frames instead of slowing the pipeline.
type MJPEGOutput struct {
	name    string
	config  Config
	quality int
	log     zerolog.Logger

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	// Last encoded frame, sent immediately to new clients.
	frameMu    sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time
	frameCount uint64

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
	// accepting is false while stopped; guarded by clientsMu so no client can
	// register after Stop has closed the others.
	accepting bool
}

// MJPEGStats is reported by the stats endpoint.
type MJPEGStats struct {
	Name       string  `json:"name"`
	Running    bool    `json:"running"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	TargetFPS  int     `json:"target_fps"`
	ActualFPS  float64 `json:"actual_fps"`
	Frames     uint64  `json:"frames"`
	Clients    int     `json:"clients"`
	LastUpdate string  `json:"last_update,omitempty"`
	Uptime     string  `json:"uptime,omitempty"`
}

// NewMJPEGOutput creates a new MJPEG stream output for the named pipeline.
func NewMJPEGOutput(name string, config Config, quality int) *MJPEGOutput {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &MJPEGOutput{
		name:    name,
		config:  config,
		quality: quality,
		log:     logger.WithComponent("mjpeg").With().Str("pipeline", name).Logger(),
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output running. The HTTP handler is mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}
	m.running = true
	m.startTime = time.Now()

	m.frameMu.Lock()
	m.frameCount = 0
	m.frameMu.Unlock()

	m.clientsMu.Lock()
	m.accepting = true
	m.clientsMu.Unlock()

	m.log.Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("MJPEG output started")
	return nil
}

// Stop disconnects every client.
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	m.accepting = false
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.frameMu.RLock()
	frames := m.frameCount
	m.frameMu.RUnlock()
	m.log.Info().Uint64("frames", frames).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes the frame once and offers it to every client.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	data := buf.Bytes()

	m.frameMu.Lock()
	m.lastJPEG = data
	m.lastUpdate = time.Now()
	m.frameCount++
	m.frameMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Clients returns the number of connected viewers.
func (m *MJPEGOutput) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats returns a snapshot of the stream counters.
func (m *MJPEGOutput) Stats() MJPEGStats {
	m.mu.RLock()
	running, startTime := m.running, m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	frames, lastUpdate := m.frameCount, m.lastUpdate
	m.frameMu.RUnlock()

	st := MJPEGStats{
		Name:      m.name,
		Running:   running,
		Width:     m.config.Width,
		Height:    m.config.Height,
		TargetFPS: m.config.FPS,
		Frames:    frames,
		Clients:   m.Clients(),
	}
	if running && !startTime.IsZero() {
		elapsed := time.Since(startTime)
		if s := elapsed.Seconds(); s > 0 {
			st.ActualFPS = float64(frames) / s
		}
		st.Uptime = elapsed.Round(time.Second).String()
	}
	if !lastUpdate.IsZero() {
		st.LastUpdate = time.Since(lastUpdate).Round(time.Millisecond).String()
	}
	return st
}

// addClient registers a viewer. It reports false once the output is stopped.
func (m *MJPEGOutput) addClient() (chan []byte, bool) {
	ch := make(chan []byte, 2)

	m.frameMu.RLock()
	last := m.lastJPEG
	m.frameMu.RUnlock()
	if last != nil {
		ch <- last
	}

	m.clientsMu.Lock()
	if !m.accepting {
		m.clientsMu.Unlock()
		return nil, false
	}
	m.clients[ch] = struct{}{}
	n := len(m.clients)
	m.clientsMu.Unlock()

	m.log.Info().Int("clients", n).Msg("MJPEG client connected")
	return ch, true
}

func (m *MJPEGOutput) removeClient(ch chan []byte) {
	m.clientsMu.Lock()
	_, ok := m.clients[ch]
	delete(m.clients, ch)
	n := len(m.clients)
	m.clientsMu.Unlock()
	if ok {
		m.log.Info().Int("clients", n).Msg("MJPEG client disconnected")
	}
}

// ServeHTTP streams multipart JPEG frames until the client goes away or the
// output stops.
func (m *MJPEGOutput) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := m.addClient()
	if !ok {
		http.Error(w, "stream not running", http.StatusServiceUnavailable)
		return
	}
	defer m.removeClient(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "close")

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := writePart(w, data); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// StatsHandler serves Stats as JSON.
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}
