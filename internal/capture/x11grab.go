package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// X11GrabName is the backend name of the X11 screen-region capture.
const X11GrabName = "x11grab"

// X11Grab captures a region of the X11 root window as if it were a camera. It is
// never chosen automatically; select it by name to feed a desktop video player or
// a second application into the room.
//
// The device id is "WxH+X+Y" (xrandr geometry syntax) or empty for the whole screen.
type X11Grab struct{}

func NewX11Grab() *X11Grab { return &X11Grab{} }

func (b *X11Grab) Name() string { return X11GrabName }

func (b *X11Grab) IsAvailable() bool { return os.Getenv("DISPLAY") != "" }

// ParseGeometry parses "WxH+X+Y". Offsets are optional.
func ParseGeometry(s string) (image.Rectangle, error) {
	size, offsets, _ := strings.Cut(s, "+")
	ws, hs, ok := strings.Cut(size, "x")
	if !ok {
		return image.Rectangle{}, fmt.Errorf("invalid geometry %q", s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid geometry %q", s)
	}
	x, y := 0, 0
	if offsets != "" {
		xs, ys, ok := strings.Cut(offsets, "+")
		if !ok {
			return image.Rectangle{}, fmt.Errorf("invalid geometry offset %q", s)
		}
		var errX, errY error
		x, errX = strconv.Atoi(xs)
		y, errY = strconv.Atoi(ys)
		if errX != nil || errY != nil {
			return image.Rectangle{}, fmt.Errorf("invalid geometry offset %q", s)
		}
	}
	return image.Rect(x, y, x+w, y+h), nil
}

func (b *X11Grab) Open(ctx context.Context, req Request) (Stream, error) {
	req = req.withDefaults()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return nil, fmt.Errorf("unsupported format: root depth %d", screen.RootDepth)
	}

	region := image.Rect(0, 0, int(screen.WidthInPixels), int(screen.HeightInPixels))
	if req.DeviceID != "" {
		r, err := ParseGeometry(req.DeviceID)
		if err != nil {
			conn.Close()
			return nil, err
		}
		region = r.Intersect(region)
		if region.Empty() {
			conn.Close()
			return nil, fmt.Errorf("region %s not found on screen", req.DeviceID)
		}
	}

	s := &x11Stream{
		conn:     conn,
		root:     screen.Root,
		region:   region,
		interval: time.Second / time.Duration(req.FPS),
		enabled:  true,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.grabLoop()

	logger.WithComponent("x11grab").Info().
		Int("x", region.Min.X).Int("y", region.Min.Y).
		Int("width", region.Dx()).Int("height", region.Dy()).
		Msg("Grabbing screen region")
	return s, nil
}

type x11Stream struct {
	conn     *xgb.Conn
	root     xproto.Window
	region   image.Rectangle
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}

	mu       sync.RWMutex
	latest   *image.RGBA
	enabled  bool
	frames   int64
	err      error
	stopped  bool
	stopOnce sync.Once
}

func (s *x11Stream) grabLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
		}

		s.mu.RLock()
		enabled := s.enabled
		s.mu.RUnlock()
		if !enabled {
			continue
		}

		img, err := s.grab()
		s.mu.Lock()
		if err != nil {
			s.err = err
		} else {
			s.err = nil
			s.latest = img
			s.frames++
		}
		s.mu.Unlock()
	}
}

func (s *x11Stream) grab() (*image.RGBA, error) {
	w, h := s.region.Dx(), s.region.Dy()
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		int16(s.region.Min.X), int16(s.region.Min.Y),
		uint16(w), uint16(h),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return bgraToRGBA(reply.Data, w, h), nil
}

// bgraToRGBA converts 24/32-bit ZPixmap data.
func bgraToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) &^ 3
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}

func (s *x11Stream) Size() (int, int) { return s.region.Dx(), s.region.Dy() }

func (s *x11Stream) LatestFrame() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return nil, ErrNotReady
	}
	if s.latest == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrNoFrame
	}
	out := image.NewRGBA(s.latest.Rect)
	copy(out.Pix, s.latest.Pix)
	return out, nil
}

func (s *x11Stream) Position() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.frames) * s.interval
}

func (s *x11Stream) Resume() error { return s.SetEnabled(true) }

func (s *x11Stream) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotReady
	}
	s.enabled = enabled
	return nil
}

func (s *x11Stream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.mu.Lock()
		s.stopped = true
		s.latest = nil
		s.mu.Unlock()
		s.conn.Close()
	})
	return nil
}
