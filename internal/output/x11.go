package output

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// X11Window shows frames in a plain X11 window, letterboxed to the window size.
type X11Window struct {
	title  string
	width  int
	height int

	mu      sync.Mutex
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	window  xproto.Window
	gc      xproto.Gcontext
	running bool
	canvas  *image.RGBA
	format  pixmapFormat
	buf     []byte
}

type pixmapFormat struct {
	depth        uint8
	bitsPerPixel uint8
	scanlinePad  uint8
}

// NewX11Window creates the output; the window is only opened by Start.
func NewX11Window(title string, cfg Config) *X11Window {
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	return &X11Window{title: title, width: w, height: h}
}

func (x *X11Window) Name() string { return "X11 Preview Window" }

func (x *X11Window) IsRunning() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.running
}

// Start connects to the X server and maps the window.
func (x *X11Window) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.running {
		return fmt.Errorf("preview window already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	format, err := findFormat(setup.PixmapFormats, screen.RootDepth)
	if err != nil {
		conn.Close()
		return err
	}

	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		wid,
		screen.Root,
		0, 0,
		uint16(x.width), uint16(x.height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{0x000000, xproto.EventMaskExposure | xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window: %w", err)
	}

	x.conn, x.screen, x.window, x.format = conn, screen, wid, format
	if err := x.setTitle(x.title); err != nil {
		logger.WithComponent("preview").Warn().Err(err).Msg("Failed to set window title")
	}

	if err := xproto.MapWindowChecked(conn, wid).Check(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(wid), 0, nil).Check(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	x.gc = gc
	x.canvas = image.NewRGBA(image.Rect(0, 0, x.width, x.height))
	x.running = true

	logger.WithComponent("preview").Info().
		Int("width", x.width).
		Int("height", x.height).
		Uint32("window_id", uint32(wid)).
		Msg("Preview window created")
	return nil
}

// Stop destroys the window and closes the connection.
func (x *X11Window) Stop() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return nil
	}
	x.running = false
	xproto.FreeGC(x.conn, x.gc)
	xproto.DestroyWindow(x.conn, x.window)
	x.conn.Sync()
	x.conn.Close()
	logger.WithComponent("preview").Info().Msg("Preview window closed")
	return nil
}

// WriteFrame letterboxes the frame into the window.
func (x *X11Window) WriteFrame(frame *image.RGBA) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.running {
		return fmt.Errorf("preview window not running")
	}
	Letterbox(x.canvas, frame)

	var err error
	x.buf, err = packZPixmap(x.buf, x.canvas, x.format)
	if err != nil {
		return err
	}
	stride := len(x.buf) / x.height

	// Requests are limited to MaximumRequestLength 4-byte units, so large
	// frames go out in horizontal bands.
	maxBytes := int(xproto.Setup(x.conn).MaximumRequestLength)*4 - 64
	rows := max(1, maxBytes/stride)
	for y := 0; y < x.height; y += rows {
		n := min(rows, x.height-y)
		err := xproto.PutImageChecked(
			x.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(x.window),
			x.gc,
			uint16(x.width), uint16(n),
			0, int16(y),
			0,
			x.format.depth,
			x.buf[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func findFormat(formats []xproto.Format, depth byte) (pixmapFormat, error) {
	for _, f := range formats {
		if f.Depth == depth {
			return pixmapFormat{depth: depth, bitsPerPixel: f.BitsPerPixel, scanlinePad: f.ScanlinePad}, nil
		}
	}
	return pixmapFormat{}, fmt.Errorf("no pixmap format for depth %d", depth)
}

// packZPixmap converts RGBA to the server's BGRx/BGR layout with padded
// scanlines, reusing buf when it is large enough.
func packZPixmap(buf []byte, img *image.RGBA, f pixmapFormat) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bpp := int(f.bitsPerPixel) / 8
	if bpp != 3 && bpp != 4 {
		return buf, fmt.Errorf("unsupported bytes per pixel: %d", bpp)
	}
	pad := max(1, int(f.scanlinePad)/8)
	stride := (w*bpp + pad - 1) / pad * pad

	size := stride * h
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	clear(buf)

	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := buf[y*stride:]
		for x := 0; x < w; x++ {
			s, d := x*4, x*bpp
			dst[d] = src[s+2]
			dst[d+1] = src[s+1]
			dst[d+2] = src[s]
			if bpp == 4 && f.depth == 32 {
				dst[d+3] = src[s+3]
			}
		}
	}
	return buf, nil
}

func (x *X11Window) setTitle(title string) error {
	name, err := x.atom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8, err := x.atom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		x.conn,
		xproto.PropModeReplace,
		x.window,
		name,
		utf8,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (x *X11Window) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	return reply.Atom, nil
}
