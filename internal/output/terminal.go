package output

import (
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/bryanchriswhite/MirrorRoom/internal/sampler"
)

// asciiRamp runs from dark to bright.
var asciiRamp = []rune{' ', '.', ',', ':', ';', 'i', '1', 't', 'f', 'L', 'C', 'G', '0', '8', '@'}

// Terminal renders frames as ASCII art, colored when the terminal supports it.
type Terminal struct {
	w       io.Writer
	out     *termenv.Output
	cols    int
	rows    int
	profile termenv.Profile

	mu      sync.Mutex
	running bool
	sb      strings.Builder
}

// NewTerminal writes to w. Zero cols or rows are filled from the terminal size
// when w is a terminal, otherwise 100×40.
func NewTerminal(w io.Writer, cols, rows int) *Terminal {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tw, th, err := term.GetSize(int(f.Fd()))
		if err == nil {
			if cols <= 0 {
				cols = tw
			}
			if rows <= 0 {
				rows = th - 1
			}
		}
	}
	if cols <= 0 {
		cols = 100
	}
	if rows <= 0 {
		rows = 40
	}
	out := termenv.NewOutput(w)
	return &Terminal{w: w, out: out, cols: cols, rows: rows, profile: out.ColorProfile()}
}

// SetProfile overrides the detected color profile.
func (t *Terminal) SetProfile(p termenv.Profile) { t.profile = p }

func (t *Terminal) Name() string { return "Terminal Preview" }

func (t *Terminal) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Terminal) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("terminal preview already running")
	}
	t.out.HideCursor()
	t.out.ClearScreen()
	t.running = true
	return nil
}

func (t *Terminal) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	t.out.ShowCursor()
	return nil
}

func (t *Terminal) WriteFrame(frame *image.RGBA) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return fmt.Errorf("terminal preview not running")
	}
	s := Render(&t.sb, frame, t.cols, t.rows, t.profile)
	t.out.MoveCursor(1, 1)
	_, err := io.WriteString(t.w, s)
	return err
}

// Render draws img as cols×rows characters, choosing each character from the
// ramp by cell brightness. Non-ASCII profiles also color each character.
func Render(sb *strings.Builder, img *image.RGBA, cols, rows int, p termenv.Profile) string {
	sb.Reset()
	b := img.Bounds()
	if b.Empty() || cols <= 0 || rows <= 0 {
		return ""
	}
	for r := 0; r < rows; r++ {
		y := b.Min.Y + (r*b.Dy()+b.Dy()/2)/rows
		for c := 0; c < cols; c++ {
			x := b.Min.X + (c*b.Dx()+b.Dx()/2)/cols
			i := img.PixOffset(x, y)
			pr, pg, pb := img.Pix[i], img.Pix[i+1], img.Pix[i+2]

			v := sampler.Brightness(pr, pg, pb)
			ch := asciiRamp[int(v)*(len(asciiRamp)-1)/255]
			if p == termenv.Ascii || ch == ' ' {
				sb.WriteRune(ch)
				continue
			}
			hex := fmt.Sprintf("#%02x%02x%02x", pr, pg, pb)
			sb.WriteString(p.String(string(ch)).Foreground(p.Color(hex)).String())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
