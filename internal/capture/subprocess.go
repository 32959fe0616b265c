package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// GstLaunchName is the backend name of the subprocess capture.
const GstLaunchName = "gst-launch"

const gstLaunchBinary = "gst-launch-1.0"

// GstLaunch runs gst-launch-1.0 as a child process and reads raw RGBA frames
// from its stdout. It keeps GStreamer out of the process when cgo bindings are
// unwanted.
type GstLaunch struct {
	// Binary overrides the gst-launch executable.
	Binary string
}

func NewGstLaunch() *GstLaunch { return &GstLaunch{Binary: gstLaunchBinary} }

func (b *GstLaunch) Name() string { return GstLaunchName }

func (b *GstLaunch) IsAvailable() bool {
	_, err := exec.LookPath(b.binary())
	return err == nil
}

func (b *GstLaunch) binary() string {
	if b.Binary == "" {
		return gstLaunchBinary
	}
	return b.Binary
}

// pipelineArgs splits the launch description into argv tokens so the device path
// never passes through a shell.
func pipelineArgs(req Request) []string {
	args := []string{"-q"}
	return append(args, strings.Fields(v4l2PipelineString(req, "fdsink fd=1 sync=false"))...)
}

func (b *GstLaunch) Open(ctx context.Context, req Request) (Stream, error) {
	req = req.withDefaults()
	if req.DeviceID == "" {
		req.DeviceID = DefaultDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.WithComponent("gst-launch")

	cmd := exec.Command(b.binary(), pipelineArgs(req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", b.binary(), err)
	}

	s := &subprocessStream{
		cmd:        cmd,
		width:      req.Width,
		height:     req.Height,
		interval:   time.Second / time.Duration(req.FPS),
		enabled:    true,
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go s.readFrames(stdout)
	go s.logStderr(stderr)

	log.Info().Str("device", req.DeviceID).Int("pid", cmd.Process.Pid).Msg("gst-launch subprocess started")
	return s, nil
}

type subprocessStream struct {
	cmd      *exec.Cmd
	width    int
	height   int
	interval time.Duration
	done     chan struct{}
	// stderrDone closes once the child's stderr is drained, so the last
	// GStreamer error line is known when stdout ends.
	stderrDone chan struct{}

	mu       sync.RWMutex
	latest   *image.RGBA
	ready    bool
	enabled  bool
	frames   int64
	err      error
	lastErr  string
	stopped  bool
	stopOnce sync.Once
}

func (s *subprocessStream) readFrames(stdout io.Reader) {
	defer close(s.done)
	log := logger.WithComponent("gst-launch")

	frameSize := s.width * s.height * 4
	reader := bufio.NewReaderSize(stdout, frameSize*2)
	buf := make([]byte, frameSize)

	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			select {
			case <-s.stderrDone:
			case <-time.After(500 * time.Millisecond):
			}
			s.mu.Lock()
			if !s.stopped {
				msg := s.lastErr
				if msg == "" {
					msg = "short read from gst-launch"
				}
				s.err = errors.New(msg)
				log.Warn().Err(err).Str("gst", msg).Msg("gst-launch output ended")
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if s.enabled {
			img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
			copy(img.Pix, buf)
			s.latest = img
			s.ready = true
			s.frames++
		}
		s.mu.Unlock()
	}
}

func (s *subprocessStream) logStderr(stderr io.Reader) {
	defer close(s.stderrDone)
	log := logger.WithComponent("gst-launch")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
			s.mu.Lock()
			s.lastErr = line
			s.mu.Unlock()
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Size is known from the caps filter but only reported after the first frame.
func (s *subprocessStream) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return 0, 0
	}
	return s.width, s.height
}

func (s *subprocessStream) LatestFrame() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return nil, ErrNotReady
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	out := image.NewRGBA(s.latest.Rect)
	copy(out.Pix, s.latest.Pix)
	return out, nil
}

func (s *subprocessStream) Position() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.frames) * s.interval
}

// Resume re-enables frame delivery; the child process plays continuously.
func (s *subprocessStream) Resume() error { return s.SetEnabled(true) }

func (s *subprocessStream) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotReady
	}
	s.enabled = enabled
	return nil
}

func (s *subprocessStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.latest = nil
		s.mu.Unlock()

		log := logger.WithComponent("gst-launch")
		if s.cmd.Process != nil {
			log.Debug().Int("pid", s.cmd.Process.Pid).Msg("Killing gst-launch subprocess")
			_ = s.cmd.Process.Kill()
		}
		<-s.done
		_ = s.cmd.Wait()
		log.Info().Msg("gst-launch subprocess stopped")
	})
	return nil
}
