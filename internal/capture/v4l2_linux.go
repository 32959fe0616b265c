//go:build linux

package capture

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// V4L2 talks to the video device directly and converts YUYV frames itself.
type V4L2 struct{}

func NewV4L2() *V4L2 { return &V4L2{} }

func (b *V4L2) Name() string { return V4L2Name }

func (b *V4L2) IsAvailable() bool {
	matches, _ := filepath.Glob("/dev/video*")
	return len(matches) > 0
}

// Devices lists capture nodes that report a name.
func (b *V4L2) Devices() ([]DeviceInfo, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []DeviceInfo
	for _, path := range matches {
		cam, err := webcam.Open(path)
		if err != nil {
			continue
		}
		name, err := cam.GetName()
		cam.Close()
		if err != nil {
			name = filepath.Base(path)
		}
		out = append(out, DeviceInfo{ID: path, Name: name, Backend: V4L2Name})
	}
	return out, nil
}

func (b *V4L2) Open(ctx context.Context, req Request) (Stream, error) {
	req = req.withDefaults()
	if req.DeviceID == "" {
		req.DeviceID = DefaultDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.WithComponent("v4l2")

	cam, err := webcam.Open(req.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.DeviceID, err)
	}

	var yuyv webcam.PixelFormat
	found := false
	for format, desc := range cam.GetSupportedFormats() {
		if strings.Contains(desc, "YUYV") {
			yuyv, found = format, true
			break
		}
	}
	if !found {
		cam.Close()
		return nil, fmt.Errorf("%s: no supported format (YUYV required)", req.DeviceID)
	}

	_, w, h, err := cam.SetImageFormat(yuyv, uint32(req.Width), uint32(req.Height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("failed to set image format: %w", err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("failed to start streaming: %w", err)
	}

	s := &v4l2Stream{
		cam:      cam,
		width:    int(w),
		height:   int(h),
		interval: time.Second / time.Duration(req.FPS),
		enabled:  true,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.readFrames()

	log.Info().Str("device", req.DeviceID).Uint32("width", w).Uint32("height", h).Msg("V4L2 streaming started")
	return s, nil
}

type v4l2Stream struct {
	cam      *webcam.Webcam
	width    int
	height   int
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

func (s *v4l2Stream) readFrames() {
	defer close(s.done)
	log := logger.WithComponent("v4l2")

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		err := s.cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			log.Error().Err(err).Msg("Failed waiting for frame")
			s.setErr(err)
			return
		}

		frame, err := s.cam.ReadFrame()
		if err != nil {
			log.Error().Err(err).Msg("Failed to read frame")
			s.setErr(err)
			return
		}
		if len(frame) < s.width*s.height*2 {
			continue
		}

		s.mu.Lock()
		if s.enabled {
			s.latest = yuyvToRGBA(frame, s.width, s.height)
			s.frames++
		}
		s.mu.Unlock()
	}
}

func (s *v4l2Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// yuyvToRGBA unpacks 4:2:2 YUYV into RGBA through image.YCbCr.
func yuyvToRGBA(frame []byte, width, height int) *image.RGBA {
	ycc := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for i := range ycc.Cb {
		ii := i * 4
		ycc.Y[i*2] = frame[ii]
		ycc.Y[i*2+1] = frame[ii+2]
		ycc.Cb[i] = frame[ii+1]
		ycc.Cr[i] = frame[ii+3]
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), ycc, image.Point{}, draw.Src)
	return img
}

func (s *v4l2Stream) Size() (int, int) { return s.width, s.height }

func (s *v4l2Stream) LatestFrame() (*image.RGBA, error) {
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

func (s *v4l2Stream) Position() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.frames) * s.interval
}

func (s *v4l2Stream) Resume() error { return s.SetEnabled(true) }

func (s *v4l2Stream) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotReady
	}
	s.enabled = enabled
	return nil
}

func (s *v4l2Stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.mu.Lock()
		s.stopped = true
		s.latest = nil
		s.mu.Unlock()
		if stopErr := s.cam.StopStreaming(); stopErr != nil {
			logger.WithComponent("v4l2").Warn().Err(stopErr).Msg("Failed to stop streaming")
		}
		err = s.cam.Close()
	})
	return err
}
