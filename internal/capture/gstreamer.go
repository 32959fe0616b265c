package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
)

// GStreamerName is the backend name of the in-process GStreamer capture.
const GStreamerName = "gstreamer"

var gstInit sync.Once

func initGStreamer() { gstInit.Do(func() { gst.Init(nil) }) }

// GStreamer captures through an in-process v4l2src pipeline. The appsink is polled
// on a ticker rather than through signal callbacks.
type GStreamer struct{}

func NewGStreamer() *GStreamer { return &GStreamer{} }

func (b *GStreamer) Name() string { return GStreamerName }

// IsAvailable checks that the v4l2src plugin can be instantiated.
func (b *GStreamer) IsAvailable() bool {
	initGStreamer()
	el, err := gst.NewElement("v4l2src")
	return err == nil && el != nil
}

func v4l2PipelineString(req Request, sink string) string {
	return fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"videorate ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1 ! "+
			"%s",
		req.DeviceID, req.Width, req.Height, req.FPS, sink,
	)
}

func (b *GStreamer) Open(ctx context.Context, req Request) (Stream, error) {
	req = req.withDefaults()
	if req.DeviceID == "" {
		req.DeviceID = DefaultDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	initGStreamer()

	log := logger.WithComponent("gstreamer")
	pipelineStr := v4l2PipelineString(req, "appsink name=sink emit-signals=false max-buffers=2 drop=true")
	log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to get appsink: %w", err)
	}

	s := &gstStream{
		pipeline: pipeline,
		appsink:  app.SinkFromElement(sinkElement),
		interval: time.Second / time.Duration(req.FPS),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	go s.poll()

	log.Info().Str("device", req.DeviceID).Msg("GStreamer pipeline created")
	return s, nil
}

type gstStream struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}

	mu       sync.RWMutex
	latest   *image.RGBA
	width    int
	height   int
	frames   int64
	err      error
	stopped  bool
	stopOnce sync.Once
}

func (s *gstStream) poll() {
	defer close(s.done)
	log := logger.WithComponent("gstreamer")
	bus := s.pipeline.GetPipelineBus()

	ticker := time.NewTicker(8 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			log.Debug().Msg("Sample polling stopped")
			return
		case <-ticker.C:
		}

		if msg := bus.TimedPop(time.Millisecond); msg != nil {
			switch msg.Type() {
			case gst.MessageError:
				gerr := msg.ParseError()
				err := fmt.Errorf("%s: %s", gerr.Error(), gerr.DebugString())
				log.Error().Err(err).Msg("Pipeline error")
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			case gst.MessageEOS:
				s.mu.Lock()
				s.err = fmt.Errorf("end of stream")
				s.mu.Unlock()
			}
		}

		sample := s.appsink.TryPullSample(time.Millisecond)
		if sample == nil {
			continue
		}
		s.processSample(sample)
	}
}

func (s *gstStream) processSample(sample *gst.Sample) {
	buffer := sample.GetBuffer()
	caps := sample.GetCaps()
	if buffer == nil || caps == nil {
		return
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return
	}
	h, ok := height.(int)
	if !ok {
		return
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) < w*h*4 {
		return
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data[:w*h*4])

	s.mu.Lock()
	s.latest = img
	s.width, s.height = w, h
	s.frames++
	s.mu.Unlock()
}

// Size reports the caps of the first delivered sample.
func (s *gstStream) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

func (s *gstStream) LatestFrame() (*image.RGBA, error) {
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

func (s *gstStream) Position() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.frames) * s.interval
}

func (s *gstStream) Resume() error {
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	return nil
}

func (s *gstStream) SetEnabled(enabled bool) error {
	state := gst.StatePaused
	if enabled {
		state = gst.StatePlaying
	}
	return s.pipeline.SetState(state)
}

func (s *gstStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.mu.Lock()
		s.stopped = true
		s.latest = nil
		s.mu.Unlock()
		s.pipeline.SetState(gst.StateNull)
		logger.WithComponent("gstreamer").Info().Msg("GStreamer pipeline stopped")
	})
	return nil
}
