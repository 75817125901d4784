//go:build gst

package gostream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthrelay/input"
	"go.viam.com/depthrelay/logging"
)

const appSrcName = "depthrelay_src"

// A GstSink feeds frames into an appsrc at the head of a GStreamer pipeline. Navigation events sent
// upstream by the pipeline's display are delivered through Navigation.
type GstSink struct {
	cfg    GstSinkConfig
	logger logging.Logger

	mu       sync.Mutex
	format   VideoFormat
	pipeline *gst.Pipeline
	src      *app.Source
	closed   bool

	handler                 atomic.Pointer[input.Handler]
	cancelBus               func()
	activeBackgroundWorkers sync.WaitGroup
}

// OpenGstSink returns a GStreamer sink and the input source for its display window.
func OpenGstSink(cfg GstSinkConfig, logger logging.Logger) (Sink, input.Source, error) {
	s := NewGstSink(cfg, logger)
	return s, s.Navigation(), nil
}

// NewGstSink returns an unconfigured GStreamer sink.
func NewGstSink(cfg GstSinkConfig, logger logging.Logger) *GstSink {
	if cfg.Pipeline == "" {
		cfg.Pipeline = DefaultGstPipeline
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &GstSink{cfg: cfg, logger: logger.Sublogger("gst_sink")}
}

// Configure builds and starts the pipeline. The appsrc is live, timestamps buffers itself and
// blocks pushes once QueueSize frames are queued.
func (s *GstSink) Configure(ctx context.Context, format VideoFormat) error {
	if err := format.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.pipeline != nil {
		return errAlreadyConfigured
	}

	gst.Init(nil)
	pipeline, err := gst.NewPipelineFromString("appsrc name=" + appSrcName + " ! " + s.cfg.Pipeline)
	if err != nil {
		return errors.Wrapf(err, "failed to parse pipeline %q", s.cfg.Pipeline)
	}
	elem, err := pipeline.GetElementByName(appSrcName)
	if err != nil {
		return errors.Wrap(err, "failed to find appsrc")
	}
	src := app.SrcFromElement(elem)
	src.SetCaps(gst.NewCapsFromString(format.Caps()))
	src.SetStreamType(app.AppStreamTypeStream)
	if err := multierr.Combine(
		elem.SetProperty("format", gst.FormatTime),
		elem.SetProperty("is-live", true),
		elem.SetProperty("block", true),
		elem.SetProperty("do-timestamp", true),
		elem.SetProperty("max-bytes", uint64(s.cfg.QueueSize*format.FrameSize())),
	); err != nil {
		return errors.Wrap(err, "failed to configure appsrc")
	}

	if pad := elem.GetStaticPad("src"); pad != nil {
		pad.AddProbe(gst.PadProbeTypeEventUpstream, s.filterNavigation)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return errors.Wrap(err, "failed to start pipeline")
	}
	s.logger.Infow("pipeline playing", "caps", format.Caps(), "pipeline", s.cfg.Pipeline)

	busCtx, cancel := context.WithCancel(context.Background())
	s.cancelBus = cancel
	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		s.watchBus(busCtx, pipeline)
	}, s.activeBackgroundWorkers.Done)

	s.format = format
	s.pipeline = pipeline
	s.src = src
	return nil
}

func (s *GstSink) filterNavigation(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
	ev := info.GetEvent()
	if ev == nil || ev.Type() != gst.EventTypeNavigation {
		return gst.PadProbeOK
	}
	structure := ev.GetStructure()
	if structure == nil {
		return gst.PadProbeOK
	}
	var handler input.Handler
	if h := s.handler.Load(); h != nil {
		handler = *h
	}
	if consumeNavigation(handler, structure.Values()) {
		return gst.PadProbeOK
	}
	return gst.PadProbeDrop
}

func (s *GstSink) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.logger.Info("end of stream")
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Errorw("pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
		default:
		}
	}
}

// Push copies the frame into a GStreamer buffer and releases it. Push blocks while the appsrc
// queue is full.
func (s *GstSink) Push(ctx context.Context, pair FramePair) error {
	defer release(pair)
	s.mu.Lock()
	src, format, closed := s.src, s.format, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if src == nil {
		return ErrNotConfigured
	}
	if !format.Matches(pair.Media) {
		return errFormatMismatch(format, pair.Media)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := gst.NewBufferFromBytes(pair.Media.Pix[:format.FrameSize()])
	if ret := src.PushBuffer(buf); ret != gst.FlowOK {
		return errors.Errorf("appsrc refused buffer: %v", ret)
	}
	return nil
}

// Close ends the stream and stops the pipeline.
func (s *GstSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pipeline, src, cancel := s.pipeline, s.src, s.cancelBus
	s.mu.Unlock()

	if pipeline == nil {
		return nil
	}
	src.EndStream()
	err := pipeline.SetState(gst.StateNull)
	cancel()
	s.activeBackgroundWorkers.Wait()
	return err
}

// Navigation returns the pipeline's navigation events as an input source.
func (s *GstSink) Navigation() input.Source {
	return &navigationSource{sink: s}
}

type navigationSource struct {
	sink *GstSink
}

func (n *navigationSource) Start(ctx context.Context, handler input.Handler) error {
	n.sink.handler.Store(&handler)
	return nil
}

func (n *navigationSource) Close() error {
	n.sink.handler.Store(nil)
	return nil
}
