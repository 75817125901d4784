package gostream

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
)

// MemorySinkConfig configures a MemorySink.
type MemorySinkConfig struct {
	QueueSize int
	// Retain is how many of the most recent frames are copied and kept. Zero keeps none, which makes
	// the sink a discard sink.
	Retain int
}

// A MemorySink keeps copies of the frames it consumes. It is used headless and in tests. Pause
// holds the writer so that the queue fills and pushes block.
type MemorySink struct {
	cfg MemorySinkConfig
	q   *frameQueue

	mu       sync.Mutex
	frames   []*rimage.ColorFrame
	paused   bool
	resumeCh chan struct{}
	notify   chan struct{}
	consumed atomic.Uint64
}

// NewMemorySink returns an unconfigured memory sink.
func NewMemorySink(cfg MemorySinkConfig, logger logging.Logger) *MemorySink {
	return &MemorySink{
		cfg:    cfg,
		q:      newFrameQueue(cfg.QueueSize, logger.Sublogger("memory_sink")),
		notify: make(chan struct{}, 1),
	}
}

// NewDiscardSink returns a sink that consumes frames without keeping them.
func NewDiscardSink(logger logging.Logger) *MemorySink {
	return NewMemorySink(MemorySinkConfig{}, logger)
}

// Configure implements Sink.
func (s *MemorySink) Configure(ctx context.Context, format VideoFormat) error {
	return s.q.start(format, s.write)
}

// Push implements Sink.
func (s *MemorySink) Push(ctx context.Context, pair FramePair) error {
	return s.q.push(ctx, pair)
}

func (s *MemorySink) write(ctx context.Context, frame *rimage.ColorFrame) error {
	s.mu.Lock()
	resume := s.resumeCh
	s.mu.Unlock()
	if resume != nil {
		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.cfg.Retain > 0 {
		s.mu.Lock()
		s.frames = append(s.frames, frame.Clone())
		if over := len(s.frames) - s.cfg.Retain; over > 0 {
			s.frames = s.frames[over:]
		}
		s.mu.Unlock()
	}
	s.consumed.Inc()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pause stops the writer before its next frame.
func (s *MemorySink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
}

// Resume lets a paused writer continue.
func (s *MemorySink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
		s.resumeCh = nil
	}
}

// Frames returns the retained frames, oldest first.
func (s *MemorySink) Frames() []*rimage.ColorFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rimage.ColorFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Written returns how many frames have been consumed.
func (s *MemorySink) Written() uint64 {
	return s.consumed.Load()
}

// Queued returns how many frames are waiting to be consumed.
func (s *MemorySink) Queued() int {
	return s.q.queued()
}

// Format returns the configured format.
func (s *MemorySink) Format() (VideoFormat, bool) {
	return s.q.getFormat()
}

// WaitForFrames blocks until at least n frames have been consumed.
func (s *MemorySink) WaitForFrames(ctx context.Context, n uint64) error {
	for s.Written() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close(ctx context.Context) error {
	if s.q.stop() {
		return nil
	}
	s.q.wait()
	return nil
}
