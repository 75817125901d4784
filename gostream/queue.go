package gostream

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.viam.com/utils"

	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
)

// DefaultQueueSize is how many frames a sink holds before Push blocks.
const DefaultQueueSize = 2

type frameWriter func(ctx context.Context, frame *rimage.ColorFrame) error

// frameQueue is the bounded queue and writer goroutine shared by the sinks. Frames are written in
// push order and released once written.
type frameQueue struct {
	mu         sync.RWMutex
	format     VideoFormat
	configured bool
	closed     bool
	frames     chan FramePair
	write      frameWriter

	shutdownCtx             context.Context
	shutdownCtxCancel       func()
	activeBackgroundWorkers sync.WaitGroup
	logger                  logging.Logger

	written   atomic.Uint64
	writeErrs atomic.Uint64
}

func newFrameQueue(size int, logger logging.Logger) *frameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &frameQueue{
		frames:            make(chan FramePair, size),
		shutdownCtx:       ctx,
		shutdownCtxCancel: cancel,
		logger:            logger,
	}
}

// start records the format and launches the writer. It fails if called twice.
func (q *frameQueue) start(format VideoFormat, write frameWriter) error {
	if err := format.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.configured {
		return errAlreadyConfigured
	}
	q.format = format
	q.write = write
	q.configured = true
	q.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(q.processFrames, q.activeBackgroundWorkers.Done)
	return nil
}

func (q *frameQueue) getFormat() (VideoFormat, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.format, q.configured
}

func (q *frameQueue) push(ctx context.Context, pair FramePair) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		release(pair)
		return ErrClosed
	}
	if !q.configured {
		release(pair)
		return ErrNotConfigured
	}
	if !q.format.Matches(pair.Media) {
		release(pair)
		return errFormatMismatch(q.format, pair.Media)
	}
	select {
	case q.frames <- pair:
		return nil
	case <-ctx.Done():
		release(pair)
		return ctx.Err()
	case <-q.shutdownCtx.Done():
		release(pair)
		return ErrClosed
	}
}

func (q *frameQueue) processFrames() {
	for {
		select {
		case <-q.shutdownCtx.Done():
			return
		default:
		}
		select {
		case <-q.shutdownCtx.Done():
			return
		case pair := <-q.frames:
			q.writeFrame(pair)
		}
	}
}

func (q *frameQueue) writeFrame(pair FramePair) {
	defer release(pair)
	if err := q.write(q.shutdownCtx, pair.Media); err != nil {
		if q.shutdownCtx.Err() == nil {
			q.logger.Errorw("error writing frame", "error", err)
		}
		q.writeErrs.Inc()
		return
	}
	q.written.Inc()
}

// stop refuses further pushes and cancels any blocked ones. It reports whether the queue was
// already stopped.
func (q *frameQueue) stop() bool {
	q.shutdownCtxCancel()
	q.mu.Lock()
	defer q.mu.Unlock()
	wasClosed := q.closed
	q.closed = true
	return wasClosed
}

// wait joins the writer and releases frames that were never written.
func (q *frameQueue) wait() {
	q.activeBackgroundWorkers.Wait()
	for {
		select {
		case pair := <-q.frames:
			release(pair)
		default:
			return
		}
	}
}

// queued returns how many frames are waiting for the writer.
func (q *frameQueue) queued() int {
	return len(q.frames)
}
