package gostream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
)

// DefaultFFmpegTarget opens a local window when no output is configured.
const DefaultFFmpegTarget = "depthrelay"

// FFmpegSinkConfig configures an FFmpegSink.
type FFmpegSinkConfig struct {
	// Target is the ffmpeg output: a file, a URL or, with the sdl format, a window title.
	Target string
	// OutputArgs are passed to ffmpeg as output options, e.g. {"f": "rtsp", "vcodec": "mjpeg"}.
	OutputArgs map[string]interface{}
	QueueSize  int
}

// An FFmpegSink pipes raw frames into an ffmpeg process.
type FFmpegSink struct {
	cfg    FFmpegSinkConfig
	q      *frameQueue
	logger logging.Logger

	mu         sync.Mutex
	pipeWriter *io.PipeWriter
	cancel     func()
	done       chan struct{}
	runErr     error
}

// NewFFmpegSink returns an unconfigured ffmpeg sink. The process starts in Configure.
func NewFFmpegSink(cfg FFmpegSinkConfig, logger logging.Logger) *FFmpegSink {
	logger = logger.Sublogger("ffmpeg_sink")
	return &FFmpegSink{
		cfg:    cfg,
		q:      newFrameQueue(cfg.QueueSize, logger),
		logger: logger,
	}
}

func (s *FFmpegSink) outputArgs() (string, ffmpeg.KwArgs) {
	args := ffmpeg.KwArgs{}
	for k, v := range s.cfg.OutputArgs {
		args[k] = v
	}
	target := s.cfg.Target
	if target == "" {
		target = DefaultFFmpegTarget
		if _, ok := args["f"]; !ok {
			args["f"] = "sdl"
		}
	}
	return target, args
}

func (s *FFmpegSink) stream(format VideoFormat) *ffmpeg.Stream {
	inArgs := ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": format.Format.FFmpegName(),
		"s":       fmt.Sprintf("%dx%d", format.Width, format.Height),
	}
	if format.FrameRate > 0 {
		inArgs["framerate"] = format.FrameRate
	} else {
		inArgs["use_wallclock_as_timestamps"] = 1
	}
	target, outArgs := s.outputArgs()
	return ffmpeg.Input("pipe:", inArgs).Output(target, outArgs).OverWriteOutput()
}

// Args returns the ffmpeg command line used for format.
func (s *FFmpegSink) Args(format VideoFormat) []string {
	return s.stream(format).GetArgs()
}

// Configure starts ffmpeg reading frames of the given format from stdin.
func (s *FFmpegSink) Configure(ctx context.Context, format VideoFormat) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return errors.Wrap(err, "ffmpeg sink needs ffmpeg in PATH")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errAlreadyConfigured
	}

	pipeReader, pipeWriter := io.Pipe()
	processCtx, cancel := context.WithCancel(context.Background())
	stream := s.stream(format).WithInput(pipeReader).WithErrorOutput(&logWriter{logger: s.logger})
	stream.Context = processCtx
	s.logger.Infow("starting ffmpeg", "args", stream.GetArgs())

	frameSize := format.FrameSize()
	if err := s.q.start(format, func(ctx context.Context, frame *rimage.ColorFrame) error {
		_, err := pipeWriter.Write(frame.Pix[:frameSize])
		return err
	}); err != nil {
		cancel()
		return err
	}

	s.pipeWriter = pipeWriter
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	utils.PanicCapturingGo(func() {
		defer close(done)
		err := stream.Run()
		//nolint:errcheck
		pipeReader.CloseWithError(io.ErrClosedPipe)
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
		if err != nil && processCtx.Err() == nil {
			s.logger.Errorw("ffmpeg exited", "error", err)
		}
	})
	return nil
}

// Push implements Sink. It fails once ffmpeg has exited.
func (s *FFmpegSink) Push(ctx context.Context, pair FramePair) error {
	s.mu.Lock()
	done, runErr := s.done, s.runErr
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
			release(pair)
			if runErr == nil {
				runErr = errors.New("ffmpeg exited")
			}
			return errors.Wrap(runErr, "ffmpeg sink")
		default:
		}
	}
	return s.q.push(ctx, pair)
}

// Close drops queued frames, closes ffmpeg's input and waits for it to finish. If ctx ends first the
// process is killed.
func (s *FFmpegSink) Close(ctx context.Context) error {
	if s.q.stop() {
		return nil
	}
	s.mu.Lock()
	pipeWriter, cancel, done := s.pipeWriter, s.cancel, s.done
	s.mu.Unlock()

	var err error
	if pipeWriter != nil {
		err = pipeWriter.Close()
	}
	s.q.wait()
	if done == nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		return multierr.Combine(err, ctx.Err())
	}
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return multierr.Combine(err, s.runErr)
}

// logWriter forwards ffmpeg's stderr to the debug log, one line at a time.
type logWriter struct {
	logger logging.Logger
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.Reset()
			w.buf.Write(line)
			return len(p), nil
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			w.logger.Debug(string(trimmed))
		}
	}
}
