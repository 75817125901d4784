// Package main runs the depth relay: it reads aligned color and depth frames from a camera, blanks
// everything beyond the clipping distance, warps the result through the calibrated perspective
// and relays it to a video sink.
package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthrelay/calibration"
	"go.viam.com/depthrelay/camera"
	"go.viam.com/depthrelay/camera/fake"
	"go.viam.com/depthrelay/camera/replay"
	"go.viam.com/depthrelay/config"
	"go.viam.com/depthrelay/gostream"
	"go.viam.com/depthrelay/input"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/relay"
	"go.viam.com/depthrelay/session"
)

var logger = logging.NewLogger("depthrelay")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=relay config file"`
	Sink       string `flag:"sink,usage=sink kind (ffmpeg, gst or discard)"`
	Pipeline   string `flag:"pipeline,usage=gst pipeline or ffmpeg output target"`
	Replay     string `flag:"replay,usage=replay a capture directory instead of the fake camera"`
	Record     string `flag:"record,usage=record frames into a capture directory and exit"`
	Frames     int    `flag:"frames,usage=number of frames to capture before stopping"`
	HTTP       string `flag:"http,usage=address of the control API"`
	Debug      bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	if err := applyArguments(cfg, argsParsed); err != nil {
		return err
	}

	if cfg.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	if cfg.LogFile != "" {
		appender, closer := logging.NewFileAppender(cfg.LogFile, 0)
		logger.AddAppender(appender)
		defer func() {
			err = multierr.Combine(err, closer.Close())
		}()
	}

	if argsParsed.Record != "" {
		return record(ctx, cfg, argsParsed.Record, logger)
	}
	return runRelay(ctx, cfg, logger)
}

// applyArguments lets command line flags override the config file.
func applyArguments(cfg *config.Config, argsParsed Arguments) error {
	if argsParsed.Sink != "" {
		cfg.Sink.Kind = argsParsed.Sink
	}
	if argsParsed.Pipeline != "" {
		cfg.Sink.Target = argsParsed.Pipeline
	}
	if argsParsed.Replay != "" {
		cfg.Capture.Source = config.SourceReplay
		cfg.Capture.ReplayDir = argsParsed.Replay
	}
	if argsParsed.Frames != 0 {
		cfg.Capture.Frames = argsParsed.Frames
	}
	if argsParsed.HTTP != "" {
		cfg.Control.HTTPAddr = argsParsed.HTTP
	}
	if argsParsed.Debug {
		cfg.Debug = true
	}
	return errors.Wrap(cfg.Validate(), "invalid arguments")
}

func newCamera(cfg *config.Config, logger logging.Logger) (camera.Camera, error) {
	if cfg.Capture.Source == config.SourceReplay {
		return replay.NewCamera(replay.Config{
			Dir:        cfg.Capture.ReplayDir,
			Format:     cfg.Format(),
			DepthScale: cfg.Capture.DepthScale,
			FrameRate:  cfg.Capture.FPS,
			Loop:       cfg.Capture.ReplayLoop,
		}, logger)
	}
	return fake.NewCamera(fake.Config{
		Width:      cfg.Capture.Width,
		Height:     cfg.Capture.Height,
		Format:     cfg.Format(),
		FrameRate:  cfg.Capture.FPS,
		Frames:     cfg.Capture.Frames,
		DepthScale: cfg.Capture.DepthScale,
	}, logger)
}

func newStore(ctx context.Context, cfg *config.Config) (calibration.Store, error) {
	if cfg.Calibration.Store == config.StoreSQLite {
		return calibration.NewSQLiteStore(ctx, cfg.Calibration.Path)
	}
	return calibration.NewFileStore(cfg.Calibration.Path), nil
}

// newSink returns the configured sink and, for sinks with a window, the source of the navigation
// events raised on it.
func newSink(cfg *config.Config, logger logging.Logger) (gostream.Sink, input.Source, error) {
	switch cfg.Sink.Kind {
	case config.SinkGst:
		pipeline := cfg.Sink.Target
		if pipeline == "" {
			pipeline = gostream.DefaultGstPipeline
		}
		return gostream.OpenGstSink(gostream.GstSinkConfig{Pipeline: pipeline, QueueSize: cfg.Sink.QueueSize}, logger)
	case config.SinkDiscard:
		return gostream.NewDiscardSink(logger), nil, nil
	default:
		outputArgs, err := cfg.Sink.NormalizedOutputArgs()
		if err != nil {
			return nil, nil, err
		}
		return gostream.NewFFmpegSink(gostream.FFmpegSinkConfig{
			Target:     cfg.Sink.Target,
			OutputArgs: outputArgs,
			QueueSize:  cfg.Sink.QueueSize,
		}, logger), nil, nil
	}
}

func runRelay(ctx context.Context, cfg *config.Config, logger logging.Logger) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := gostream.RegisterViews(); err != nil {
		return errors.Wrap(err, "failed to register relay views")
	}
	defer gostream.UnregisterViews()
	exporter := newLogExporter(logger)
	view.RegisterExporter(exporter)
	defer view.UnregisterExporter(exporter)
	if cfg.Debug {
		trace.RegisterExporter(exporter)
		defer trace.UnregisterExporter(exporter)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	calibrator := calibration.NewCalibrator(calibration.Config{
		OutputWidth:   cfg.Capture.Width,
		OutputHeight:  cfg.Capture.Height,
		DisplayWidth:  cfg.Display.Width,
		DisplayHeight: cfg.Display.Height,
		Key:           cfg.Calibration.Key,
	}, store, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		err = multierr.Combine(err, calibrator.Close(closeCtx))
	}()
	calibrator.LoadPersisted(ctx)

	sess := session.New(session.Config{
		CaptureWidth:     cfg.Capture.Width,
		CaptureHeight:    cfg.Capture.Height,
		DisplayWidth:     cfg.Display.Width,
		DisplayHeight:    cfg.Display.Height,
		ClippingDistance: *cfg.Segmentation.ClippingDistance,
		FilterEnabled:    *cfg.Segmentation.FilterEnabled,
		RecomputePlane:   *cfg.Plane.RecomputeAtStart,
	}, calibrator, logger)
	logger.Infow("session started", "session", sess.ID(), "config", cfg.ConfigFilePath)

	cam, err := newCamera(cfg, logger)
	if err != nil {
		return err
	}
	sink, navigation, err := newSink(cfg, logger)
	if err != nil {
		return multierr.Combine(err, cam.Close(ctx))
	}
	stall, err := cfg.Sink.StallDuration()
	if err != nil {
		return multierr.Combine(err, cam.Close(ctx), sink.Close(ctx))
	}
	out := gostream.NewRelay(sink, gostream.RelayConfig{
		Name:           sess.ID().String(),
		StallThreshold: stall,
		Logger:         logger,
	})

	r, err := relay.New(relay.Config{
		Width:                cfg.Capture.Width,
		Height:               cfg.Capture.Height,
		Format:               cfg.Format(),
		FrameRate:            cfg.Capture.FPS,
		Background:           byte(*cfg.Segmentation.Background),
		PlaneMargin:          cfg.Segmentation.PlaneMargin,
		PlaneIterations:      cfg.Plane.MaxIterations,
		PlaneThresholdFactor: cfg.PlaneThresholdFactor(),
		PlaneStride:          cfg.Plane.Stride,
		MaxPlanePoints:       cfg.Plane.MaxPoints,
		Warp:                 *cfg.Sink.Warp,
		DisplayWidth:         cfg.Display.Width,
		DisplayHeight:        cfg.Display.Height,
	}, cam, sess, out, logger)
	if err != nil {
		return multierr.Combine(err, cam.Close(ctx), out.Close(ctx))
	}
	defer func() {
		err = multierr.Combine(err, r.Close(context.Background()))
	}()

	sources := []input.Source{}
	if navigation != nil {
		sources = append(sources, navigation)
	}
	if cfg.Control.Terminal {
		sources = append(sources, input.NewTerminalSource(os.Stdin, logger))
	}
	if cfg.Control.HTTPAddr != "" {
		sources = append(sources, input.NewHTTPSource(cfg.Control.HTTPAddr, func() interface{} {
			return sess.Snapshot()
		}, logger))
	}
	for _, src := range sources {
		if err := src.Start(ctx, sess.HandleEvent); err != nil {
			return multierr.Combine(err, closeSources(sources))
		}
	}
	defer func() {
		err = multierr.Combine(err, closeSources(sources))
	}()

	var activeBackgroundWorkers sync.WaitGroup
	workersCtx, workersCancel := context.WithCancel(ctx)
	defer activeBackgroundWorkers.Wait()
	defer workersCancel()

	// SIGQUIT asks for the same clean stop as the quit key.
	quitC := utils.ContextMainQuitSignal(ctx)
	activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		select {
		case <-quitC:
			logger.Info("quit signal received")
			sess.RequestQuit()
		case <-sess.Done():
		case <-workersCtx.Done():
		}
	}, activeBackgroundWorkers.Done)

	if cfg.Calibration.Watch && cfg.Calibration.Store == config.StoreFile {
		activeBackgroundWorkers.Add(1)
		utils.ManagedGo(func() {
			if err := calibrator.WatchAndReload(workersCtx, cfg.Calibration.Path); err != nil {
				logger.Warnw("stopped watching calibration file", "error", err)
			}
		}, activeBackgroundWorkers.Done)
	}

	utils.ContextMainReadyFunc(ctx)()
	err = r.Run(ctx)
	stats := out.Stats()
	logger.Infow("relay stopped",
		"frames", r.FramesRelayed(),
		"push_errors", stats.Errors,
		"stalls", stats.Stalls,
		"longest_stall", stats.LongestStall)
	return err
}

func closeSources(sources []input.Source) error {
	var err error
	for _, src := range sources {
		err = multierr.Combine(err, src.Close())
	}
	return err
}

// record copies frames from the configured camera into dir so they can be replayed later.
func record(ctx context.Context, cfg *config.Config, dir string, logger logging.Logger) (err error) {
	if cfg.Capture.Frames <= 0 {
		return errors.New("recording needs a frame count, set -frames")
	}
	cam, err := newCamera(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, cam.Close(ctx))
	}()
	if err := replay.Record(ctx, cam, dir, cfg.Capture.Frames); err != nil {
		return err
	}
	logger.Infow("recorded frames", "dir", dir, "frames", cfg.Capture.Frames)
	return nil
}
