// Package relay runs the capture loop: it reads aligned frames from a camera, refits the reference
// plane on request, blanks pixels beyond the clipping distance, applies the perspective transform
// and hands the result to the sink.
package relay

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/time/rate"

	"go.viam.com/depthrelay/camera"
	"go.viam.com/depthrelay/gostream"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/pointcloud"
	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
	"go.viam.com/depthrelay/session"
	"go.viam.com/depthrelay/vision/segmentation"
)

// Defaults for the plane fit.
const (
	DefaultPlaneIterations      = 200
	DefaultPlaneThresholdFactor = 0.01
	DefaultCenterLogInterval    = time.Second
)

// Config controls the per frame processing.
type Config struct {
	Width     int
	Height    int
	Format    rimage.PixelFormat
	FrameRate float64

	Background  byte
	PlaneMargin float64

	PlaneIterations int
	// PlaneThresholdFactor times the clipping distance is the inlier distance of the plane fit.
	PlaneThresholdFactor float64
	PlaneStride          int
	// MaxPlanePoints caps the points handed to the plane fit. Zero means no cap.
	MaxPlanePoints int

	// Warp applies the session's perspective transform to every outgoing frame.
	Warp bool
	// DisplayWidth and DisplayHeight are the space the transform is expressed in.
	DisplayWidth  int
	DisplayHeight int

	// CenterLogInterval spaces the center distance log lines.
	CenterLogInterval time.Duration
	// Clock throttles the center distance log. Nil means the wall clock.
	Clock clock.Clock
}

func (cfg *Config) applyDefaults() {
	if cfg.Format == rimage.PixelFormatUnknown {
		cfg.Format = rimage.PixelFormatRGB8
	}
	if cfg.PlaneIterations <= 0 {
		cfg.PlaneIterations = DefaultPlaneIterations
	}
	if cfg.PlaneThresholdFactor <= 0 {
		cfg.PlaneThresholdFactor = DefaultPlaneThresholdFactor
	}
	if cfg.PlaneStride <= 0 {
		cfg.PlaneStride = 1
	}
	if cfg.DisplayWidth <= 0 {
		cfg.DisplayWidth = cfg.Width
	}
	if cfg.DisplayHeight <= 0 {
		cfg.DisplayHeight = cfg.Height
	}
	if cfg.CenterLogInterval <= 0 {
		cfg.CenterLogInterval = DefaultCenterLogInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
}

// Relay is the capture loop of one session.
type Relay struct {
	cfg       Config
	cam       camera.Camera
	sess      *session.Session
	out       *gostream.Relay
	segmenter *segmentation.DepthSegmenter
	pool      *rimage.FramePool
	logger    logging.Logger

	// captureToDisplay is S, the scale from capture pixels to the display space of the transform.
	captureToDisplay transform.Homography

	// warp cache, owned by the loop goroutine
	warpGen      uint64
	warpDstToSrc transform.Homography
	warpIdentity bool
	warpPrimed   bool
	centerLog    *rate.Limiter

	framesRelayed atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New returns a relay reading from cam and writing to out.
func New(cfg Config, cam camera.Camera, sess *session.Session, out *gostream.Relay, logger logging.Logger) (*Relay, error) {
	if cam == nil || sess == nil || out == nil {
		return nil, errors.New("relay needs a camera, a session and an output")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}
	cfg.applyDefaults()
	segmenter := segmentation.NewDepthSegmenter(cam.Model())
	segmenter.Background = cfg.Background
	segmenter.PlaneMargin = cfg.PlaneMargin
	return &Relay{
		cfg:       cfg,
		cam:       cam,
		sess:      sess,
		out:       out,
		segmenter: segmenter,
		pool:      rimage.NewFramePool(cfg.Width, cfg.Height, cfg.Format),
		logger:    logger.Sublogger("relay"),
		centerLog: rate.NewLimiter(rate.Every(cfg.CenterLogInterval), 1),
		captureToDisplay: transform.ScaleHomography(
			float64(cfg.DisplayWidth)/float64(cfg.Width),
			float64(cfg.DisplayHeight)/float64(cfg.Height),
		),
	}, nil
}

// Run configures the sink and processes frames until the session asks to quit, the camera runs out
// of frames or ctx is done. Those are clean exits and return nil; camera, processing and sink
// errors end the loop and are returned.
func (r *Relay) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	var activeBackgroundWorkers sync.WaitGroup
	activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		select {
		case <-r.sess.Done():
			cancel()
		case <-runCtx.Done():
		}
	}, activeBackgroundWorkers.Done)
	defer activeBackgroundWorkers.Wait()
	defer cancel()

	format := gostream.VideoFormat{Format: r.cfg.Format, Width: r.cfg.Width, Height: r.cfg.Height, FrameRate: r.cfg.FrameRate}
	if err := r.out.Sink().Configure(runCtx, format); err != nil {
		return errors.Wrap(err, "failed to configure sink")
	}
	r.logger.Infow("relay started", "session", r.sess.ID(), "width", r.cfg.Width, "height", r.cfg.Height,
		"format", r.cfg.Format, "warp", r.cfg.Warp)

	for {
		if r.sess.QuitRequested() {
			r.logger.Info("quit requested")
			return nil
		}
		err := r.Step(runCtx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.logger.Info("camera has no more frames")
			return nil
		case runCtx.Err() != nil:
			if ctx.Err() == nil {
				r.logger.Info("quit requested")
			}
			return nil
		default:
			return err
		}
	}
}

// Step processes one frame pair.
func (r *Relay) Step(ctx context.Context) error {
	colorFrame, depth, err := r.cam.NextFrames(ctx)
	if err != nil {
		return err
	}
	if err := camera.CheckAligned(colorFrame, depth); err != nil {
		return err
	}
	snap := r.sess.Snapshot()
	scale := r.cam.DepthScale()
	r.logCenterDistance(depth, scale)

	plane := snap.Plane
	if r.sess.TakePlaneRequest() {
		plane = r.recomputePlane(ctx, depth, scale, snap.ClippingDistance, plane)
	}

	if _, err := r.segmenter.Segment(colorFrame, depth, segmentation.Params{
		DepthScale:       scale,
		ClippingDistance: snap.ClippingDistance,
		FilterEnabled:    snap.FilterEnabled,
		Plane:            plane,
	}); err != nil {
		return err
	}

	out, releaseFn, err := r.warp(ctx, colorFrame, snap.Transform, snap.TransformGeneration)
	if err != nil {
		return err
	}
	if err := r.out.Relay(ctx, out, releaseFn); err != nil {
		return err
	}
	r.framesRelayed.Inc()
	return nil
}

// recomputePlane fits the plane to the current depth frame. A failed fit keeps the previous plane.
func (r *Relay) recomputePlane(
	ctx context.Context,
	depth *rimage.DepthMap,
	scale, clippingDistance float64,
	previous *pointcloud.Plane,
) *pointcloud.Plane {
	ctx, span := trace.StartSpan(ctx, "relay::recomputePlane")
	defer span.End()

	pts, err := pointcloud.FromDepthMap(depth, r.cam.Model(), scale, r.cfg.PlaneStride)
	if err != nil {
		r.logger.Warnw("cannot build plane points", "error", err)
		return previous
	}
	pts = subsample(pts, r.cfg.MaxPlanePoints)
	r.logger.Infow("fitting plane", "points", len(pts))

	threshold := clippingDistance * r.cfg.PlaneThresholdFactor
	plane, inliers, err := segmentation.SegmentPlane(ctx, pts, r.cfg.PlaneIterations, threshold)
	if err != nil {
		r.logger.Warnw("plane fit failed, keeping previous plane", "error", err, "points", len(pts))
		return previous
	}
	r.sess.SetPlane(plane)
	r.logger.Infow("plane fitted", "plane", plane.String(), "inliers", inliers, "points", len(pts))
	return plane
}

// subsample keeps at most max points, evenly spaced.
func subsample(pts []r3.Vector, max int) []r3.Vector {
	if max <= 0 || len(pts) <= max {
		return pts
	}
	out := make([]r3.Vector, 0, max)
	step := float64(len(pts)) / float64(max)
	for i := 0; i < max; i++ {
		out = append(out, pts[int(float64(i)*step)])
	}
	return out
}

// warp maps the frame through the live transform into a pooled frame. The default transform maps
// every pixel onto itself, in which case the segmented frame is relayed as is.
func (r *Relay) warp(
	ctx context.Context,
	src *rimage.ColorFrame,
	h transform.Homography,
	gen uint64,
) (*rimage.ColorFrame, func(), error) {
	if !r.cfg.Warp {
		return src, nil, nil
	}
	_, span := trace.StartSpan(ctx, "relay::warp")
	defer span.End()

	dstToSrc, identity, err := r.dstToSrc(h, gen)
	if err != nil {
		return nil, nil, err
	}
	if identity {
		return src, nil, nil
	}
	dst := r.pool.Get()
	dst.Timestamp = src.Timestamp
	if err := transform.WarpFrame(src, dstToSrc, dst); err != nil {
		r.pool.Put(dst)
		return nil, nil, err
	}
	return dst, func() { r.pool.Put(dst) }, nil
}

// dstToSrc returns (H*S)^-1, caching it under gen, the generation h was installed as.
func (r *Relay) dstToSrc(h transform.Homography, gen uint64) (transform.Homography, bool, error) {
	if r.warpPrimed && gen == r.warpGen {
		return r.warpDstToSrc, r.warpIdentity, nil
	}
	srcToDst := h.Mul(&r.captureToDisplay)
	inv, err := srcToDst.Inverse()
	if err != nil {
		return transform.Homography{}, false, errors.Wrap(err, "perspective transform is not invertible")
	}
	identity := transform.IdentityHomography()
	r.warpDstToSrc = inv
	r.warpIdentity = inv.Equal(&identity, 1e-9)
	r.warpGen = gen
	r.warpPrimed = true
	return inv, r.warpIdentity, nil
}

// logCenterDistance logs the distance to whatever is in the middle of the frame, at most once per
// CenterLogInterval.
func (r *Relay) logCenterDistance(depth *rimage.DepthMap, scale float64) {
	if !r.centerLog.AllowN(r.cfg.Clock.Now(), 1) {
		return
	}
	meters := depth.Meters(depth.Width()/2, depth.Height()/2, scale)
	r.logger.Debugf("camera is facing an object %.3f meters away", meters)
}

// FramesRelayed returns how many frames reached the sink.
func (r *Relay) FramesRelayed() uint64 {
	return r.framesRelayed.Load()
}

// Close releases the camera and the sink. It is safe to call more than once.
func (r *Relay) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeErr = multierr.Combine(
			r.cam.Close(ctx),
			r.out.Close(ctx),
		)
	})
	return r.closeErr
}
