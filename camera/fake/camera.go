// Package fake implements a synthetic depth camera: a flat wall with a box standing in front of it,
// painted with a yellow to blue gradient.
package fake

import (
	"context"
	"image/color"
	"io"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/depthrelay/camera"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
)

const (
	initialWidth  = 1280
	initialHeight = 720

	// DefaultDepthScale matches the millimeter units of common structured light cameras.
	DefaultDepthScale = 0.001
)

// Config are the attributes of the fake camera.
type Config struct {
	Width     int
	Height    int
	Format    rimage.PixelFormat
	FrameRate float64
	// Frames limits how many frame pairs are produced before io.EOF. Zero means no limit.
	Frames             int
	DepthScale         float64
	BackgroundDistance float64
	ObjectDistance     float64
	// Clock paces frames and stamps them. Nil means the wall clock.
	Clock clock.Clock
}

// Validate checks that the config attributes are valid for a fake camera.
func (conf *Config) Validate() error {
	if conf.Height%2 != 0 {
		return errors.Errorf("odd-number resolutions cannot be rendered, cannot use a height of %d", conf.Height)
	}
	if conf.Width%2 != 0 {
		return errors.Errorf("odd-number resolutions cannot be rendered, cannot use a width of %d", conf.Width)
	}
	if conf.Frames < 0 {
		return errors.Errorf("frames cannot be negative, got %d", conf.Frames)
	}
	if conf.FrameRate < 0 {
		return errors.Errorf("frame rate cannot be negative, got %v", conf.FrameRate)
	}
	return nil
}

var fakeIntrinsics = &transform.PinholeCameraIntrinsics{
	Width:  initialWidth,
	Height: initialHeight,
	Fx:     912.4,
	Fy:     912.1,
	Ppx:    644.2,
	Ppy:    361.7,
}

func fakeModel(width, height int) *transform.PinholeCameraModel {
	widthRatio := float64(width) / float64(initialWidth)
	heightRatio := float64(height) / float64(initialHeight)
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     fakeIntrinsics.Fx * widthRatio,
			Fy:     fakeIntrinsics.Fy * heightRatio,
			Ppx:    fakeIntrinsics.Ppx * widthRatio,
			Ppy:    fakeIntrinsics.Ppy * heightRatio,
		},
	}
}

// Camera is a fake camera that always returns the same scene.
type Camera struct {
	cfg    Config
	model  *transform.PinholeCameraModel
	logger logging.Logger

	color *rimage.ColorFrame
	depth *rimage.DepthMap

	mu       sync.Mutex
	produced int
	last     time.Time
	closed   bool
}

// NewCamera returns a new fake camera. Zero values in cfg take the defaults of a 1280x720 RGB
// camera with a wall at 2m and a box at 0.5m.
func NewCamera(cfg Config, logger logging.Logger) (*Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Width <= 0 {
		cfg.Width = initialWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = initialHeight
	}
	if cfg.Format == rimage.PixelFormatUnknown {
		cfg.Format = rimage.PixelFormatRGB8
	}
	if cfg.DepthScale <= 0 {
		cfg.DepthScale = DefaultDepthScale
	}
	if cfg.BackgroundDistance <= 0 {
		cfg.BackgroundDistance = 2
	}
	if cfg.ObjectDistance <= 0 {
		cfg.ObjectDistance = 0.5
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	c := &Camera{
		cfg:    cfg,
		model:  fakeModel(cfg.Width, cfg.Height),
		logger: logger.Sublogger("fake_camera"),
	}
	c.color = c.renderColor()
	c.depth = c.renderDepth()
	return c, nil
}

// renderColor draws a yellow to blue gradient.
func (c *Camera) renderColor() *rimage.ColorFrame {
	width := float64(c.cfg.Width)
	height := float64(c.cfg.Height)
	img := rimage.NewColorFrame(c.cfg.Width, c.cfg.Height, c.cfg.Format)

	totalDist := math.Hypot(width, height)
	for y := 0; y < c.cfg.Height; y++ {
		for x := 0; x < c.cfg.Width; x++ {
			dist := math.Hypot(float64(x), float64(y)) / totalDist
			img.Set(x, y, color.RGBA{uint8(255 - (255 * dist)), uint8(255 - (255 * dist)), uint8(0 + (255 * dist)), 255})
		}
	}
	return img
}

// renderDepth puts the box in the middle third of the frame.
func (c *Camera) renderDepth() *rimage.DepthMap {
	dm := rimage.NewEmptyDepthMap(c.cfg.Width, c.cfg.Height)
	background := c.RawDepth(c.cfg.BackgroundDistance)
	object := c.RawDepth(c.cfg.ObjectDistance)
	for y := 0; y < c.cfg.Height; y++ {
		for x := 0; x < c.cfg.Width; x++ {
			if c.InObject(x, y) {
				dm.Set(x, y, object)
			} else {
				dm.Set(x, y, background)
			}
		}
	}
	return dm
}

// RawDepth converts meters into the raw units of this camera.
func (c *Camera) RawDepth(meters float64) rimage.Depth {
	raw := math.Round(meters / c.cfg.DepthScale)
	if raw > float64(rimage.MaxDepth) {
		return rimage.MaxDepth
	}
	return rimage.Depth(raw)
}

// InObject reports whether a pixel sees the box rather than the wall.
func (c *Camera) InObject(x, y int) bool {
	return x >= c.cfg.Width/3 && x < 2*c.cfg.Width/3 && y >= c.cfg.Height/3 && y < 2*c.cfg.Height/3
}

// NextFrames returns copies of the scene, paced to the configured frame rate.
func (c *Camera) NextFrames(ctx context.Context) (*rimage.ColorFrame, *rimage.DepthMap, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, camera.ErrClosed
	}
	if c.cfg.Frames > 0 && c.produced >= c.cfg.Frames {
		c.mu.Unlock()
		return nil, nil, io.EOF
	}
	var wait time.Duration
	if c.cfg.FrameRate > 0 && !c.last.IsZero() {
		interval := time.Duration(float64(time.Second) / c.cfg.FrameRate)
		wait = c.cfg.Clock.Until(c.last.Add(interval))
	}
	c.mu.Unlock()

	if wait > 0 {
		timer := c.cfg.Clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, camera.ErrClosed
	}
	c.produced++
	c.last = c.cfg.Clock.Now()

	colorFrame := c.color.Clone()
	colorFrame.Timestamp = c.last
	depth := c.depth.Clone()
	depth.Timestamp = c.last
	return colorFrame, depth, nil
}

// Model returns the intrinsics of the synthetic lens.
func (c *Camera) Model() *transform.PinholeCameraModel {
	return c.model
}

// DepthScale returns the meters per raw depth unit.
func (c *Camera) DepthScale() float64 {
	return c.cfg.DepthScale
}

// Produced returns how many frame pairs have been handed out.
func (c *Camera) Produced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.produced
}

// Close stops the camera.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.logger.Debugw("closing", "frames", c.produced)
	}
	c.closed = true
	return nil
}
