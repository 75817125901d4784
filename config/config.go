// Package config defines the relay's configuration file and its defaults.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.viam.com/depthrelay/rimage"
)

// Sink kinds.
const (
	SinkFFmpeg  = "ffmpeg"
	SinkGst     = "gst"
	SinkDiscard = "discard"
)

// Calibration store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Capture sources.
const (
	SourceFake   = "fake"
	SourceReplay = "replay"
)

// Config is the whole relay configuration.
type Config struct {
	Capture      CaptureConfig      `json:"capture"`
	Display      DisplayConfig      `json:"display"`
	Segmentation SegmentationConfig `json:"segmentation"`
	Plane        PlaneConfig        `json:"plane"`
	Calibration  CalibrationConfig  `json:"calibration"`
	Sink         SinkConfig         `json:"sink"`
	Control      ControlConfig      `json:"control"`
	Debug        bool               `json:"debug,omitempty"`
	LogFile      string             `json:"log_file,omitempty"`

	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `json:"-"`
}

// CaptureConfig describes the camera.
type CaptureConfig struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	PixelFormat string  `json:"pixel_format,omitempty"`
	Source      string  `json:"source"`
	ReplayDir   string  `json:"replay_dir,omitempty"`
	ReplayLoop  bool    `json:"replay_loop,omitempty"`
	DepthScale  float64 `json:"depth_scale,omitempty"`
	// Frames stops the fake camera after this many frames. Zero runs forever.
	Frames int `json:"frames,omitempty"`
}

// DisplayConfig is the resolution of the surface the calibration is expressed in.
type DisplayConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SegmentationConfig controls background blanking.
type SegmentationConfig struct {
	// ClippingDistance is in meters; unset selects 1.
	ClippingDistance *float64 `json:"clipping_distance,omitempty"`
	// Background is the fill byte for blanked pixels; unset selects 0x99.
	Background    *int    `json:"background,omitempty"`
	FilterEnabled *bool   `json:"filter_enabled,omitempty"`
	PlaneMargin   float64 `json:"plane_margin,omitempty"`
}

// PlaneConfig controls the plane fit.
type PlaneConfig struct {
	InlierThresholdCM float64 `json:"inlier_threshold_cm"`
	MaxIterations     int     `json:"max_iterations"`
	Stride            int     `json:"stride"`
	MaxPoints         int     `json:"max_points,omitempty"`
	RecomputeAtStart  *bool   `json:"recompute_at_start,omitempty"`
}

// CalibrationConfig says where the perspective transform is kept.
type CalibrationConfig struct {
	Store string `json:"store"`
	Path  string `json:"path"`
	Key   string `json:"key"`
	Watch bool   `json:"watch,omitempty"`
}

// SinkConfig says where frames go.
type SinkConfig struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
	// OutputArgs are ffmpeg output options. Values may be strings, numbers or booleans.
	OutputArgs map[string]interface{} `json:"output_args,omitempty"`
	QueueSize  int                    `json:"queue_size,omitempty"`
	Warp       *bool                  `json:"warp,omitempty"`
	// StallThreshold is a duration string such as "100ms".
	StallThreshold string `json:"stall_threshold,omitempty"`
}

// ControlConfig enables operator input sources besides the sink's own window.
type ControlConfig struct {
	HTTPAddr string `json:"http_addr,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}

func float64Ptr(f float64) *float64 {
	return &f
}

func intPtr(i int) *int {
	return &i
}

func (c *Config) applyDefaults() {
	if c.Capture.Width == 0 {
		c.Capture.Width = 1280
	}
	if c.Capture.Height == 0 {
		c.Capture.Height = 720
	}
	if c.Capture.FPS == 0 {
		c.Capture.FPS = 30
	}
	if c.Capture.PixelFormat == "" {
		c.Capture.PixelFormat = rimage.PixelFormatRGB8.String()
	}
	if c.Capture.Source == "" {
		c.Capture.Source = SourceFake
	}
	if c.Capture.DepthScale == 0 {
		c.Capture.DepthScale = 0.001
	}
	if c.Display.Width == 0 {
		c.Display.Width = 1920
	}
	if c.Display.Height == 0 {
		c.Display.Height = 1080
	}
	if c.Segmentation.ClippingDistance == nil {
		c.Segmentation.ClippingDistance = float64Ptr(1)
	}
	if c.Segmentation.Background == nil {
		c.Segmentation.Background = intPtr(0x99)
	}
	if c.Segmentation.FilterEnabled == nil {
		c.Segmentation.FilterEnabled = boolPtr(true)
	}
	if c.Plane.InlierThresholdCM == 0 {
		c.Plane.InlierThresholdCM = 1
	}
	if c.Plane.MaxIterations == 0 {
		c.Plane.MaxIterations = 200
	}
	if c.Plane.Stride == 0 {
		c.Plane.Stride = 1
	}
	if c.Plane.RecomputeAtStart == nil {
		c.Plane.RecomputeAtStart = boolPtr(true)
	}
	if c.Calibration.Store == "" {
		c.Calibration.Store = StoreFile
	}
	if c.Calibration.Path == "" {
		if c.Calibration.Store == StoreSQLite {
			c.Calibration.Path = "perspective.db"
		} else {
			c.Calibration.Path = "perspective.json"
		}
	}
	if c.Calibration.Key == "" {
		c.Calibration.Key = "perspective"
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = SinkFFmpeg
	}
	if c.Sink.Warp == nil {
		c.Sink.Warp = boolPtr(true)
	}
}

// Validate returns an error naming the first invalid field.
func (c *Config) Validate() error {
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return errors.Errorf("capture size must be positive, got %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.FPS < 0 {
		return errors.Errorf("capture fps cannot be negative, got %v", c.Capture.FPS)
	}
	if _, err := rimage.ParsePixelFormat(c.Capture.PixelFormat); err != nil {
		return errors.Wrap(err, "capture.pixel_format")
	}
	switch c.Capture.Source {
	case SourceFake:
	case SourceReplay:
		if c.Capture.ReplayDir == "" {
			return errors.New("capture.replay_dir is required for the replay source")
		}
	default:
		return errors.Errorf("unknown capture source %q", c.Capture.Source)
	}
	if c.Capture.DepthScale <= 0 {
		return errors.Errorf("capture.depth_scale must be positive, got %v", c.Capture.DepthScale)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return errors.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if bg := c.Segmentation.Background; bg != nil && (*bg < 0 || *bg > 0xff) {
		return errors.Errorf("segmentation.background must fit in a byte, got %d", *bg)
	}
	if c.Segmentation.PlaneMargin < 0 {
		return errors.Errorf("segmentation.plane_margin cannot be negative, got %v", c.Segmentation.PlaneMargin)
	}
	if c.Plane.MaxIterations < 0 {
		return errors.Errorf("plane.max_iterations cannot be negative, got %d", c.Plane.MaxIterations)
	}
	if c.Plane.InlierThresholdCM < 0 {
		return errors.Errorf("plane.inlier_threshold_cm cannot be negative, got %v", c.Plane.InlierThresholdCM)
	}
	switch c.Calibration.Store {
	case StoreFile, StoreSQLite:
	default:
		return errors.Errorf("unknown calibration store %q", c.Calibration.Store)
	}
	switch c.Sink.Kind {
	case SinkFFmpeg, SinkGst, SinkDiscard:
	default:
		return errors.Errorf("unknown sink kind %q", c.Sink.Kind)
	}
	if _, err := c.Sink.NormalizedOutputArgs(); err != nil {
		return err
	}
	if _, err := c.Sink.StallDuration(); err != nil {
		return err
	}
	return nil
}

// Format returns the parsed capture pixel format.
func (c *Config) Format() rimage.PixelFormat {
	f, err := rimage.ParsePixelFormat(c.Capture.PixelFormat)
	if err != nil {
		return rimage.PixelFormatUnknown
	}
	return f
}

// PlaneThresholdFactor converts the centimeter inlier threshold into the factor applied to the
// clipping distance.
func (c *Config) PlaneThresholdFactor() float64 {
	return c.Plane.InlierThresholdCM / 100
}

// NormalizedOutputArgs converts the loosely typed ffmpeg output options into strings and numbers
// ffmpeg accepts. Booleans become 1 or 0.
func (s SinkConfig) NormalizedOutputArgs() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.OutputArgs))
	for k, v := range s.OutputArgs {
		switch val := v.(type) {
		case bool:
			out[k] = cast.ToInt(val)
		case float64, float32, int, int64, int32:
			f, err := cast.ToFloat64E(val)
			if err != nil {
				return nil, errors.Wrapf(err, "sink.output_args.%s", k)
			}
			if f == float64(int64(f)) {
				out[k] = int64(f)
			} else {
				out[k] = f
			}
		default:
			str, err := cast.ToStringE(val)
			if err != nil {
				return nil, errors.Wrapf(err, "sink.output_args.%s", k)
			}
			out[k] = str
		}
	}
	return out, nil
}

// StallDuration parses StallThreshold. Empty means zero, the relay default.
func (s SinkConfig) StallDuration() (time.Duration, error) {
	if s.StallThreshold == "" {
		return 0, nil
	}
	d, err := cast.ToDurationE(s.StallThreshold)
	if err != nil {
		return 0, errors.Wrap(err, "sink.stall_threshold")
	}
	return d, nil
}
