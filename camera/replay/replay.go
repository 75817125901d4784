// Package replay implements a camera that plays back frames previously written to a directory.
//
// A capture directory holds intrinsics.json, a camera model as read by
// transform.NewPinholeCameraModelFromJSONFile, plus pairs of NNNN_color.png and NNNN_depth.png
// files. Depth files are 16-bit grayscale PNGs of raw samples.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/depthrelay/camera"
	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage"
	"go.viam.com/depthrelay/rimage/transform"
)

const (
	// IntrinsicsFile is the name of the camera model inside a capture directory.
	IntrinsicsFile = "intrinsics.json"

	colorSuffix = "_color.png"
	depthSuffix = "_depth.png"
)

// Config describes a capture directory to play back.
type Config struct {
	Dir        string
	Format     rimage.PixelFormat
	DepthScale float64
	FrameRate  float64
	// Loop restarts from the first frame instead of returning io.EOF.
	Loop bool
}

// Camera replays a capture directory.
type Camera struct {
	cfg    Config
	model  *transform.PinholeCameraModel
	frames []string
	logger logging.Logger

	mu     sync.Mutex
	next   int
	last   time.Time
	closed bool
}

// NewCamera indexes cfg.Dir. It fails if the directory has no intrinsics or no complete frame pair.
func NewCamera(cfg Config, logger logging.Logger) (*Camera, error) {
	if cfg.Dir == "" {
		return nil, errors.New("replay camera needs a directory")
	}
	if cfg.Format == rimage.PixelFormatUnknown {
		cfg.Format = rimage.PixelFormatRGB8
	}
	if cfg.DepthScale <= 0 {
		cfg.DepthScale = 0.001
	}
	model, err := transform.NewPinholeCameraModelFromJSONFile(filepath.Join(cfg.Dir, IntrinsicsFile))
	if err != nil {
		return nil, errors.Wrapf(err, "reading intrinsics of %s", cfg.Dir)
	}
	frames, err := listFrames(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errors.Errorf("no frames found in %s", cfg.Dir)
	}
	logger = logger.Sublogger("replay_camera")
	logger.Infow("replaying capture", "dir", cfg.Dir, "frames", len(frames), "loop", cfg.Loop)
	return &Camera{cfg: cfg, model: model, frames: frames, logger: logger}, nil
}

// listFrames returns the sorted prefixes that have both a color and a depth file.
func listFrames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+colorSuffix))
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, m := range matches {
		prefix := strings.TrimSuffix(m, colorSuffix)
		if _, err := os.Stat(prefix + depthSuffix); err != nil {
			continue
		}
		frames = append(frames, prefix)
	}
	sort.Strings(frames)
	return frames, nil
}

// Len returns the number of frame pairs in the capture.
func (c *Camera) Len() int {
	return len(c.frames)
}

// NextFrames decodes the next pair of files.
func (c *Camera) NextFrames(ctx context.Context) (*rimage.ColorFrame, *rimage.DepthMap, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, camera.ErrClosed
	}
	if c.next >= len(c.frames) {
		if !c.cfg.Loop {
			c.mu.Unlock()
			return nil, nil, io.EOF
		}
		c.next = 0
	}
	prefix := c.frames[c.next]
	c.next++
	var wait time.Duration
	if c.cfg.FrameRate > 0 && !c.last.IsZero() {
		wait = time.Until(c.last.Add(time.Duration(float64(time.Second) / c.cfg.FrameRate)))
	}
	c.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	colorFrame, err := rimage.NewColorFrameFromFile(prefix+colorSuffix, c.cfg.Format)
	if err != nil {
		return nil, nil, err
	}
	depth, err := rimage.NewDepthMapFromFile(prefix + depthSuffix)
	if err != nil {
		return nil, nil, err
	}
	if err := camera.CheckAligned(colorFrame, depth); err != nil {
		return nil, nil, errors.Wrap(err, prefix)
	}

	now := time.Now()
	c.mu.Lock()
	c.last = now
	c.mu.Unlock()
	colorFrame.Timestamp = now
	depth.Timestamp = now
	return colorFrame, depth, nil
}

// Model returns the intrinsics stored with the capture.
func (c *Camera) Model() *transform.PinholeCameraModel {
	return c.model
}

// DepthScale returns the meters per raw depth unit.
func (c *Camera) DepthScale() float64 {
	return c.cfg.DepthScale
}

// Close stops playback.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// WriteIntrinsics stores model as the intrinsics of a capture directory.
func WriteIntrinsics(dir string, model *transform.PinholeCameraModel) (err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(filepath.Join(dir, IntrinsicsFile))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(model)
}

// WriteFrames stores one frame pair as the index-th frame of a capture directory.
func WriteFrames(dir string, index int, colorFrame *rimage.ColorFrame, depth *rimage.DepthMap) error {
	if err := camera.CheckAligned(colorFrame, depth); err != nil {
		return err
	}
	prefix := filepath.Join(dir, fmt.Sprintf("%04d", index))
	var g errgroup.Group
	g.Go(func() error {
		return rimage.WriteImageToFile(prefix+colorSuffix, colorFrame)
	})
	g.Go(func() error {
		return rimage.WriteDepthMapToFile(prefix+depthSuffix, depth)
	})
	return g.Wait()
}

// Record copies n frame pairs from cam into a capture directory that replays them.
func Record(ctx context.Context, cam camera.Camera, dir string, n int) error {
	if err := WriteIntrinsics(dir, cam.Model()); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		colorFrame, depth, err := cam.NextFrames(ctx)
		if err != nil {
			return err
		}
		if err := WriteFrames(dir, i, colorFrame, depth); err != nil {
			return err
		}
	}
	return nil
}
