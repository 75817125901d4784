// Package calibration implements the operator driven four point perspective calibration and the
// persistence of its result.
package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthrelay/logging"
	"go.viam.com/depthrelay/rimage/transform"
)

// DefaultKey is the key the transform is stored under.
const DefaultKey = "perspective"

// NumReferencePoints is how many clicks complete a calibration.
const NumReferencePoints = 4

// persistTimeout bounds a single save.
const persistTimeout = 10 * time.Second

// Config sizes the calibration. Output is the frame the clicked quadrilateral is stretched onto;
// Display is the surface the default transform is expressed in.
type Config struct {
	OutputWidth   int
	OutputHeight  int
	DisplayWidth  int
	DisplayHeight int
	Key           string
}

// DefaultTransform is the aspect correcting transform used when there is no calibration: it scales
// display coordinates onto the output frame.
func DefaultTransform(outputWidth, outputHeight, displayWidth, displayHeight int) transform.Homography {
	return transform.ScaleHomography(
		float64(outputWidth)/float64(displayWidth),
		float64(outputHeight)/float64(displayHeight),
	)
}

// Live is an installed transform and the generation it was installed as. Generations start at
// zero for the default transform and increase by one with every install.
type Live struct {
	Matrix     transform.Homography
	Generation uint64
}

// Calibrator collects reference points and owns the live perspective transform. Points are
// collected from the input goroutine while the relay loop reads the transform, so the transform
// is swapped atomically as a whole value.
type Calibrator struct {
	cfg    Config
	store  Store
	logger logging.Logger

	mu     sync.Mutex
	points []r2.Point

	// installMu serializes installs so generations are handed out in order.
	installMu sync.Mutex
	current   atomic.Pointer[Live]

	// pending is a single slot mailbox: a newer transform replaces one that has not been saved yet.
	pendingMu  sync.Mutex
	pendingCnd *sync.Cond
	pending    *transform.Homography
	saving     bool
	closed     bool
	// lastSaved is the transform most recently written by this calibrator.
	lastSaved *transform.Homography

	activeBackgroundWorkers sync.WaitGroup
}

// NewCalibrator returns a calibrator holding the default transform and starts its persister.
func NewCalibrator(cfg Config, store Store, logger logging.Logger) *Calibrator {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	c := &Calibrator{
		cfg:    cfg,
		store:  store,
		logger: logger.Sublogger("calibration"),
		points: make([]r2.Point, 0, NumReferencePoints),
	}
	c.pendingCnd = sync.NewCond(&c.pendingMu)
	c.current.Store(&Live{Matrix: c.Default()})

	c.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(c.persistLoop, c.activeBackgroundWorkers.Done)
	return c
}

// Default returns the aspect correcting transform for the configured sizes.
func (c *Calibrator) Default() transform.Homography {
	return DefaultTransform(c.cfg.OutputWidth, c.cfg.OutputHeight, c.cfg.DisplayWidth, c.cfg.DisplayHeight)
}

// Live returns the live transform together with its generation, read as one value.
func (c *Calibrator) Live() Live {
	return *c.current.Load()
}

// Current returns the live transform.
func (c *Calibrator) Current() transform.Homography {
	return c.current.Load().Matrix
}

// Generation increases every time a transform is installed.
func (c *Calibrator) Generation() uint64 {
	return c.current.Load().Generation
}

// Points returns a copy of the points collected so far.
func (c *Calibrator) Points() []r2.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]r2.Point, len(c.points))
	copy(out, c.points)
	return out
}

func (c *Calibrator) install(h transform.Homography) {
	c.installMu.Lock()
	defer c.installMu.Unlock()
	prev := c.current.Load()
	c.current.Store(&Live{Matrix: h, Generation: prev.Generation + 1})
}

// AddReferencePoint appends a clicked point. The fourth point completes the set: the transform
// taking the points, in click order, to the output corners (0,0), (W,0), (W,H), (0,H) is installed
// and queued for saving, and the set is emptied. The first return reports whether a transform was
// installed. If the points are degenerate the set is still emptied, the old transform stays and
// the solve error is returned.
func (c *Calibrator) AddReferencePoint(pt r2.Point) (bool, error) {
	c.mu.Lock()
	c.points = append(c.points, pt)
	c.logger.Debugw("calibration point", "n", len(c.points), "x", pt.X, "y", pt.Y)
	if len(c.points) < NumReferencePoints {
		c.mu.Unlock()
		return false, nil
	}
	src := c.points
	c.points = make([]r2.Point, 0, NumReferencePoints)
	c.mu.Unlock()

	w, h := float64(c.cfg.OutputWidth), float64(c.cfg.OutputHeight)
	dst := []r2.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
	m, err := transform.GetPerspectiveTransform(src, dst)
	if err != nil {
		c.logger.Warnw("calibration points are degenerate, keeping previous transform", "points", src, "error", err)
		return false, err
	}
	c.install(m)
	c.logger.Infow("installed perspective transform", "matrix", m)
	c.enqueue(m)
	return true, nil
}

// ResetTransform installs the default transform. It does not touch collected points and is not
// saved, so the stored calibration comes back on the next start.
func (c *Calibrator) ResetTransform() {
	c.install(c.Default())
	c.logger.Info("perspective transform reset to default")
}

// LoadPersisted installs the stored transform, or the default one when nothing usable is stored,
// and returns what was installed.
func (c *Calibrator) LoadPersisted(ctx context.Context) transform.Homography {
	res := c.store.Load(ctx, c.cfg.Key)
	switch res.Status {
	case Loaded:
		c.logger.Infow("loaded perspective transform", "key", c.cfg.Key, "matrix", res.Matrix)
		c.install(res.Matrix)
		return res.Matrix
	case NotFound:
		c.logger.Infow("no stored perspective transform, using default", "key", c.cfg.Key)
	case Corrupt:
		c.logger.Warnw("stored perspective transform unusable, using default", "key", c.cfg.Key, "error", res.Err)
	}
	def := c.Default()
	c.install(def)
	return def
}

// Reload installs the stored transform after the store changed underneath a running calibrator.
// Unlike LoadPersisted it never falls back to the default: a missing or unreadable document keeps
// the live transform, and so does a document holding what this calibrator saved last, since that
// is its own write coming back. It reports whether a transform was installed.
func (c *Calibrator) Reload(ctx context.Context) bool {
	res := c.store.Load(ctx, c.cfg.Key)
	switch res.Status {
	case NotFound:
		c.logger.Debugw("stored perspective transform removed, keeping current", "key", c.cfg.Key)
		return false
	case Corrupt:
		c.logger.Warnw("stored perspective transform unusable, keeping current", "key", c.cfg.Key, "error", res.Err)
		return false
	case Loaded:
	}

	c.pendingMu.Lock()
	own := c.lastSaved != nil && c.lastSaved.Equal(&res.Matrix, 1e-12)
	c.pendingMu.Unlock()
	if own {
		c.logger.Debugw("stored perspective transform is our own save, ignoring", "key", c.cfg.Key)
		return false
	}
	if current := c.Current(); current.Equal(&res.Matrix, 1e-12) {
		return false
	}
	c.logger.Infow("reloaded perspective transform", "key", c.cfg.Key, "matrix", res.Matrix)
	c.install(res.Matrix)
	return true
}

func (c *Calibrator) enqueue(h transform.Homography) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.closed {
		return
	}
	c.pending = &h
	c.pendingCnd.Broadcast()
}

func (c *Calibrator) persistLoop() {
	for {
		c.pendingMu.Lock()
		for c.pending == nil && !c.closed {
			c.pendingCnd.Wait()
		}
		if c.pending == nil {
			c.pendingMu.Unlock()
			return
		}
		h := *c.pending
		c.pending = nil
		c.saving = true
		// recorded before the write so the watcher never sees the file ahead of it
		c.lastSaved = &h
		c.pendingMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := c.store.Save(ctx, c.cfg.Key, h)
		cancel()
		if err != nil {
			c.logger.Warnw("failed to save perspective transform", "key", c.cfg.Key, "error", err)
		} else {
			c.logger.Debugw("saved perspective transform", "key", c.cfg.Key)
		}

		c.pendingMu.Lock()
		c.saving = false
		c.pendingCnd.Broadcast()
		c.pendingMu.Unlock()
	}
}

// Flush waits until every installed calibration has been handed to the store.
func (c *Calibrator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	utils.PanicCapturingGo(func() {
		defer close(done)
		c.pendingMu.Lock()
		defer c.pendingMu.Unlock()
		for (c.pending != nil || c.saving) && ctx.Err() == nil {
			c.pendingCnd.Wait()
		}
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// wake the waiter so it can observe the canceled context
		c.pendingMu.Lock()
		c.pendingCnd.Broadcast()
		c.pendingMu.Unlock()
		<-done
		return errors.Wrap(ctx.Err(), "calibration not saved")
	}
}

// Close saves any pending transform, stops the persister and closes the store.
func (c *Calibrator) Close(ctx context.Context) error {
	flushErr := c.Flush(ctx)

	c.pendingMu.Lock()
	c.closed = true
	c.pendingCnd.Broadcast()
	c.pendingMu.Unlock()
	c.activeBackgroundWorkers.Wait()

	return multierr.Combine(flushErr, c.store.Close())
}
