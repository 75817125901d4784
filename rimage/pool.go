package rimage

import "sync"

// FramePool recycles color frames of one shape so the relay does not allocate a new output
// buffer for every frame.
type FramePool struct {
	width, height int
	format        PixelFormat
	pool          sync.Pool
}

// NewFramePool returns a pool of width x height frames in format.
func NewFramePool(width, height int, format PixelFormat) *FramePool {
	p := &FramePool{width: width, height: height, format: format}
	p.pool.New = func() interface{} {
		return NewColorFrame(width, height, format)
	}
	return p
}

// Get returns a frame of the pool's shape. Its contents are unspecified.
func (p *FramePool) Get() *ColorFrame {
	//nolint:forcetypeassert
	return p.pool.Get().(*ColorFrame)
}

// Put returns a frame to the pool. Frames of a different shape are dropped.
func (p *FramePool) Put(f *ColorFrame) {
	if f == nil || f.Width != p.width || f.Height != p.height || f.Format != p.format {
		return
	}
	p.pool.Put(f)
}
