package rimage

import (
	"image"
	"image/color"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Depth is a raw depth sample in device units. Multiply by the device depth scale to get meters.
// Zero means no measurement.
type Depth uint16

// MaxDepth is the largest representable raw depth.
const MaxDepth = Depth(math.MaxUint16)

// DepthMap is a dense raw depth image aligned to the color frame.
type DepthMap struct {
	width  int
	height int

	data []Depth

	Timestamp time.Time
}

// NewEmptyDepthMap returns a depth map with every sample set to zero.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// NewDepthMapFromSamples wraps raw samples stored row major.
func NewDepthMapFromSamples(width, height int, samples []uint16) (*DepthMap, error) {
	if len(samples) != width*height {
		return nil, errors.Errorf("depth sample count %d does not match %dx%d", len(samples), width, height)
	}
	dm := NewEmptyDepthMap(width, height)
	for i, s := range samples {
		dm.data[i] = Depth(s)
	}
	return dm, nil
}

// Clone returns a deep copy of dm.
func (dm *DepthMap) Clone() *DepthMap {
	out := NewEmptyDepthMap(dm.width, dm.height)
	copy(out.data, dm.data)
	out.Timestamp = dm.Timestamp
	return out
}

// HasData reports whether the map holds any samples.
func (dm *DepthMap) HasData() bool {
	return dm != nil && dm.width > 0 && dm.data != nil
}

// Width returns the horizontal size of the map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size of the map.
func (dm *DepthMap) Height() int {
	return dm.height
}

func (dm *DepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// Contains reports whether (x, y) is inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// Get returns the depth at p.
func (dm *DepthMap) Get(p image.Point) Depth {
	return dm.data[dm.kxy(p.X, p.Y)]
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[dm.kxy(x, y)]
}

// Set stores val at (x, y).
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[dm.kxy(x, y)] = val
}

// Meters converts the sample at (x, y) to meters.
func (dm *DepthMap) Meters(x, y int, depthScale float64) float64 {
	return depthScale * float64(dm.GetDepth(x, y))
}

// MinMax returns the smallest and largest non-zero samples.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min, max := MaxDepth, Depth(0)
	for _, v := range dm.data {
		if v == 0 {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 0, 0
	}
	return min, max
}

// ColorModel is part of image.Image.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// Bounds is part of image.Image.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// At is part of image.Image.
func (dm *DepthMap) At(x, y int) color.Color {
	return color.Gray16{uint16(dm.GetDepth(x, y))}
}

// ToGray16Picture converts the map to an image that can be written as a 16-bit PNG.
func (dm *DepthMap) ToGray16Picture() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ConvertImageToDepthMap turns a 16-bit gray image into a depth map.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	switch ii := img.(type) {
	case *DepthMap:
		return ii, nil
	case *image.Gray16:
		b := ii.Bounds()
		dm := NewEmptyDepthMap(b.Dx(), b.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(ii.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return dm, nil
	default:
		return nil, errors.Errorf("don't know how to make DepthMap from %T", img)
	}
}
