package rimage

import (
	"strings"

	"github.com/pkg/errors"
)

// PixelFormat describes the byte layout of a packed color frame.
type PixelFormat int

// The supported packed formats. RGB8 is the format the depth camera delivers.
const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGB8
	PixelFormatBGR8
	PixelFormatRGBA8
	PixelFormatBGRA8
)

// BytesPerPixel is the width of one pixel in the packed buffer.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGB8, PixelFormatBGR8:
		return 3
	case PixelFormatRGBA8, PixelFormatBGRA8:
		return 4
	case PixelFormatUnknown:
		return 0
	default:
		return 0
	}
}

// String returns the GStreamer caps name of the format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB8:
		return "RGB"
	case PixelFormatBGR8:
		return "BGR"
	case PixelFormatRGBA8:
		return "RGBA"
	case PixelFormatBGRA8:
		return "BGRA"
	case PixelFormatUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// FFmpegName returns the name ffmpeg uses for the format in -pix_fmt.
func (f PixelFormat) FFmpegName() string {
	switch f {
	case PixelFormatRGB8:
		return "rgb24"
	case PixelFormatBGR8:
		return "bgr24"
	case PixelFormatRGBA8:
		return "rgba"
	case PixelFormatBGRA8:
		return "bgra"
	case PixelFormatUnknown:
		return ""
	default:
		return ""
	}
}

// channelOffsets returns the byte offsets of red, green, blue and alpha (-1 if absent).
func (f PixelFormat) channelOffsets() (r, g, b, a int) {
	switch f {
	case PixelFormatRGB8:
		return 0, 1, 2, -1
	case PixelFormatBGR8:
		return 2, 1, 0, -1
	case PixelFormatRGBA8:
		return 0, 1, 2, 3
	case PixelFormatBGRA8:
		return 2, 1, 0, 3
	case PixelFormatUnknown:
		return -1, -1, -1, -1
	default:
		return -1, -1, -1, -1
	}
}

// ParsePixelFormat accepts either the caps name or the ffmpeg name of a format.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch strings.ToLower(name) {
	case "rgb", "rgb8", "rgb24":
		return PixelFormatRGB8, nil
	case "bgr", "bgr8", "bgr24":
		return PixelFormatBGR8, nil
	case "rgba", "rgba8":
		return PixelFormatRGBA8, nil
	case "bgra", "bgra8":
		return PixelFormatBGRA8, nil
	default:
		return PixelFormatUnknown, errors.Errorf("unknown pixel format %q", name)
	}
}
