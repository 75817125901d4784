package rimage

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ReadImageFromFile decodes a PNG file.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		//nolint:errcheck
		f.Close()
	}()

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", path)
	}
	return img, nil
}

// NewColorFrameFromFile reads a PNG into a packed frame of the given format.
func NewColorFrameFromFile(path string, format PixelFormat) (*ColorFrame, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewColorFrameFromImage(img, format), nil
}

// NewDepthMapFromFile reads a 16-bit grayscale PNG of raw depth samples.
func NewDepthMapFromFile(path string) (*DepthMap, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	dm, err := ConvertImageToDepthMap(img)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return dm, nil
}

// WriteImageToFile encodes img as PNG to path, creating parent directories as needed.
func WriteImageToFile(path string, img image.Image) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	return png.Encode(f, img)
}

// WriteDepthMapToFile stores dm as a 16-bit grayscale PNG.
func WriteDepthMapToFile(path string, dm *DepthMap) error {
	return WriteImageToFile(path, dm.ToGray16Picture())
}
