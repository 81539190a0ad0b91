package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

const (
	outputQuality  = 95
	outputMIMEType = "image/jpeg"
)

type Cropper interface {
	Crop(ctx context.Context, r io.Reader, w io.Writer, rect Rect) error
}

// ImagingCropper is an implementation of the Cropper interface
// using the disintegration/imaging library
type ImagingCropper struct {
	Quality int
}

// Crop reads an image from r, extracts rect in a single operation and writes
// it to w as JPEG. The output is exactly the rectangle, never rescaled.
func (c *ImagingCropper) Crop(ctx context.Context, r io.Reader, w io.Writer, rect Rect) error {
	if err := ctx.Err(); err != nil {
		return &RenderError{Err: err}
	}

	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return &RenderError{Err: fmt.Errorf("failed to decode image: %w", err)}
	}

	bounds := src.Bounds()
	cropRect := rect.Pixels().Add(bounds.Min)
	if cropRect.Empty() {
		return &RenderError{Err: errors.New("crop rectangle is empty")}
	}
	if !cropRect.In(bounds) {
		return &GeometryError{Msg: fmt.Sprintf("%s is outside image bounds %dx%d", rect, bounds.Dx(), bounds.Dy())}
	}

	cropped := imaging.Crop(src, cropRect)

	quality := c.Quality
	if quality <= 0 {
		quality = outputQuality
	}
	if err := imaging.Encode(w, cropped, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return &RenderError{Err: fmt.Errorf("failed to encode image: %w", err)}
	}
	return nil
}

// NewImagingCropper creates a new instance of ImagingCropper
func NewImagingCropper() *ImagingCropper {
	return &ImagingCropper{Quality: outputQuality}
}
