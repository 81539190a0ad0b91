package main

import (
	"crypto/md5"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	RatioPortrait  = 3.0 / 4.0
	RatioSquare    = 1.0
	RatioLandscape = 4.0 / 3.0
)

type AspectRatio struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ManualRatios is the catalog offered by the manual cropper.
var ManualRatios = []AspectRatio{
	{Label: "3:4", Value: RatioPortrait},
	{Label: "1:1", Value: RatioSquare},
	{Label: "4:3", Value: RatioLandscape},
}

// LookupRatio finds the catalog entry closest to value, within the tolerance
// the UI uses to highlight the selected ratio.
func LookupRatio(value float64) (AspectRatio, bool) {
	for _, r := range ManualRatios {
		if math.Abs(r.Value-value) < 0.01 {
			return r, true
		}
	}
	return AspectRatio{}, false
}

// ParseRatio accepts "3:4", "3/4" or a decimal like "0.75".
func ParseRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if a, b, ok := strings.Cut(strings.ReplaceAll(s, "/", ":"), ":"); ok {
		num, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ratio %q: %w", s, err)
		}
		den, err := strconv.ParseFloat(b, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ratio %q: %w", s, err)
		}
		if num <= 0 || den <= 0 {
			return 0, fmt.Errorf("invalid ratio %q: both sides must be positive", s)
		}
		return num / den, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ratio %q: %w", s, err)
	}
	if v <= 0 || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid ratio %q: must be positive", s)
	}
	return v, nil
}

// Rect is a crop rectangle in source pixel coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) String() string {
	return fmt.Sprintf("crop(x=%.2f,y=%.2f,w=%.2f,h=%.2f)", r.X, r.Y, r.Width, r.Height)
}

func (r Rect) ID() string {
	m := md5.New()
	_, err := m.Write([]byte(r.String()))
	if err != nil {
		log.Error().Err(err).Msg("failed to hash crop string")
		return ""
	}
	return fmt.Sprintf("%x", m.Sum(nil))[:12]
}

// Pixels snaps the rectangle edges to whole pixels. Rounding edges rather
// than sizes keeps the result inside any bounds the float rectangle is in.
// A non-empty rectangle thinner than a pixel still covers one pixel.
func (r Rect) Pixels() image.Rectangle {
	x0, x1 := snapSpan(r.X, r.Width)
	y0, y1 := snapSpan(r.Y, r.Height)
	return image.Rect(x0, y0, x1, y1)
}

func snapSpan(pos, size float64) (int, int) {
	lo, hi := int(math.Round(pos)), int(math.Round(pos+size))
	if hi <= lo && size > 0 {
		lo = int(math.Floor(pos))
		hi = lo + 1
	}
	return lo, hi
}

// TargetRatio is the canonical ratio automatic standardization crops to:
// landscape sources get 4:3, everything else (square included) gets 3:4.
func TargetRatio(w, h int) float64 {
	if w > h {
		return RatioLandscape
	}
	return RatioPortrait
}

// DefaultRatio is the ratio the manual cropper starts with for an image.
func DefaultRatio(w, h int) float64 {
	return TargetRatio(w, h)
}

func checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return &GeometryError{Msg: fmt.Sprintf("image dimensions must be positive, got %dx%d", w, h)}
	}
	return nil
}

// ManualCrop computes the largest rectangle of the given ratio that fits the
// image, positioned inside the leftover slack by offsetX and offsetY
// (percentages, 50 centers). Coordinates are not rounded.
func ManualCrop(w, h int, ratio, offsetX, offsetY float64) (Rect, error) {
	if err := checkDimensions(w, h); err != nil {
		return Rect{}, err
	}
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return Rect{}, &GeometryError{Msg: fmt.Sprintf("ratio must be positive, got %v", ratio)}
	}
	if !(offsetX >= 0 && offsetX <= 100) || !(offsetY >= 0 && offsetY <= 100) {
		return Rect{}, &GeometryError{Msg: fmt.Sprintf("offsets must be within 0..100, got %v/%v", offsetX, offsetY)}
	}

	fw, fh := float64(w), float64(h)
	var cropWidth, cropHeight float64
	if fw/fh > ratio {
		cropHeight = fh
		cropWidth = cropHeight * ratio
	} else {
		cropWidth = fw
		cropHeight = cropWidth / ratio
	}

	maxOffsetX := fw - cropWidth
	maxOffsetY := fh - cropHeight

	return Rect{
		X:      offsetX / 100 * maxOffsetX,
		Y:      offsetY / 100 * maxOffsetY,
		Width:  cropWidth,
		Height: cropHeight,
	}, nil
}

// AutoCrop computes the centered crop to the orientation's canonical ratio,
// rounded to whole pixels.
func AutoCrop(w, h int) (Rect, error) {
	if err := checkDimensions(w, h); err != nil {
		return Rect{}, err
	}

	fw, fh := float64(w), float64(h)
	target := TargetRatio(w, h)

	var x, y, cropWidth, cropHeight float64
	if fw/fh > target {
		cropHeight = fh
		cropWidth = fh * target
		x = (fw - cropWidth) / 2
	} else {
		cropWidth = fw
		cropHeight = fw / target
		y = (fh - cropHeight) / 2
	}

	return Rect{
		X:      math.Round(x),
		Y:      math.Round(y),
		Width:  math.Round(cropWidth),
		Height: math.Round(cropHeight),
	}, nil
}
