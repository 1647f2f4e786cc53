package imaging

import (
	"errors"
	"fmt"
)

// ErrInvalidDimension is returned when an image or canvas size is not positive.
var ErrInvalidDimension = errors.New("invalid image dimension")

// Fit identifies which axis of a letterbox fit carries the padding.
type Fit int

const (
	// FitSquare means the image aspect matches the canvas; no padding.
	FitSquare Fit = iota
	// FitWide means width fills the canvas and the vertical axis is padded.
	FitWide
	// FitTall means height fills the canvas and the horizontal axis is padded.
	FitTall
)

// String returns the lowercase name of the fit.
func (f Fit) String() string {
	switch f {
	case FitWide:
		return "wide"
	case FitTall:
		return "tall"
	default:
		return "square"
	}
}

// ScalingRecord describes how one image was letterboxed onto a square canvas.
//
// The record is produced once per image by Prepare (through ComputeScaling) and
// consumed by the coordinate transform that maps detections back. It is a plain
// value and is never mutated after construction.
//
// Scale is the ratio of original pixels to canvas pixels along the axis that
// fills the canvas. PadX and PadY are the canvas-space offsets of the image
// content's top-left corner; at most one of them is nonzero.
type ScalingRecord struct {
	OriginalWidth  int     `json:"original_width"`
	OriginalHeight int     `json:"original_height"`
	CanvasSize     int     `json:"canvas_size"`
	Scale          float64 `json:"scale"`
	PadX           float64 `json:"pad_x"`
	PadY           float64 `json:"pad_y"`
}

// Fit reports which branch of the letterbox rule produced this record.
//
// Both the preprocessor and the inverse transform branch on this value, so the
// decision is made in exactly one place.
func (r ScalingRecord) Fit() Fit {
	return fitFor(r.OriginalWidth, r.OriginalHeight)
}

// ContentSize returns the integer size of the resized image content on the canvas.
//
// Each side is rounded to the nearest pixel and kept within [1, CanvasSize].
func (r ScalingRecord) ContentSize() (width, height int) {
	return contentSide(r.OriginalWidth, r.Scale, r.CanvasSize),
		contentSide(r.OriginalHeight, r.Scale, r.CanvasSize)
}

// ComputeScaling computes the letterbox fit of an original image onto a square canvas.
//
// Parameters:
//   - originalWidth, originalHeight: source image size in pixels.
//   - canvasSize: side of the square canvas the detector operates on.
//
// The rule is:
//   - wide (width/height > 1): scale = width/canvas, PadY = (canvas - height/scale)/2
//   - tall (width/height < 1): scale = height/canvas, PadX = (canvas - width/scale)/2
//   - square: scale = width/canvas, no padding
//
// # Errors
//
//   - Returns ErrInvalidDimension if any argument is zero or negative.
func ComputeScaling(originalWidth, originalHeight, canvasSize int) (ScalingRecord, error) {
	if originalWidth <= 0 || originalHeight <= 0 {
		return ScalingRecord{}, fmt.Errorf("%w: image %dx%d", ErrInvalidDimension, originalWidth, originalHeight)
	}
	if canvasSize <= 0 {
		return ScalingRecord{}, fmt.Errorf("%w: canvas %d", ErrInvalidDimension, canvasSize)
	}

	w := float64(originalWidth)
	h := float64(originalHeight)
	c := float64(canvasSize)

	rec := ScalingRecord{
		OriginalWidth:  originalWidth,
		OriginalHeight: originalHeight,
		CanvasSize:     canvasSize,
	}

	switch fitFor(originalWidth, originalHeight) {
	case FitWide:
		rec.Scale = w / c
		rec.PadY = (c - h/rec.Scale) / 2
	case FitTall:
		rec.Scale = h / c
		rec.PadX = (c - w/rec.Scale) / 2
	default:
		rec.Scale = w / c
	}

	return rec, nil
}

// fitFor compares width and height as integers so the branch has no rounding.
func fitFor(width, height int) Fit {
	switch {
	case width > height:
		return FitWide
	case width < height:
		return FitTall
	default:
		return FitSquare
	}
}

func contentSide(original int, scale float64, canvas int) int {
	side := int(float64(original)/scale + 0.5)
	if side < 1 {
		side = 1
	}
	if side > canvas {
		side = canvas
	}
	return side
}
