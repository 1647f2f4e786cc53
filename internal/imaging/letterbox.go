package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultCanvasSize is the canvas side used when a model does not declare one.
const DefaultCanvasSize = 640

// DefaultPadColor is the letterbox fill, the mid grey most detectors are trained with.
var DefaultPadColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// LetterboxOptions controls how Prepare resamples and pads.
type LetterboxOptions struct {
	// Filter is the resampling filter used for the resize. Nil means imaging.Linear.
	Filter *imaging.ResampleFilter

	// Fill is the colour of the padded area. Nil means DefaultPadColor.
	Fill color.Color
}

// Canvas is a letterboxed image ready for detector inference.
//
// Image is always Size x Size pixels with its origin at (0,0) and fully opaque.
type Canvas struct {
	Image *image.NRGBA
	Size  int
}

// CHW returns the canvas as a planar float32 tensor in RGB channel order with
// values scaled to [0,1], the layout expected by YOLO-style ONNX graphs.
func (c *Canvas) CHW() []float32 {
	plane := c.Size * c.Size
	out := make([]float32, plane*3)
	c.FillCHW(out)
	return out
}

// FillCHW writes the planar tensor into dst, which must hold 3*Size*Size values.
func (c *Canvas) FillCHW(dst []float32) {
	plane := c.Size * c.Size
	pix := c.Image.Pix
	stride := c.Image.Stride
	for y := 0; y < c.Size; y++ {
		row := y * stride
		offset := y * c.Size
		for x := 0; x < c.Size; x++ {
			p := row + x*4
			i := offset + x
			dst[i] = float32(pix[p]) / 255.0
			dst[plane+i] = float32(pix[p+1]) / 255.0
			dst[2*plane+i] = float32(pix[p+2]) / 255.0
		}
	}
}

// BlankCanvas returns a size x size image filled with DefaultPadColor.
func BlankCanvas(size int) *image.NRGBA {
	return imaging.New(size, size, DefaultPadColor)
}

// PNG encodes the canvas as PNG bytes.
func (c *Canvas) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, c.Image, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// Prepare letterboxes img onto a canvasSize x canvasSize canvas with default options.
func Prepare(img image.Image, canvasSize int) (*Canvas, ScalingRecord, error) {
	return PrepareWith(img, canvasSize, LetterboxOptions{})
}

// PrepareWith letterboxes img onto a square canvas and returns the canvas together
// with the ScalingRecord describing the fit.
//
// The geometry comes from ComputeScaling on the image's pre-resize bounds. The
// content is resized to the record's ContentSize and placed at the integer part
// of the record's padding, so the returned record matches the pixels produced
// to within half a canvas pixel on the padded axis.
//
// # Errors
//
//   - Returns ErrUnsupportedImageFormat if img is nil or has an empty extent.
//   - Returns ErrInvalidDimension if canvasSize is not positive.
func PrepareWith(img image.Image, canvasSize int, opts LetterboxOptions) (*Canvas, ScalingRecord, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ScalingRecord{}, fmt.Errorf("%w: image has no pixels", ErrUnsupportedImageFormat)
	}

	bounds := img.Bounds()
	rec, err := ComputeScaling(bounds.Dx(), bounds.Dy(), canvasSize)
	if err != nil {
		return nil, ScalingRecord{}, err
	}

	filter := imaging.Linear
	if opts.Filter != nil {
		filter = *opts.Filter
	}
	fill := opts.Fill
	if fill == nil {
		fill = DefaultPadColor
	}

	contentW, contentH := rec.ContentSize()
	content := imaging.Resize(img, contentW, contentH, filter)

	bg := imaging.New(canvasSize, canvasSize, fill)
	offset := image.Pt(int(math.Floor(rec.PadX)), int(math.Floor(rec.PadY)))
	canvas := imaging.Overlay(bg, content, offset, 1.0)

	return &Canvas{Image: canvas, Size: canvasSize}, rec, nil
}
