package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabeledBox is a box in original-image pixels to draw on an annotation.
type LabeledBox struct {
	ClassID    int
	Label      string
	Confidence float64
	X          int
	Y          int
	Width      int
	Height     int
}

// AnnotateOptions controls the appearance of an annotation.
type AnnotateOptions struct {
	// Thickness is the outline width in pixels. Zero means 2.
	Thickness int

	// ShowLabels draws "label 0.93" tags above each box.
	ShowLabels bool

	// Color overrides the per-class palette with one "#RRGGBB" colour.
	Color string
}

// AnnotateResult contains the annotated photograph encoded as PNG.
type AnnotateResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Boxes       int    `json:"boxes"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// ClassColor returns a stable, well separated colour for a class id.
//
// Hues step by the golden angle so neighbouring class ids never share a hue.
func ClassColor(classID int) color.RGBA {
	hue := math.Mod(float64(classID)*137.508, 360)
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 0.85, 0.95).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Annotate draws boxes on a copy of img and returns it as base64 PNG.
//
// Boxes are expected in the image's own pixel space (0-based from the
// top-left of its bounds). Parts of a box outside the image are skipped.
//
// # Errors
//
//   - Returns an error if opts.Color is set but is not a valid hex colour.
//   - Returns an error if PNG encoding fails.
func Annotate(img image.Image, boxes []LabeledBox, opts AnnotateOptions) (*AnnotateResult, error) {
	thickness := opts.Thickness
	if thickness <= 0 {
		thickness = 2
	}

	var override *color.RGBA
	if opts.Color != "" {
		c, err := colorful.Hex(opts.Color)
		if err != nil {
			return nil, fmt.Errorf("invalid box color %q: %w", opts.Color, err)
		}
		r, g, b := c.RGB255()
		override = &color.RGBA{R: r, G: g, B: b, A: 255}
	}

	canvas := clone.AsRGBA(img)
	origin := canvas.Bounds().Min

	for _, box := range boxes {
		stroke := ClassColor(box.ClassID)
		if override != nil {
			stroke = *override
		}
		r := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Add(origin)
		drawOutline(canvas, r, thickness, stroke)
		if opts.ShowLabels {
			text := box.Label
			if text == "" {
				text = fmt.Sprintf("class %d", box.ClassID)
			}
			drawTag(canvas, r.Min.X, r.Min.Y, fmt.Sprintf("%s %.2f", text, box.Confidence), stroke)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode annotation: %w", err)
	}

	return &AnnotateResult{
		Width:       canvas.Bounds().Dx(),
		Height:      canvas.Bounds().Dy(),
		Boxes:       len(boxes),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// drawOutline strokes the inside edge of r with the given thickness.
func drawOutline(dst *image.RGBA, r image.Rectangle, thickness int, c color.RGBA) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	t := min(thickness, r.Dx(), r.Dy())
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// drawTag draws text on a filled background just above (x, y), or just below
// the top edge when there is no room above.
func drawTag(dst *image.RGBA, x, y int, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
	}

	textW := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	top := y - textH - 2
	if top < dst.Bounds().Min.Y {
		top = y
	}
	tag := image.Rect(x, top, x+textW+4, top+textH+2).Intersect(dst.Bounds())
	if tag.Empty() {
		return
	}
	draw.Draw(dst, tag, image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dot = fixed.P(x+2, top+1+metrics.Ascent.Ceil())
	d.DrawString(text)
}
