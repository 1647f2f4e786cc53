package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// CropResult contains one cropped detection encoded as PNG.
type CropResult struct {
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// CropBox extracts the box (x, y, width, height) from img, grown by margin
// pixels on every side and clipped to the image, then optionally rescaled.
//
// The box uses the same convention as detection output: (x, y) is the top-left
// pixel and width/height are extents, so a box straight from the pipeline is
// always a valid argument. The returned X/Y/Width/Height describe the region
// actually cropped after margin and clipping.
//
// # Errors
//
//   - Returns an error if width or height is less than 1.
//   - Returns an error if the box does not intersect the image.
func CropBox(img image.Image, x, y, width, height, margin int, scale float64) (*CropResult, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid crop box: width and height must be at least 1, got %dx%d", width, height)
	}
	if margin < 0 {
		margin = 0
	}

	bounds := img.Bounds()
	rect := image.Rect(x-margin, y-margin, x+width+margin, y+height+margin).
		Add(bounds.Min).
		Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("crop box (%d,%d %dx%d) outside image bounds %dx%d",
			x, y, width, height, bounds.Dx(), bounds.Dy())
	}

	cropped := imaging.Crop(img, rect)

	if scale != 1.0 && scale > 0 {
		newWidth := max(1, int(float64(cropped.Bounds().Dx())*scale))
		newHeight := max(1, int(float64(cropped.Bounds().Dy())*scale))
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	rect = rect.Sub(bounds.Min)
	return &CropResult{
		X:           rect.Min.X,
		Y:           rect.Min.Y,
		Width:       rect.Dx(),
		Height:      rect.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
