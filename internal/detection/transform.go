package detection

import (
	"math"

	"github.com/fieldbirds/birddetect/internal/imaging"
)

// ToOriginal maps a canvas-space detection into original-image pixels.
//
// The inverse follows the same fit branch ComputeScaling chose: the padding is
// subtracted on the padded axis only, then coordinates and extents are
// multiplied by the record's scale. The result is rounded and clamped so that
//
//	x = clamp(round(x), 0, W-1)     width  = clamp(round(width), 1, W-x)
//	y = clamp(round(y), 0, H-1)     height = clamp(round(height), 1, H-y)
//
// Clamping is a silent correction, not an error. ToOriginal never fails for a
// record produced by ComputeScaling. NaN coordinates are treated as 0.
func ToOriginal(raw RawDetection, rec imaging.ScalingRecord) FinalDetection {
	x, y := finite(raw.Box.X), finite(raw.Box.Y)
	w, h := finite(raw.Box.Width), finite(raw.Box.Height)

	switch rec.Fit() {
	case imaging.FitWide:
		y -= rec.PadY
	case imaging.FitTall:
		x -= rec.PadX
	}

	x *= rec.Scale
	y *= rec.Scale
	w *= rec.Scale
	h *= rec.Scale

	fx := clamp(roundInt(x), 0, rec.OriginalWidth-1)
	fy := clamp(roundInt(y), 0, rec.OriginalHeight-1)

	return FinalDetection{
		ClassID:    raw.ClassID,
		Confidence: raw.Confidence,
		X:          fx,
		Y:          fy,
		Width:      clamp(roundInt(w), 1, rec.OriginalWidth-fx),
		Height:     clamp(roundInt(h), 1, rec.OriginalHeight-fy),
	}
}

// ToOriginalAll applies ToOriginal to every detection, preserving order.
func ToOriginalAll(dets []RawDetection, rec imaging.ScalingRecord) []FinalDetection {
	out := make([]FinalDetection, len(dets))
	for i, d := range dets {
		out[i] = ToOriginal(d, rec)
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// roundInt rounds half away from zero and saturates at the int32 range so
// huge or infinite inputs still clamp sensibly.
func roundInt(v float64) int {
	r := math.Round(v)
	switch {
	case r > math.MaxInt32:
		return math.MaxInt32
	case r < math.MinInt32:
		return math.MinInt32
	}
	return int(r)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
