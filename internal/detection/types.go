package detection

// Box is an axis-aligned box given by its top-left corner and extent.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns Width*Height, or 0 for a degenerate box.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// RawDetection is one detector output in canvas space.
//
// ClassID indexes the producing backend's label set and Confidence is in [0,1].
// Stages that consume raw detections return new slices and never modify the
// values they were given.
type RawDetection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// FinalDetection is a detection in original-image pixels.
//
// Every FinalDetection produced by ToOriginal satisfies:
//   - 0 <= X < original width and 0 <= Y < original height
//   - Width >= 1, Height >= 1
//   - X+Width <= original width and Y+Height <= original height
type FinalDetection struct {
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// FilterByConfidence returns the detections whose confidence is at least threshold,
// preserving input order.
func FilterByConfidence(dets []RawDetection, threshold float64) []RawDetection {
	out := make([]RawDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}
