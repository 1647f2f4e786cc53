package detection

import (
	"math"
	"sort"
)

// IoU returns the intersection-over-union of two boxes in [0,1].
//
// Boxes with no area, or pairs whose union is zero, have IoU 0.
func IoU(a, b Box) float64 {
	ix := math.Min(a.X+a.Width, b.X+b.Width) - math.Max(a.X, b.X)
	iy := math.Min(a.Y+a.Height, b.Y+b.Height) - math.Max(a.Y, b.Y)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Suppress removes redundant overlapping detections, class by class.
//
// Detections of different classes never suppress each other. Within a class the
// detections are ordered by confidence, highest first, with ties kept in input
// order; the best remaining one is kept and every other one whose IoU with it is
// strictly greater than iouThreshold is discarded, until none remain.
//
// The result is grouped by class in order of each class's first appearance in
// dets, and each group is confidence-descending. Zero or one detection is
// returned unchanged. The input slice is not modified.
//
// # Example
//
//	kept := detection.Suppress(raw, 0.45)
func Suppress(dets []RawDetection, iouThreshold float64) []RawDetection {
	if len(dets) <= 1 {
		return dets
	}

	var order []int
	buckets := make(map[int][]RawDetection)
	for _, d := range dets {
		if _, ok := buckets[d.ClassID]; !ok {
			order = append(order, d.ClassID)
		}
		buckets[d.ClassID] = append(buckets[d.ClassID], d)
	}

	out := make([]RawDetection, 0, len(dets))
	for _, class := range order {
		out = append(out, suppressClass(buckets[class], iouThreshold)...)
	}
	return out
}

// suppressClass runs greedy NMS on detections that all share one class.
// It sorts its argument in place; callers pass a slice they own.
func suppressClass(dets []RawDetection, iouThreshold float64) []RawDetection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]RawDetection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if !suppressed[j] && IoU(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
