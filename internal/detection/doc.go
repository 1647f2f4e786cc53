// Package detection holds the detector-agnostic postprocessing stages:
// confidence filtering, per-class non-maximum suppression (Suppress) and the
// inverse letterbox transform (ToOriginal) from canvas pixels to
// original-image pixels.
//
// RawDetection values are in canvas space and carry floating-point boxes;
// FinalDetection values are in original-image space with integer boxes that
// always lie inside the photograph.
package detection
