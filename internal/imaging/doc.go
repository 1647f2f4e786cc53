// Package imaging turns photographs into detector input and renders detector
// output back onto them.
//
// # Letterboxing
//
// Detectors take a fixed square canvas. ComputeScaling picks one of three fits
// for a W x H photograph on a canvas of side S:
//
//   - wide (W > H): scale = W/S, content spans the full canvas width and is
//     centred vertically with PadY = (S - H/scale)/2
//   - tall (H > W): scale = H/S, content spans the full canvas height and is
//     centred horizontally with PadX = (S - W/scale)/2
//   - square (W == H): scale = W/S, no padding
//
// Scale is original pixels per canvas pixel. The ScalingRecord it returns is
// the only geometry later stages need; Prepare produces the canvas from the
// same record, so the two never disagree about where the content sits.
//
// # Coordinate System
//
// All pixel coordinates are 0-based from the top-left of the image, X to the
// right and Y down. Boxes are (x, y, width, height) with (x, y) the top-left
// pixel, which is the convention detections use throughout the module.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. Every other function is stateless
// and never mutates its input image.
package imaging
