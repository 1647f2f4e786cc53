// Package pipeline runs one image through the active detector: letterbox,
// inference, confidence filter, per-class suppression and the inverse
// transform back to original pixels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/imaging"
	"github.com/fieldbirds/birddetect/internal/log"
	"github.com/fieldbirds/birddetect/internal/registry"
)

// ErrInvalidThreshold is returned for a threshold outside [0,1] or NaN.
var ErrInvalidThreshold = errors.New("threshold must be within [0,1]")

// Options are per-request overrides for Detect. Nil fields use the pipeline
// defaults.
type Options struct {
	ConfidenceThreshold *float64
	IoUThreshold        *float64
}

// Result is a Detect outcome.
type Result struct {
	Model      string                     `json:"model"`
	Width      int                        `json:"width"`
	Height     int                        `json:"height"`
	Detections []detection.FinalDetection `json:"detections"`
	Elapsed    time.Duration              `json:"elapsed"`
}

// Pipeline is stateless between calls and safe for concurrent use.
type Pipeline struct {
	registry   *registry.Registry
	confidence float64
	iou        float64
}

// New creates a pipeline over reg with default thresholds used by Detect.
func New(reg *registry.Registry, confidence, iou float64) (*Pipeline, error) {
	if reg == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}
	if err := checkThreshold("confidence", confidence); err != nil {
		return nil, err
	}
	if err := checkThreshold("iou", iou); err != nil {
		return nil, err
	}
	return &Pipeline{registry: reg, confidence: confidence, iou: iou}, nil
}

// Registry returns the registry the pipeline reads the active model from.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Thresholds returns the default confidence and IoU thresholds.
func (p *Pipeline) Thresholds() (confidence, iou float64) {
	return p.confidence, p.iou
}

// Process detects objects in img with the active model.
//
// The active model is read once, so a switch that completes while the call is
// running does not affect it. Detections are returned in suppression order:
// grouped by class in order of first appearance, each group by confidence
// descending.
//
// # Errors
//
//   - registry.ErrNoActiveModel if nothing is active.
//   - imaging.ErrInvalidDimension or imaging.ErrUnsupportedImageFormat from preparation.
//   - backend.ErrInference from the detector.
//   - ErrInvalidThreshold for a threshold outside [0,1].
func (p *Pipeline) Process(ctx context.Context, img image.Image, confidence, iou float64) ([]detection.FinalDetection, error) {
	_, dets, err := p.process(ctx, img, confidence, iou)
	return dets, err
}

// ProcessBytes decodes data and runs Process on the result.
func (p *Pipeline) ProcessBytes(ctx context.Context, data []byte, confidence, iou float64) ([]detection.FinalDetection, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, img, confidence, iou)
}

// Detect is Process with default thresholds and a Result carrying the model
// name, the image size and the elapsed time.
func (p *Pipeline) Detect(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	confidence, iou := p.confidence, p.iou
	if opts.ConfidenceThreshold != nil {
		confidence = *opts.ConfidenceThreshold
	}
	if opts.IoUThreshold != nil {
		iou = *opts.IoUThreshold
	}

	if log.RequestID(ctx) == "unknown" {
		ctx = log.ContextWithRequestID(ctx, uuid.NewString())
	}

	start := time.Now()
	desc, dets, err := p.process(ctx, img, confidence, iou)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &Result{
		Model:      desc.Name,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Detections: dets,
		Elapsed:    time.Since(start),
	}, nil
}

func (p *Pipeline) process(ctx context.Context, img image.Image, confidence, iou float64) (*registry.Descriptor, []detection.FinalDetection, error) {
	if err := checkThreshold("confidence", confidence); err != nil {
		return nil, nil, err
	}
	if err := checkThreshold("iou", iou); err != nil {
		return nil, nil, err
	}

	desc, err := p.registry.Active()
	if err != nil {
		return nil, nil, err
	}

	canvas, rec, err := imaging.Prepare(img, desc.CanvasSize)
	if err != nil {
		return nil, nil, err
	}

	raw, err := desc.Backend.Infer(ctx, canvas)
	if err != nil {
		log.WithRequestID(ctx).WithField("model", desc.Name).WithError(err).Warn("[pipeline.Process] inference failed")
		return nil, nil, err
	}

	kept := detection.FilterByConfidence(raw, confidence)
	if len(kept) > 1 {
		kept = detection.Suppress(kept, iou)
	}

	final := detection.ToOriginalAll(kept, rec)
	for i := range final {
		final[i].Label = desc.Label(final[i].ClassID)
	}

	log.WithRequestID(ctx).WithFields(log.Fields{
		"model": desc.Name,
		"fit":   rec.Fit().String(),
		"raw":   len(raw),
		"kept":  len(final),
	}).Debug("[pipeline.Process] detections ready")

	return desc, final, nil
}

func checkThreshold(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s threshold %v", ErrInvalidThreshold, name, v)
	}
	return nil
}
