package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/imaging"
)

// ErrInference is wrapped by every failure a backend reports from Infer or WarmUp.
var ErrInference = errors.New("inference failed")

// Backend is an object detector operating on a fixed square canvas.
//
// Infer returns detections in canvas pixels. Implementations must be safe for
// concurrent use; the pipeline calls Infer from many requests at once.
type Backend interface {
	// Infer runs the detector on a letterboxed canvas.
	Infer(ctx context.Context, canvas *imaging.Canvas) ([]detection.RawDetection, error)

	// Labels returns the class names, indexed by RawDetection.ClassID.
	Labels() []string

	// WarmUp prepares the backend for its first request. It may be a no-op.
	WarmUp(ctx context.Context) error
}

// Kind names a backend weight format.
type Kind string

const (
	// KindONNX runs a portable ONNX graph in-process through ONNX Runtime.
	KindONNX Kind = "onnx"
	// KindRemote posts canvases to an inference service that serves native
	// checkpoints out of process.
	KindRemote Kind = "remote"
)

// Options describes how to open one backend.
type Options struct {
	Kind   Kind
	Labels []string

	// CanvasSize is the square input side. Zero means imaging.DefaultCanvasSize.
	CanvasSize int

	// ONNX settings.
	Path       string
	InputName  string
	OutputName string
	Anchors    int
	PoolSize   int
	Threads    int
	ScoreFloor float64

	// Remote settings.
	URL     string
	Timeout time.Duration
}

// Open loads a backend. Loading can take a long time (weights are read into
// memory); ctx cancels it between steps.
func Open(ctx context.Context, opts Options) (Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.CanvasSize == 0 {
		opts.CanvasSize = imaging.DefaultCanvasSize
	}

	var (
		b   Backend
		err error
	)
	switch opts.Kind {
	case KindONNX:
		b, err = OpenONNX(ctx, opts)
	case KindRemote:
		b, err = NewRemote(opts)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", opts.Kind)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func inferenceError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInference, fmt.Sprintf(format, args...))
}
