// Package backendtest provides a scriptable backend for tests.
package backendtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldbirds/birddetect/internal/backend"
	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/imaging"
)

// Fake is a backend that returns fixed detections.
//
// The zero value is not usable; create one with New.
type Fake struct {
	labels     []string
	canvasSize int

	mu         sync.Mutex
	detections []detection.RawDetection
	inferErr   error
	warmErr    error
	delay      time.Duration

	infers   atomic.Int64
	warmUps  atomic.Int64
	closed   atomic.Bool
	lastSize atomic.Int64
}

// New creates a fake with the given labels and canvas size (0 means
// imaging.DefaultCanvasSize) that returns dets from every Infer.
func New(labels []string, canvasSize int, dets ...detection.RawDetection) *Fake {
	if canvasSize == 0 {
		canvasSize = imaging.DefaultCanvasSize
	}
	return &Fake{labels: labels, canvasSize: canvasSize, detections: dets}
}

// SetDetections replaces the detections returned by Infer.
func (f *Fake) SetDetections(dets ...detection.RawDetection) {
	f.mu.Lock()
	f.detections = dets
	f.mu.Unlock()
}

// FailInfer makes Infer return err. Nil restores success.
func (f *Fake) FailInfer(err error) {
	f.mu.Lock()
	f.inferErr = err
	f.mu.Unlock()
}

// FailWarmUp makes WarmUp return err. Nil restores success.
func (f *Fake) FailWarmUp(err error) {
	f.mu.Lock()
	f.warmErr = err
	f.mu.Unlock()
}

// SetDelay makes Infer block for d or until ctx ends.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// Infer returns the scripted detections. It fails with backend.ErrInference
// when the canvas does not match the fake's canvas size.
func (f *Fake) Infer(ctx context.Context, canvas *imaging.Canvas) ([]detection.RawDetection, error) {
	f.infers.Add(1)

	f.mu.Lock()
	dets := append([]detection.RawDetection(nil), f.detections...)
	err := f.inferErr
	delay := f.delay
	f.mu.Unlock()

	if canvas == nil || canvas.Size != f.canvasSize {
		return nil, backend.ErrInference
	}
	f.lastSize.Store(int64(canvas.Size))

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return dets, nil
}

// Labels returns the fake's labels.
func (f *Fake) Labels() []string {
	return f.labels
}

// CanvasSize returns the fake's canvas size.
func (f *Fake) CanvasSize() int {
	return f.canvasSize
}

// WarmUp counts the call and returns the scripted error.
func (f *Fake) WarmUp(ctx context.Context) error {
	f.warmUps.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warmErr
}

// Close marks the fake closed.
func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// Infers returns how many times Infer was called.
func (f *Fake) Infers() int { return int(f.infers.Load()) }

// WarmUps returns how many times WarmUp was called.
func (f *Fake) WarmUps() int { return int(f.warmUps.Load()) }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }

// LastCanvasSize returns the size of the last canvas Infer accepted.
func (f *Fake) LastCanvasSize() int { return int(f.lastSize.Load()) }
