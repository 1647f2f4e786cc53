package backend

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/imaging"
	"github.com/fieldbirds/birddetect/internal/log"
)

const (
	// DefaultAnchors is the prediction count of a 640x640 YOLOv8-style head.
	DefaultAnchors = 8400
	// DefaultScoreFloor drops predictions no caller threshold would ever keep.
	DefaultScoreFloor = 0.01
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime loads the ONNX Runtime shared library. It must be called before
// any ONNX backend is opened; later calls return the first result.
func InitRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return runtimeErr
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	return ort.DestroyEnvironment()
}

// onnxSession is one ONNX Runtime session with its bound input and output tensors.
// A session is used by one request at a time.
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// Destroy releases the session's native resources.
func (s *onnxSession) Destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// ONNX is a backend running a YOLO-style detection graph with ONNX Runtime.
//
// The graph takes a (1, 3, S, S) float32 image in [0,1] and produces
// (1, 4+C, A): per anchor a centre-x, centre-y, width, height in canvas pixels
// followed by C class scores. Sessions are pooled so concurrent requests do not
// share bound tensors.
type ONNX struct {
	path       string
	labels     []string
	canvasSize int
	anchors    int
	scoreFloor float32
	pool       *sessionPool
}

// OpenONNX creates PoolSize sessions for the graph at opts.Path.
func OpenONNX(ctx context.Context, opts Options) (*ONNX, error) {
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if len(opts.Labels) == 0 {
		return nil, fmt.Errorf("onnx backend %s: label set is empty", opts.Path)
	}

	b := &ONNX{
		path:       opts.Path,
		labels:     append([]string(nil), opts.Labels...),
		canvasSize: opts.CanvasSize,
		anchors:    opts.Anchors,
		scoreFloor: float32(opts.ScoreFloor),
	}
	if b.canvasSize == 0 {
		b.canvasSize = imaging.DefaultCanvasSize
	}
	if b.anchors == 0 {
		b.anchors = DefaultAnchors
	}
	if opts.ScoreFloor == 0 {
		b.scoreFloor = DefaultScoreFloor
	}

	inputName := opts.InputName
	if inputName == "" {
		inputName = "images"
	}
	outputName := opts.OutputName
	if outputName == "" {
		outputName = "output0"
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	pool, err := newSessionPool(ctx, opts.PoolSize, func() (pooledSession, error) {
		return b.newSession(inputName, outputName, threads)
	})
	if err != nil {
		return nil, fmt.Errorf("onnx backend %s: %w", opts.Path, err)
	}
	b.pool = pool

	log.Debug(log.Fields{
		"path":    b.path,
		"canvas":  b.canvasSize,
		"classes": len(b.labels),
		"pool":    pool.Size(),
	}, "[backend.OpenONNX] sessions ready")

	return b, nil
}

func (b *ONNX) newSession(inputName, outputName string, threads int) (*onnxSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(threads)
	options.SetInterOpNumThreads(threads)

	size := int64(b.canvasSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	rows := int64(4 + len(b.labels))
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, rows, int64(b.anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		b.path,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &onnxSession{session: session, input: inputTensor, output: outputTensor}, nil
}

// Labels returns the class names of the graph.
func (b *ONNX) Labels() []string {
	return b.labels
}

// CanvasSize returns the square input side of the graph.
func (b *ONNX) CanvasSize() int {
	return b.canvasSize
}

// Infer runs the graph on canvas.
func (b *ONNX) Infer(ctx context.Context, canvas *imaging.Canvas) ([]detection.RawDetection, error) {
	if canvas == nil || canvas.Size != b.canvasSize {
		return nil, inferenceError("canvas must be %dx%d", b.canvasSize, b.canvasSize)
	}

	ps, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	defer b.pool.Release(ps)
	s := ps.(*onnxSession)

	canvas.FillCHW(s.input.GetData())
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: model run: %w", ErrInference, err)
	}

	return DecodeYOLO(s.output.GetData(), len(b.labels), b.anchors, b.scoreFloor)
}

// WarmUp runs one inference on a blank canvas so the first request does not
// pay for lazy runtime initialisation.
func (b *ONNX) WarmUp(ctx context.Context) error {
	blank := &imaging.Canvas{
		Image: imaging.BlankCanvas(b.canvasSize),
		Size:  b.canvasSize,
	}
	_, err := b.Infer(ctx, blank)
	return err
}

// Stats returns the session pool counters.
func (b *ONNX) Stats() PoolStats {
	return b.pool.Stats()
}

// Close destroys every pooled session.
func (b *ONNX) Close() error {
	b.pool.Destroy()
	return nil
}

// DecodeYOLO converts a (4+numClasses, anchors) channel-major output into
// canvas-space detections. For each anchor the best class is taken; anchors
// whose best score is below floor are skipped.
//
// # Errors
//
//   - Returns ErrInference if len(out) does not match (4+numClasses)*anchors.
func DecodeYOLO(out []float32, numClasses, anchors int, floor float32) ([]detection.RawDetection, error) {
	expected := (4 + numClasses) * anchors
	if len(out) != expected {
		return nil, inferenceError("unexpected output length: got %d, want %d", len(out), expected)
	}

	dets := make([]detection.RawDetection, 0, 64)
	for i := 0; i < anchors; i++ {
		best := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			score := out[(4+c)*anchors+i]
			if score < floor {
				continue
			}
			if best < 0 || score > bestScore {
				best, bestScore = c, score
			}
		}
		if best < 0 {
			continue
		}

		cx := float64(out[i])
		cy := float64(out[anchors+i])
		w := float64(out[2*anchors+i])
		h := float64(out[3*anchors+i])
		dets = append(dets, detection.RawDetection{
			ClassID:    best,
			Confidence: float64(bestScore),
			Box:        detection.Box{X: cx - w/2, Y: cy - h/2, Width: w, Height: h},
		})
	}
	return dets, nil
}
