package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/imaging"
)

// DefaultRemoteTimeout bounds one HTTP round trip to an inference service.
const DefaultRemoteTimeout = 30 * time.Second

// Remote is a backend that posts canvases to an out-of-process inference
// service, used for native checkpoints that only the training framework can
// load.
//
// The service receives a multipart form with the canvas PNG in field "file"
// and answers with
//
//	{"detections": [{"class_id": 0, "confidence": 0.9,
//	                 "x": 300, "y": 200, "width": 40, "height": 40}]}
//
// in canvas pixels. GET <url>/health must answer 200 when the model is loaded.
type Remote struct {
	url        string
	labels     []string
	canvasSize int
	client     *http.Client
}

type remoteDetection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

// NewRemote creates a remote backend. No request is made until WarmUp or Infer.
func NewRemote(opts Options) (*Remote, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("remote backend: url is required")
	}
	if len(opts.Labels) == 0 {
		return nil, fmt.Errorf("remote backend %s: label set is empty", opts.URL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	canvasSize := opts.CanvasSize
	if canvasSize == 0 {
		canvasSize = imaging.DefaultCanvasSize
	}

	return &Remote{
		url:        strings.TrimRight(opts.URL, "/"),
		labels:     append([]string(nil), opts.Labels...),
		canvasSize: canvasSize,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Labels returns the class names served by the remote model.
func (r *Remote) Labels() []string {
	return r.labels
}

// CanvasSize returns the square input side the remote model expects.
func (r *Remote) CanvasSize() int {
	return r.canvasSize
}

// Infer posts canvas to the inference service.
func (r *Remote) Infer(ctx context.Context, canvas *imaging.Canvas) ([]detection.RawDetection, error) {
	if canvas == nil || canvas.Size != r.canvasSize {
		return nil, inferenceError("canvas must be %dx%d", r.canvasSize, r.canvasSize)
	}

	data, err := canvas.PNG()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "canvas.png")
	if err != nil {
		return nil, fmt.Errorf("%w: create form file: %w", ErrInference, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: write form file: %w", ErrInference, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: close form: %w", ErrInference, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrInference, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %w", ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, inferenceError("service answered %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrInference, err)
	}

	dets := make([]detection.RawDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.ClassID < 0 || d.ClassID >= len(r.labels) {
			return nil, inferenceError("class id %d outside label set of %d", d.ClassID, len(r.labels))
		}
		dets = append(dets, detection.RawDetection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        detection.Box{X: d.X, Y: d.Y, Width: d.Width, Height: d.Height},
		})
	}
	return dets, nil
}

// WarmUp checks that the inference service is up and has its model loaded.
func (r *Remote) WarmUp(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: create health request: %w", ErrInference, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return inferenceError("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
