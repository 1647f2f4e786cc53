package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldbirds/birddetect/internal/backend"
	"github.com/fieldbirds/birddetect/internal/backend/backendtest"
	"github.com/fieldbirds/birddetect/internal/config"
)

type recordingOpener struct {
	mu     sync.Mutex
	opened map[string]*backendtest.Fake
	opts   map[string]backend.Options
	fail   map[string]error
}

func newRecordingOpener() *recordingOpener {
	return &recordingOpener{
		opened: make(map[string]*backendtest.Fake),
		opts:   make(map[string]backend.Options),
		fail:   make(map[string]error),
	}
}

func (o *recordingOpener) open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	key := opts.Path + opts.URL
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.fail[key]; err != nil {
		return nil, err
	}
	f := backendtest.New(opts.Labels, opts.CanvasSize)
	o.opened[key] = f
	o.opts[key] = opts
	return f, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Models = []config.Model{
		{
			Name:             "yolo-small",
			Kind:             "onnx",
			Path:             "/models/small.onnx",
			Labels:           []string{"bird"},
			PoolSize:         2,
			DeclaredAccuracy: 0.8,
		},
		{
			Name:           "yolo-native",
			Kind:           "remote",
			URL:            "http://localhost:8000/detect",
			Labels:         []string{"bird", "nest"},
			CanvasSize:     1280,
			TimeoutSeconds: 5,
		},
	}
	return &cfg
}

func TestLoad(t *testing.T) {
	cfg := testConfig()
	opener := newRecordingOpener()

	reg, err := Load(context.Background(), cfg, opener.open)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if reg.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", reg.Len())
	}
	list := reg.List()
	if list[0].Name != "yolo-small" || list[1].Name != "yolo-native" {
		t.Errorf("order: got %s, %s", list[0].Name, list[1].Name)
	}
	if list[0].DeclaredAccuracy != 0.8 {
		t.Errorf("DeclaredAccuracy: got %v", list[0].DeclaredAccuracy)
	}
	if list[1].Kind != backend.KindRemote || list[1].CanvasSize != 1280 {
		t.Errorf("remote descriptor: got kind %s canvas %d", list[1].Kind, list[1].CanvasSize)
	}

	// First configured model is active and was warmed; the other was not.
	if reg.ActiveName() != "yolo-small" {
		t.Errorf("ActiveName: got %q, want yolo-small", reg.ActiveName())
	}
	if opener.opened["/models/small.onnx"].WarmUps() != 1 {
		t.Error("active model was not warmed up")
	}
	if opener.opened["http://localhost:8000/detect"].WarmUps() != 0 {
		t.Error("inactive model was warmed up at load")
	}

	remote := opener.opts["http://localhost:8000/detect"]
	if remote.Timeout != 5*time.Second || remote.Kind != backend.KindRemote {
		t.Errorf("remote options: got %+v", remote)
	}
	if opener.opts["/models/small.onnx"].PoolSize != 2 {
		t.Errorf("onnx pool size: got %d", opener.opts["/models/small.onnx"].PoolSize)
	}
}

func TestLoad_DefaultModel(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultModel = "yolo-native"

	reg, err := Load(context.Background(), cfg, newRecordingOpener().open)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reg.ActiveName() != "yolo-native" {
		t.Errorf("ActiveName: got %q, want yolo-native", reg.ActiveName())
	}
}

func TestLoad_OpenFailureClosesOthers(t *testing.T) {
	cfg := testConfig()
	opener := newRecordingOpener()
	boom := errors.New("weights corrupt")
	opener.fail["http://localhost:8000/detect"] = boom

	_, err := Load(context.Background(), cfg, opener.open)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if f, ok := opener.opened["/models/small.onnx"]; ok && !f.Closed() {
		t.Error("successfully opened backend leaked after failure")
	}
}

func TestLoad_WarmUpFailure(t *testing.T) {
	cfg := testConfig()
	opener := newRecordingOpener()

	failing := func(ctx context.Context, opts backend.Options) (backend.Backend, error) {
		b, err := opener.open(ctx, opts)
		if err == nil && opts.Path != "" {
			b.(*backendtest.Fake).FailWarmUp(backend.ErrInference)
		}
		return b, err
	}

	_, err := Load(context.Background(), cfg, failing)
	if !errors.Is(err, backend.ErrInference) {
		t.Fatalf("got %v, want ErrInference", err)
	}
	for key, f := range opener.opened {
		if !f.Closed() {
			t.Errorf("backend %s not closed after warm-up failure", key)
		}
	}
}

func TestBackendOptions(t *testing.T) {
	m := config.Model{
		Name:           "m",
		Kind:           "onnx",
		Path:           "/m.onnx",
		Labels:         []string{"bird"},
		CanvasSize:     320,
		Anchors:        2100,
		Threads:        2,
		ScoreFloor:     0.05,
		InputName:      "in",
		OutputName:     "out",
		TimeoutSeconds: 3,
	}

	opts := BackendOptions(m)
	if opts.Kind != backend.KindONNX || opts.Path != "/m.onnx" || opts.CanvasSize != 320 {
		t.Errorf("basic fields: got %+v", opts)
	}
	if opts.Anchors != 2100 || opts.Threads != 2 || opts.ScoreFloor != 0.05 {
		t.Errorf("onnx fields: got %+v", opts)
	}
	if opts.InputName != "in" || opts.OutputName != "out" {
		t.Errorf("tensor names: got %q %q", opts.InputName, opts.OutputName)
	}
	if opts.Timeout != 3*time.Second {
		t.Errorf("Timeout: got %v", opts.Timeout)
	}
}
