package backend

import (
	"context"
	"errors"
	"math"
	"testing"
)

// yoloOutput builds a (4+classes, anchors) channel-major tensor.
func yoloOutput(classes, anchors int, set func(row, anchor int) float32) []float32 {
	out := make([]float32, (4+classes)*anchors)
	for r := 0; r < 4+classes; r++ {
		for a := 0; a < anchors; a++ {
			out[r*anchors+a] = set(r, a)
		}
	}
	return out
}

func TestDecodeYOLO(t *testing.T) {
	// anchor 0: class 1 wins at 0.8, box centred (100,50) 20x10
	// anchor 1: every class below the floor
	// anchor 2: class 0 at 0.3, box centred (10,10) 4x4
	values := map[[2]int]float32{
		{0, 0}: 100, {1, 0}: 50, {2, 0}: 20, {3, 0}: 10, {4, 0}: 0.2, {5, 0}: 0.8,
		{0, 1}: 300, {1, 1}: 300, {2, 1}: 30, {3, 1}: 30, {4, 1}: 0.001, {5, 1}: 0.002,
		{0, 2}: 10, {1, 2}: 10, {2, 2}: 4, {3, 2}: 4, {4, 2}: 0.3, {5, 2}: 0.1,
	}
	out := yoloOutput(2, 3, func(r, a int) float32 { return values[[2]int{r, a}] })

	dets, err := DecodeYOLO(out, 2, 3, 0.01)
	if err != nil {
		t.Fatalf("DecodeYOLO failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("len: got %d, want 2: %+v", len(dets), dets)
	}

	first := dets[0]
	if first.ClassID != 1 || math.Abs(first.Confidence-0.8) > 1e-6 {
		t.Errorf("first class/confidence: got %d/%v", first.ClassID, first.Confidence)
	}
	if first.Box.X != 90 || first.Box.Y != 45 || first.Box.Width != 20 || first.Box.Height != 10 {
		t.Errorf("first box: got %+v", first.Box)
	}

	second := dets[1]
	if second.ClassID != 0 || second.Box.X != 8 || second.Box.Y != 8 {
		t.Errorf("second: got %+v", second)
	}
}

func TestDecodeYOLO_Floor(t *testing.T) {
	out := yoloOutput(1, 4, func(r, a int) float32 {
		if r == 4 {
			return float32(a) * 0.25 // 0, 0.25, 0.5, 0.75
		}
		return 1
	})

	tests := []struct {
		floor float32
		want  int
	}{
		{0, 4},
		{0.25, 3},
		{0.6, 1},
		{0.9, 0},
	}
	for _, tt := range tests {
		dets, err := DecodeYOLO(out, 1, 4, tt.floor)
		if err != nil {
			t.Fatalf("DecodeYOLO failed: %v", err)
		}
		if len(dets) != tt.want {
			t.Errorf("floor %v: got %d detections, want %d", tt.floor, len(dets), tt.want)
		}
	}
}

func TestDecodeYOLO_LengthMismatch(t *testing.T) {
	_, err := DecodeYOLO(make([]float32, 10), 2, 3, 0.01)
	if !errors.Is(err, ErrInference) {
		t.Errorf("got %v, want ErrInference", err)
	}
}

func TestOpenONNX_MissingFile(t *testing.T) {
	_, err := OpenONNX(context.Background(), Options{
		Kind:   KindONNX,
		Path:   "/nonexistent/model.onnx",
		Labels: []string{"bird"},
	})
	if err == nil {
		t.Error("OpenONNX should fail for a missing model file")
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	b, err := Open(context.Background(), Options{Kind: "pickle"})
	if err == nil {
		t.Fatal("Open should fail for an unknown kind")
	}
	if b != nil {
		t.Errorf("Open returned non-nil backend %v on error", b)
	}
}

func TestOpen_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, Options{Kind: KindRemote, URL: "http://localhost", Labels: []string{"bird"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestOpen_RemoteErrorIsNilInterface(t *testing.T) {
	b, err := Open(context.Background(), Options{Kind: KindRemote})
	if err == nil {
		t.Fatal("Open should fail without a url")
	}
	if b != nil {
		t.Error("Open returned a non-nil interface on error")
	}
}
