package detection

import (
	"math"
	"reflect"
	"testing"
)

func det(class int, conf, x, y, w, h float64) RawDetection {
	return RawDetection{ClassID: class, Confidence: conf, Box: Box{X: x, Y: y, Width: w, Height: h}}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 1},
		{"disjoint", Box{0, 0, 10, 10}, Box{20, 20, 5, 5}, 0},
		{"touching edges", Box{0, 0, 10, 10}, Box{10, 0, 10, 10}, 0},
		{"half contained", Box{0, 0, 10, 10}, Box{0, 0, 10, 5}, 0.5},
		{"quarter overlap", Box{0, 0, 10, 10}, Box{5, 5, 10, 10}, 25.0 / 175.0},
		{"zero area", Box{0, 0, 0, 10}, Box{0, 0, 10, 10}, 0},
		{"both zero", Box{}, Box{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("IoU: got %v, want %v", got, tt.want)
			}
			if sym := IoU(tt.b, tt.a); math.Abs(sym-got) > 1e-12 {
				t.Errorf("IoU not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestSuppress(t *testing.T) {
	tests := []struct {
		name string
		in   []RawDetection
		iou  float64
		want []RawDetection
	}{
		{
			name: "empty",
			in:   nil,
			iou:  0.45,
			want: nil,
		},
		{
			name: "single passes through",
			in:   []RawDetection{det(0, 0.9, 0, 0, 10, 10)},
			iou:  0.45,
			want: []RawDetection{det(0, 0.9, 0, 0, 10, 10)},
		},
		{
			name: "overlapping same class keeps best",
			in: []RawDetection{
				det(0, 0.6, 1, 1, 10, 10),
				det(0, 0.9, 0, 0, 10, 10),
			},
			iou:  0.45,
			want: []RawDetection{det(0, 0.9, 0, 0, 10, 10)},
		},
		{
			name: "different classes never suppress",
			in: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(1, 0.8, 0, 0, 10, 10),
			},
			iou:  0.45,
			want: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(1, 0.8, 0, 0, 10, 10),
			},
		},
		{
			name: "iou equal to threshold is kept",
			in: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.8, 0, 0, 10, 5),
			},
			iou: 0.5,
			want: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.8, 0, 0, 10, 5),
			},
		},
		{
			name: "iou just above threshold is removed",
			in: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.8, 0, 0, 10, 5),
			},
			iou:  0.49,
			want: []RawDetection{det(0, 0.9, 0, 0, 10, 10)},
		},
		{
			name: "threshold one keeps identical boxes",
			in: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.7, 0, 0, 10, 10),
			},
			iou: 1.0,
			want: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.7, 0, 0, 10, 10),
			},
		},
		{
			name: "threshold zero removes any overlap",
			in: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.7, 9, 9, 10, 10),
				det(0, 0.5, 30, 30, 10, 10),
			},
			iou: 0,
			want: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.5, 30, 30, 10, 10),
			},
		},
		{
			name: "suppressed box does not suppress others",
			// B overlaps A and C; A suppresses B, so C survives.
			in: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.8, 4, 0, 10, 10),
				det(0, 0.7, 8, 0, 10, 10),
			},
			iou: 0.3,
			want: []RawDetection{
				det(0, 0.9, 0, 0, 10, 10),
				det(0, 0.7, 8, 0, 10, 10),
			},
		},
		{
			name: "grouped by first appearance then confidence",
			in: []RawDetection{
				det(2, 0.3, 100, 100, 5, 5),
				det(0, 0.5, 0, 0, 5, 5),
				det(2, 0.9, 0, 0, 5, 5),
				det(0, 0.8, 50, 50, 5, 5),
			},
			iou: 0.45,
			want: []RawDetection{
				det(2, 0.9, 0, 0, 5, 5),
				det(2, 0.3, 100, 100, 5, 5),
				det(0, 0.8, 50, 50, 5, 5),
				det(0, 0.5, 0, 0, 5, 5),
			},
		},
		{
			name: "equal confidence keeps input order",
			in: []RawDetection{
				det(0, 0.5, 0, 0, 10, 10),
				det(0, 0.5, 1, 0, 10, 10),
			},
			iou:  0.45,
			want: []RawDetection{det(0, 0.5, 0, 0, 10, 10)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suppress(tt.in, tt.iou)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Suppress:\n got  %v\n want %v", got, tt.want)
			}
		})
	}
}

func TestSuppress_DoesNotModifyInput(t *testing.T) {
	in := []RawDetection{
		det(0, 0.2, 0, 0, 10, 10),
		det(0, 0.9, 1, 1, 10, 10),
		det(1, 0.5, 0, 0, 10, 10),
	}
	before := append([]RawDetection(nil), in...)

	Suppress(in, 0.45)

	if !reflect.DeepEqual(in, before) {
		t.Errorf("input modified:\n got  %v\n want %v", in, before)
	}
}

func TestSuppress_Idempotent(t *testing.T) {
	in := []RawDetection{
		det(0, 0.9, 0, 0, 20, 20),
		det(0, 0.85, 2, 2, 20, 20),
		det(0, 0.6, 15, 15, 20, 20),
		det(1, 0.7, 0, 0, 20, 20),
		det(1, 0.65, 40, 40, 20, 20),
		det(0, 0.4, 100, 100, 8, 8),
		det(2, 0.3, 3, 3, 20, 20),
	}

	for _, iou := range []float64{0, 0.1, 0.45, 0.7, 1} {
		once := Suppress(in, iou)
		twice := Suppress(once, iou)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("iou %v: not idempotent\n once  %v\n twice %v", iou, once, twice)
		}
	}
}

func TestFilterByConfidence(t *testing.T) {
	in := []RawDetection{
		det(0, 0.1, 0, 0, 1, 1),
		det(0, 0.25, 0, 0, 1, 1),
		det(1, 0.9, 0, 0, 1, 1),
		det(1, 0.24999, 0, 0, 1, 1),
	}

	got := FilterByConfidence(in, 0.25)
	want := []RawDetection{in[1], in[2]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterByConfidence: got %v, want %v", got, want)
	}

	if got := FilterByConfidence(in, 0); len(got) != len(in) {
		t.Errorf("threshold 0 kept %d of %d", len(got), len(in))
	}
	if got := FilterByConfidence(in, 1); len(got) != 0 {
		t.Errorf("threshold 1 kept %d", len(got))
	}
}

func TestBox_Area(t *testing.T) {
	tests := []struct {
		box  Box
		want float64
	}{
		{Box{0, 0, 10, 5}, 50},
		{Box{3, 3, 0, 5}, 0},
		{Box{3, 3, -2, 5}, 0},
	}
	for _, tt := range tests {
		if got := tt.box.Area(); got != tt.want {
			t.Errorf("%v.Area(): got %v, want %v", tt.box, got, tt.want)
		}
	}
}
