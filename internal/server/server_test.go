package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fieldbirds/birddetect/internal/backend"
	"github.com/fieldbirds/birddetect/internal/backend/backendtest"
	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/pipeline"
	"github.com/fieldbirds/birddetect/internal/registry"
)

// newTestServer builds a server over two fake models, "yolo" (active) and
// "native", each returning one bird at canvas (300,200 40x40).
func newTestServer(t *testing.T) (*Server, map[string]*backendtest.Fake) {
	t.Helper()
	bird := detection.RawDetection{
		ClassID:    0,
		Confidence: 0.9,
		Box:        detection.Box{X: 300, Y: 200, Width: 40, Height: 40},
	}
	fakes := map[string]*backendtest.Fake{
		"yolo":   backendtest.New([]string{"bird", "squirrel"}, 640, bird),
		"native": backendtest.New([]string{"heron"}, 640, bird),
	}

	reg := registry.New()
	for _, name := range []string{"yolo", "native"} {
		kind := backend.KindONNX
		if name == "native" {
			kind = backend.KindRemote
		}
		if err := reg.Register(registry.Descriptor{Name: name, Kind: kind, Backend: fakes[name], DeclaredAccuracy: 0.7}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := reg.SwitchTo(context.Background(), "yolo"); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}

	p, err := pipeline.New(reg, 0.25, 0.45)
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	return New(p), fakes
}

func TestNew(t *testing.T) {
	s, _ := newTestServer(t)
	if s.cache == nil {
		t.Fatal("New() did not initialize cache")
	}
	if s.registry == nil || s.pipeline == nil {
		t.Fatal("New() did not wire pipeline and registry")
	}
}

func TestMCPRequest_Unmarshal(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantID     interface{}
		wantMethod string
	}{
		{
			"string id",
			`{"jsonrpc":"2.0","id":"test-1","method":"tools/list"}`,
			"test-1",
			"tools/list",
		},
		{
			"number id",
			`{"jsonrpc":"2.0","id":42,"method":"ping"}`,
			float64(42), // JSON numbers decode as float64
			"ping",
		},
		{
			"null id",
			`{"jsonrpc":"2.0","id":null,"method":"initialize"}`,
			nil,
			"initialize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MCPRequest
			if err := json.Unmarshal([]byte(tt.json), &req); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if req.ID != tt.wantID {
				t.Errorf("ID: got %v (%T), want %v (%T)", req.ID, req.ID, tt.wantID, tt.wantID)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("Method: got %s, want %s", req.Method, tt.wantMethod)
			}
		})
	}
}

func TestHandleRequest_Methods(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		method    string
		wantNil   bool
		wantError int
	}{
		{"initialize", false, 0},
		{"notifications/initialized", true, 0},
		{"tools/list", false, 0},
		{"ping", false, 0},
		{"resources/list", false, -32601},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp := s.handleRequest(ctx, &MCPRequest{JSONRPC: "2.0", ID: 1, Method: tt.method})
			if tt.wantNil {
				if resp != nil {
					t.Errorf("expected no response, got %+v", resp)
				}
				return
			}
			if resp == nil {
				t.Fatal("handleRequest returned nil")
			}
			if resp.JSONRPC != "2.0" || resp.ID != 1 {
				t.Errorf("envelope: got %q id %v", resp.JSONRPC, resp.ID)
			}
			if tt.wantError == 0 && resp.Error != nil {
				t.Errorf("unexpected error: %+v", resp.Error)
			}
			if tt.wantError != 0 && (resp.Error == nil || resp.Error.Code != tt.wantError) {
				t.Errorf("error: got %+v, want code %d", resp.Error, tt.wantError)
			}
		})
	}
}

func TestHandleInitialize(t *testing.T) {
	s, _ := newTestServer(t)
	resp := s.handleInitialize(&MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result type: %T", resp.Result)
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion: got %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "birddetect-mcp" {
		t.Errorf("serverInfo.name: got %v", info["name"])
	}
}

func TestServe(t *testing.T) {
	s, _ := newTestServer(t)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"models_list","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n")

	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(in), &out); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	var responses []MCPResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp MCPResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %v: %s", err, scanner.Text())
		}
		responses = append(responses, resp)
	}

	// initialize, parse error, models_list, ping; the notification has no reply.
	if len(responses) != 4 {
		t.Fatalf("responses: got %d, want 4", len(responses))
	}
	if responses[1].Error == nil || responses[1].Error.Code != -32700 {
		t.Errorf("parse error: got %+v", responses[1].Error)
	}
	if responses[2].ID != float64(2) || responses[2].Error != nil {
		t.Errorf("models_list: got id %v error %+v", responses[2].ID, responses[2].Error)
	}
	if responses[3].ID != float64(3) {
		t.Errorf("ping id: got %v", responses[3].ID)
	}
}

func TestServe_CancelledContext(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := s.Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	if err == nil {
		t.Error("Serve should stop with the context error")
	}
	if out.Len() != 0 {
		t.Errorf("Serve answered after cancellation: %s", out.String())
	}
}
