package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbirds/birddetect/internal/detection"
	"github.com/fieldbirds/birddetect/internal/imaging"
	"github.com/fieldbirds/birddetect/internal/log"
	"github.com/fieldbirds/birddetect/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "detect_objects", "model_switch").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	ctx = log.ContextWithRequestID(ctx, uuid.NewString())
	start := time.Now()

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		log.WithRequestID(ctx).WithField("tool", params.Name).WithError(err).Warn("[server.handleToolsCall] tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	log.WithRequestID(ctx).WithFields(log.Fields{
		"tool":     params.Name,
		"duration": time.Since(start).String(),
	}).Debug("[server.handleToolsCall] tool done")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Detection
	case "detect_objects":
		return s.handleDetectObjects(ctx, args)
	case "detect_annotate":
		return s.handleDetectAnnotate(ctx, args)
	case "detection_crop":
		return s.handleDetectionCrop(args)

	// Images
	case "image_load":
		return s.handleImageLoad(args)

	// Models
	case "models_list":
		return s.handleModelsList()
	case "model_switch":
		return s.handleModelSwitch(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// unmarshalArgs tolerates a missing arguments object.
func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	return json.Unmarshal(args, v)
}

// === Detection Handlers ===

type detectArgs struct {
	Path                string   `json:"path"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	IoUThreshold        *float64 `json:"iou_threshold,omitempty"`
}

// detectResult is the detect_objects response.
type detectResult struct {
	Model      string                     `json:"model"`
	Width      int                        `json:"width"`
	Height     int                        `json:"height"`
	Count      int                        `json:"count"`
	Detections []detection.FinalDetection `json:"detections"`
	ElapsedMS  int64                      `json:"elapsed_ms"`
}

func (s *Server) detect(ctx context.Context, a detectArgs) (*pipeline.Result, error) {
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Detect(ctx, img, pipeline.Options{
		ConfidenceThreshold: a.ConfidenceThreshold,
		IoUThreshold:        a.IoUThreshold,
	})
}

func (s *Server) handleDetectObjects(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	res, err := s.detect(ctx, a)
	if err != nil {
		return nil, err
	}
	return &detectResult{
		Model:      res.Model,
		Width:      res.Width,
		Height:     res.Height,
		Count:      len(res.Detections),
		Detections: res.Detections,
		ElapsedMS:  res.Elapsed.Milliseconds(),
	}, nil
}

type detectAnnotateArgs struct {
	detectArgs
	ShowLabels *bool  `json:"show_labels,omitempty"`
	Thickness  int    `json:"thickness"`
	Color      string `json:"color"`
}

// annotateResult is the detect_annotate response.
type annotateResult struct {
	Model string `json:"model"`
	*imaging.AnnotateResult
}

func (s *Server) handleDetectAnnotate(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectAnnotateArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	showLabels := true
	if a.ShowLabels != nil {
		showLabels = *a.ShowLabels
	}

	res, err := s.detect(ctx, a.detectArgs)
	if err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	boxes := make([]imaging.LabeledBox, len(res.Detections))
	for i, d := range res.Detections {
		boxes[i] = imaging.LabeledBox{
			ClassID:    d.ClassID,
			Label:      d.Label,
			Confidence: d.Confidence,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
		}
	}

	annotated, err := imaging.Annotate(img, boxes, imaging.AnnotateOptions{
		Thickness:  a.Thickness,
		ShowLabels: showLabels,
		Color:      a.Color,
	})
	if err != nil {
		return nil, err
	}
	return &annotateResult{Model: res.Model, AnnotateResult: annotated}, nil
}

type detectionCropArgs struct {
	Path   string  `json:"path"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Margin int     `json:"margin"`
	Scale  float64 `json:"scale"`
}

func (s *Server) handleDetectionCrop(args json.RawMessage) (interface{}, error) {
	var a detectionCropArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.CropBox(img, a.X, a.Y, a.Width, a.Height, a.Margin, a.Scale)
}

// === Image Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

// === Model Handlers ===

// modelInfo is one entry of the models_list response.
type modelInfo struct {
	Name               string   `json:"name"`
	Kind               string   `json:"kind"`
	Active             bool     `json:"active"`
	CanvasSize         int      `json:"canvas_size"`
	Classes            int      `json:"classes"`
	Labels             []string `json:"labels"`
	DeclaredAccuracy   float64  `json:"declared_accuracy,omitempty"`
	DeclaredThroughput float64  `json:"declared_throughput,omitempty"`
}

type modelsListResult struct {
	Active string      `json:"active"`
	Models []modelInfo `json:"models"`
}

func (s *Server) handleModelsList() (interface{}, error) {
	active := s.registry.ActiveName()
	descs := s.registry.List()

	models := make([]modelInfo, len(descs))
	for i, d := range descs {
		models[i] = modelInfo{
			Name:               d.Name,
			Kind:               string(d.Kind),
			Active:             d.Name == active,
			CanvasSize:         d.CanvasSize,
			Classes:            len(d.Labels),
			Labels:             d.Labels,
			DeclaredAccuracy:   d.DeclaredAccuracy,
			DeclaredThroughput: d.DeclaredThroughput,
		}
	}
	return &modelsListResult{Active: active, Models: models}, nil
}

type modelSwitchArgs struct {
	Name string `json:"name"`
}

type modelSwitchResult struct {
	Active   string `json:"active"`
	Previous string `json:"previous,omitempty"`
}

func (s *Server) handleModelSwitch(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a modelSwitchArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	previous := s.registry.ActiveName()
	if err := s.registry.SwitchTo(ctx, a.Name); err != nil {
		return nil, err
	}
	return &modelSwitchResult{Active: s.registry.ActiveName(), Previous: previous}, nil
}
