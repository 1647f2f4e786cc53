package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var pathProperty = map[string]interface{}{
	"type":        "string",
	"description": "Absolute path to the photograph",
}

func thresholdProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": pathProperty,
		"confidence_threshold": map[string]interface{}{
			"type":        "number",
			"minimum":     0,
			"maximum":     1,
			"description": "Minimum detection confidence. Defaults to the configured value (0.25 out of the box).",
		},
		"iou_threshold": map[string]interface{}{
			"type":        "number",
			"minimum":     0,
			"maximum":     1,
			"description": "Overlap above which a lower-confidence box of the same class is suppressed. Defaults to the configured value (0.45 out of the box).",
		},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	annotateProps := thresholdProperties()
	annotateProps["show_labels"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Draw \"label confidence\" tags above boxes. Default true",
		"default":     true,
	}
	annotateProps["thickness"] = map[string]interface{}{
		"type":        "integer",
		"description": "Box outline width in pixels. Default 2",
		"default":     2,
	}
	annotateProps["color"] = map[string]interface{}{
		"type":        "string",
		"description": "Single outline colour as #RRGGBB. Default is one colour per class",
	}

	return []Tool{
		// Detection
		{
			Name:        "detect_objects",
			Description: "Detect birds and other objects in a photograph with the active model. Returns boxes in original-image pixels with class labels and confidences.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": thresholdProperties(),
				"required":   []string{"path"},
			},
		},
		{
			Name:        "detect_annotate",
			Description: "Detect objects and return the photograph with the detection boxes drawn on it as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": annotateProps,
				"required":   []string{"path"},
			},
		},
		{
			Name:        "detection_crop",
			Description: "Crop one detection box (x, y, width, height as returned by detect_objects) from a photograph and return it as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"x": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Box width in pixels",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Box height in pixels",
					},
					"margin": map[string]interface{}{
						"type":        "integer",
						"description": "Extra pixels kept around the box on every side. Default 0",
						"default":     0,
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor (e.g., 2.0 to double size). Default 1.0",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x", "y", "width", "height"},
			},
		},

		// Images
		{
			Name:        "image_load",
			Description: "Load a photograph and return its dimensions, format and letterbox orientation. The image is cached for later detection calls.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
				},
				"required": []string{"path"},
			},
		},

		// Models
		{
			Name:        "models_list",
			Description: "List the registered detection models and which one is active.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "model_switch",
			Description: "Make another registered model the active one. Requests already running finish with the model they started with.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Registered model name, as returned by models_list",
					},
				},
				"required": []string{"name"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
