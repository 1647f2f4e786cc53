// Package server implements the MCP (Model Context Protocol) tool server that
// fronts the detection pipeline.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Detection:
//   - detect_objects: Run the active model on a photograph
//   - detect_annotate: Detect and return the photograph with boxes drawn
//   - detection_crop: Crop one detection box
//
// Images:
//   - image_load: Load a photograph and get metadata
//
// Models:
//   - models_list: Registered models and the active one
//   - model_switch: Change the active model
//
// # Image Caching
//
// Photographs are decoded once and cached by path for the lifetime of the
// process, so detect_objects followed by detection_crop reads the file once.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	p, _ := pipeline.New(reg, cfg.ConfidenceThreshold, cfg.IoUThreshold)
//	srv := server.New(p)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(...)
//	}
package server
