// Package backend implements the detector backends behind a single Backend
// interface: ONNX graphs run in-process with ONNX Runtime, and remote
// inference services reached over HTTP.
package backend
