// Package config loads the detector configuration from a JSON file and the
// environment.
//
// Order of precedence, lowest first: built-in defaults, the JSON file, then
// environment variables (a .env file in the working directory is loaded into
// the environment first and never overrides variables already set).
package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvConfigPath = "BIRDDETECT_CONFIG"
	EnvModel      = "BIRDDETECT_MODEL"
	EnvONNXLib    = "BIRDDETECT_ONNX_LIB"
	EnvLogLevel   = "BIRDDETECT_LOG_LEVEL"
	EnvLogFile    = "BIRDDETECT_LOG_FILE"
)

// DefaultPath is the config file used when BIRDDETECT_CONFIG is unset.
const DefaultPath = "birddetect.json"

// Model configures one detector backend.
type Model struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=onnx remote"`

	// Path is the ONNX graph file (kind "onnx").
	Path string `json:"path" validate:"required_if=Kind onnx"`

	// URL is the inference endpoint (kind "remote").
	URL string `json:"url" validate:"required_if=Kind remote"`

	// Labels are the class names; LabelsFile is read instead when Labels is empty.
	Labels     []string `json:"labels" validate:"required,min=1,dive,required"`
	LabelsFile string   `json:"labels_file"`

	CanvasSize     int     `json:"canvas_size" validate:"omitempty,min=32,max=4096"`
	Anchors        int     `json:"anchors" validate:"omitempty,min=1"`
	PoolSize       int     `json:"pool_size" validate:"omitempty,min=1,max=64"`
	Threads        int     `json:"threads" validate:"omitempty,min=1"`
	ScoreFloor     float64 `json:"score_floor" validate:"gte=0,lte=1"`
	InputName      string  `json:"input_name"`
	OutputName     string  `json:"output_name"`
	TimeoutSeconds int     `json:"timeout_seconds" validate:"omitempty,min=1"`

	DeclaredAccuracy   float64 `json:"declared_accuracy" validate:"gte=0,lte=1"`
	DeclaredThroughput float64 `json:"declared_throughput" validate:"gte=0"`
}

// Config is the full process configuration.
type Config struct {
	// DefaultModel is activated at start-up. Empty means the first model.
	DefaultModel string `json:"default_model"`

	// ConfidenceThreshold and IoUThreshold are used when a request omits them.
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	IoUThreshold        float64 `json:"iou_threshold" validate:"gte=0,lte=1"`

	// ONNXLibrary is the path of the onnxruntime shared library.
	ONNXLibrary string `json:"onnx_library"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	LogFile  string `json:"log_file"`

	Models []Model `json:"models" validate:"required,min=1,unique=Name,dive"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ConfidenceThreshold: 0.25,
		IoUThreshold:        0.45,
		LogLevel:            "info",
	}
}

var validate = validator.New()

// Load reads .env, then the config file named by BIRDDETECT_CONFIG (or
// DefaultPath), applies environment overrides and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path, applies environment overrides and
// validates the result. Relative model and label paths are resolved against
// the directory of the config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.resolve(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and that DefaultModel names a model.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.DefaultModel != "" {
		if _, ok := c.Model(c.DefaultModel); !ok {
			return fmt.Errorf("invalid config: default_model %q is not configured", c.DefaultModel)
		}
	}
	return nil
}

// Model returns the configured model with the given name.
func (c *Config) Model(name string) (Model, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// ActiveModel returns the name of the model to activate at start-up.
func (c *Config) ActiveModel() string {
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	if len(c.Models) > 0 {
		return c.Models[0].Name
	}
	return ""
}

func applyEnv(c *Config) {
	if v := os.Getenv(EnvModel); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv(EnvONNXLib); v != "" {
		c.ONNXLibrary = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.LogFile = v
	}
}

func (c *Config) resolve(dir string) error {
	for i := range c.Models {
		m := &c.Models[i]
		if m.Path != "" && !filepath.IsAbs(m.Path) {
			m.Path = filepath.Join(dir, m.Path)
		}
		if len(m.Labels) == 0 && m.LabelsFile != "" {
			file := m.LabelsFile
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			labels, err := ReadLabels(file)
			if err != nil {
				return fmt.Errorf("model %s: %w", m.Name, err)
			}
			m.Labels = labels
		}
	}
	return nil
}

// ReadLabels reads one class name per line, skipping blank lines and lines
// starting with '#'.
func ReadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
