// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - All functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Model artifact formats understood by the classifier loader.
const (
	ModelFormatAuto   = ""
	ModelFormatForest = "forest"
	ModelFormatONNX   = "onnx"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8000".
	Addr string `koanf:"addr"`

	// AllowedOrigin is the single cross-origin caller allowed by CORS.
	// Empty disables CORS headers.
	AllowedOrigin string `koanf:"allowed_origin"`

	// ModelPath points at the classifier artifact loaded at startup.
	ModelPath string `koanf:"model_path"`

	// ModelFormat forces the artifact format; empty infers it from the extension.
	ModelFormat string `koanf:"model_format"`

	// ONNX runtime settings, only read when the artifact is an ONNX export.
	OnnxLibraryPath       string `koanf:"onnx_library_path"`
	OnnxInputName         string `koanf:"onnx_input_name"`
	OnnxLabelOutput       string `koanf:"onnx_label_output"`
	OnnxProbabilityOutput string `koanf:"onnx_probability_output"`

	// OnnxNEstimators and OnnxMaxDepth are reported by /model/info. Zero
	// reads them from the model's custom metadata instead.
	OnnxNEstimators int `koanf:"onnx_n_estimators"`
	OnnxMaxDepth    int `koanf:"onnx_max_depth"`

	// MetricsNamespace and MetricsSubsystem prefix every Prometheus metric.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// MetricsLabels are constant labels attached to every metric.
	MetricsLabels map[string]string `koanf:"metrics_labels"`

	// WorkerCount sets the number of batch scoring workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory batch job queue.
	QueueSize int `koanf:"queue_size"`

	// BatchChunkSize is the number of passengers scored per worker job.
	BatchChunkSize int `koanf:"batch_chunk_size"`

	// MaxBatchSize caps POST /predict/batch.
	MaxBatchSize int `koanf:"max_batch_size"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":8000",
		AllowedOrigin:         "",
		ModelPath:             "model.json",
		ModelFormat:           ModelFormatAuto,
		OnnxInputName:         "input",
		OnnxLabelOutput:       "output_label",
		OnnxProbabilityOutput: "output_probability",
		MetricsNamespace:      "lifeboat",
		MetricsSubsystem:      "prediction",
		WorkerCount:           runtime.NumCPU(),
		QueueSize:             1024,
		BatchChunkSize:        64,
		MaxBatchSize:          1000,
	}
}

// Validate checks the values that would make the service unusable.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MaxBatchSize < 1:
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	case c.BatchChunkSize < 1:
		return fmt.Errorf("%w: batch_chunk_size must be positive", ErrInvalidConfig)
	case c.OnnxNEstimators < 0 || c.OnnxMaxDepth < 0:
		return fmt.Errorf("%w: onnx_n_estimators and onnx_max_depth must not be negative", ErrInvalidConfig)
	case !validMetricName(c.MetricsNamespace):
		return fmt.Errorf("%w: invalid metrics_namespace %q", ErrInvalidConfig, c.MetricsNamespace)
	case c.MetricsSubsystem != "" && !validMetricName(c.MetricsSubsystem):
		return fmt.Errorf("%w: invalid metrics_subsystem %q", ErrInvalidConfig, c.MetricsSubsystem)
	}
	for name := range c.MetricsLabels {
		if !validMetricName(name) || strings.HasPrefix(name, "__") {
			return fmt.Errorf("%w: invalid metrics label %q", ErrInvalidConfig, name)
		}
	}

	switch strings.ToLower(c.ModelFormat) {
	case ModelFormatAuto, ModelFormatForest, ModelFormatONNX:
	default:
		return fmt.Errorf("%w: unknown model_format %q", ErrInvalidConfig, c.ModelFormat)
	}
	return nil
}

// validMetricName reports whether s is usable as a Prometheus name component.
func validMetricName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
