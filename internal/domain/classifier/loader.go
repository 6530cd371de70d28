package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/lifeboat/internal/domain/model"
)

// Artifact formats.
const (
	FormatForest = "forest"
	FormatONNX   = "onnx"
)

const defaultFeatureCount = model.FeatureCount

// Options controls Load.
type Options struct {
	// Format forces the artifact format; empty infers it from the extension.
	Format string
	ONNX   ONNXOptions
}

// Option applies a configuration option to Options.
type Option func(*Options)

// WithFormat forces the artifact format.
func WithFormat(format string) Option {
	return func(o *Options) {
		o.Format = strings.ToLower(strings.TrimSpace(format))
	}
}

// WithONNX sets the onnxruntime backend options.
func WithONNX(opts ONNXOptions) Option {
	return func(o *Options) {
		o.ONNX = opts
	}
}

// Loader builds a Classifier from an artifact on disk.
type Loader func(path string, opts Options) (Classifier, error)

// Loaders maps artifact formats to their loaders.
var Loaders = map[string]Loader{
	FormatForest: func(path string, _ Options) (Classifier, error) {
		return LoadForest(path)
	},
	FormatONNX: func(path string, opts Options) (Classifier, error) {
		return LoadONNX(path, opts.ONNX)
	},
}

var extensions = map[string]string{
	".json": FormatForest,
	".onnx": FormatONNX,
}

// DetectFormat resolves the artifact format from an explicit value or the
// file extension.
func DetectFormat(path, format string) (string, error) {
	if format != "" {
		if _, ok := Loaders[format]; !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
		}
		return format, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: extension %q", ErrUnknownFormat, ext)
}

// Load opens the artifact at path and checks it expects the passenger
// feature vector width.
func Load(path string, opts ...Option) (Classifier, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}

	format, err := DetectFormat(path, o.Format)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelNotFound, path, err)
	}

	c, err := Loaders[format](path, o)
	if err != nil {
		return nil, err
	}

	if n := c.Info().NFeatures; n != model.FeatureCount {
		_ = Close(c)
		return nil, fmt.Errorf("%w: model expects %d features, passengers have %d", ErrInvalidModel, n, model.FeatureCount)
	}
	return c, nil
}
