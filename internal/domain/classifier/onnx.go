package classifier

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// ONNXOptions configures the onnxruntime backend.
type ONNXOptions struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string

	InputName         string
	LabelOutput       string
	ProbabilityOutput string

	// NFeatures is the input width; defaults to 13.
	NFeatures int

	// NEstimators and MaxDepth are reported by Info. Zero values fall back
	// to the n_estimators and max_depth entries of the model's custom
	// metadata.
	NEstimators int
	MaxDepth    int
}

// Custom metadata keys read from the exported model.
const (
	metaNEstimators = "n_estimators"
	metaMaxDepth    = "max_depth"
)

// ONNXModel runs a classifier exported to ONNX. The export must emit
// probabilities as a float32 [N,2] tensor (no ZipMap).
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
	opts    ONNXOptions
	info    Info
}

var runtimeMu sync.Mutex

// initRuntime initialises the process wide onnxruntime environment once.
func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: init onnxruntime: %w", ErrRuntime, err)
	}
	return nil
}

// LoadONNX opens an ONNX session for the model at path.
func LoadONNX(path string, opts ONNXOptions) (*ONNXModel, error) {
	if opts.NFeatures == 0 {
		opts.NFeatures = defaultFeatureCount
	}
	if opts.InputName == "" || opts.LabelOutput == "" || opts.ProbabilityOutput == "" {
		return nil, fmt.Errorf("%w: onnx tensor names must be set", ErrInvalidModel)
	}
	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{opts.InputName},
		[]string{opts.LabelOutput, opts.ProbabilityOutput},
		nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrInvalidModel, err)
	}

	info := Info{
		ModelType:   "onnx",
		NEstimators: opts.NEstimators,
		MaxDepth:    opts.MaxDepth,
		NFeatures:   opts.NFeatures,
	}
	if info.NEstimators == 0 || info.MaxDepth == 0 {
		if meta, err := ort.GetModelMetadata(path); err == nil {
			err = fillHyperparameters(&info, meta.LookupCustomMetadataMap)
			_ = meta.Destroy()
			if err != nil {
				_ = session.Destroy()
				return nil, err
			}
		}
	}

	return &ONNXModel{
		session: session,
		opts:    opts,
		info:    info,
	}, nil
}

// fillHyperparameters sets the unset hyperparameters of info from a custom
// metadata lookup. Missing keys leave the field at zero.
func fillHyperparameters(info *Info, lookup func(key string) (string, bool, error)) error {
	fields := []struct {
		key string
		dst *int
	}{
		{metaNEstimators, &info.NEstimators},
		{metaMaxDepth, &info.MaxDepth},
	}
	for _, f := range fields {
		if *f.dst != 0 {
			continue
		}
		raw, ok, err := lookup(f.key)
		if err != nil || !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return fmt.Errorf("%w: metadata %s=%q is not a non-negative integer", ErrInvalidModel, f.key, raw)
		}
		*f.dst = n
	}
	return nil
}

// Info implements Classifier.
func (m *ONNXModel) Info() Info { return m.info }

// PredictClass implements Classifier.
func (m *ONNXModel) PredictClass(x mat.Matrix) ([]int, error) {
	classes, _, err := m.PredictClassProba(x)
	return classes, err
}

// PredictProba implements Classifier.
func (m *ONNXModel) PredictProba(x mat.Matrix) ([][2]float64, error) {
	_, proba, err := m.PredictClassProba(x)
	return proba, err
}

// PredictClassProba implements JointPredictor with a single session run.
func (m *ONNXModel) PredictClassProba(x mat.Matrix) ([]int, [][2]float64, error) {
	labels, raw, err := m.run(x)
	if err != nil {
		return nil, nil, err
	}
	return convertOutputs(labels, raw)
}

// convertOutputs turns the label and flattened [N,2] probability tensors
// into Classifier results.
func convertOutputs(labels []int64, raw []float32) ([]int, [][2]float64, error) {
	if len(raw) != 2*len(labels) {
		return nil, nil, fmt.Errorf("%w: %d labels but %d probabilities", ErrRuntime, len(labels), len(raw))
	}
	classes := make([]int, len(labels))
	proba := make([][2]float64, len(labels))
	for i, l := range labels {
		classes[i] = int(l)
		proba[i] = [2]float64{float64(raw[2*i]), float64(raw[2*i+1])}
	}
	return classes, proba, nil
}

// Close destroys the session.
func (m *ONNXModel) Close() error {
	if err := m.session.Destroy(); err != nil {
		return fmt.Errorf("%w: destroy session: %w", ErrRuntime, err)
	}
	return nil
}

func (m *ONNXModel) run(x mat.Matrix) ([]int64, []float32, error) {
	rows, cols := x.Dims()
	if cols != m.opts.NFeatures {
		return nil, nil, fmt.Errorf("%w: %d columns, model expects %d", ErrBadInput, cols, m.opts.NFeatures)
	}

	data := make([]float32, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data = append(data, float32(x.At(r, c)))
		}
	}

	input, err := ort.NewTensor(ort.NewShape(int64(rows), int64(cols)), data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: input tensor: %w", ErrRuntime, err)
	}
	defer func() { _ = input.Destroy() }()

	labels, err := ort.NewEmptyTensor[int64](ort.NewShape(int64(rows)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: label tensor: %w", ErrRuntime, err)
	}
	defer func() { _ = labels.Destroy() }()

	proba, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), 2))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: probability tensor: %w", ErrRuntime, err)
	}
	defer func() { _ = proba.Destroy() }()

	if err := m.session.Run([]ort.Value{input}, []ort.Value{labels, proba}); err != nil {
		return nil, nil, fmt.Errorf("%w: run: %w", ErrRuntime, err)
	}

	// GetData aliases tensor memory that is released on return.
	outLabels := append([]int64(nil), labels.GetData()...)
	outProba := append([]float32(nil), proba.GetData()...)
	return outLabels, outProba, nil
}
