package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
)

const leafMarker = -1

// forestNode is one exported tree node. Leaves have Left == -1 and carry the
// class distribution in Value.
type forestNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

type forestTree struct {
	Nodes []forestNode `json:"nodes"`
}

// forestArtifact is the JSON export of a tree ensemble.
type forestArtifact struct {
	ModelType   string       `json:"model_type"`
	NEstimators int          `json:"n_estimators"`
	MaxDepth    int          `json:"max_depth"`
	NFeatures   int          `json:"n_features"`
	Classes     []int        `json:"classes"`
	Trees       []forestTree `json:"trees"`
}

// Forest is a tree ensemble that averages per-tree leaf distributions.
type Forest struct {
	info  Info
	trees []forestTree
}

// LoadForest reads a JSON forest export from path.
func LoadForest(path string) (*Forest, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open forest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeForest(f)
}

// DecodeForest parses and validates a JSON forest export.
func DecodeForest(r io.Reader) (*Forest, error) {
	var a forestArtifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidModel, err)
	}
	return newForest(a)
}

func newForest(a forestArtifact) (*Forest, error) {
	if a.NFeatures < 1 {
		return nil, fmt.Errorf("%w: n_features must be positive", ErrInvalidModel)
	}
	if len(a.Classes) == 0 {
		a.Classes = []int{0, 1}
	}
	if len(a.Classes) != 2 || a.Classes[0] != 0 || a.Classes[1] != 1 {
		return nil, fmt.Errorf("%w: classes must be [0 1], got %v", ErrInvalidModel, a.Classes)
	}
	if len(a.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrInvalidModel)
	}
	if a.NEstimators != 0 && a.NEstimators != len(a.Trees) {
		return nil, fmt.Errorf("%w: n_estimators %d but %d trees", ErrInvalidModel, a.NEstimators, len(a.Trees))
	}

	depth := 0
	for t := range a.Trees {
		d, err := validateTree(a.Trees[t].Nodes, a.NFeatures)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %w", ErrInvalidModel, t, err)
		}
		depth = max(depth, d)
	}

	modelType := a.ModelType
	if modelType == "" {
		modelType = "RandomForestClassifier"
	}
	maxDepth := a.MaxDepth
	if maxDepth == 0 {
		maxDepth = depth
	}

	return &Forest{
		info: Info{
			ModelType:   modelType,
			NEstimators: len(a.Trees),
			MaxDepth:    maxDepth,
			NFeatures:   a.NFeatures,
		},
		trees: a.Trees,
	}, nil
}

// validateTree checks node links and normalises leaf values in place.
// Children must come after their parent, so traversal always terminates.
// It returns the tree depth.
func validateTree(nodes []forestNode, nFeatures int) (int, error) {
	if len(nodes) == 0 {
		return 0, fmt.Errorf("no nodes")
	}
	depths := make([]int, len(nodes))
	maxDepth := 0
	for i := range nodes {
		n := &nodes[i]
		if n.Left == leafMarker {
			if err := normalizeLeaf(n.Value); err != nil {
				return 0, fmt.Errorf("node %d: %w", i, err)
			}
			maxDepth = max(maxDepth, depths[i])
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return 0, fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		for _, child := range [2]int{n.Left, n.Right} {
			if child <= i || child >= len(nodes) {
				return 0, fmt.Errorf("node %d: child %d out of range", i, child)
			}
			depths[child] = depths[i] + 1
		}
	}
	return maxDepth, nil
}

func normalizeLeaf(v []float64) error {
	if len(v) != 2 {
		return fmt.Errorf("leaf has %d values, want 2", len(v))
	}
	if v[0] < 0 || v[1] < 0 {
		return fmt.Errorf("negative leaf value")
	}
	sum := v[0] + v[1]
	if !(sum > 0) {
		return fmt.Errorf("empty leaf distribution")
	}
	v[0] /= sum
	v[1] /= sum
	return nil
}

// Info implements Classifier.
func (f *Forest) Info() Info { return f.info }

// PredictProba implements Classifier.
func (f *Forest) PredictProba(x mat.Matrix) ([][2]float64, error) {
	rows, cols := x.Dims()
	if cols != f.info.NFeatures {
		return nil, fmt.Errorf("%w: %d columns, model expects %d", ErrBadInput, cols, f.info.NFeatures)
	}

	out := make([][2]float64, rows)
	row := make([]float64, cols)
	n := float64(len(f.trees))
	for r := 0; r < rows; r++ {
		mat.Row(row, r, x)
		var sum [2]float64
		for t := range f.trees {
			leaf := f.trees[t].leaf(row)
			sum[0] += leaf[0]
			sum[1] += leaf[1]
		}
		out[r] = [2]float64{sum[0] / n, sum[1] / n}
	}
	return out, nil
}

// PredictClass implements Classifier.
func (f *Forest) PredictClass(x mat.Matrix) ([]int, error) {
	classes, _, err := f.PredictClassProba(x)
	return classes, err
}

// PredictClassProba implements JointPredictor.
func (f *Forest) PredictClassProba(x mat.Matrix) ([]int, [][2]float64, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return nil, nil, err
	}
	classes := make([]int, len(proba))
	for i, p := range proba {
		classes[i] = argmax(p)
	}
	return classes, proba, nil
}

// leaf walks the tree for one row. Features are compared at float32
// precision, matching how the thresholds were learned.
func (t *forestTree) leaf(row []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left == leafMarker {
			return n.Value
		}
		if float64(float32(row[n.Feature])) <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
