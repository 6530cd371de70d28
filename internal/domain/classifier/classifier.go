// Package classifier loads and runs the pre-trained survival classifier.
//
// A Classifier is immutable once loaded and safe for concurrent use.
package classifier

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// Info describes a loaded artifact.
type Info struct {
	ModelType   string
	NEstimators int
	MaxDepth    int
	NFeatures   int
}

// Classifier scores rows of a feature matrix. Probabilities are
// [P(class 0), P(class 1)] per row.
type Classifier interface {
	PredictClass(x mat.Matrix) ([]int, error)
	PredictProba(x mat.Matrix) ([][2]float64, error)
	Info() Info
}

// JointPredictor is implemented by classifiers that produce labels and
// probabilities from a single pass over x.
type JointPredictor interface {
	PredictClassProba(x mat.Matrix) ([]int, [][2]float64, error)
}

// PredictClassProba returns labels and probabilities for x. It makes one
// pass when c is a JointPredictor and two otherwise.
func PredictClassProba(c Classifier, x mat.Matrix) ([]int, [][2]float64, error) {
	if jp, ok := c.(JointPredictor); ok {
		return jp.PredictClassProba(x)
	}
	classes, err := c.PredictClass(x)
	if err != nil {
		return nil, nil, fmt.Errorf("predict class: %w", err)
	}
	proba, err := c.PredictProba(x)
	if err != nil {
		return nil, nil, fmt.Errorf("predict proba: %w", err)
	}
	return classes, proba, nil
}

// Close releases runtime resources held by c, if any.
func Close(c Classifier) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// argmax returns the index of the larger probability; ties pick class 0.
func argmax(p [2]float64) int {
	if p[1] > p[0] {
		return 1
	}
	return 0
}
