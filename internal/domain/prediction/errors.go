package prediction

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when no classifier was loaded.
var ErrModelUnavailable = errors.New("model not loaded")

// PredictionError reports a failed single or batch prediction.
type PredictionError struct {
	Batch bool
	// Index is the offending batch item, or -1 when not tied to one item.
	Index int
	Err   error
}

// NewPredictionError wraps err as a single prediction failure.
func NewPredictionError(err error) *PredictionError {
	return &PredictionError{Index: -1, Err: err}
}

// NewBatchError wraps err as a batch failure, optionally tied to item index.
func NewBatchError(index int, err error) *PredictionError {
	return &PredictionError{Batch: true, Index: index, Err: err}
}

func (e *PredictionError) Error() string {
	if !e.Batch {
		return fmt.Sprintf("Prediction error: %v", e.Err)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("Batch prediction error: passenger %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("Batch prediction error: %v", e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }
