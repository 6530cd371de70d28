// Package prediction turns raw passengers into survival predictions using an
// injected classifier.
package prediction

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/internal/domain/features"
	"github.com/okian/lifeboat/internal/domain/model"
	"github.com/okian/lifeboat/pkg/logger"
	"github.com/okian/lifeboat/pkg/metrics"
)

// probabilityTolerance bounds how far a class distribution may drift from 1.
const probabilityTolerance = 1e-6

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service scores passengers. It holds no mutable state and is safe for
// concurrent use.
type Service struct {
	clf classifier.Classifier
	log logger.Logger
}

// New creates a Service. A nil classifier yields a service that reports
// ErrModelUnavailable for every call.
func New(clf classifier.Classifier, opts ...Option) *Service {
	s := &Service{
		clf: clf,
		log: logger.Get().Named("prediction"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether a classifier is loaded.
func (s *Service) Ready() bool { return s.clf != nil }

// PredictOne scores a single passenger.
func (s *Service) PredictOne(ctx context.Context, p model.RawPassenger) (model.Result, error) {
	if s.clf == nil {
		return model.Result{}, ErrModelUnavailable
	}
	start := time.Now()

	results, err := s.score(ctx, []model.RawPassenger{p})
	if err != nil {
		metrics.RecordPredictionError("classifier")
		s.log.Warn(ctx, "prediction failed", logger.Error(err))
		return model.Result{}, NewPredictionError(err)
	}

	metrics.RecordPredictionLatency(metrics.ModeSingle, float64(time.Since(start).Nanoseconds())/1e6)
	metrics.RecordPrediction(metrics.ModeSingle, results[0].Survived)
	return results[0], nil
}

// PredictBatch scores passengers in one classifier call. Results keep input
// order. Any failure fails the whole batch.
func (s *Service) PredictBatch(ctx context.Context, ps []model.RawPassenger) (model.BatchResult, error) {
	if s.clf == nil {
		return model.BatchResult{}, ErrModelUnavailable
	}
	if len(ps) == 0 {
		return model.BatchResult{Predictions: []model.Result{}}, nil
	}
	start := time.Now()

	results, err := s.score(ctx, ps)
	if err != nil {
		metrics.RecordPredictionError("classifier")
		s.log.Warn(ctx, "batch prediction failed", logger.Error(err), logger.Int("size", len(ps)))
		return model.BatchResult{}, NewBatchError(-1, err)
	}

	metrics.RecordPredictionLatency(metrics.ModeBatch, float64(time.Since(start).Nanoseconds())/1e6)
	for i := range results {
		metrics.RecordPrediction(metrics.ModeBatch, results[i].Survived)
	}
	return model.BatchResult{Predictions: results, TotalCount: len(results)}, nil
}

// Info describes the loaded model.
func (s *Service) Info() (model.ModelInfo, error) {
	if s.clf == nil {
		return model.ModelInfo{}, ErrModelUnavailable
	}
	info := s.clf.Info()
	return model.ModelInfo{
		ModelType:   info.ModelType,
		NEstimators: info.NEstimators,
		MaxDepth:    info.MaxDepth,
		Features:    append([]string(nil), model.FeatureNames[:]...),
	}, nil
}

func (s *Service) score(ctx context.Context, ps []model.RawPassenger) ([]model.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	vectors := make([]model.FeatureVector, len(ps))
	for i := range ps {
		vectors[i] = features.Derive(ps[i])
	}
	x := features.Matrix(vectors)

	classes, proba, err := classifier.PredictClassProba(s.clf, x)
	if err != nil {
		return nil, err
	}
	if len(classes) != len(ps) || len(proba) != len(ps) {
		return nil, fmt.Errorf("classifier returned %d classes and %d distributions for %d rows",
			len(classes), len(proba), len(ps))
	}

	results := make([]model.Result, len(ps))
	for i := range ps {
		if classes[i] != 0 && classes[i] != 1 {
			return nil, fmt.Errorf("row %d: class %d is not binary", i, classes[i])
		}
		death, survival := proba[i][0], proba[i][1]
		if math.IsNaN(death) || math.IsNaN(survival) || math.Abs(death+survival-1) > probabilityTolerance {
			return nil, fmt.Errorf("row %d: probabilities %v do not sum to 1", i, proba[i])
		}
		results[i] = model.Result{
			Survived:            classes[i],
			SurvivalProbability: survival,
			DeathProbability:    death,
			Summary:             model.SummaryOf(ps[i]),
		}
	}
	return results, nil
}
