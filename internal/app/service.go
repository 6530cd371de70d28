// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	jobqueue "github.com/okian/lifeboat/internal/adapters/mq/queue"
	workerpool "github.com/okian/lifeboat/internal/adapters/mq/worker"
	"github.com/okian/lifeboat/internal/domain/classifier"
	"github.com/okian/lifeboat/internal/domain/model"
	"github.com/okian/lifeboat/internal/domain/prediction"
	"github.com/okian/lifeboat/pkg/logger"
	"github.com/okian/lifeboat/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize      = 1024
	defaultChunkSize      = 64
	defaultMaxBatchSize   = 1000
	defaultStopTimeout    = 10 * time.Second
	unknownModelTypeLabel = "none"
)

// Service implements the API dependencies for the prediction service.
type Service struct {
	mu sync.RWMutex

	// Core components
	clf        classifier.Classifier
	predictor  *prediction.Service
	jobQueue   *jobqueue.InMemoryQueue
	workerPool *workerpool.Pool

	// Configuration
	workerCount  int
	queueSize    int
	chunkSize    int
	maxBatchSize int

	// State
	started   bool
	startedAt time.Time
	stopped   chan struct{}

	// Counters
	predictions atomic.Int64
	batches     atomic.Int64
	rejected    atomic.Int64

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of batch worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending batch jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithChunkSize sets the number of passengers scored per batch job.
func WithChunkSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithMaxBatchSize caps the number of passengers in one batch request.
func WithMaxBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.maxBatchSize = size
		}
	}
}

// WithClassifier injects the loaded classifier. Without it the service runs
// with no model and prediction calls fail with prediction.ErrModelUnavailable.
func WithClassifier(clf classifier.Classifier) Option {
	return func(s *Service) {
		s.clf = clf
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU(),
		queueSize:    defaultQueueSize,
		chunkSize:    defaultChunkSize,
		maxBatchSize: defaultMaxBatchSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.predictor = prediction.New(s.clf, prediction.WithLogger(s.logger.Named("prediction")))
	metrics.SetModelLoaded(s.clf != nil)

	return s
}

// Start initializes and starts the batch worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting prediction service...")

	s.jobQueue = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.jobQueue, s.predictor)
	// Workers outlive ctx so jobs already queued still get a reply.
	s.workerPool.Start(context.WithoutCancel(ctx))
	s.stopped = make(chan struct{})
	go s.closeIntakeOnDone(ctx, s.jobQueue, s.stopped)

	s.started = true
	s.startedAt = time.Now()

	fields := []logger.Field{
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("chunkSize", s.chunkSize),
		logger.Bool("modelLoaded", s.clf != nil),
	}
	if s.clf != nil {
		fields = append(fields, logger.String("modelType", s.clf.Info().ModelType))
	}
	s.logger.Info(ctx, "prediction service started", fields...)

	return nil
}

// closeIntakeOnDone closes q once ctx ends. Queued jobs are still drained by
// the workers; new batches fail with ErrShuttingDown.
func (s *Service) closeIntakeOnDone(ctx context.Context, q *jobqueue.InMemoryQueue, stopped <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stopped:
		return
	}
	if q.IsClosed() {
		return
	}
	if err := q.Close(); err != nil {
		s.logger.Warn(ctx, "closing batch queue failed", logger.Error(err))
		return
	}
	s.logger.Info(ctx, "batch intake closed", logger.Error(ctx.Err()))
}

// Stop drains queued batch jobs and stops the workers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping prediction service...")

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown failed", logger.Error(err))
		}
	}

	close(s.stopped)
	s.started = false
	s.logger.Info(ctx, "prediction service stopped")
}

// ModelLoaded reports whether a classifier is available.
func (s *Service) ModelLoaded() bool {
	return s.predictor.Ready()
}

// ModelInfo describes the loaded classifier.
func (s *Service) ModelInfo(_ context.Context) (model.ModelInfo, error) {
	return s.predictor.Info()
}

// MaxBatchSize returns the configured batch cap.
func (s *Service) MaxBatchSize() int {
	return s.maxBatchSize
}

// Predict scores a single passenger.
func (s *Service) Predict(ctx context.Context, p model.RawPassenger) (model.Result, error) {
	res, err := s.predictor.PredictOne(ctx, p)
	if err == nil {
		s.predictions.Add(1)
	}
	return res, err
}

// PredictBatch scores passengers keeping input order. Batches larger than
// the chunk size are split into jobs for the worker pool. Any failure fails
// the whole batch.
func (s *Service) PredictBatch(ctx context.Context, ps []model.RawPassenger) (model.BatchResult, error) {
	if !s.predictor.Ready() {
		return model.BatchResult{}, prediction.ErrModelUnavailable
	}
	if len(ps) > s.maxBatchSize {
		return model.BatchResult{}, fmt.Errorf("%w: %d passengers, limit is %d", ErrBatchTooLarge, len(ps), s.maxBatchSize)
	}
	metrics.RecordBatchSize(len(ps))

	s.mu.RLock()
	started := s.started
	q := s.jobQueue
	s.mu.RUnlock()

	var (
		res model.BatchResult
		err error
	)
	if !started || len(ps) <= s.chunkSize {
		res, err = s.predictor.PredictBatch(ctx, ps)
	} else {
		res, err = s.fanOut(ctx, q, ps)
	}
	if err != nil {
		return model.BatchResult{}, err
	}

	s.batches.Add(1)
	s.predictions.Add(int64(res.TotalCount))
	return res, nil
}

// fanOut splits ps into chunks, submits them to the worker pool and
// reassembles the results by offset.
func (s *Service) fanOut(ctx context.Context, q jobqueue.Queue, ps []model.RawPassenger) (model.BatchResult, error) {
	batchID := uuid.NewString()
	chunks := (len(ps) + s.chunkSize - 1) / s.chunkSize
	// Buffered for every chunk so workers never block on an abandoned batch.
	reply := make(chan jobqueue.Outcome, chunks)

	for i := 0; i < chunks; i++ {
		lo := i * s.chunkSize
		hi := min(lo+s.chunkSize, len(ps))
		job := jobqueue.Job{
			ID:         fmt.Sprintf("%s-%d", batchID, i),
			Offset:     lo,
			Passengers: ps[lo:hi],
			Reply:      reply,
		}
		if q.IsClosed() {
			return model.BatchResult{}, ErrShuttingDown
		}
		if !q.Enqueue(ctx, job) {
			if q.IsClosed() {
				return model.BatchResult{}, ErrShuttingDown
			}
			s.rejected.Add(1)
			s.logger.Warn(ctx, "batch rejected, queue full",
				logger.String("batchID", batchID),
				logger.Int("size", len(ps)),
			)
			return model.BatchResult{}, ErrBackpressure
		}
	}

	results := make([]model.Result, len(ps))
	for received := 0; received < chunks; received++ {
		select {
		case <-ctx.Done():
			return model.BatchResult{}, prediction.NewBatchError(-1, ctx.Err())
		case out := <-reply:
			if out.Err != nil {
				var perr *prediction.PredictionError
				if errors.As(out.Err, &perr) {
					return model.BatchResult{}, perr
				}
				return model.BatchResult{}, prediction.NewBatchError(-1, out.Err)
			}
			copy(results[out.Offset:], out.Results)
		}
	}

	return model.BatchResult{Predictions: results, TotalCount: len(results)}, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modelType := unknownModelTypeLabel
	if s.clf != nil {
		modelType = s.clf.Info().ModelType
	}

	stats := map[string]interface{}{
		"started":         s.started,
		"modelLoaded":     s.clf != nil,
		"modelType":       modelType,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"chunkSize":       s.chunkSize,
		"maxBatchSize":    s.maxBatchSize,
		"predictions":     s.predictions.Load(),
		"batches":         s.batches.Load(),
		"rejectedBatches": s.rejected.Load(),
	}

	if s.started {
		queueLen := s.jobQueue.Len(context.Background())
		stats["queueLength"] = queueLen
		stats["jobsProcessed"] = s.workerPool.Processed()
		stats["uptimeSeconds"] = time.Since(s.startedAt).Seconds()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerCount)
	}

	return stats
}
