package service

import "errors"

// Sentinel error kinds for the application service.
var (
	// ErrBackpressure means the batch job queue is full.
	ErrBackpressure = errors.New("batch queue is full")
	// ErrShuttingDown means the batch queue no longer accepts jobs.
	ErrShuttingDown = errors.New("service is shutting down")
	// ErrBatchTooLarge means a batch exceeds the configured maximum.
	ErrBatchTooLarge = errors.New("batch too large")
)
