package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lifeboat/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// ErrServiceUnhealthy means the target cannot serve predictions.
var ErrServiceUnhealthy = errors.New("service unhealthy")

// Run executes the complete load test and returns the collected stats.
// Any invariant violation in the responses fails the run.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	if config.Workers < 1 {
		config.Workers = 1
	}

	logger.Get().Info(ctx, "starting lifeboat load test",
		logger.String("runID", stats.RunID),
		logger.String("baseURL", config.BaseURL),
		logger.Int("passengers", config.Passengers),
		logger.Int("batchSize", config.BatchSize),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Bool("verbose", config.Verbose))

	if err := checkServiceHealth(ctx, config); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	passengers, err := generatePassengers(ctx, config.Passengers)
	if err != nil {
		return stats, fmt.Errorf("passenger generation failed: %w", err)
	}
	stats.PassengersGenerated = len(passengers)

	violations := submitSingles(ctx, config, stats.RunID, passengers, stats)
	if config.BatchSize > 0 {
		violations = append(violations, submitBatches(ctx, config, stats.RunID, passengers, stats)...)
	}

	if config.OutputFile != "" {
		if err := savePassengersToFile(ctx, config.OutputFile, passengers); err != nil {
			logger.Get().Warn(ctx, "failed to save passengers to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if stats.Violations > 0 {
		for _, v := range violations {
			logger.Get().Error(ctx, "invariant violation", logger.Error(v))
		}
		return stats, fmt.Errorf("%w: %d responses", ErrVerification, stats.Violations)
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("load test interrupted: %w", err)
	}

	logger.Get().Info(ctx, "load test completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is up with a model loaded.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	var h Health
	if err := newHTTPClient(config.Timeout).getJSON(ctx, config.BaseURL+"/health", &h); err != nil {
		return fmt.Errorf("failed to query service: %w", err)
	}
	if h.Status != "healthy" || h.ModelStatus != "loaded" {
		return fmt.Errorf("%w: status=%q model_status=%q", ErrServiceUnhealthy, h.Status, h.ModelStatus)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// savePassengersToFile writes the generated passengers as a batch body, so
// the file can be replayed with the predict command.
func savePassengersToFile(ctx context.Context, filename string, ps []Passenger) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(map[string][]Passenger{"passengers": ps}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal passengers: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Get().Info(ctx, "passengers saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, requestsPerSecond float64

	total := stats.PredictionsSubmitted + stats.BatchesSubmitted
	if total > 0 {
		successRate = float64(stats.PredictionsOK+stats.BatchesOK) / float64(total) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		requestsPerSecond = float64(total) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.String("runID", stats.RunID),
		logger.Int("passengersGenerated", stats.PassengersGenerated),
		logger.Int("predictionsSubmitted", stats.PredictionsSubmitted),
		logger.Int("predictionsOK", stats.PredictionsOK),
		logger.Int("predictionsFailed", stats.PredictionsFailed),
		logger.Int("batchesSubmitted", stats.BatchesSubmitted),
		logger.Int("batchesOK", stats.BatchesOK),
		logger.Int("batchesThrottled", stats.BatchesThrottled),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("violations", stats.Violations),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("requestsPerSecond", requestsPerSecond))
}
