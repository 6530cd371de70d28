package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/lifeboat/pkg/logger"
)

// RequestIDHeader correlates load test requests in service logs.
const RequestIDHeader = "X-Request-ID"

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, url, requestID string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	return c.client.Do(req)
}

// getJSON decodes a successful GET response into v.
func (c *HTTPClient) getJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, v)
}

// outcome classifies one request.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeThrottled
	outcomeFailed
	outcomeInvalid
)

// counters accumulates outcomes across workers.
type counters struct {
	submitted, ok, throttled, failed, invalid atomic.Int64

	mu         sync.Mutex
	violations []error
}

func (c *counters) record(o outcome, err error) {
	c.submitted.Add(1)
	switch o {
	case outcomeOK:
		c.ok.Add(1)
	case outcomeThrottled:
		c.throttled.Add(1)
	case outcomeFailed:
		c.failed.Add(1)
	case outcomeInvalid:
		c.invalid.Add(1)
		c.mu.Lock()
		if len(c.violations) < maxReportedViolation {
			c.violations = append(c.violations, err)
		}
		c.mu.Unlock()
	}
}

// fanOut runs work for every index in [0, n) on the given number of goroutines.
func fanOut(ctx context.Context, workers, n int, work func(i int)) {
	jobs := make(chan int, workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				work(i)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()
}

// submitSingles posts every passenger to /predict and verifies each answer.
func submitSingles(ctx context.Context, config *Config, runID string, ps []Passenger, stats *Stats) []error {
	logger.Get().Info(ctx, "submitting single predictions",
		logger.Int("count", len(ps)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/predict"
	var c counters

	fanOut(ctx, config.Workers, len(ps), func(i int) {
		var res Result
		o, err := post(ctx, client, url, fmt.Sprintf("%s-p%d", runID, i), ps[i], &res)
		if o == outcomeOK {
			if err = verifyResult(ps[i], res); err != nil {
				o, err = outcomeInvalid, fmt.Errorf("passenger %d: %w", i, err)
			}
		}
		if o == outcomeFailed && config.Verbose {
			logger.Get().Warn(ctx, "prediction failed", logger.Int("index", i), logger.Error(err))
		}
		c.record(o, err)
	})

	stats.PredictionsSubmitted = int(c.submitted.Load())
	stats.PredictionsOK = int(c.ok.Load())
	stats.PredictionsFailed = int(c.failed.Load() + c.throttled.Load())
	stats.Violations += int(c.invalid.Load())
	return c.violations
}

// submitBatches posts passengers in chunks to /predict/batch and verifies
// count and order of every answer.
func submitBatches(ctx context.Context, config *Config, runID string, ps []Passenger, stats *Stats) []error {
	batches := chunk(ps, config.BatchSize)
	logger.Get().Info(ctx, "submitting batch predictions",
		logger.Int("batches", len(batches)), logger.Int("batchSize", config.BatchSize))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/predict/batch"
	var c counters

	fanOut(ctx, config.Workers, len(batches), func(i int) {
		var res BatchResult
		body := map[string][]Passenger{"passengers": batches[i]}
		o, err := post(ctx, client, url, fmt.Sprintf("%s-b%d", runID, i), body, &res)
		if o == outcomeOK {
			if err = verifyBatch(batches[i], res); err != nil {
				o, err = outcomeInvalid, fmt.Errorf("batch %d: %w", i, err)
			}
		}
		if o == outcomeFailed && config.Verbose {
			logger.Get().Warn(ctx, "batch failed", logger.Int("index", i), logger.Error(err))
		}
		c.record(o, err)
	})

	stats.BatchesSubmitted = int(c.submitted.Load())
	stats.BatchesOK = int(c.ok.Load())
	stats.BatchesThrottled = int(c.throttled.Load())
	stats.BatchesFailed = int(c.failed.Load())
	stats.Violations += int(c.invalid.Load())
	return c.violations
}

// post sends body and decodes a 200 answer into out.
func post(ctx context.Context, client *HTTPClient, url, requestID string, body, out interface{}) (outcome, error) {
	resp, err := client.Post(ctx, url, requestID, body)
	if err != nil {
		return outcomeFailed, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcomeFailed, err
	}
	switch resp.StatusCode {
	case StatusOK:
		if err := json.Unmarshal(data, out); err != nil {
			return outcomeInvalid, fmt.Errorf("%w: undecodable body: %w", ErrVerification, err)
		}
		return outcomeOK, nil
	case StatusTooManyRequests:
		return outcomeThrottled, nil
	default:
		return outcomeFailed, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
}
