// Package loadtest drives a running prediction service with generated
// passengers and checks the responses for consistency.
package loadtest

import "time"

// Config holds configuration for a load test run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Passengers int           // Number of passengers to generate
	BatchSize  int           // Passengers per /predict/batch call; 0 skips batches
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	OutputFile string        // Optional file for the generated passengers
	Verbose    bool          // Enable verbose logging
}

// Passenger is the request body of POST /predict.
type Passenger struct {
	Pclass   int      `json:"pclass"`
	Name     string   `json:"name"`
	Gender   string   `json:"gender"`
	Age      float64  `json:"age"`
	SibSp    int      `json:"sibsp"`
	Parch    int      `json:"parch"`
	Fare     *float64 `json:"fare"`
	Cabin    *string  `json:"cabin,omitempty"`
	Embarked string   `json:"embarked"`
}

// PassengerInfo is the echo of the scored passenger.
type PassengerInfo struct {
	Name   string  `json:"name"`
	Class  int     `json:"class"`
	Gender string  `json:"gender"`
	Age    float64 `json:"age"`
}

// Result is one prediction as returned by the service.
type Result struct {
	Survived            int           `json:"survived"`
	SurvivalProbability float64       `json:"survival_probability"`
	DeathProbability    float64       `json:"death_probability"`
	PassengerInfo       PassengerInfo `json:"passenger_info"`
}

// BatchResult is the response of POST /predict/batch.
type BatchResult struct {
	Predictions     []Result `json:"predictions"`
	TotalPassengers int      `json:"total_passengers"`
}

// Health is the response of GET /health.
type Health struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
}

// Stats holds test statistics.
type Stats struct {
	RunID                string
	PassengersGenerated  int
	PredictionsSubmitted int
	PredictionsOK        int
	PredictionsFailed    int
	BatchesSubmitted     int
	BatchesOK            int
	BatchesThrottled     int
	BatchesFailed        int
	Violations           int
	StartTime            time.Time
	EndTime              time.Time
	Duration             time.Duration
}
