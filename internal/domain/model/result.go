package model

// Summary echoes the identifying passenger fields in a prediction.
type Summary struct {
	Name   string  `json:"name"`
	Class  int     `json:"class"`
	Gender string  `json:"gender"`
	Age    float64 `json:"age"`
}

// Result is the outcome of scoring one passenger.
// SurvivalProbability + DeathProbability is 1 within floating point error.
type Result struct {
	Survived            int     `json:"survived"`
	SurvivalProbability float64 `json:"survival_probability"`
	DeathProbability    float64 `json:"death_probability"`
	Summary             Summary `json:"passenger_info"`
}

// BatchResult holds results in input order.
type BatchResult struct {
	Predictions []Result `json:"predictions"`
	TotalCount  int      `json:"total_passengers"`
}

// ModelInfo describes the loaded classifier.
type ModelInfo struct {
	ModelType   string   `json:"model_type"`
	NEstimators int      `json:"n_estimators"`
	MaxDepth    int      `json:"max_depth"`
	Features    []string `json:"features"`
}

// SummaryOf builds the echo summary for a passenger.
func SummaryOf(p RawPassenger) Summary {
	return Summary{
		Name:   p.Name,
		Class:  p.TicketClass,
		Gender: p.Gender,
		Age:    p.Age,
	}
}
