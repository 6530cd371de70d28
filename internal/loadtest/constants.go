package loadtest

// HTTP status code constants.
const (
	StatusOK              = 200
	StatusTooManyRequests = 429
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Verification constants.
const (
	ProbabilityTolerance = 1e-6
	PercentageMultiplier = 100
	maxReportedViolation = 20
)
