package loadtest

import (
	"errors"
	"fmt"
	"math"
)

// ErrVerification marks responses that break the prediction invariants.
var ErrVerification = errors.New("response verification failed")

// verifyResult checks one prediction against the passenger that produced it.
func verifyResult(p Passenger, r Result) error {
	s, d := r.SurvivalProbability, r.DeathProbability
	switch {
	case math.IsNaN(s) || math.IsNaN(d) || s < 0 || s > 1 || d < 0 || d > 1:
		return fmt.Errorf("%w: probabilities out of range (%v, %v)", ErrVerification, s, d)
	case math.Abs(s+d-1) > ProbabilityTolerance:
		return fmt.Errorf("%w: probabilities sum to %v", ErrVerification, s+d)
	case r.Survived != 0 && r.Survived != 1:
		return fmt.Errorf("%w: survived=%d", ErrVerification, r.Survived)
	case s > d+ProbabilityTolerance && r.Survived != 1,
		d > s+ProbabilityTolerance && r.Survived != 0:
		return fmt.Errorf("%w: survived=%d disagrees with probabilities (%v, %v)", ErrVerification, r.Survived, s, d)
	case r.PassengerInfo.Name != p.Name:
		return fmt.Errorf("%w: echoed name %q, want %q", ErrVerification, r.PassengerInfo.Name, p.Name)
	case r.PassengerInfo.Class != p.Pclass:
		return fmt.Errorf("%w: echoed class %d, want %d", ErrVerification, r.PassengerInfo.Class, p.Pclass)
	}
	return nil
}

// verifyBatch checks count and input order of a batch response.
func verifyBatch(ps []Passenger, res BatchResult) error {
	if res.TotalPassengers != len(ps) || len(res.Predictions) != len(ps) {
		return fmt.Errorf("%w: batch of %d returned total=%d predictions=%d",
			ErrVerification, len(ps), res.TotalPassengers, len(res.Predictions))
	}
	for i := range ps {
		if err := verifyResult(ps[i], res.Predictions[i]); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
