package resilience

import (
	"errors"

	"github.com/sony/gobreaker/v2"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// RetryOn retries only errors matching one of kinds; everything else fails
// fast without counting against the breaker.
func RetryOn(kinds ...error) ErrorClassifier {
	return func(err error) ErrorClassification {
		for _, kind := range kinds {
			if errors.Is(err, kind) {
				return ErrorClassification{Retryable: true, RecordFailure: true}
			}
		}
		return ErrorClassification{}
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
