package backend

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Circuit breaker tuning for the model service. The breaker opens after
// repeated failures so indexing fails fast instead of stalling every file
// on a drained retry budget.
const (
	breakerMaxRequests  = 5
	breakerInterval     = 30 * time.Second
	breakerOpenTimeout  = 60 * time.Second
	breakerFailureRatio = 0.6
	breakerMinRequests  = 5
)

// newBreaker builds the circuit breaker guarding backend HTTP calls.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && ratio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}
