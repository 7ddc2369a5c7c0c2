package memcache

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker fails requests to a server fast after repeated failures.
// It never reroutes keys to another server.
type CircuitBreaker = gobreaker.CircuitBreaker[struct{}]

// NewCircuitBreakerConfig returns a Config.NewCircuitBreaker function.
// The breaker opens when at least 3 requests were seen in the interval and 60% failed.
// Only connection-level failures count: a miss or a CAS conflict is a success.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(serverAddr string) *CircuitBreaker {
	return func(serverAddr string) *CircuitBreaker {
		return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !ShouldCloseConnection(err)
			},
		})
	}
}
