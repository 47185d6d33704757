package tunnel

import (
	"context"
	"time"
)

// Fixed restart delays (spec.md §4.8): SERVER_CONNECTION_RESET_TIMEOUT
// and CLIENT_CONNECTION_RESET_TIMEOUT. Restarts are unbounded; there is no
// circuit breaker and no exponential backoff.
const (
	ServerResetDelay = 3 * time.Second
	ClientResetDelay = 5 * time.Second
)

// node is whatever Supervise restarts: Server and Client both satisfy it.
type node interface {
	Run(ctx context.Context) error
}

// Supervise runs n.Run in an unbounded loop. Each attempt gets a fresh
// shutdown broadcast internally (n.Run constructs its own lifecycle), so a
// failed attempt never leaks goroutines into the next one. Returns only
// when ctx is cancelled.
func Supervise(ctx context.Context, logger Logger, n node, delay time.Duration) {
	for ctx.Err() == nil {
		if err := n.Run(ctx); err != nil {
			logger.ELogf("node exited: %v", err)
		} else {
			logger.ILogf("node exited cleanly")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
