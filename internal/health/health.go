// Package health checks that the configured RPC endpoint is reachable and
// synced before the client starts a lifecycle against it.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/internal/logz"
)

// Pinger is the slice of the RPC client the checker needs.
type Pinger interface {
	GetHealth(ctx context.Context) (*stellarrpc.GetHealthResponse, error)
}

// Checker verifies endpoint health.
type Checker struct {
	pinger  Pinger
	logger  *logz.Logger
	timeout time.Duration
}

// NewChecker creates a checker around the given RPC client.
func NewChecker(pinger Pinger, logger *logz.Logger) *Checker {
	return &Checker{
		pinger:  pinger,
		logger:  logger.WithPrefix("health"),
		timeout: 10 * time.Second,
	}
}

// Check pings the endpoint once and verifies it reports healthy.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.pinger.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("rpc endpoint unreachable: %w", err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("rpc endpoint unhealthy: status %s", resp.Status)
	}

	c.logger.Debug("rpc endpoint healthy, latest ledger %d", resp.LatestLedger)
	return nil
}

// WaitReady polls Check until it succeeds or ctx expires, for deployment
// tooling that starts before the local quickstart node is synced.
func (c *Checker) WaitReady(ctx context.Context, interval time.Duration) error {
	for {
		err := c.Check(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("endpoint not ready: %v", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for rpc endpoint: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
