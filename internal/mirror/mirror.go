// Package mirror is the non-blocking replication side-channel. Selected
// records (lead events, stats snapshots) are copied to an external object
// store for audit; failures are counted and logged but structurally cannot
// block or fail the primary operation.
package mirror

import (
	"context"
	"time"

	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/telemetry"
)

// Mirror writes an opaque payload under a key in the external store.
type Mirror interface {
	// Write stores the payload. Implementations must be safe for concurrent use.
	Write(ctx context.Context, key string, payload []byte) error
}

// Noop is the disabled mirror.
type Noop struct{}

// Write discards the payload.
func (Noop) Write(ctx context.Context, key string, payload []byte) error {
	return nil
}

// SideChannel wraps a Mirror so callers cannot observe its failures. Every
// failed write increments a metric and logs with context; Put never returns
// an error and never blocks beyond its own timeout.
type SideChannel struct {
	mirror  Mirror
	timeout time.Duration
}

// NewSideChannel creates a guarded side-channel around the given mirror.
// Parameters:
//   - m: underlying mirror implementation; nil behaves as Noop.
// Returns:
//   - *SideChannel: guarded side-channel.
func NewSideChannel(m Mirror) *SideChannel {
	if m == nil {
		m = Noop{}
	}
	return &SideChannel{mirror: m, timeout: 5 * time.Second}
}

// Put mirrors the payload in the background. The write is detached from the
// caller's context so cancellation of the primary operation does not abort
// an already-committed mirror copy.
// Parameters:
//   - ctx: context used only for log field extraction.
//   - key: object key in the mirror store.
//   - payload: bytes to store.
// Returns: none.
func (c *SideChannel) Put(ctx context.Context, key string, payload []byte) {
	fields := logger.Fields{"key": key, logger.FieldComponent: "mirror"}
	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.mirror.Write(wctx, key, payload); err != nil {
			telemetry.MirrorFailures.Inc()
			logger.FromContext(ctx).WithFields(fields).WithError(err).Warn("Mirror write failed")
		}
	}()
}
