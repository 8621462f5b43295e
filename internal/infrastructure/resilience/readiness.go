package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReadinessError reports a dependency that did not become ready in time.
type ReadinessError struct {
	Dependency string
	Attempts   int
	Waited     time.Duration
	Err        error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s not ready after %d attempts (%s): %v", e.Dependency, e.Attempts, e.Waited.Round(time.Millisecond), e.Err)
}

func (e *ReadinessError) Unwrap() error {
	return e.Err
}

// WaitReady polls probe with bounded exponential backoff until it succeeds or
// the hard timeout expires.
func WaitReady(ctx context.Context, dependency string, probe func(context.Context) error, cfg ReadinessConfig, logger *slog.Logger) error {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	started := time.Now()
	deadline, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	waits := newBackoff(cfg.InitialBackoff, cfg.MaxBackoff, 2, 0)
	attempts := 0
	for {
		attempts++
		err := probe(deadline)
		if err == nil {
			if attempts > 1 {
				logger.Info("dependency_ready", "dependency", dependency, "attempts", attempts)
			}
			return nil
		}
		wait := waits.next()
		logger.Warn("dependency_not_ready",
			"dependency", dependency,
			"attempt", attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if sleep(deadline, wait) != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ReadinessError{Dependency: dependency, Attempts: attempts, Waited: time.Since(started), Err: err}
		}
	}
}
