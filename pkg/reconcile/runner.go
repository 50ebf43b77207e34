package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Runner drives the scanner on a fixed interval for deployments without an
// external scheduler. Deployments that trigger sweeps over HTTP simply never
// start it; running both is harmless since sweeps are idempotent.
type Runner struct {
	scanner *Scanner
	log     *slog.Logger
}

func NewRunner(scanner *Scanner, log *slog.Logger) *Runner {
	if scanner == nil {
		panic("reconcile: scanner is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{scanner: scanner, log: log}
}

// Start blocks, sweeping once per interval until the context is canceled.
// Sweep errors are logged and the loop continues; a broken dependency today
// should not stop tomorrow's sweep.
func (r *Runner) Start(ctx context.Context) error {
	interval := r.scanner.cfg.Interval
	r.log.InfoContext(ctx, "reconciliation runner started",
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.InfoContext(ctx, "reconciliation runner stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.scanner.Run(ctx); err != nil {
				r.log.ErrorContext(ctx, "reconciliation sweep failed",
					slog.Any("error", err))
			}
		}
	}
}
