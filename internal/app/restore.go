package app

import (
	"context"
	"fmt"
)

// recoverState closes out runs a crashed process left unfinished, then
// replays audit entries that were parked in the fallback file while the
// sink was unavailable. Replay failures are logged, not fatal; the entries
// stay in the file for the next attempt.
func (a *App) recoverState(ctx context.Context) error {
	n, err := a.Pipeline.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if n > 0 {
		a.logger.Warn("recovered interrupted runs", "count", n)
	}

	res, err := a.Recorder.Replay(ctx)
	if err != nil {
		a.logger.Warn("audit fallback replay failed", "error", err)
		return nil
	}
	if res.Replayed > 0 || res.Duplicates > 0 || res.Remaining > 0 {
		a.logger.Info("audit fallback replayed",
			"replayed", res.Replayed, "duplicates", res.Duplicates, "remaining", res.Remaining)
	}
	return nil
}
