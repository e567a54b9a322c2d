// Package load writes normalized sheet batches to the budget sink.
package load

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"budget-etl/internal/domain"
	"budget-etl/internal/service/retry"
)

// ErrCommitterClosed is returned by Submit after Commit has been called.
var ErrCommitterClosed = errors.New("committer closed")

// Committer is the single writer for one run. Sheet workers Submit batches
// onto a bounded queue; Commit writes everything queued in one transaction.
type Committer struct {
	repo   domain.BudgetRepository
	runID  string
	policy retry.Policy
	logger *slog.Logger

	queue   chan domain.SheetBatch
	drained chan struct{}
	batches []domain.SheetBatch

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewCommitter creates a committer for runID and starts draining its queue.
func NewCommitter(repo domain.BudgetRepository, runID string, queueSize int, policy retry.Policy, logger *slog.Logger) *Committer {
	if queueSize < 1 {
		queueSize = 1
	}
	c := &Committer{
		repo:    repo,
		runID:   runID,
		policy:  policy,
		logger:  logger.With("stage", domain.RunStatusLoading),
		queue:   make(chan domain.SheetBatch, queueSize),
		drained: make(chan struct{}),
	}
	go c.drain()
	return c
}

func (c *Committer) drain() {
	defer close(c.drained)
	for b := range c.queue {
		c.batches = append(c.batches, b)
	}
}

// Submit queues a sheet batch, blocking while the queue is full.
func (c *Committer) Submit(ctx context.Context, b domain.SheetBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCommitterClosed
	}
	select {
	case c.queue <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Committer) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
	})
	<-c.drained
}

// Commit stops accepting batches and writes everything queued in a single
// transaction, retrying retryable sink errors. onAttempt, if set, is called
// before each attempt. The write is detached from ctx cancellation so a
// started commit always runs to completion.
func (c *Committer) Commit(ctx context.Context, onAttempt func(attempt int)) (int, error) {
	c.close()
	if len(c.batches) == 0 {
		return 0, nil
	}

	ctx = context.WithoutCancel(ctx)
	var written int
	err := retry.Do(ctx, c.policy, c.logger, func(ctx context.Context, attempt int) error {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		n, err := c.repo.CommitBatches(ctx, c.runID, c.batches)
		if err != nil {
			return err
		}
		written = n
		return nil
	})
	if err != nil {
		c.logger.Error("commit failed", "run_id", c.runID, "error", err)
		return 0, err
	}
	c.logger.Info("commit complete", "run_id", c.runID, "sheets", len(c.batches), "records", written)
	return written, nil
}

// Abort discards queued batches without writing them.
func (c *Committer) Abort() {
	c.close()
	c.batches = nil
}
