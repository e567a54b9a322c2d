package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"budget-etl/internal/domain"
)

// SchedulerPrincipal is recorded as requested_by on scheduled runs.
const SchedulerPrincipal = "scheduler"

// Triggerer starts runs.
type Triggerer interface {
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error)
}

// Scheduler triggers a run of one input file on a cron schedule, standing
// in for an external workflow scheduler.
type Scheduler struct {
	cron     *cron.Cron
	svc      Triggerer
	schedule string
	input    string
	logger   *slog.Logger

	mu    sync.Mutex
	entry cron.EntryID
	last  *domain.TriggerResult
}

// NewScheduler creates a scheduler that triggers input on schedule, a
// standard five-field cron expression.
func NewScheduler(svc Triggerer, schedule, input string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		svc:      svc,
		schedule: schedule,
		input:    input,
		logger:   logger,
	}
}

// Start registers the schedule and starts the cron scheduler.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.cron.AddFunc(s.schedule, s.fire)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	s.entry = entry
	s.cron.Start()
	s.logger.Info("run scheduler started", "schedule", s.schedule, "input", s.input)
	return nil
}

// Stop stops the cron scheduler. Runs already triggered keep going.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("run scheduler stopped")
}

// Next returns the next scheduled fire time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Last returns the result of the most recent successful trigger.
func (s *Scheduler) Last() *domain.TriggerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) fire() {
	res, err := s.svc.Trigger(context.Background(), domain.TriggerRequest{
		InputFileReference: s.input,
		RequestedBy:        SchedulerPrincipal,
		Timestamp:          time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("scheduled trigger failed", "input", s.input, "error", err)
		return
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	s.logger.Info("scheduled run triggered", "run_id", res.RunID)
}
