// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"budget-etl/internal/domain"
)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing. Inserted
// entries are collected for assertions; it is safe for concurrent use.
type MockAuditRepo struct {
	InsertFn    func(ctx context.Context, e *domain.AuditEntry) error
	ListFn      func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error)
	ListByRunFn func(ctx context.Context, runID string) ([]domain.AuditEntry, error)
	ListOpenFn  func(ctx context.Context, runID string) ([]domain.AuditEntry, error)

	mu      sync.Mutex
	Entries []domain.AuditEntry
}

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.Entries) + 1)
	m.Entries = append(m.Entries, *e)
	return nil
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// ListByRun implements the interface method for testing. Without ListByRunFn
// it returns the collected entries of the run.
func (m *MockAuditRepo) ListByRun(ctx context.Context, runID string) ([]domain.AuditEntry, error) {
	if m.ListByRunFn != nil {
		return m.ListByRunFn(ctx, runID)
	}
	var out []domain.AuditEntry
	for _, e := range m.Snapshot() {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListOpen implements the interface method for testing.
func (m *MockAuditRepo) ListOpen(ctx context.Context, runID string) ([]domain.AuditEntry, error) {
	if m.ListOpenFn != nil {
		return m.ListOpenFn(ctx, runID)
	}
	return nil, nil
}

// Snapshot returns a copy of the collected entries.
func (m *MockAuditRepo) Snapshot() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.Entries...)
}

// Find returns the collected entries for a task (and sheet, when non-empty)
// with the given status.
func (m *MockAuditRepo) Find(taskID, sheet, status string) []domain.AuditEntry {
	var out []domain.AuditEntry
	for _, e := range m.Snapshot() {
		if e.TaskID == taskID && e.Status == status && (sheet == "" || e.SheetName == sheet) {
			out = append(out, e)
		}
	}
	return out
}

// === Budget Repository Mock ===

// MockBudgetRepo implements domain.BudgetRepository for testing.
type MockBudgetRepo struct {
	CommitBatchesFn      func(ctx context.Context, runID string, batches []domain.SheetBatch) (int, error)
	GetRecordsByIDFn     func(ctx context.Context, recordIDs []string) ([]domain.BudgetRecord, error)
	ListSummariesByRunFn func(ctx context.Context, runID string) ([]domain.BudgetSummary, error)

	mu      sync.Mutex
	Commits [][]domain.SheetBatch
}

// CommitBatches implements the interface method for testing. Successful
// commits are collected.
func (m *MockBudgetRepo) CommitBatches(ctx context.Context, runID string, batches []domain.SheetBatch) (int, error) {
	n := 0
	for _, b := range batches {
		n += len(b.Records)
	}
	if m.CommitBatchesFn != nil {
		var err error
		if n, err = m.CommitBatchesFn(ctx, runID, batches); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	m.Commits = append(m.Commits, batches)
	m.mu.Unlock()
	return n, nil
}

// GetRecordsByID implements the interface method for testing. Without
// GetRecordsByIDFn it answers from the committed batches.
func (m *MockBudgetRepo) GetRecordsByID(ctx context.Context, recordIDs []string) ([]domain.BudgetRecord, error) {
	if m.GetRecordsByIDFn != nil {
		return m.GetRecordsByIDFn(ctx, recordIDs)
	}
	want := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		want[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BudgetRecord
	for _, commit := range m.Commits {
		for _, b := range commit {
			for _, r := range b.Records {
				if want[r.RecordID] {
					out = append(out, r)
					delete(want, r.RecordID)
				}
			}
		}
	}
	return out, nil
}

// ListSummariesByRun implements the interface method for testing.
func (m *MockBudgetRepo) ListSummariesByRun(ctx context.Context, runID string) ([]domain.BudgetSummary, error) {
	if m.ListSummariesByRunFn != nil {
		return m.ListSummariesByRunFn(ctx, runID)
	}
	panic("unexpected call to MockBudgetRepo.ListSummariesByRun")
}

// CommitCount returns how many commits succeeded.
func (m *MockBudgetRepo) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Commits)
}

// === Run Repository Mock ===

// MockRunRepo implements domain.RunRepository for testing. Each method
// delegates to its Fn field and panics when the field is nil.
type MockRunRepo struct {
	CreateRunFn          func(ctx context.Context, run *domain.Run) (*domain.Run, error)
	GetRunFn             func(ctx context.Context, id string) (*domain.Run, error)
	ListRunsFn           func(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error)
	ListUnfinishedRunsFn func(ctx context.Context) ([]domain.Run, error)
	RestartRunFn         func(ctx context.Context, id, requestedBy string, requestedAt time.Time) (*domain.Run, error)
	UpdateRunStatusFn    func(ctx context.Context, id, status string) error
	MarkRunStartedFn     func(ctx context.Context, id string) error
	SetFileDigestFn      func(ctx context.Context, id, digest string) error
	FinishRunFn          func(ctx context.Context, id, status string, errorMsg *string, report *domain.ValidationReport) error
	UpsertSheetResultFn  func(ctx context.Context, r *domain.SheetResult) error
	ListSheetResultsFn   func(ctx context.Context, runID string) ([]domain.SheetResult, error)
}

// CreateRun implements the interface method for testing.
func (m *MockRunRepo) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if m.CreateRunFn != nil {
		return m.CreateRunFn(ctx, run)
	}
	panic("unexpected call to MockRunRepo.CreateRun")
}

// GetRun implements the interface method for testing.
func (m *MockRunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	if m.GetRunFn != nil {
		return m.GetRunFn(ctx, id)
	}
	panic("unexpected call to MockRunRepo.GetRun")
}

// ListRuns implements the interface method for testing.
func (m *MockRunRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error) {
	if m.ListRunsFn != nil {
		return m.ListRunsFn(ctx, filter)
	}
	panic("unexpected call to MockRunRepo.ListRuns")
}

// ListUnfinishedRuns implements the interface method for testing.
func (m *MockRunRepo) ListUnfinishedRuns(ctx context.Context) ([]domain.Run, error) {
	if m.ListUnfinishedRunsFn != nil {
		return m.ListUnfinishedRunsFn(ctx)
	}
	panic("unexpected call to MockRunRepo.ListUnfinishedRuns")
}

// RestartRun implements the interface method for testing.
func (m *MockRunRepo) RestartRun(ctx context.Context, id, requestedBy string, requestedAt time.Time) (*domain.Run, error) {
	if m.RestartRunFn != nil {
		return m.RestartRunFn(ctx, id, requestedBy, requestedAt)
	}
	panic("unexpected call to MockRunRepo.RestartRun")
}

// UpdateRunStatus implements the interface method for testing.
func (m *MockRunRepo) UpdateRunStatus(ctx context.Context, id, status string) error {
	if m.UpdateRunStatusFn != nil {
		return m.UpdateRunStatusFn(ctx, id, status)
	}
	panic("unexpected call to MockRunRepo.UpdateRunStatus")
}

// MarkRunStarted implements the interface method for testing.
func (m *MockRunRepo) MarkRunStarted(ctx context.Context, id string) error {
	if m.MarkRunStartedFn != nil {
		return m.MarkRunStartedFn(ctx, id)
	}
	panic("unexpected call to MockRunRepo.MarkRunStarted")
}

// SetFileDigest implements the interface method for testing.
func (m *MockRunRepo) SetFileDigest(ctx context.Context, id, digest string) error {
	if m.SetFileDigestFn != nil {
		return m.SetFileDigestFn(ctx, id, digest)
	}
	panic("unexpected call to MockRunRepo.SetFileDigest")
}

// FinishRun implements the interface method for testing.
func (m *MockRunRepo) FinishRun(ctx context.Context, id, status string, errorMsg *string, report *domain.ValidationReport) error {
	if m.FinishRunFn != nil {
		return m.FinishRunFn(ctx, id, status, errorMsg, report)
	}
	panic("unexpected call to MockRunRepo.FinishRun")
}

// UpsertSheetResult implements the interface method for testing.
func (m *MockRunRepo) UpsertSheetResult(ctx context.Context, r *domain.SheetResult) error {
	if m.UpsertSheetResultFn != nil {
		return m.UpsertSheetResultFn(ctx, r)
	}
	panic("unexpected call to MockRunRepo.UpsertSheetResult")
}

// ListSheetResults implements the interface method for testing.
func (m *MockRunRepo) ListSheetResults(ctx context.Context, runID string) ([]domain.SheetResult, error) {
	if m.ListSheetResultsFn != nil {
		return m.ListSheetResultsFn(ctx, runID)
	}
	panic("unexpected call to MockRunRepo.ListSheetResults")
}

// Compile-time interface checks.
var (
	_ domain.AuditRepository  = (*MockAuditRepo)(nil)
	_ domain.BudgetRepository = (*MockBudgetRepo)(nil)
	_ domain.RunRepository    = (*MockRunRepo)(nil)
)
