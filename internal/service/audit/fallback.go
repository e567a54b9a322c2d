package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"budget-etl/internal/domain"
)

// fallbackEntry is the on-disk form of an audit entry.
type fallbackEntry struct {
	RunID            string    `json:"run_id"`
	RunAttempt       int       `json:"run_attempt"`
	TaskID           string    `json:"task_id"`
	SheetName        string    `json:"sheet_name,omitempty"`
	Attempt          int       `json:"attempt"`
	ExecutionDate    time.Time `json:"execution_date"`
	Status           string    `json:"status"`
	RecordsProcessed int       `json:"records_processed"`
	ErrorKind        *string   `json:"error_kind,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toFallback(e *domain.AuditEntry) fallbackEntry {
	return fallbackEntry{
		RunID:            e.RunID,
		RunAttempt:       e.RunAttempt,
		TaskID:           e.TaskID,
		SheetName:        e.SheetName,
		Attempt:          e.Attempt,
		ExecutionDate:    e.ExecutionDate,
		Status:           e.Status,
		RecordsProcessed: e.RecordsProcessed,
		ErrorKind:        e.ErrorKind,
		ErrorMessage:     e.ErrorMessage,
		CreatedAt:        e.CreatedAt,
	}
}

func (f fallbackEntry) entry() *domain.AuditEntry {
	return &domain.AuditEntry{
		RunID:            f.RunID,
		RunAttempt:       f.RunAttempt,
		TaskID:           f.TaskID,
		SheetName:        f.SheetName,
		Attempt:          f.Attempt,
		ExecutionDate:    f.ExecutionDate,
		Status:           f.Status,
		RecordsProcessed: f.RecordsProcessed,
		ErrorKind:        f.ErrorKind,
		ErrorMessage:     f.ErrorMessage,
		CreatedAt:        f.CreatedAt,
	}
}

// appendFallback appends e as one JSON line and syncs the file.
func (r *Recorder) appendFallback(e *domain.AuditEntry) error {
	line, err := json.Marshal(toFallback(e))
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.fallbackPath), 0o750); err != nil {
		return fmt.Errorf("create fallback dir: %w", err)
	}
	f, err := os.OpenFile(r.fallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open fallback file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("write fallback file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("sync fallback file: %w", err)
	}
	return f.Close()
}

// ReplayResult counts what Replay did with the fallback entries.
type ReplayResult struct {
	Replayed   int
	Duplicates int // already present in the sink
	Remaining  int // still failing; kept in the file
}

// Replay moves fallback entries into the sink. Entries the sink already
// holds are dropped; entries that still fail stay in the file.
func (r *Recorder) Replay(ctx context.Context) (ReplayResult, error) {
	var res ReplayResult
	if r.fallbackPath == "" {
		return res, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.fallbackPath)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read fallback file: %w", err)
	}

	var keep bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var fe fallbackEntry
		if err := json.Unmarshal(line, &fe); err != nil {
			return res, fmt.Errorf("fallback file line %d: %w", lineNo, err)
		}

		err := r.repo.Insert(ctx, fe.entry())
		var conflict *domain.ConflictError
		switch {
		case err == nil:
			res.Replayed++
		case errors.As(err, &conflict):
			res.Duplicates++
			r.logger.Warn("fallback audit entry already recorded", "run_id", fe.RunID, "task_id", fe.TaskID, "status", fe.Status)
		default:
			res.Remaining++
			keep.Write(line)
			keep.WriteByte('\n')
			r.logger.Warn("fallback audit entry replay failed", "run_id", fe.RunID, "task_id", fe.TaskID, "error", err)
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("scan fallback file: %w", err)
	}

	if res.Remaining == 0 {
		if err := os.Remove(r.fallbackPath); err != nil {
			return res, fmt.Errorf("remove fallback file: %w", err)
		}
		return res, nil
	}
	tmp := r.fallbackPath + ".tmp"
	if err := os.WriteFile(tmp, keep.Bytes(), 0o600); err != nil {
		return res, fmt.Errorf("rewrite fallback file: %w", err)
	}
	if err := os.Rename(tmp, r.fallbackPath); err != nil {
		return res, fmt.Errorf("rewrite fallback file: %w", err)
	}
	return res, nil
}
