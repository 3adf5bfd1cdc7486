// Package scheduler launches workflow executions on cron schedules.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// WorkflowRunner launches a run of a stored workflow. Satisfied by the
// service (avoids import cycle).
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, id, userID string, input map[string]any, dryRun bool) (*schema.Execution, error)
}

// Scheduler polls the store for due scheduled runs and launches them.
type Scheduler struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // run IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Schedule registers a cron schedule for the user's workflow. The cron
// expression is validated and next_run_at is computed up front.
func (s *Scheduler) Schedule(ctx context.Context, workflowID, userID, cronExpr string, input map[string]any) (*store.ScheduledRun, error) {
	// Ownership check; a foreign workflow id reads as missing.
	if _, err := s.store.GetWorkflow(ctx, workflowID, userID); err != nil {
		return nil, err
	}

	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", cronExpr).WithCause(err)
	}

	var raw json.RawMessage
	if input != nil {
		raw, err = json.Marshal(input)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "marshal input data").WithCause(err)
		}
	}

	run := &store.ScheduledRun{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		UserID:         userID,
		CronExpression: cronExpr,
		InputData:      raw,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateScheduledRun(ctx, run); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "create scheduled run").WithCause(err)
	}

	s.logger.InfoContext(ctx, "scheduled run created",
		slog.String("run_id", run.ID),
		slog.String("workflow_id", workflowID),
		slog.String("cron", cronExpr),
	)
	return run, nil
}

// Unschedule removes a scheduled run owned by the user.
func (s *Scheduler) Unschedule(ctx context.Context, runID, userID string) error {
	run, err := s.store.GetScheduledRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.UserID != userID {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled run %s not found", runID)
	}
	return s.store.DeleteScheduledRun(ctx, runID)
}

// ListSchedules returns the user's scheduled runs.
func (s *Scheduler) ListSchedules(ctx context.Context, userID string) ([]*store.ScheduledRun, error) {
	runs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]*store.ScheduledRun, 0, len(runs))
	for _, run := range runs {
		if run.UserID == userID {
			out = append(out, run)
		}
	}
	return out, nil
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled runs and launches those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	runs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, run := range runs {
		if run.NextRunAt == nil || !run.NextRunAt.After(now) {
			if !s.tryAcquire(run.ID) {
				continue // already running (dedup)
			}
			if err := s.launch(ctx, run, now); err != nil {
				s.logger.Error("failed to launch scheduled run",
					slog.String("run_id", run.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(run.ID)
		}
	}
}

// launch executes a scheduled run and updates its timestamps.
func (s *Scheduler) launch(ctx context.Context, run *store.ScheduledRun, now time.Time) error {
	s.logger.Info("launching scheduled run",
		slog.String("run_id", run.ID),
		slog.String("workflow_id", run.WorkflowID),
	)

	var input map[string]any
	if len(run.InputData) > 0 {
		if err := json.Unmarshal(run.InputData, &input); err != nil {
			return s.updateRunStatus(ctx, run, now, "error")
		}
	}

	_, err := s.runner.ExecuteWorkflow(ctx, run.WorkflowID, run.UserID, input, false)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled run launch failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateRunStatus(ctx, run, now, status)
}

func (s *Scheduler) updateRunStatus(ctx context.Context, run *store.ScheduledRun, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(run.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for %q: %w", run.ID, err)
	}

	return s.store.UpdateScheduledRun(ctx, run.ID, store.ScheduledRunUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the run as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(runID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[runID]; ok {
		return false
	}
	s.inflight[runID] = struct{}{}
	return true
}

// release removes the run from the in-flight set.
func (s *Scheduler) release(runID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, runID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed launches enabled runs whose next_run_at has already passed,
// once, at startup.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	runs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed runs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, run := range runs {
		if run.NextRunAt != nil && run.NextRunAt.Before(now) {
			if !s.tryAcquire(run.ID) {
				continue
			}
			if err := s.launch(ctx, run, now); err != nil {
				s.logger.Error("failed to recover missed run",
					slog.String("run_id", run.ID),
					slog.String("error", err.Error()),
				)
				s.release(run.ID)
				continue
			}
			s.release(run.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed runs", slog.Int("count", recovered))
	}
	return nil
}
