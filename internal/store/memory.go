package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

// MemoryStore is an in-memory Store used by tests and ephemeral setups.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*schema.Workflow
	execs     map[string]*schema.Execution
	events    []*Event
	runs      map[string]*ScheduledRun
	eventSeq  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*schema.Workflow),
		execs:     make(map[string]*schema.Execution),
		runs:      make(map[string]*ScheduledRun),
	}
}

// --- Workflows ---

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id, userID string) (*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok || wf.UserID != userID {
		return nil, notFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, userID string) ([]*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Workflow
	for _, wf := range s.workflows {
		if wf.UserID != userID {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok || wf.UserID != userID {
		return notFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

func (s *MemoryStore) ListTemplateWorkflows(ctx context.Context) ([]*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Workflow
	for _, wf := range s.workflows {
		if !wf.IsTemplate {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Executions ---

func (s *MemoryStore) SaveExecution(ctx context.Context, exec *schema.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[exec.ID] = copyExec(exec)
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id, userID string) (*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok || exec.UserID != userID {
		return nil, notFound("execution", id)
	}
	return copyExec(exec), nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, userID string, filter ExecutionFilter) ([]*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Execution
	for _, exec := range s.execs {
		if exec.UserID != userID {
			continue
		}
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, copyExec(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Event feed ---

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	cp := *event
	cp.ID = s.eventSeq
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if filter.ExecutionID != "" && e.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.EventType != "" && e.Type != filter.EventType {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Scheduled runs ---

func (s *MemoryStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, notFound("scheduled run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return notFound("scheduled run", id)
	}
	if update.Enabled != nil {
		run.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		run.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		run.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		run.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduledRun
	for _, run := range s.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Enabled != nil && run.Enabled != *filter.Enabled {
			continue
		}
		cp := *run
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteScheduledRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return notFound("scheduled run", id)
	}
	delete(s.runs, id)
	return nil
}

// --- Maintenance ---

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyExec(exec *schema.Execution) *schema.Execution {
	cp := *exec
	cp.NodeExecutions = make(map[string]*schema.NodeResult, len(exec.NodeExecutions))
	for id, r := range exec.NodeExecutions {
		rc := *r
		cp.NodeExecutions[id] = &rc
	}
	return &cp
}

func notFound(kind, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", kind, id)
}

var _ Store = (*MemoryStore)(nil)
