package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	nodes, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(wf.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, nodes, edges, user_id, is_template, template_category, input_schema, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description,
		   nodes=excluded.nodes, edges=excluded.edges,
		   is_template=excluded.is_template, template_category=excluded.template_category,
		   input_schema=excluded.input_schema, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.Description), string(nodes), string(edges),
		wf.UserID, wf.IsTemplate, nullStr(wf.TemplateCategory), nullRaw(wf.InputSchema),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

const workflowColumns = `id, name, description, nodes, edges, user_id, is_template, template_category, input_schema, created_at, updated_at`

func (s *LibSQLStore) scanWorkflow(scan func(dest ...any) error) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var desc, category, inputSchema sql.NullString
	var nodes, edges string
	if err := scan(&wf.ID, &wf.Name, &desc, &nodes, &edges, &wf.UserID,
		&wf.IsTemplate, &category, &inputSchema, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Description = desc.String
	wf.TemplateCategory = category.String
	if inputSchema.Valid && inputSchema.String != "" {
		wf.InputSchema = []byte(inputSchema.String)
	}
	if err := json.Unmarshal([]byte(nodes), &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edges), &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id, userID string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ? AND user_id = ?`, id, userID)
	wf, err := s.scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, userID string) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := s.scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListTemplateWorkflows(ctx context.Context) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE is_template = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := s.scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// --- Executions ---

func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *schema.Execution) error {
	inputData, err := nullableMap(exec.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	outputData, err := nullableMap(exec.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}
	nodeExecs, err := json.Marshal(exec.NodeExecutions)
	if err != nil {
		return fmt.Errorf("marshal node_executions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, user_id, status, input_data, output_data, node_executions, start_time, end_time, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, output_data=excluded.output_data,
		   node_executions=excluded.node_executions,
		   end_time=excluded.end_time, error=excluded.error`,
		exec.ID, exec.WorkflowID, exec.UserID, string(exec.Status),
		inputData, outputData, string(nodeExecs),
		timeOrNow(exec.StartTime), nullTime(exec.EndTime), nullStr(exec.Error),
	)
	return err
}

const executionColumns = `id, workflow_id, user_id, status, input_data, output_data, node_executions, start_time, end_time, error`

func (s *LibSQLStore) scanExecution(scan func(dest ...any) error) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var status string
	var inputData, outputData, execErr sql.NullString
	var nodeExecs string
	var endTime sql.NullTime
	if err := scan(&exec.ID, &exec.WorkflowID, &exec.UserID, &status,
		&inputData, &outputData, &nodeExecs, &exec.StartTime, &endTime, &execErr); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.Error = execErr.String
	if endTime.Valid {
		exec.EndTime = &endTime.Time
	}
	if inputData.Valid && inputData.String != "" {
		if err := json.Unmarshal([]byte(inputData.String), &exec.InputData); err != nil {
			return nil, fmt.Errorf("unmarshal input_data: %w", err)
		}
	}
	if outputData.Valid && outputData.String != "" {
		if err := json.Unmarshal([]byte(outputData.String), &exec.OutputData); err != nil {
			return nil, fmt.Errorf("unmarshal output_data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(nodeExecs), &exec.NodeExecutions); err != nil {
		return nil, fmt.Errorf("unmarshal node_executions: %w", err)
	}
	return exec, nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id, userID string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ? AND user_id = ?`, id, userID)
	exec, err := s.scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, userID string, filter ExecutionFilter) ([]*schema.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE user_id = ?`
	args := []any{userID}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	query += ` ORDER BY start_time DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.Execution
	for rows.Next() {
		exec, err := s.scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// --- Event feed ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (execution_id, workflow_id, node_id, event_type, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullStr(event.ExecutionID), nullStr(event.WorkflowID), nullStr(event.NodeID),
		event.Type, nullRaw(event.Payload), timeOrNow(event.Timestamp),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := `SELECT id, execution_id, workflow_id, node_id, event_type, payload, timestamp FROM events`
	var where []string
	var args []any
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var execID, wfID, nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &execID, &wfID, &nodeID, &e.Type, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.ExecutionID = execID.String
		e.WorkflowID = wfID.String
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, workflow_id, user_id, cron_expression, input_data, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.UserID, run.CronExpression,
		nullRaw(run.InputData), run.Enabled,
		nullTime(run.LastRunAt), nullTime(run.NextRunAt), nullStr(run.LastRunStatus),
		timeOrNow(run.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) scanScheduledRun(scan func(dest ...any) error) (*ScheduledRun, error) {
	run := &ScheduledRun{}
	var inputData, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	if err := scan(&run.ID, &run.WorkflowID, &run.UserID, &run.CronExpression,
		&inputData, &run.Enabled, &lastRun, &nextRun, &lastStatus, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.InputData = rawOrNil(inputData)
	run.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		run.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		run.NextRunAt = &nextRun.Time
	}
	return run, nil
}

const scheduledRunColumns = `id, workflow_id, user_id, cron_expression, input_data, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledRunColumns+` FROM scheduled_runs WHERE id = ?`, id)
	run, err := s.scanScheduledRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	query := `SELECT ` + scheduledRunColumns + ` FROM scheduled_runs`
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScheduledRun
	for rows.Next() {
		run, err := s.scanScheduledRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

var _ Store = (*LibSQLStore)(nil)
