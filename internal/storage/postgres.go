package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an already opened database handle.
func NewPostgresStoreWithDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// Ping checks the connection; transactions always report healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.PingContext(ctx)
	}
	return nil
}

// SaveWorkflow registers a workflow for monitoring
func (s *PostgresStore) SaveWorkflow(ctx context.Context, w models.Workflow) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO workflows (id, name, user_id, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		w.ID, w.Name, w.UserID, w.Active, w.CreatedAt, w.UpdatedAt)
	if isPQError(err, uniqueViolation) {
		return storage.NewOpError("SaveWorkflow", w.ID, storage.ErrAlreadyExists)
	}
	return storage.NewOpError("SaveWorkflow", w.ID, err)
}

// GetWorkflow retrieves a registered workflow by ID
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	var wf models.Workflow
	err := s.db.GetContext(ctx, &wf, "SELECT id, name, user_id, active, created_at, updated_at, last_synced_at FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.NewOpError("GetWorkflow", id, storage.ErrNotFound)
	}
	if err != nil {
		return models.Workflow{}, storage.NewOpError("GetWorkflow", id, err)
	}
	return wf, nil
}

// ListWorkflows lists registered workflows, newest first. An empty userID lists all of them.
func (s *PostgresStore) ListWorkflows(ctx context.Context, userID string) ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	query := "SELECT id, name, user_id, active, created_at, updated_at, last_synced_at FROM workflows"
	args := []interface{}{}
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, id"
	if err := s.db.SelectContext(ctx, &workflows, query, args...); err != nil {
		return nil, storage.NewOpError("ListWorkflows", "", err)
	}
	return workflows, nil
}

// DeleteWorkflow removes a workflow; its executions are removed by the foreign key cascade
func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	return s.expectRow("DeleteWorkflow", id, res, err)
}

// MarkWorkflowSynced records the time of the last successful sync
func (s *PostgresStore) MarkWorkflowSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE workflows SET last_synced_at = $1, updated_at = $1 WHERE id = $2", at, id)
	return s.expectRow("MarkWorkflowSynced", id, res, err)
}

func (s *PostgresStore) expectRow(op, id string, res sql.Result, err error) error {
	if err != nil {
		return storage.NewOpError(op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.NewOpError(op, id, err)
	}
	if n == 0 {
		return storage.NewOpError(op, id, storage.ErrNotFound)
	}
	return nil
}

// SaveExecutions upserts execution records by ID
func (s *PostgresStore) SaveExecutions(ctx context.Context, records []models.ExecutionRecord) (int, error) {
	saved := 0
	for _, r := range records {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO executions (id, workflow_id, user_id, status, mode, retry_of, started_at, stopped_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET status = EXCLUDED.status,
			user_id = EXCLUDED.user_id,
			mode = EXCLUDED.mode,
			retry_of = EXCLUDED.retry_of,
			started_at = EXCLUDED.started_at,
			stopped_at = EXCLUDED.stopped_at`,
			r.ID, r.WorkflowID, r.UserID, r.Status, r.Mode, r.RetryOf, r.StartedAt, r.StoppedAt)
		if isPQError(err, foreignKeyViolation) {
			return saved, storage.NewOpError("SaveExecutions", r.WorkflowID, storage.ErrNotFound)
		}
		if err != nil {
			return saved, storage.NewOpError("SaveExecutions", r.WorkflowID, fmt.Errorf("execution %s: %w", r.ID, err))
		}
		saved++
	}
	return saved, nil
}

// ListExecutions returns execution records ordered by start time, never-started runs last
func (s *PostgresStore) ListExecutions(ctx context.Context, f storage.ExecutionFilter) ([]models.ExecutionRecord, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.WorkflowID != "" {
		conds = append(conds, "workflow_id = "+arg(f.WorkflowID))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = "+arg(f.UserID))
	}
	// never-started runs have no time to filter on and still count towards totals
	if !f.From.IsZero() {
		conds = append(conds, "(started_at IS NULL OR started_at >= "+arg(f.From)+")")
	}
	if !f.To.IsZero() {
		conds = append(conds, "(started_at IS NULL OR started_at < "+arg(f.To)+")")
	}

	query := "SELECT id, workflow_id, user_id, status, mode, retry_of, started_at, stopped_at FROM executions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at ASC NULLS LAST, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	records := []models.ExecutionRecord{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, storage.NewOpError("ListExecutions", f.WorkflowID, err)
	}
	return records, nil
}

func isPQError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
