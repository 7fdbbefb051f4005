package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"localqueue/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  task_type TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('PENDING','RUNNING','SUCCESS','FAILED','CANCELLED')) DEFAULT 'PENDING',
  progress INTEGER NOT NULL DEFAULT 0,
  parameters TEXT NOT NULL DEFAULT '{}',
  result_data TEXT,
  error_message TEXT,
  retry_of TEXT,
  created_at DATETIME NOT NULL,
  started_at DATETIME,
  completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(task_type, created_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

const taskColumns = `id,task_type,status,progress,parameters,result_data,error_message,retry_of,created_at,started_at,completed_at`

// SQLiteStore persists records in a single SQLite table. Open the database
// with one connection (SQLite has a single writer) and _txlock=immediate so
// updates take the write lock before reading.
type SQLiteStore struct{ db *sql.DB }

func NewSQLiteStore(db *sql.DB) *SQLiteStore { return &SQLiteStore{db: db} }

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Create(ctx context.Context, rec domain.TaskRecord) error {
	params := rec.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := encodeMap(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	resultJSON, err := encodeMap(rec.ResultData)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=?`, rec.ID).Scan(&exists)
	if err == nil {
		return duplicate(rec.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, rec.ID, rec.TaskType, string(rec.Status), rec.Progress, *paramsJSON, resultJSON, rec.ErrorMessage, rec.RetryOf,
		rec.CreatedAt.UTC(), utcPtr(rec.StartedAt), utcPtr(rec.CompletedAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskRecord{}, notFound(id)
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, "status=?")
		args = append(args, string(*f.Status))
	}
	if f.TaskType != "" {
		where = append(where, "task_type=?")
		args = append(args, f.TaskType)
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.TaskRecord{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p domain.Patch) (domain.TaskRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.TaskRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskRecord{}, notFound(id)
	}
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if err := p.Apply(&rec); err != nil {
		return domain.TaskRecord{}, err
	}
	resultJSON, err := encodeMap(rec.ResultData)
	if err != nil {
		return domain.TaskRecord{}, fmt.Errorf("encode result: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE tasks
SET status=?, progress=?, result_data=?, error_message=?, started_at=?, completed_at=?
WHERE id=?`, string(rec.Status), rec.Progress, resultJSON, rec.ErrorMessage, utcPtr(rec.StartedAt), utcPtr(rec.CompletedAt), id)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskRecord{}, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.TaskRecord, error) {
	var (
		t                       domain.TaskRecord
		status                  string
		params                  string
		result, errMsg, retryOf sql.NullString
		startedAt, completedAt  sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.TaskType, &status, &t.Progress, &params, &result, &errMsg, &retryOf, &t.CreatedAt, &startedAt, &completedAt); err != nil {
		return domain.TaskRecord{}, err
	}
	t.Status = domain.Status(status)

	var err error
	if t.Parameters, err = decodeMap(&params); err != nil {
		return domain.TaskRecord{}, fmt.Errorf("decode parameters of %s: %w", t.ID, err)
	}
	if result.Valid {
		if t.ResultData, err = decodeMap(&result.String); err != nil {
			return domain.TaskRecord{}, fmt.Errorf("decode result of %s: %w", t.ID, err)
		}
	}
	if errMsg.Valid {
		s := errMsg.String
		t.ErrorMessage = &s
	}
	if retryOf.Valid {
		s := retryOf.String
		t.RetryOf = &s
	}
	if startedAt.Valid {
		ts := startedAt.Time
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
