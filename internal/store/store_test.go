package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"localqueue/internal/domain"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_txlock=immediate", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRecord(id, taskType string, created time.Time) domain.TaskRecord {
	return domain.TaskRecord{
		ID:         id,
		TaskType:   taskType,
		Status:     domain.StatusPending,
		CreatedAt:  created,
		Parameters: map[string]any{"rows": float64(100), "name": "sample"},
	}
}

func intPtr(v int) *int { return &v }

// backends returns a constructor for every TaskStore implementation.
func backends() map[string]func(t *testing.T) TaskStore {
	return map[string]func(t *testing.T) TaskStore{
		"memory": func(t *testing.T) TaskStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) TaskStore {
			db := openTestDB(t)
			require.NoError(t, EnsureSchema(db))
			return NewSQLiteStore(db)
		},
		"gorm": func(t *testing.T) TaskStore {
			db := openTestDB(t)
			gdb, err := gorm.Open(gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", Conn: db}), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			require.NoError(t, err)
			s := NewGormStore(gdb)
			require.NoError(t, s.AutoMigrate())
			return s
		},
		"redis": func(t *testing.T) TaskStore {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, "test:")
		},
	}
}

func TestTaskStore(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) { testCreateGet(t, newStore(t)) })
			t.Run("not found", func(t *testing.T) { testNotFound(t, newStore(t)) })
			t.Run("list ordering and filters", func(t *testing.T) { testList(t, newStore(t)) })
			t.Run("list ties keep insertion order", func(t *testing.T) { testListTies(t, newStore(t)) })
			t.Run("lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
			t.Run("concurrent progress", func(t *testing.T) { testConcurrentProgress(t, newStore(t)) })
		})
	}
}

func testCreateGet(t *testing.T, s TaskStore) {
	ctx := context.Background()
	rec := newTestRecord("t1", "data_processing", baseTime)
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "data_processing", got.TaskType)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, got.CreatedAt.Equal(baseTime), "created_at %v", got.CreatedAt)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, rec.Parameters, got.Parameters)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ResultData)
	assert.Nil(t, got.ErrorMessage)

	err = s.Create(ctx, newTestRecord("t1", "email_simulation", baseTime))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	got, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "data_processing", got.TaskType)
}

func testNotFound(t *testing.T, s TaskStore) {
	ctx := context.Background()
	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Update(ctx, "missing", domain.Patch{Status: domain.StatusPtr(domain.StatusCancelled)})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testList(t *testing.T, s TaskStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTestRecord("a", "data_processing", baseTime)))
	require.NoError(t, s.Create(ctx, newTestRecord("b", "email_simulation", baseTime.Add(time.Second))))
	require.NoError(t, s.Create(ctx, newTestRecord("c", "data_processing", baseTime.Add(2*time.Second))))

	all, err := s.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	now := baseTime.Add(3 * time.Second)
	_, err = s.Update(ctx, "b", domain.Patch{Status: domain.StatusPtr(domain.StatusCancelled), CompletedAt: &now})
	require.NoError(t, err)

	cancelled := domain.StatusCancelled
	got, err := s.List(ctx, domain.Filter{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))

	pending := domain.StatusPending
	got, err = s.List(ctx, domain.Filter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(got))

	got, err = s.List(ctx, domain.Filter{TaskType: "data_processing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(got))

	got, err = s.List(ctx, domain.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(got))
}

func testListTies(t *testing.T, s TaskStore) {
	ctx := context.Background()
	for _, id := range []string{"x", "a", "m"} {
		require.NoError(t, s.Create(ctx, newTestRecord(id, "data_processing", baseTime)))
	}
	all, err := s.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m", "a", "x"}, ids(all))
}

func testLifecycle(t *testing.T, s TaskStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTestRecord("t1", "data_processing", baseTime)))

	started := baseTime.Add(time.Second)
	rec, err := s.Update(ctx, "t1", domain.Patch{Status: domain.StatusPtr(domain.StatusRunning), StartedAt: &started})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, rec.Status)

	rec, err = s.Update(ctx, "t1", domain.Patch{Progress: intPtr(30)})
	require.NoError(t, err)
	assert.Equal(t, 30, rec.Progress)

	cancelledAt := baseTime.Add(2 * time.Second)
	_, err = s.Update(ctx, "t1", domain.Patch{Status: domain.StatusPtr(domain.StatusCancelled), CompletedAt: &cancelledAt})
	require.NoError(t, err)

	_, err = s.Update(ctx, "t1", domain.Patch{
		Status:     domain.StatusPtr(domain.StatusSuccess),
		ResultData: map[string]any{"rows_processed": float64(100)},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, 30, got.Progress)
	assert.Nil(t, got.ResultData)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.CompletedAt.Equal(cancelledAt))

	require.NoError(t, s.Create(ctx, newTestRecord("t2", "data_processing", baseTime)))
	_, err = s.Update(ctx, "t2", domain.Patch{Status: domain.StatusPtr(domain.StatusRunning), StartedAt: &started})
	require.NoError(t, err)
	done := started.Add(time.Second)
	_, err = s.Update(ctx, "t2", domain.Patch{
		Status:      domain.StatusPtr(domain.StatusSuccess),
		CompletedAt: &done,
		ResultData:  map[string]any{"rows_processed": float64(100)},
	})
	require.NoError(t, err)
	got, err = s.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, float64(100), got.ResultData["rows_processed"])
}

func testConcurrentProgress(t *testing.T, s TaskStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTestRecord("t1", "data_processing", baseTime)))
	started := baseTime.Add(time.Second)
	_, err := s.Update(ctx, "t1", domain.Patch{Status: domain.StatusPtr(domain.StatusRunning), StartedAt: &started})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			if _, err := s.Update(ctx, "t1", domain.Patch{Progress: intPtr(p * 2)}); err != nil {
				errs <- err
			}
			if _, err := s.Get(ctx, "t1"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func ids(recs []domain.TaskRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestMemoryStoreOwnsNestedValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	recipients := []any{"a@example.com"}
	rec := newTestRecord("t1", "email_simulation", baseTime)
	rec.Parameters = map[string]any{"recipients": recipients, "headers": map[string]any{"x-team": "ops"}}
	require.NoError(t, s.Create(ctx, rec))

	recipients[0] = "evil@example.com"
	rec.Parameters["headers"].(map[string]any)["x-team"] = "sales"

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a@example.com"}, got.Parameters["recipients"])
	assert.Equal(t, map[string]any{"x-team": "ops"}, got.Parameters["headers"])

	got.Parameters["recipients"].([]any)[0] = "reader@example.com"
	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a@example.com"}, again.Parameters["recipients"])
}
