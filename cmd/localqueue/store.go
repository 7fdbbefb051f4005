package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"localqueue/internal/config"
	"localqueue/internal/store"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	return db, nil
}

// openStore builds the configured backend. The returned closer releases its
// connections.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.TaskStore, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), closerFunc(func() error { return nil }), nil

	case "sqlite":
		db, err := openSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store.NewSQLiteStore(db), db, nil

	case "gorm":
		db, err := openSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		gdb, err := gorm.Open(gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", Conn: db}), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("open gorm: %w", err)
		}
		s := store.NewGormStore(gdb)
		if err := s.AutoMigrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return s, db, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(rdb, cfg.RedisPrefix), rdb, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
