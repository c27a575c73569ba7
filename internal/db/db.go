package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	embedsql "github.com/ldi/stageflow/embed/sql"
	"github.com/ldi/stageflow/internal/clock"
	_ "modernc.org/sqlite"
)

// DB is the SQLite store. Repository methods are promoted from the embedded
// Repo, which runs them directly against the pool; InTx hands callers a Repo
// bound to a transaction instead.
type DB struct {
	*sql.DB
	*Repo
	Staging *StagingManager

	clock            clock.Clock
	pageDefault      int
	pageMax          int
	onChange         func(ctx context.Context)
	onChangeMu       sync.RWMutex
	onChangeDisabled bool
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Option configures a DB at Open time.
type Option func(*DB)

// WithClock sets the clock used for created_at and updated_at stamps.
func WithClock(c clock.Clock) Option {
	return func(db *DB) {
		db.clock = c
	}
}

func (db *DB) SetOnChange(fn func(ctx context.Context)) {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChange = fn
}

func (db *DB) DisableOnChange() {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChangeDisabled = true
}

func (db *DB) EnableOnChange() {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChangeDisabled = false
}

func (db *DB) triggerChange(ctx context.Context) {
	db.onChangeMu.RLock()
	fn := db.onChange
	disabled := db.onChangeDisabled
	db.onChangeMu.RUnlock()

	if fn != nil && !disabled {
		fn(ctx)
	}
}

// Open opens a SQLite database at the given path.
func Open(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL mode for better concurrency
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// SQLite works best with a single writer.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{
		DB:          sqlDB,
		Staging:     NewStagingManager(),
		clock:       clock.RealClock{},
		pageDefault: DefaultPageSize,
		pageMax:     MaxPageSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.Repo = db.newRepo(sqlDB, db.triggerChange)
	return db, nil
}

func (db *DB) Migrate(ctx context.Context, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) Init(ctx context.Context) error {
	return db.Migrate(ctx, embedsql.Schema)
}

// InTx runs fn against a Repo bound to one transaction. The transaction is
// committed when fn returns nil and rolled back otherwise. The change hook
// fires once after commit if fn wrote anything.
func (db *DB) InTx(ctx context.Context, fn func(r *Repo) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dirty := false
	r := db.newRepo(tx, func(context.Context) { dirty = true })
	if err := fn(r); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if dirty {
		db.triggerChange(ctx)
	}
	return nil
}

// Repo holds the SQL for every entity. It runs against either the pool or a
// single transaction.
type Repo struct {
	exec        executor
	clock       clock.Clock
	pageDefault int
	pageMax     int
	changed     func(ctx context.Context)
}

func (db *DB) newRepo(exec executor, changed func(ctx context.Context)) *Repo {
	return &Repo{
		exec:        exec,
		clock:       db.clock,
		pageDefault: db.pageDefault,
		pageMax:     db.pageMax,
		changed:     changed,
	}
}

func (r *Repo) now() time.Time {
	return r.clock.Now().UTC()
}

func (r *Repo) triggerChange(ctx context.Context) {
	if r.changed != nil {
		r.changed(ctx)
	}
}
