// Package history records worker jobs and retained results in sqlite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/you/tg-mediadl/internal/types"
)

const (
	driver = "sqlite3"

	ModeMemory = "memory"
	ModeRWC    = "rwc"
)

type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateError   State = "error"
)

type Kind string

const (
	KindDownload Kind = "download"
	KindTrim     Kind = "trim"
)

//go:embed migrations/*.sql
var migrations embed.FS

func OpenDBAndMigrate(filePath, mode string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?cache=shared&mode=%s&_foreign_keys=1&_busy_timeout=5000",
		filePath, mode,
	)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Worker goroutines share one connection; sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create new driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		return nil, fmt.Errorf("failed to create new migration manager: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to do database structure migration: %w", err)
	}
	return sqlx.NewDb(db, driver), nil
}

//nolint:govet // keep as it in .sql files
type Job struct {
	ID        string     `db:"id"`
	Kind      Kind       `db:"kind"`
	ChatID    int64      `db:"chat_id"`
	UserID    int64      `db:"user_id"`
	Target    string     `db:"target"`
	Format    string     `db:"format"`
	Title     string     `db:"title"`
	State     State      `db:"state"`
	Attempts  int        `db:"attempts"`
	Error     string     `db:"error"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DoneAt    *time.Time `db:"done_at"`
}

//nolint:govet // keep as it in .sql files
type Retained struct {
	ID        string          `db:"id"`
	JobID     string          `db:"job_id"`
	ChatID    int64           `db:"chat_id"`
	Path      string          `db:"path"`
	MediaType types.MediaType `db:"media_type"`
	Size      int64           `db:"size"`
	ModTimeNs int64           `db:"mod_time_ns"`
	// Unix seconds after which the file may be removed.
	ExpiresUnix int64     `db:"expires_unix"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r Retained) Expired(now time.Time) bool { return now.Unix() >= r.ExpiresUnix }

type Repository struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repository { return &Repository{db: db} }

// Begin records an attempt of job j and returns the job's stored state. A
// redelivered job keeps its state and only bumps the attempt counter.
func (r *Repository) Begin(ctx context.Context, j Job) (*Job, error) {
	job := &Job{}
	if err := r.db.GetContext(ctx, job, `
		insert into jobs (id, kind, chat_id, user_id, target, format, title)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (id) do update set attempts = attempts + 1, updated_at = current_timestamp
		returning *
	`,
		j.ID, j.Kind, j.ChatID, j.UserID, j.Target, j.Format, j.Title,
	); err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	return job, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	if err := r.db.GetContext(ctx, job, "select * from jobs where id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	return job, nil
}

func (r *Repository) SetTitle(ctx context.Context, id, title string) error {
	if _, err := r.db.ExecContext(ctx, "update jobs set title = $1 where id = $2", title, id); err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}
	return nil
}

func (r *Repository) Finish(ctx context.Context, id string, state State, jobErr error) error {
	doneAt := sql.NullTime{}
	if state == StateDone {
		doneAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	if _, err := r.db.ExecContext(ctx,
		"update jobs set state = $1, error = $2, updated_at = current_timestamp, done_at = $3 where id = $4",
		state, msg, doneAt, id,
	); err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}
	return nil
}

func (r *Repository) RecordRetained(ctx context.Context, ret Retained) error {
	if _, err := r.db.NamedExecContext(ctx, `
		insert into retained (id, job_id, chat_id, path, media_type, size, mod_time_ns, expires_unix)
		values (:id, :job_id, :chat_id, :path, :media_type, :size, :mod_time_ns, :expires_unix)
	`, ret); err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}
	return nil
}

func (r *Repository) GetRetained(ctx context.Context, id string) (*Retained, error) {
	ret := &Retained{}
	if err := r.db.GetContext(ctx, ret, "select * from retained where id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	return ret, nil
}

func (r *Repository) ExpiredRetained(ctx context.Context, now time.Time) ([]Retained, error) {
	out := make([]Retained, 0)
	if err := r.db.SelectContext(ctx, &out,
		"select * from retained where expires_unix <= $1 order by expires_unix", now.Unix(),
	); err != nil {
		return nil, fmt.Errorf("failed to select: %w", err)
	}
	return out, nil
}

func (r *Repository) DeleteRetained(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "delete from retained where id = $1", id); err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}
	return nil
}
