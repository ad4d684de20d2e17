// Package sqlite provides a SQLite-backed event store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/internal/store/sqlite/migrations"
	"github.com/mfenderov/bam-events/pkg/models"
)

// Store persists events in SQLite. It holds a single connection, so
// transactions from concurrent workers are serialized.
type Store struct {
	sqlDB *sql.DB
}

const eventColumns = `id, title, date_text, date_at, location, organizer, description, price,
	source_url, scraped_at, created_at, updated_at`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite event store and applies embedded migrations. The
// parent directory is created if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// InTx runs fn inside a transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListAll returns every event ordered by date, undated events last.
func (s *Store) ListAll(ctx context.Context) ([]models.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY date_at IS NULL, date_at, title, source_url`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Get returns one event by ID.
func (s *Store) Get(ctx context.Context, id string) (models.Event, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Event{}, store.ErrNotFound
		}
		return models.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) FindBySourceURL(ctx context.Context, sourceURL string) (models.Event, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE source_url = ?`, sourceURL)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Event{}, store.ErrNotFound
		}
		return models.Event{}, fmt.Errorf("find event by source url: %w", err)
	}
	return e, nil
}

func (t *txStore) Insert(ctx context.Context, e models.Event) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.DateText, dateMillis(e.Date), e.Location, e.Organizer, e.Description, e.Price,
		e.SourceURL, toMillis(e.ScrapedAt), toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *txStore) Update(ctx context.Context, e models.Event) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET title = ?, date_text = ?, date_at = ?, location = ?, organizer = ?,
		   description = ?, price = ?, scraped_at = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.DateText, dateMillis(e.Date), e.Location, e.Organizer,
		e.Description, e.Price, toMillis(e.ScrapedAt), toMillis(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (models.Event, error) {
	var (
		e                               models.Event
		dateAt                          sql.NullInt64
		scrapedAt, createdAt, updatedAt int64
	)
	if err := row.Scan(
		&e.ID, &e.Title, &e.DateText, &dateAt, &e.Location, &e.Organizer, &e.Description, &e.Price,
		&e.SourceURL, &scrapedAt, &createdAt, &updatedAt,
	); err != nil {
		return models.Event{}, err
	}
	if dateAt.Valid {
		d := fromMillis(dateAt.Int64)
		e.Date = &d
	}
	e.ScrapedAt = fromMillis(scrapedAt)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return e, nil
}

func dateMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ store.Store = (*Store)(nil)
