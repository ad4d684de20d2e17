// Package postgres provides a PostgreSQL-backed event store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/internal/store/postgres/migrations"
	"github.com/mfenderov/bam-events/pkg/models"
)

const uniqueViolation = "23505"

const eventColumns = `id, title, date_text, date_at, location, organizer, description, price,
	source_url, scraped_at, created_at, updated_at`

// Store persists events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and applies embedded migrations.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// InTx runs fn inside a transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// ListAll returns every event ordered by date, undated events last.
func (s *Store) ListAll(ctx context.Context) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY date_at ASC NULLS LAST, title, source_url`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Get returns one event by ID.
func (s *Store) Get(ctx context.Context, id string) (models.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Event{}, store.ErrNotFound
		}
		return models.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

type txStore struct {
	tx pgx.Tx
}

// FindBySourceURL locks the matching row until the transaction ends.
func (t *txStore) FindBySourceURL(ctx context.Context, sourceURL string) (models.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source_url = $1 FOR UPDATE`, sourceURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Event{}, store.ErrNotFound
		}
		return models.Event{}, fmt.Errorf("find event by source url: %w", err)
	}
	return e, nil
}

func (t *txStore) Insert(ctx context.Context, e models.Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Title, e.DateText, e.Date, e.Location, e.Organizer, e.Description, e.Price,
		e.SourceURL, e.ScrapedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *txStore) Update(ctx context.Context, e models.Event) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET title = $1, date_text = $2, date_at = $3, location = $4, organizer = $5,
		   description = $6, price = $7, scraped_at = $8, updated_at = $9
		 WHERE id = $10`,
		e.Title, e.DateText, e.Date, e.Location, e.Organizer,
		e.Description, e.Price, e.ScrapedAt, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (models.Event, error) {
	var (
		e      models.Event
		dateAt *time.Time
	)
	if err := row.Scan(
		&e.ID, &e.Title, &e.DateText, &dateAt, &e.Location, &e.Organizer, &e.Description, &e.Price,
		&e.SourceURL, &e.ScrapedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return models.Event{}, err
	}
	if dateAt != nil {
		d := dateAt.UTC()
		e.Date = &d
	}
	e.ScrapedAt = e.ScrapedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// applyMigrations executes the embedded .sql files in name order, each at
// most once, recording them in schema_migrations.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range sqlFiles {
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := upSection(string(content))

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, now()) ON CONFLICT (name) DO NOTHING`, file)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, upSQL)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}

var _ store.Store = (*Store)(nil)
