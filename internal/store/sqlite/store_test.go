package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/pkg/models"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestInsertFindRoundTrip(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.July, 1, 10, 0, 0, 0, time.UTC)
	date := time.Date(2026, time.July, 5, 19, 0, 0, 0, time.UTC)

	ev := models.NewEvent(models.Draft{
		Title:     "Jazz Night",
		DateText:  "July 5",
		Date:      &date,
		Location:  "Blue Frog",
		Price:     "Free",
		SourceURL: "https://x.com/e/jazz-night-1",
	}, now)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.Insert(ctx, ev)
	}))

	var got models.Event
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = tx.FindBySourceURL(ctx, ev.SourceURL)
		return err
	}))
	assert.Equal(t, ev, got)

	byID, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, byID)
}

func TestFindBySourceURL_NotFound(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindBySourceURL(ctx, "https://x.com/missing")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsert_DuplicateSourceURLIsConflict(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	now := time.Now()
	d := models.Draft{Title: "A", SourceURL: "https://x.com/e/1"}

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.Insert(ctx, models.NewEvent(d, now))
	}))
	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.Insert(ctx, models.NewEvent(d, now))
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	events, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpdate(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	created := time.Date(2026, time.July, 1, 10, 0, 0, 0, time.UTC)
	ev := models.NewEvent(models.Draft{Title: "Jazz", SourceURL: "https://x.com/e/1"}, created)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.Insert(ctx, ev) }))

	later := created.Add(time.Hour)
	updated := ev.Apply(models.Draft{Title: "Jazz Night", Price: "$10", SourceURL: ev.SourceURL}, later)
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.Update(ctx, updated) }))

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jazz Night", got.Title)
	assert.Equal(t, "$10", got.Price)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, later, got.UpdatedAt)
	assert.Equal(t, later, got.ScrapedAt)

	missing := updated
	missing.ID = models.NewEventID()
	err = s.InTx(ctx, func(tx store.Tx) error { return tx.Update(ctx, missing) })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Insert(ctx, models.NewEvent(models.Draft{Title: "A", SourceURL: "https://x.com/e/1"}, time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	events, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListAll_OrderedByDateThenTitle(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	now := time.Now()
	d1 := time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	drafts := []models.Draft{
		{Title: "Undated", SourceURL: "https://x.com/e/4"},
		{Title: "B later", Date: &d2, SourceURL: "https://x.com/e/3"},
		{Title: "Z early", Date: &d1, SourceURL: "https://x.com/e/2"},
		{Title: "A early", Date: &d1, SourceURL: "https://x.com/e/1"},
	}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for _, d := range drafts {
			if err := tx.Insert(ctx, models.NewEvent(d, now)); err != nil {
				return err
			}
		}
		return nil
	}))

	events, err := s.ListAll(ctx)
	require.NoError(t, err)
	var titles []string
	for _, e := range events {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"A early", "Z early", "B later", "Undated"}, titles)
}

func TestInTx_ConcurrentInsertsOfSameURL(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()
	d := models.Draft{Title: "Jazz", SourceURL: "https://x.com/e/1"}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.InTx(ctx, func(tx store.Tx) error {
				_, err := tx.FindBySourceURL(ctx, d.SourceURL)
				if errors.Is(err, store.ErrNotFound) {
					return tx.Insert(ctx, models.NewEvent(d, time.Now()))
				}
				return err
			})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	events, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
