// Package writer upserts normalized events into the store, keyed by
// canonical source URL.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/pkg/models"
)

// Outcome is the effect of one upsert.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Result describes a completed upsert.
type Result struct {
	Outcome Outcome
	Event   models.Event
	Changed []string // fields that differed, for OutcomeUpdated
}

// Writer performs idempotent upserts.
type Writer struct {
	store store.Store
	now   func() time.Time
}

// New returns a Writer over s. A nil clock means time.Now.
func New(s store.Store, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{store: s, now: now}
}

// Upsert inserts d, updates the stored event when any content field differs,
// or does nothing. A unique-constraint conflict from a concurrent insert is
// retried once and then resolves as an update or a no-op.
//
// Store failures are returned as *store.StoreError, except when ctx is done,
// in which case the context error is returned.
func (w *Writer) Upsert(ctx context.Context, d models.Draft) (Result, error) {
	res, err := w.upsertOnce(ctx, d)
	if errors.Is(err, store.ErrConflict) {
		slog.Debug("Insert conflicted, retrying as update", "url", d.SourceURL)
		res, err = w.upsertOnce(ctx, d)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("write %s: %w", d.SourceURL, ctxErr)
		}
		return Result{}, &store.StoreError{Op: "upsert " + d.SourceURL, Err: err}
	}
	return res, nil
}

func (w *Writer) upsertOnce(ctx context.Context, d models.Draft) (Result, error) {
	var res Result
	err := w.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindBySourceURL(ctx, d.SourceURL)
		switch {
		case errors.Is(err, store.ErrNotFound):
			ev := models.NewEvent(d, w.now())
			if err := tx.Insert(ctx, ev); err != nil {
				return err
			}
			res = Result{Outcome: OutcomeInserted, Event: ev}
			return nil
		case err != nil:
			return err
		}

		changed := existing.Diff(d)
		if len(changed) == 0 {
			res = Result{Outcome: OutcomeUnchanged, Event: existing}
			return nil
		}
		ev := existing.Apply(d, w.now())
		if err := tx.Update(ctx, ev); err != nil {
			return err
		}
		res = Result{Outcome: OutcomeUpdated, Event: ev, Changed: changed}
		return nil
	})
	return res, err
}
