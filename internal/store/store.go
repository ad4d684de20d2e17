// Package store defines the persisted event store used by the ingestion
// pipeline and the read surfaces.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfenderov/bam-events/pkg/models"
)

var (
	// ErrNotFound is returned when no event matches a lookup.
	ErrNotFound = errors.New("event not found")
	// ErrConflict is returned by Insert when an event with the same source
	// URL already exists.
	ErrConflict = errors.New("event source url already exists")
)

// Tx is the set of operations available inside a transaction.
type Tx interface {
	FindBySourceURL(ctx context.Context, sourceURL string) (models.Event, error)
	Insert(ctx context.Context, e models.Event) error
	Update(ctx context.Context, e models.Event) error
}

// Store is an event store. Implementations enforce a unique source URL.
type Store interface {
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
	// ListAll returns every event ordered by date (undated last), then title.
	ListAll(ctx context.Context) ([]models.Event, error)
	// Get returns the event with the given ID.
	Get(ctx context.Context, id string) (models.Event, error)
	Close() error
}

// StoreError is an unexpected store failure. It aborts an ingestion run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
