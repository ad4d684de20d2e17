package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a persisted event row. SourceURL is the canonical dedup key.
type Event struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	DateText    string     `json:"date_text,omitempty" yaml:"date_text,omitempty"`
	Date        *time.Time `json:"date,omitempty" yaml:"date,omitempty"`
	Location    string     `json:"location,omitempty" yaml:"location,omitempty"`
	Organizer   string     `json:"organizer,omitempty" yaml:"organizer,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Price       string     `json:"price,omitempty" yaml:"price,omitempty"`
	SourceURL   string     `json:"source_url" yaml:"source_url"`
	ScrapedAt   time.Time  `json:"scraped_at" yaml:"scraped_at"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Draft is a normalized, validated event that has not been written yet.
// Title and SourceURL are never empty.
type Draft struct {
	Title       string
	DateText    string
	Date        *time.Time
	Location    string
	Organizer   string
	Description string
	Price       string
	SourceURL   string
}

// Field names reported by Diff.
const (
	FieldTitle       = "title"
	FieldDateText    = "date_text"
	FieldDate        = "date"
	FieldLocation    = "location"
	FieldOrganizer   = "organizer"
	FieldDescription = "description"
	FieldPrice       = "price"
)

// NewEventID returns a fresh random event ID.
func NewEventID() string {
	return uuid.NewString()
}

// NewEvent builds a new Event from a draft, stamping all timestamps with now.
func NewEvent(d Draft, now time.Time) Event {
	now = now.UTC()
	return Event{
		ID:          NewEventID(),
		Title:       d.Title,
		DateText:    d.DateText,
		Date:        cloneTime(d.Date),
		Location:    d.Location,
		Organizer:   d.Organizer,
		Description: d.Description,
		Price:       d.Price,
		SourceURL:   d.SourceURL,
		ScrapedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Diff returns the names of content fields where the draft differs from e.
// An empty result means a write would be a no-op.
func (e Event) Diff(d Draft) []string {
	var changed []string
	if e.Title != d.Title {
		changed = append(changed, FieldTitle)
	}
	if e.DateText != d.DateText {
		changed = append(changed, FieldDateText)
	}
	if !sameDate(e.Date, d.Date) {
		changed = append(changed, FieldDate)
	}
	if e.Location != d.Location {
		changed = append(changed, FieldLocation)
	}
	if e.Organizer != d.Organizer {
		changed = append(changed, FieldOrganizer)
	}
	if e.Description != d.Description {
		changed = append(changed, FieldDescription)
	}
	if e.Price != d.Price {
		changed = append(changed, FieldPrice)
	}
	return changed
}

// Apply copies the draft's content fields onto e and bumps ScrapedAt and
// UpdatedAt. ID, SourceURL and CreatedAt are left untouched.
func (e Event) Apply(d Draft, now time.Time) Event {
	now = now.UTC()
	e.Title = d.Title
	e.DateText = d.DateText
	e.Date = cloneTime(d.Date)
	e.Location = d.Location
	e.Organizer = d.Organizer
	e.Description = d.Description
	e.Price = d.Price
	e.ScrapedAt = now
	e.UpdatedAt = now
	return e
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
