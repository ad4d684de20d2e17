// Package normalize turns extracted candidates into validated drafts ready
// for the store.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mfenderov/bam-events/internal/extract"
	"github.com/mfenderov/bam-events/internal/processor"
	"github.com/mfenderov/bam-events/internal/source"
	"github.com/mfenderov/bam-events/pkg/models"
)

// ValidationError reports a candidate that cannot become an event.
type ValidationError struct {
	Field  string
	Reason string
	URL    string
}

func (e *ValidationError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("invalid event %s: %s %s", e.URL, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// Normalizer cleans candidates. The zero value is not usable; call New.
type Normalizer struct {
	proc *processor.Processor
	now  func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the time source used for year-less dates.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{proc: processor.New(), now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates and cleans a candidate from src.
func (n *Normalizer) Normalize(src source.Source, c extract.Candidate) (models.Draft, error) {
	rawURL := strings.TrimSpace(c.SourceURL)
	title := CleanText(c.Title, MaxTitle)

	if rawURL == "" {
		return models.Draft{}, &ValidationError{Field: "source_url", Reason: "is empty"}
	}
	canonical, err := CanonicalURL(rawURL, src.KeepQuery)
	if err != nil {
		return models.Draft{}, &ValidationError{Field: "source_url", Reason: err.Error(), URL: rawURL}
	}
	if title == "" {
		return models.Draft{}, &ValidationError{Field: "title", Reason: "is empty", URL: canonical}
	}

	d := models.Draft{
		Title:       title,
		DateText:    CleanText(c.DateText, MaxDateText),
		Location:    CleanText(c.Location, MaxLocation),
		Organizer:   CleanText(c.Organizer, MaxOrganizer),
		Price:       CleanText(c.Price, MaxPrice),
		Description: n.description(c),
		SourceURL:   canonical,
	}
	if t, ok := ParseDate(d.DateText, n.now()); ok {
		d.Date = &t
	}
	return d, nil
}

func (n *Normalizer) description(c extract.Candidate) string {
	if strings.TrimSpace(c.Description) != "" || strings.TrimSpace(c.DescriptionHTML) == "" {
		return CleanBlock(c.Description, MaxDescription)
	}
	md, err := n.proc.Convert(c.DescriptionHTML)
	if err != nil {
		slog.Debug("Markdown conversion failed, using plain text", "url", c.SourceURL, "error", err)
		return CleanText(n.proc.Text(c.DescriptionHTML), MaxDescription)
	}
	return CleanBlock(md, MaxDescription)
}
