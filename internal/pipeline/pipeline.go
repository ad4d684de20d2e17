// Package pipeline runs scrape runs: every source is fetched, extracted,
// normalized and upserted on a bounded worker pool, and the outcome is
// collected into a run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mfenderov/bam-events/internal/events"
	"github.com/mfenderov/bam-events/internal/extract"
	"github.com/mfenderov/bam-events/internal/metrics"
	"github.com/mfenderov/bam-events/internal/normalize"
	"github.com/mfenderov/bam-events/internal/report"
	"github.com/mfenderov/bam-events/internal/scraper"
	"github.com/mfenderov/bam-events/internal/source"
	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/internal/telemetry"
	"github.com/mfenderov/bam-events/internal/writer"
	"github.com/mfenderov/bam-events/pkg/models"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoSources is returned when a run is started without enabled sources.
	ErrNoSources = errors.New("no sources to scrape")
	// ErrDuplicateSource is returned when two sources share a name.
	ErrDuplicateSource = errors.New("duplicate source name")
)

// emptyPageLimit is the number of consecutive empty listing pages after which
// paging stops.
const emptyPageLimit = 3

// Config holds run configuration.
type Config struct {
	Timeout       time.Duration // per request
	MaxRetries    int
	RetryBackoff  time.Duration
	Delay         time.Duration
	UserAgent     string
	MaxBodySize   int           // bytes, 0 for the fetcher default
	Concurrency   int           // sources processed at once
	SourceTimeout time.Duration // budget for one source, fetches and writes included
}

// Archiver stores raw documents and run summaries.
type Archiver interface {
	PutDocument(ctx context.Context, prefix, sourceName string, doc *scraper.Document) error
	PutSummary(ctx context.Context, prefix string, summary report.RunSummary) error
}

// Indexer makes written events searchable.
type Indexer interface {
	IndexEvent(ctx context.Context, ev models.Event) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchive stores every fetched document and the final summary under
// prefixFn(runID, startedAt).
func WithArchive(a Archiver, prefixFn func(runID string, startedAt time.Time) string) Option {
	return func(p *Pipeline) {
		p.archive = a
		p.archivePrefix = prefixFn
	}
}

// WithIndexer indexes inserted and updated events.
func WithIndexer(ix Indexer) Option {
	return func(p *Pipeline) { p.indexer = ix }
}

// WithMetrics records per-source and per-run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock sets the time source for timestamps and year-less dates.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline orchestrates the scraping, normalizing and writing flow.
type Pipeline struct {
	config     Config
	scraper    *scraper.Scraper
	normalizer *normalize.Normalizer
	writer     *writer.Writer
	now        func() time.Time

	// Optional sinks. Their failures are logged and never fail a run.
	archive       Archiver
	archivePrefix func(string, time.Time) string
	indexer       Indexer
	metrics       *metrics.Metrics
}

// New creates a new Pipeline writing to st.
func New(config Config, st store.Store, opts ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if config.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must not be negative, got %d", config.Concurrency)
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", config.MaxRetries)
	}
	if config.Concurrency == 0 {
		config.Concurrency = 4
	}
	if config.SourceTimeout == 0 {
		config.SourceTimeout = 5 * time.Minute
	}

	p := &Pipeline{config: config, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}

	p.scraper = scraper.New(scraper.Config{
		Timeout:      config.Timeout,
		MaxRetries:   config.MaxRetries,
		RetryBackoff: config.RetryBackoff,
		Delay:        config.Delay,
		Parallelism:  config.Concurrency,
		UserAgent:    config.UserAgent,
		MaxBodySize:  config.MaxBodySize,
	})
	p.normalizer = normalize.New(normalize.WithClock(p.now))
	p.writer = writer.New(st, p.now)
	return p, nil
}

// Run scrapes the enabled sources and returns the run summary. A summary is
// returned even when the run fails; the error is non-nil only when there is
// nothing to run, two sources share a name, or a store failure aborted the
// run.
func (p *Pipeline) Run(ctx context.Context, sources []source.Source) (report.RunSummary, error) {
	runID := uuid.NewString()
	startedAt := p.now()
	reporter := report.NewReporter(runID, startedAt)

	sources, err := enabledSources(sources)
	if err != nil {
		reporter.Finish(p.now())
		return reporter.Summary(), err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "scrape.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.sources", len(sources)),
	))
	defer span.End()

	var prefix string
	if p.archive != nil && p.archivePrefix != nil {
		prefix = p.archivePrefix(runID, startedAt)
	}

	slog.Info("Scrape run starting", "run_id", runID, "sources", len(sources), "concurrency", p.config.Concurrency)
	reporter.Start()

	// Workers hand finished reports to a single collector
	completed := make(chan events.SourceCompleteEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range completed {
			reporter.Record(ev.Report)
			if p.metrics != nil {
				p.metrics.ObserveSource(ev.Report)
			}
			if ev.Fatal != nil {
				reporter.Abort(ev.Fatal.Error())
			}
			slog.Info("Source finished",
				"source", ev.Report.Source,
				"state", ev.Report.State,
				"fetched", ev.Report.Fetched,
				"extracted", ev.Report.Extracted,
				"inserted", ev.Report.Inserted,
				"updated", ev.Report.Updated,
				"skipped", ev.Report.Skipped,
				"failed", ev.Report.Failed,
				"duration", ev.Report.Duration,
			)
		}
	}()

	wp := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(p.config.Concurrency)
	for _, src := range sources {
		wp.Go(func(ctx context.Context) error {
			sr, fatal := p.runSource(ctx, src, prefix)
			completed <- events.SourceCompleteEvent{Report: *sr, Fatal: fatal}
			return fatal
		})
	}
	runErr := wp.Wait()
	close(completed)
	<-done

	reporter.Finish(p.now())
	summary := reporter.Summary()

	if p.metrics != nil {
		p.metrics.ObserveRun(summary)
	}
	if prefix != "" {
		// The run context may already be cancelled; the summary is still archived.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := p.archive.PutSummary(actx, prefix, summary); err != nil {
			slog.Warn("Failed to archive run summary", "prefix", prefix, "error", err)
		}
		cancel()
	}

	span.SetAttributes(
		attribute.String("run.state", string(summary.State)),
		attribute.Int("run.inserted", summary.Totals.Inserted),
		attribute.Int("run.updated", summary.Totals.Updated),
	)

	if runErr != nil {
		var se *store.StoreError
		if errors.As(runErr, &se) {
			runErr = se
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run aborted")
		slog.Warn("Scrape run aborted", "run_id", runID, "error", runErr)
		return summary, fmt.Errorf("scrape run aborted: %w", runErr)
	}

	slog.Info("Scrape run complete", "run_id", runID, "inserted", summary.Totals.Inserted,
		"updated", summary.Totals.Updated, "failed_sources", summary.Totals.FailedSources)
	return summary, nil
}

// enabledSources drops disabled sources. Names must be unique across the
// whole list since the summary is keyed by source name.
func enabledSources(sources []source.Source) ([]source.Source, error) {
	names := make(map[string]bool, len(sources))
	var enabled []source.Source
	for _, src := range sources {
		if names[src.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSource, src.Name)
		}
		names[src.Name] = true
		if !src.Enabled {
			slog.Debug("Skipping disabled source", "source", src.Name)
			continue
		}
		enabled = append(enabled, src)
	}
	if len(enabled) == 0 {
		return nil, ErrNoSources
	}
	return enabled, nil
}

// transition moves sr to state, logging a rejected move.
func transition(sr *report.SourceReport, to report.State) {
	if err := sr.Transition(to); err != nil {
		slog.Debug("Ignored state transition", "source", sr.Source, "error", err)
	}
}

// runSource processes one source. The returned error is non-nil only for a
// store failure, which aborts the run.
func (p *Pipeline) runSource(ctx context.Context, src source.Source, prefix string) (*report.SourceReport, error) {
	sr := report.NewSourceReport(src.Name, src.URL, p.now())

	ctx, cancel := context.WithTimeout(ctx, p.config.SourceTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "scrape.source", trace.WithAttributes(
		attribute.String("source.name", src.Name),
		attribute.String("source.kind", string(src.Kind)),
	))
	defer span.End()

	fail := func(err error) {
		sr.AddError(err)
		sr.Finish(report.StateFailedSource, p.now())
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")
		slog.Warn("Source failed", "source", src.Name, "error", err)
	}

	ext, err := extract.ForKind(src.Kind)
	if err != nil {
		fail(err)
		return sr, nil
	}

	s := &sourceRun{p: p, src: src, sr: sr, prefix: prefix, seen: make(map[string]bool)}

	maxPages := max(src.MaxPages, 1)
	emptyPages := 0
	for page := 1; page <= maxPages; page++ {
		pageURL, err := scraper.PageURL(src.URL, page)
		if err != nil {
			fail(err)
			return sr, nil
		}

		transition(sr, report.StateFetchingSource)
		doc, err := p.scraper.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				fail(err)
				return sr, nil
			}
			sr.AddError(err)
			slog.Warn("Stopped paging after fetch error", "source", src.Name, "page", page, "error", err)
			break
		}
		sr.Pages++
		sr.Fetched++
		s.archiveDoc(ctx, doc)

		transition(sr, report.StateExtracting)
		seq, err := ext.Extract(doc, src)
		if err != nil {
			if page == 1 {
				fail(err)
				return sr, nil
			}
			sr.AddError(err)
			break
		}

		yielded, err := s.process(ctx, seq)
		if err != nil {
			fail(err)
			return sr, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			fail(fmt.Errorf("source %s interrupted: %w", src.Name, ctxErr))
			return sr, nil
		}

		if yielded == 0 {
			emptyPages++
			if emptyPages >= emptyPageLimit {
				slog.Debug("Stopped paging after empty pages", "source", src.Name, "page", page)
				break
			}
		} else {
			emptyPages = 0
		}
	}

	sr.Finish(report.StateDone, p.now())
	return sr, nil
}

// sourceRun is the per-source state owned by one worker.
type sourceRun struct {
	p      *Pipeline
	src    source.Source
	sr     *report.SourceReport
	prefix string
	seen   map[string]bool // canonical URLs already handled in this run
}

// process drains one document's candidates. It returns the number of items
// the extractor yielded and a non-nil error only for a store failure.
func (s *sourceRun) process(ctx context.Context, seq iter.Seq2[extract.Candidate, error]) (int, error) {
	yielded := 0
	for c, err := range seq {
		yielded++
		if err != nil {
			s.sr.Failed++
			s.sr.AddError(err)
			slog.Debug("Skipping malformed record", "source", s.src.Name, "error", err)
			continue
		}
		s.sr.Extracted++

		if key, err := normalize.CanonicalURL(c.SourceURL, s.src.KeepQuery); err == nil && s.seen[key] {
			s.sr.Skipped++
			slog.Debug("Skipping duplicate link", "source", s.src.Name, "url", key)
			continue
		}

		if s.src.FollowDetails && s.src.Kind == source.KindHTML && c.SourceURL != "" {
			merged, err := s.followDetail(ctx, c)
			if err != nil {
				s.sr.Failed++
				s.sr.AddError(err)
				if ctx.Err() != nil {
					return yielded, nil
				}
				continue
			}
			c = merged
		}

		transition(s.sr, report.StateNormalizing)
		draft, err := s.p.normalizer.Normalize(s.src, c)
		if err != nil {
			s.sr.Skipped++
			s.sr.AddError(err)
			slog.Debug("Rejected record", "source", s.src.Name, "error", err)
			continue
		}
		if s.seen[draft.SourceURL] {
			s.sr.Skipped++
			continue
		}
		s.seen[draft.SourceURL] = true

		transition(s.sr, report.StateWriting)
		res, err := s.p.writer.Upsert(ctx, draft)
		if err != nil {
			var se *store.StoreError
			if errors.As(err, &se) {
				return yielded, err
			}
			s.sr.Failed++
			s.sr.AddError(err)
			if ctx.Err() != nil {
				return yielded, nil
			}
			continue
		}

		switch res.Outcome {
		case writer.OutcomeInserted:
			s.sr.Inserted++
			s.index(ctx, res.Event)
		case writer.OutcomeUpdated:
			s.sr.Updated++
			slog.Debug("Updated event", "url", draft.SourceURL, "changed", res.Changed)
			s.index(ctx, res.Event)
		case writer.OutcomeUnchanged:
			s.sr.Unchanged++
		}
	}
	return yielded, nil
}

// followDetail fetches the candidate's event page and merges its fields.
func (s *sourceRun) followDetail(ctx context.Context, c extract.Candidate) (extract.Candidate, error) {
	doc, err := s.p.scraper.Fetch(ctx, c.SourceURL)
	if err != nil {
		return c, err
	}
	s.sr.Fetched++
	s.archiveDoc(ctx, doc)

	seq, err := extract.Detail{}.Extract(doc, s.src)
	if err != nil {
		return c, err
	}
	for detail, err := range seq {
		if err != nil {
			slog.Debug("Ignoring malformed detail fragment", "url", c.SourceURL, "error", err)
			continue
		}
		return extract.Merge(c, detail), nil
	}
	return c, nil
}

func (s *sourceRun) archiveDoc(ctx context.Context, doc *scraper.Document) {
	if s.p.archive == nil || s.prefix == "" {
		return
	}
	if err := s.p.archive.PutDocument(ctx, s.prefix, s.src.Name, doc); err != nil {
		slog.Warn("Failed to archive document", "url", doc.URL, "error", err)
	}
}

func (s *sourceRun) index(ctx context.Context, ev models.Event) {
	if s.p.indexer == nil {
		return
	}
	if err := s.p.indexer.IndexEvent(ctx, ev); err != nil {
		slog.Warn("Failed to index event", "url", ev.SourceURL, "error", err)
	}
}
