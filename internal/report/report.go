// Package report accumulates per-source ingestion counts and produces the
// immutable summary of a run.
package report

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// State is the phase of a run or of one source's sub-run.
type State string

const (
	StateIdle           State = "idle"
	StateFetchingSource State = "fetching_source"
	StateExtracting     State = "extracting"
	StateNormalizing    State = "normalizing"
	StateWriting        State = "writing"
	StateDone           State = "done"
	StateFailedSource   State = "failed_source"
	StateAborted        State = "aborted"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailedSource || s == StateAborted
}

// maxErrors caps the error summaries kept per source.
const maxErrors = 50

// SourceReport holds the counts for one source. It is owned by a single
// worker until handed to the Reporter.
type SourceReport struct {
	Source    string        `json:"source" yaml:"source"`
	URL       string        `json:"url" yaml:"url"`
	State     State         `json:"state" yaml:"state"`
	Pages     int           `json:"pages" yaml:"pages"`
	Fetched   int           `json:"fetched" yaml:"fetched"`
	Extracted int           `json:"extracted" yaml:"extracted"`
	Inserted  int           `json:"inserted" yaml:"inserted"`
	Updated   int           `json:"updated" yaml:"updated"`
	Unchanged int           `json:"unchanged" yaml:"unchanged"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Failed    int           `json:"failed" yaml:"failed"`
	Errors    []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Dropped   int           `json:"errors_dropped,omitempty" yaml:"errors_dropped,omitempty"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// NewSourceReport starts a report for a source in the Idle state.
func NewSourceReport(name, url string, now time.Time) *SourceReport {
	return &SourceReport{Source: name, URL: url, State: StateIdle, StartedAt: now}
}

// Transition moves the report to state to. Terminal states are final and
// nothing returns to Idle.
func (r *SourceReport) Transition(to State) error {
	if r.State.Terminal() {
		return fmt.Errorf("source %s: transition %s -> %s after terminal state", r.Source, r.State, to)
	}
	if to == StateIdle {
		return fmt.Errorf("source %s: cannot return to %s", r.Source, StateIdle)
	}
	r.State = to
	return nil
}

// AddError records an error summary. Beyond maxErrors only a count is kept.
func (r *SourceReport) AddError(err error) {
	if err == nil {
		return
	}
	if len(r.Errors) >= maxErrors {
		r.Dropped++
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// Finish stamps the duration and moves to the terminal state.
func (r *SourceReport) Finish(state State, now time.Time) {
	if !r.State.Terminal() {
		r.State = state
	}
	r.Duration = now.Sub(r.StartedAt)
}

// Written is the number of records that reached the store.
func (r SourceReport) Written() int {
	return r.Inserted + r.Updated + r.Unchanged
}

func (r SourceReport) clone() SourceReport {
	r.Errors = slices.Clone(r.Errors)
	return r
}

// Totals sums counts over all sources.
type Totals struct {
	Sources       int `json:"sources" yaml:"sources"`
	FailedSources int `json:"failed_sources" yaml:"failed_sources"`
	Pages         int `json:"pages" yaml:"pages"`
	Fetched       int `json:"fetched" yaml:"fetched"`
	Extracted     int `json:"extracted" yaml:"extracted"`
	Inserted      int `json:"inserted" yaml:"inserted"`
	Updated       int `json:"updated" yaml:"updated"`
	Unchanged     int `json:"unchanged" yaml:"unchanged"`
	Skipped       int `json:"skipped" yaml:"skipped"`
	Failed        int `json:"failed" yaml:"failed"`
}

// RunSummary is the immutable result of a run. Sources are sorted by name.
type RunSummary struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	State       State          `json:"state" yaml:"state"`
	AbortReason string         `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	Duration    time.Duration  `json:"duration" yaml:"duration"`
	Sources     []SourceReport `json:"sources" yaml:"sources"`
	Totals      Totals         `json:"totals" yaml:"totals"`
}

// Source returns the report for the named source.
func (s RunSummary) Source(name string) (SourceReport, bool) {
	for _, r := range s.Sources {
		if r.Source == name {
			return r, true
		}
	}
	return SourceReport{}, false
}

// String renders a one-line-per-source human summary.
func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s %s in %s: %d sources, %d failed\n",
		s.RunID, s.State, s.Duration.Round(time.Millisecond), s.Totals.Sources, s.Totals.FailedSources)
	for _, r := range s.Sources {
		fmt.Fprintf(&b, "  %-20s %-13s fetched=%d extracted=%d written=%d (inserted=%d updated=%d unchanged=%d) skipped=%d failed=%d\n",
			r.Source, r.State, r.Fetched, r.Extracted, r.Written(), r.Inserted, r.Updated, r.Unchanged, r.Skipped, r.Failed)
	}
	return b.String()
}

// Reporter collects finished source reports. It is safe for concurrent use.
type Reporter struct {
	mu          sync.Mutex
	runID       string
	state       State
	abortReason string
	startedAt   time.Time
	finishedAt  time.Time
	sources     map[string]SourceReport
}

func NewReporter(runID string, now time.Time) *Reporter {
	return &Reporter{
		runID:     runID,
		state:     StateIdle,
		startedAt: now,
		sources:   make(map[string]SourceReport),
	}
}

// Record stores a finished source report. A later report for the same
// source replaces the earlier one.
func (r *Reporter) Record(sr SourceReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[sr.Source] = sr.clone()
}

// Abort marks the whole run as aborted. The first reason wins.
func (r *Reporter) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateAborted {
		r.state = StateAborted
		r.abortReason = reason
	}
}

// Start leaves Idle. Until Finish the run state is FetchingSource.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateIdle {
		r.state = StateFetchingSource
	}
}

// Finish stamps the end of the run. A run that was not aborted returns to
// Idle.
func (r *Reporter) Finish(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = now
	if r.state != StateAborted {
		r.state = StateIdle
	}
}

// Summary returns a deep copy of the run so far.
func (r *Reporter) Summary() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RunSummary{
		RunID:       r.runID,
		State:       r.state,
		AbortReason: r.abortReason,
		StartedAt:   r.startedAt,
		Sources:     make([]SourceReport, 0, len(r.sources)),
	}
	if !r.finishedAt.IsZero() {
		s.Duration = r.finishedAt.Sub(r.startedAt)
	}
	for _, sr := range r.sources {
		s.Sources = append(s.Sources, sr.clone())
	}
	slices.SortFunc(s.Sources, func(a, b SourceReport) int {
		return strings.Compare(a.Source, b.Source)
	})

	for _, sr := range s.Sources {
		t := &s.Totals
		t.Sources++
		if sr.State == StateFailedSource {
			t.FailedSources++
		}
		t.Pages += sr.Pages
		t.Fetched += sr.Fetched
		t.Extracted += sr.Extracted
		t.Inserted += sr.Inserted
		t.Updated += sr.Updated
		t.Unchanged += sr.Unchanged
		t.Skipped += sr.Skipped
		t.Failed += sr.Failed
	}
	return s
}
