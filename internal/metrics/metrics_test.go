package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mfenderov/bam-events/internal/report"
)

func TestObserveSource(t *testing.T) {
	m := New()

	m.ObserveSource(report.SourceReport{
		Source:   "alpha",
		State:    report.StateDone,
		Fetched:  2,
		Inserted: 3,
		Skipped:  1,
		Duration: time.Second,
	})
	m.ObserveSource(report.SourceReport{Source: "beta", State: report.StateFailedSource})

	if got := testutil.ToFloat64(m.records.WithLabelValues("alpha", "inserted")); got != 3 {
		t.Errorf("inserted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.fetches.WithLabelValues("alpha")); got != 2 {
		t.Errorf("fetched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sourceState.WithLabelValues("beta")); got != 1 {
		t.Errorf("beta failed gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sourceState.WithLabelValues("alpha")); got != 0 {
		t.Errorf("alpha failed gauge = %v, want 0", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveSource(report.SourceReport{Source: "alpha", State: report.StateDone, Inserted: 1})
	m.ObserveRun(report.RunSummary{StartedAt: time.Unix(1000, 0), Duration: 5 * time.Second})

	path := filepath.Join(t.TempDir(), "textfile", "bam_events.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`bam_events_records_total{outcome="inserted",source="alpha"} 1`,
		`bam_events_last_run_timestamp_seconds 1005`,
		`bam_events_last_run_duration_seconds 5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}
