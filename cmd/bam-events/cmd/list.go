package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/mfenderov/bam-events/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	listFormat   string
	listLimit    int
	listUpcoming bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored events",
	Long: `List the events in the store, ordered by date then title.
Events without a parseable date come last.

Examples:
  # Human-readable listing
  bam-events list

  # Only events that have not happened yet
  bam-events list --upcoming

  # YAML output for scripting
  bam-events list --format yaml`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listFormat, "format", "text", "Output format: text, json or yaml")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of events (0 for all)")
	listCmd.Flags().BoolVar(&listUpcoming, "upcoming", false, "Only events dated today or later")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	now := time.Now()
	events = filterEvents(events, listUpcoming, listLimit, now)
	return writeEvents(cmd.OutOrStdout(), events, listFormat, now)
}

// filterEvents drops past events when upcoming is set and applies limit.
// Undated events are kept since their date is unknown.
func filterEvents(events []models.Event, upcoming bool, limit int, now time.Time) []models.Event {
	if upcoming {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		var kept []models.Event
		for _, ev := range events {
			if ev.Date == nil || !ev.Date.Before(today) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

func writeEvents(w io.Writer, events []models.Event, format string, now time.Time) error {
	switch format {
	case "json":
		output, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(output))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(events); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		if len(events) == 0 {
			fmt.Fprintln(w, "No events found.")
			return nil
		}
		fmt.Fprintf(w, "%s:\n\n", english.Plural(len(events), "event", "events"))
		for _, ev := range events {
			printEvent(w, ev, now)
		}
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
	return nil
}

func printEvent(w io.Writer, ev models.Event, now time.Time) {
	fmt.Fprintf(w, "─── %s ───\n", ev.Title)
	when := ev.DateText
	if ev.Date != nil {
		when = fmt.Sprintf("%s (%s)", ev.Date.Format("Mon Jan 2 2006"), humanize.RelTime(*ev.Date, now, "ago", "from now"))
	}
	if when != "" {
		fmt.Fprintf(w, "When:      %s\n", when)
	}
	if ev.Location != "" {
		fmt.Fprintf(w, "Where:     %s\n", ev.Location)
	}
	if ev.Organizer != "" {
		fmt.Fprintf(w, "Organizer: %s\n", ev.Organizer)
	}
	if ev.Price != "" {
		fmt.Fprintf(w, "Price:     %s\n", ev.Price)
	}
	fmt.Fprintf(w, "URL:       %s\n", ev.SourceURL)
	fmt.Fprintf(w, "Scraped:   %s\n\n", humanize.RelTime(ev.ScrapedAt, now, "ago", "from now"))
}
