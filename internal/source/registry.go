// Package source holds the configured event sources. A Registry is built
// once from configuration and is read-only afterwards.
package source

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/mfenderov/bam-events/internal/config"
)

// Kind selects the extraction strategy for a source.
type Kind string

const (
	KindHTML      Kind = "html"       // listing page of event cards
	KindHTMLEvent Kind = "html-event" // single event page
	KindJSONLD    Kind = "jsonld"     // schema.org Event JSON-LD
)

// Kinds lists every supported extraction strategy.
var Kinds = []Kind{KindHTML, KindHTMLEvent, KindJSONLD}

// Selectors are ordered CSS selector lists. Empty lists fall back to the
// extractor defaults.
type Selectors struct {
	Card        []string
	Title       []string
	Date        []string
	Location    []string
	Description []string
	Organizer   []string
	Price       []string
}

// Source is a configured origin from which events are fetched.
type Source struct {
	Name          string
	URL           string
	Kind          Kind
	Enabled       bool
	MaxPages      int
	FollowDetails bool
	LinkContains  string
	KeepQuery     []string
	Selectors     Selectors
}

// Registry is an immutable, name-indexed set of sources.
type Registry struct {
	sources []Source
	byName  map[string]int
}

// NewRegistry validates the configured sources and builds a registry.
func NewRegistry(cfgs []config.Source) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(cfgs))}
	for i, c := range cfgs {
		src, err := fromConfig(c)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if _, dup := r.byName[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		r.byName[src.Name] = len(r.sources)
		r.sources = append(r.sources, src)
	}
	return r, nil
}

// Adhoc builds a single enabled source for a URL given on the command line.
func Adhoc(rawURL string, kind Kind) (Source, error) {
	u, err := parseSourceURL(rawURL)
	if err != nil {
		return Source{}, err
	}
	return fromConfig(config.Source{Name: u.Host, URL: rawURL, Kind: string(kind)})
}

func fromConfig(c config.Source) (Source, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Source{}, fmt.Errorf("name is required")
	}
	if _, err := parseSourceURL(c.URL); err != nil {
		return Source{}, fmt.Errorf("source %q: %w", name, err)
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(c.Kind)))
	if kind == "" {
		kind = KindHTML
	}
	if !slices.Contains(Kinds, kind) {
		return Source{}, fmt.Errorf("source %q: unknown kind %q", name, c.Kind)
	}

	maxPages := c.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	return Source{
		Name:          name,
		URL:           strings.TrimSpace(c.URL),
		Kind:          kind,
		Enabled:       c.IsEnabled(),
		MaxPages:      maxPages,
		FollowDetails: c.FollowDetails,
		LinkContains:  c.LinkContains,
		KeepQuery:     slices.Clone(c.KeepQuery),
		Selectors: Selectors{
			Card:        slices.Clone(c.Selectors.Card),
			Title:       slices.Clone(c.Selectors.Title),
			Date:        slices.Clone(c.Selectors.Date),
			Location:    slices.Clone(c.Selectors.Location),
			Description: slices.Clone(c.Selectors.Description),
			Organizer:   slices.Clone(c.Selectors.Organizer),
			Price:       slices.Clone(c.Selectors.Price),
		},
	}, nil
}

func parseSourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute http(s)", raw)
	}
	return u, nil
}

// Len returns the number of configured sources, enabled or not.
func (r *Registry) Len() int {
	return len(r.sources)
}

// All returns every configured source in configuration order.
func (r *Registry) All() []Source {
	return slices.Clone(r.sources)
}

// Enabled returns the sources that should run, in configuration order.
func (r *Registry) Enabled() []Source {
	var out []Source
	for _, s := range r.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the source with the given name.
func (r *Registry) Get(name string) (Source, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Source{}, false
	}
	return r.sources[i], true
}
