// Package extract turns raw fetched documents into candidate event records.
//
// Extractors return a lazy, single-pass sequence. A malformed fragment is
// yielded as an error and the sequence continues with the next fragment; a
// document that cannot be parsed at all fails up front with *ExtractError.
package extract

import (
	"bytes"
	"fmt"
	"iter"
	"mime"
	"net/http"
	"strings"

	"github.com/mfenderov/bam-events/internal/scraper"
	"github.com/mfenderov/bam-events/internal/source"
)

// Candidate is an unvalidated, unnormalized event record.
type Candidate struct {
	Title           string
	DateText        string
	Location        string
	Organizer       string
	Price           string
	Description     string // plain text
	DescriptionHTML string // markup, converted by the normalizer when Description is empty
	SourceURL       string
}

// Extractor parses one document from a source into candidates.
type Extractor interface {
	Extract(doc *scraper.Document, src source.Source) (iter.Seq2[Candidate, error], error)
}

// ExtractError reports a document that could not be parsed at all.
type ExtractError struct {
	URL string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ForKind returns the extractor for a source kind.
func ForKind(kind source.Kind) (Extractor, error) {
	switch kind {
	case source.KindHTML:
		return Listing{}, nil
	case source.KindHTMLEvent:
		return Detail{}, nil
	case source.KindJSONLD:
		return JSONLD{}, nil
	default:
		return nil, fmt.Errorf("no extractor for kind %q", kind)
	}
}

// Merge fills empty fields of listing from detail. The listing's SourceURL
// is kept so the dedup key does not depend on the detail page markup.
func Merge(listing, detail Candidate) Candidate {
	out := listing
	if detail.Title != "" {
		out.Title = detail.Title
	}
	fill := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	fill(&out.DateText, detail.DateText)
	fill(&out.Location, detail.Location)
	fill(&out.Organizer, detail.Organizer)
	fill(&out.Price, detail.Price)
	fill(&out.Description, detail.Description)
	fill(&out.DescriptionHTML, detail.DescriptionHTML)
	if out.SourceURL == "" {
		out.SourceURL = detail.SourceURL
	}
	return out
}

type docType int

const (
	docUnknown docType = iota
	docHTML
	docJSON
)

// classify decides how to parse a document from its Content-Type header,
// sniffing the body when the header is missing.
func classify(doc *scraper.Document) docType {
	ct := doc.ContentType
	if ct == "" {
		trimmed := bytes.TrimSpace(doc.Body)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			return docJSON
		}
		ct = http.DetectContentType(doc.Body)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return docHTML
	case mediaType == "application/json", mediaType == "application/ld+json", strings.HasSuffix(mediaType, "+json"):
		return docJSON
	}
	return docUnknown
}

func isEmpty(doc *scraper.Document) bool {
	return len(bytes.TrimSpace(doc.Body)) == 0
}

func emptySeq(yield func(Candidate, error) bool) {}
