package extract

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mfenderov/bam-events/internal/processor"
	"github.com/mfenderov/bam-events/internal/scraper"
	"github.com/mfenderov/bam-events/internal/source"
)

var errNoLink = errors.New("card has no usable link")

// Listing extracts event cards from a listing page. Each card yields its
// link and whatever fields the card itself shows.
type Listing struct{}

func (Listing) Extract(doc *scraper.Document, src source.Source) (iter.Seq2[Candidate, error], error) {
	if isEmpty(doc) {
		return emptySeq, nil
	}
	gdoc, base, err := parseHTML(doc)
	if err != nil {
		return nil, err
	}

	cards := firstMatch(gdoc.Selection, selectorsOr(src.Selectors.Card, DefaultCardSelectors))

	return func(yield func(Candidate, error) bool) {
		if cards == nil {
			return
		}
		seen := make(map[string]bool)
		cards.EachWithBreak(func(i int, card *goquery.Selection) bool {
			link, err := cardLink(card, base)
			if err != nil {
				return yield(Candidate{}, fmt.Errorf("card %d: %w", i, err))
			}
			if src.LinkContains != "" && !strings.Contains(link, src.LinkContains) {
				return true
			}
			if seen[link] {
				return true
			}
			seen[link] = true

			c := Candidate{
				Title:     cardTitle(card, src.Selectors.Title),
				DateText:  firstText(card, selectorsOr(src.Selectors.Date, DefaultDateSelectors)),
				Location:  firstText(card, selectorsOr(src.Selectors.Location, DefaultLocationSelectors)),
				Price:     firstText(card, selectorsOr(src.Selectors.Price, DefaultPriceSelectors)),
				SourceURL: link,
			}
			return yield(c, nil)
		})
	}, nil
}

// Detail extracts a single event from an event page. JSON-LD is preferred;
// CSS selectors fill whatever it leaves empty.
type Detail struct{}

func (Detail) Extract(doc *scraper.Document, src source.Source) (iter.Seq2[Candidate, error], error) {
	if isEmpty(doc) {
		return emptySeq, nil
	}
	gdoc, base, err := parseHTML(doc)
	if err != nil {
		return nil, err
	}

	return func(yield func(Candidate, error) bool) {
		var c Candidate
		for r, err := range scriptEvents(gdoc, base) {
			if err != nil {
				if !yield(Candidate{}, err) {
					return
				}
				continue
			}
			c = r
			break
		}

		root := gdoc.Selection
		sel := src.Selectors
		fromCSS := Candidate{
			Title:     firstText(root, selectorsOr(sel.Title, DefaultTitleSelectors)),
			DateText:  firstText(root, selectorsOr(sel.Date, DefaultDateSelectors)),
			Location:  firstText(root, selectorsOr(sel.Location, DefaultLocationSelectors)),
			Organizer: firstText(root, selectorsOr(sel.Organizer, DefaultOrganizerSelectors)),
			Price:     firstText(root, selectorsOr(sel.Price, DefaultPriceSelectors)),
		}
		if c.Description == "" {
			fromCSS.DescriptionHTML = firstHTML(root, selectorsOr(sel.Description, DefaultDescriptionSelectors))
		}
		c = fillEmpty(c, fromCSS)

		if c.Title == "" {
			c.Title = processor.New().ExtractTitle(string(doc.Body))
		}
		if c.SourceURL == "" {
			c.SourceURL = canonicalLink(gdoc, base)
		}
		if c.SourceURL == "" {
			c.SourceURL = doc.URL
		}
		yield(c, nil)
	}, nil
}

// fillEmpty copies fields from b into empty fields of a.
func fillEmpty(a, b Candidate) Candidate {
	set := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	set(&a.Title, b.Title)
	set(&a.DateText, b.DateText)
	set(&a.Location, b.Location)
	set(&a.Organizer, b.Organizer)
	set(&a.Price, b.Price)
	set(&a.Description, b.Description)
	set(&a.DescriptionHTML, b.DescriptionHTML)
	set(&a.SourceURL, b.SourceURL)
	return a
}

func parseHTML(doc *scraper.Document) (*goquery.Document, *url.URL, error) {
	if classify(doc) != docHTML {
		return nil, nil, &ExtractError{URL: doc.URL, Err: fmt.Errorf("unsupported content type %q", doc.ContentType)}
	}
	base, err := url.Parse(doc.URL)
	if err != nil {
		return nil, nil, &ExtractError{URL: doc.URL, Err: fmt.Errorf("invalid document URL: %w", err)}
	}
	gdoc, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, nil, &ExtractError{URL: doc.URL, Err: fmt.Errorf("parsing HTML: %w", err)}
	}
	return gdoc, base, nil
}

// firstMatch returns the matches of the first selector that matches anything.
func firstMatch(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if found := root.Find(s); found.Length() > 0 {
			return found
		}
	}
	return nil
}

// firstText returns the trimmed text of the first selector with non-empty text.
func firstText(root *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if text := strings.TrimSpace(root.Find(s).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstHTML returns the inner HTML of the first selector with non-empty text.
func firstHTML(root *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		found := root.Find(s).First()
		if strings.TrimSpace(found.Text()) == "" {
			continue
		}
		if h, err := found.Html(); err == nil {
			return strings.TrimSpace(h)
		}
	}
	return ""
}

func cardLink(card *goquery.Selection, base *url.URL) (string, error) {
	href, ok := card.Attr("href")
	if !ok || goquery.NodeName(card) != "a" {
		href, ok = card.Find("a[href]").First().Attr("href")
	}
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") {
		return "", errNoLink
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoLink, err)
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", errNoLink, abs.Scheme)
	}
	return abs.String(), nil
}

func cardTitle(card *goquery.Selection, custom []string) string {
	selectors := selectorsOr(custom, DefaultCardTitleSelectors)
	if t := firstText(card, selectors); t != "" {
		return t
	}
	if t := firstText(card.Parent(), selectors); t != "" {
		return t
	}
	if t, ok := card.Attr("aria-label"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return strings.TrimSpace(card.Text())
}

func canonicalLink(gdoc *goquery.Document, base *url.URL) string {
	href, ok := gdoc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		href, ok = gdoc.Find(`meta[property="og:url"]`).First().Attr("content")
	}
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
