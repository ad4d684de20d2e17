package extract

import (
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mfenderov/bam-events/internal/scraper"
	"github.com/mfenderov/bam-events/internal/source"
	"github.com/tidwall/gjson"
)

var errInvalidJSON = errors.New("invalid JSON")

// JSONLD extracts schema.org Event objects, either from the
// application/ld+json script blocks of an HTML page or from a JSON body.
type JSONLD struct{}

func (JSONLD) Extract(doc *scraper.Document, src source.Source) (iter.Seq2[Candidate, error], error) {
	if isEmpty(doc) {
		return emptySeq, nil
	}

	switch classify(doc) {
	case docJSON:
		base, err := url.Parse(doc.URL)
		if err != nil {
			return nil, &ExtractError{URL: doc.URL, Err: fmt.Errorf("invalid document URL: %w", err)}
		}
		body := string(doc.Body)
		if !gjson.Valid(body) {
			return nil, &ExtractError{URL: doc.URL, Err: errInvalidJSON}
		}
		return func(yield func(Candidate, error) bool) {
			for _, ev := range collectEvents(gjson.Parse(body)) {
				if !yield(fromJSONLD(ev, base), nil) {
					return
				}
			}
		}, nil
	case docHTML:
		gdoc, base, err := parseHTML(doc)
		if err != nil {
			return nil, err
		}
		return scriptEvents(gdoc, base), nil
	default:
		return nil, &ExtractError{URL: doc.URL, Err: fmt.Errorf("unsupported content type %q", doc.ContentType)}
	}
}

// scriptEvents yields every Event found in the page's JSON-LD blocks. A block
// that is not valid JSON is yielded as an error.
func scriptEvents(gdoc *goquery.Document, base *url.URL) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		blocks := gdoc.Find(`script[type="application/ld+json"]`)
		for i := range blocks.Length() {
			raw := strings.TrimSpace(blocks.Eq(i).Text())
			if raw == "" {
				continue
			}
			if !gjson.Valid(raw) {
				if !yield(Candidate{}, fmt.Errorf("json-ld block %d: %w", i, errInvalidJSON)) {
					return
				}
				continue
			}
			for _, ev := range collectEvents(gjson.Parse(raw)) {
				if !yield(fromJSONLD(ev, base), nil) {
					return
				}
			}
		}
	}
}

// collectEvents walks arrays and @graph containers looking for Event objects.
func collectEvents(r gjson.Result) []gjson.Result {
	var out []gjson.Result
	var walk func(gjson.Result)
	walk = func(r gjson.Result) {
		switch {
		case r.IsArray():
			r.ForEach(func(_, v gjson.Result) bool {
				walk(v)
				return true
			})
		case r.IsObject():
			if isEventType(key(r, "@type")) {
				out = append(out, r)
			}
			if g := key(r, "@graph"); g.Exists() {
				walk(g)
			}
		}
	}
	walk(r)
	return out
}

// key looks up an object member by exact name. gjson paths treat a leading
// '@' as a modifier, so "@type" cannot be fetched with Get.
func key(obj gjson.Result, name string) gjson.Result {
	var out gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == name {
			out = v
			return false
		}
		return true
	})
	return out
}

func isEventType(t gjson.Result) bool {
	match := func(s string) bool {
		s = strings.TrimPrefix(s, "http://schema.org/")
		s = strings.TrimPrefix(s, "https://schema.org/")
		return s == "Event" || strings.HasSuffix(s, "Event")
	}
	if t.IsArray() {
		for _, v := range t.Array() {
			if match(v.String()) {
				return true
			}
		}
		return false
	}
	return match(t.String())
}

func fromJSONLD(ev gjson.Result, base *url.URL) Candidate {
	c := Candidate{
		Title:       ev.Get("name").String(),
		DateText:    ev.Get("startDate").String(),
		Location:    jsonLocation(first(ev.Get("location"))),
		Organizer:   jsonName(first(ev.Get("organizer"))),
		Price:       jsonPrice(first(ev.Get("offers"))),
		Description: ev.Get("description").String(),
	}
	if strings.Contains(c.Description, "<") {
		c.DescriptionHTML, c.Description = c.Description, ""
	}
	if u := ev.Get("url").String(); u != "" {
		if ref, err := url.Parse(u); err == nil {
			c.SourceURL = base.ResolveReference(ref).String()
		}
	}
	return c
}

func first(r gjson.Result) gjson.Result {
	if r.IsArray() {
		arr := r.Array()
		if len(arr) == 0 {
			return gjson.Result{}
		}
		return arr[0]
	}
	return r
}

func jsonName(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("name").String()
	}
	return r.String()
}

func jsonLocation(r gjson.Result) string {
	if !r.IsObject() {
		return r.String()
	}
	if strings.HasSuffix(key(r, "@type").String(), "VirtualLocation") {
		if name := r.Get("name").String(); name != "" {
			return name
		}
		return "Online"
	}

	var parts []string
	if name := r.Get("name").String(); name != "" {
		parts = append(parts, name)
	}
	addr := r.Get("address")
	if addr.IsObject() {
		for _, field := range []string{"streetAddress", "addressLocality", "addressRegion", "addressCountry"} {
			v := addr.Get(field)
			if v.IsObject() {
				v = v.Get("name")
			}
			if s := v.String(); s != "" {
				parts = append(parts, s)
			}
		}
	} else if s := addr.String(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func jsonPrice(offer gjson.Result) string {
	if !offer.IsObject() {
		return ""
	}
	price := offer.Get("price")
	if !price.Exists() {
		price = offer.Get("lowPrice")
	}
	if !price.Exists() || price.String() == "" {
		return ""
	}
	if (price.Type == gjson.Number && price.Float() == 0) || price.String() == "0" {
		return "Free"
	}
	if cur := offer.Get("priceCurrency").String(); cur != "" {
		return cur + " " + price.String()
	}
	return price.String()
}
