package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
)

// Config holds scraper configuration.
type Config struct {
	Timeout      time.Duration // per request
	MaxRetries   int           // retries after the first attempt, transient errors only
	RetryBackoff time.Duration // initial backoff interval
	Delay        time.Duration // minimum delay between requests to one domain
	Parallelism  int           // concurrent requests per domain
	UserAgent    string
	MaxBodySize  int // bytes; a body that reaches it is a permanent FetchError
}

// Document is a raw fetched document.
type Document struct {
	URL         string
	Body        []byte
	ContentType string
	StatusCode  int
	FetchedAt   time.Time
}

// DefaultMaxBodySize is the body limit used when Config.MaxBodySize is unset.
const DefaultMaxBodySize = 10 << 20

// ErrBodyTooLarge is wrapped by a FetchError for a document that reached the
// body size limit and was cut off.
var ErrBodyTooLarge = errors.New("response body too large")

// FetchError reports a failed fetch. Transient errors were retried up to the
// configured budget; permanent ones were not retried.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Transient  bool
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s error (status %d, %d attempts): %v", e.URL, kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error (%d attempts): %v", e.URL, kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Scraper fetches raw documents. All fetches share one rate limiter, so a
// single Scraper may be used from many goroutines.
type Scraper struct {
	config Config
	base   *colly.Collector
}

// New creates a new Scraper with the given configuration.
func New(config Config) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "bam-events/1.0"
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(config.MaxBodySize),
	)
	c.SetRequestTimeout(config.Timeout)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       config.Delay,
		Parallelism: config.Parallelism,
	})

	return &Scraper{config: config, base: c}
}

// Fetch retrieves rawURL, retrying transient failures with exponential
// backoff. The context bounds the whole operation including backoff waits.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Attempts: 0, Err: err}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.config.RetryBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.config.MaxRetries)), ctx)

	var (
		doc      *Document
		attempts int
	)
	op := func() error {
		attempts++
		d, err := s.fetchOnce(ctx, rawURL)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && !fe.Transient {
				return backoff.Permanent(err)
			}
			return err
		}
		doc = d
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("retrying fetch", "url", rawURL, "attempt", attempts, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{URL: rawURL, Err: err}
		}
		fe.Attempts = attempts
		return nil, fe
	}

	slog.Debug("fetched document", "url", doc.URL, "status", doc.StatusCode, "size", len(doc.Body), "attempts", attempts)
	return doc, nil
}

// fetchOnce performs a single request on a clone of the base collector.
func (s *Scraper) fetchOnce(ctx context.Context, rawURL string) (*Document, error) {
	c := s.base.Clone()
	c.Context = ctx

	var (
		doc      *Document
		fetchErr *FetchError
	)

	// Check for cancellation before the request goes out
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		// colly truncates at the limit without reporting it
		if len(r.Body) >= s.config.MaxBodySize {
			fetchErr = &FetchError{
				URL:        rawURL,
				StatusCode: r.StatusCode,
				Err:        fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, s.config.MaxBodySize),
			}
			return
		}
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		doc = &Document{
			URL:         r.Request.URL.String(),
			Body:        r.Body,
			ContentType: contentType,
			StatusCode:  r.StatusCode,
			FetchedAt:   time.Now(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &FetchError{
			URL:        rawURL,
			StatusCode: status,
			Transient:  IsTransientStatus(status),
			Err:        err,
		}
	})

	visitErr := c.Visit(rawURL)

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if visitErr != nil {
		return nil, &FetchError{URL: rawURL, Transient: true, Err: visitErr}
	}
	if doc == nil {
		return nil, &FetchError{URL: rawURL, Transient: true, Err: errors.New("no response received")}
	}
	return doc, nil
}

// IsTransientStatus reports whether a failed request with this status is
// worth retrying. Status 0 means the request never got an HTTP response.
func IsTransientStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

// PageURL returns the URL of page n of a paginated listing. Page 1 is the
// base URL unchanged; later pages set the "page" query parameter.
func PageURL(base string, n int) (string, error) {
	if n <= 1 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
