// Package hg implements clogger.Fetcher against a Mercurial-style JSON
// changelog server: GET {base}/{branch}/json-log/{cursor} returns a page of
// changesets, newest first, overlapping the next page by one entry.
package hg

import (
	"context"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
	"golang.org/x/time/rate"

	"gitlab.com/mozilla/clogger"
)

const (
	clientRetryMax     = 3
	clientRetryWaitMin = 1 * time.Second
	clientRetryWaitMax = 5 * time.Second

	requestsPerSecond = 5
	requestBurst      = 5

	revisionLength = 12
)

// changelogPage is the wire shape of a json-log response.
type changelogPage struct {
	Changesets []changesetEntry `json:"changesets"`
}

type changesetEntry struct {
	Node string `json:"node"`
}

// nullLogger silences retryablehttp's default logging; errors still surface
// through returned errors.E values.
type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// Fetcher is an HTTP-backed clogger.Fetcher.
type Fetcher struct {
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	baseURL    string
	branch     string
	userAgent  string
	cache      *lru.Cache[string, []clogger.ChangesetRecord]
	logger     zerolog.Logger
}

// New constructs a Fetcher. cacheSize of 0 disables the in-memory page
// cache.
func New(baseURL, branch, userAgent string, cacheSize int, logger zerolog.Logger) (*Fetcher, errors.E) {
	httpClient := retryablehttp.NewClient()
	httpClient.HTTPClient = cleanhttp.DefaultPooledClient()
	httpClient.RetryMax = clientRetryMax
	httpClient.RetryWaitMin = clientRetryWaitMin
	httpClient.RetryWaitMax = clientRetryWaitMax
	httpClient.Logger = nullLogger{}
	httpClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		req.Header.Set("User-Agent", userAgent)
	}

	f := &Fetcher{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		baseURL:    baseURL,
		branch:     branch,
		userAgent:  userAgent,
		logger:     logger,
	}

	if cacheSize > 0 {
		cache, err := lru.New[string, []clogger.ChangesetRecord](cacheSize)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		f.cache = cache
	}

	return f, nil
}

// FetchPage implements clogger.Fetcher. Pages for the symbolic "tip" cursor
// are never cached, since what it names moves as upstream history grows.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) ([]clogger.ChangesetRecord, errors.E) {
	if f.cache != nil && cursor != "tip" {
		if records, ok := f.cache.Get(cursor); ok {
			return records, nil
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errors.WithStack(err)
	}

	url := fmt.Sprintf("%s/%s/json-log/%s", f.baseURL, f.branch, cursor)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	var page changelogPage
	if errE := x.DecodeJSONWithoutUnknownFields(resp.Body, &page); errE != nil {
		return nil, errors.Wrapf(errE, "decoding %s", url)
	}

	records := make([]clogger.ChangesetRecord, len(page.Changesets))
	for i, entry := range page.Changesets {
		node := entry.Node
		if len(node) > revisionLength {
			node = node[:revisionLength]
		}
		records[i] = clogger.ChangesetRecord{Revision: node}
	}

	if f.cache != nil && cursor != "tip" {
		f.cache.Add(cursor, records)
	}

	return records, nil
}
