// Package tuid implements clogger.FrontierAdvancer against a remote TUID
// service: the optional collaborator that, when UPDATE_VERY_OLD_FRONTIERS is
// enabled, is asked to recompute its per-file frontier state past the
// changesets the log is about to age out of its window.
package tuid

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

const (
	clientRetryMax     = 3
	clientRetryWaitMin = 1 * time.Second
	clientRetryWaitMax = 5 * time.Second
)

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

type advanceRequest struct {
	Files        []string `json:"files"`
	UpToRevision string   `json:"upToRevision"`
}

// Advancer is an HTTP-backed clogger.FrontierAdvancer.
type Advancer struct {
	httpClient *retryablehttp.Client
	baseURL    string
	userAgent  string
}

// New constructs an Advancer that POSTs to {baseURL}/advance-frontier.
func New(baseURL, userAgent string) *Advancer {
	httpClient := retryablehttp.NewClient()
	httpClient.HTTPClient = cleanhttp.DefaultPooledClient()
	httpClient.RetryMax = clientRetryMax
	httpClient.RetryWaitMin = clientRetryWaitMin
	httpClient.RetryWaitMax = clientRetryWaitMax
	httpClient.Logger = nullLogger{}
	httpClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		req.Header.Set("User-Agent", userAgent)
	}

	return &Advancer{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
	}
}

// AdvanceFrontier implements clogger.FrontierAdvancer. It asks the TUID
// service to move its frontier for files past upToRevision; the caller is
// responsible for polling until the service's own tables reflect the
// change.
func (a *Advancer) AdvanceFrontier(ctx context.Context, files []string, upToRevision string) errors.E {
	if len(files) == 0 {
		return nil
	}

	body, errE := x.MarshalWithoutEscapeHTML(advanceRequest{Files: files, UpToRevision: upToRevision})
	if errE != nil {
		return errE
	}

	url := fmt.Sprintf("%s/advance-frontier", a.baseURL)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "advancing frontier at %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("unexpected status %d advancing frontier at %s", resp.StatusCode, url)
	}

	return nil
}
