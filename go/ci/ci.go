// Package ci provides best-effort access to CI run metadata.
//
// The API stores jenkins runs itself, so the HTTP implementation calls back
// into the API's own /jenkins and /code_changes endpoints. All calls are
// enrichment only; callers must treat failures as non-fatal.
package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lsst-sqre/squash-rest-api/go/codechanges"
	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// DateFormat is the timestamp format used in job JSON.
const DateFormat = "2006-01-02T15:04:05Z"

// Client provides CI run metadata lookups.
type Client interface {
	// RunTimestamp returns the canonical timestamp of the given CI run.
	RunTimestamp(ctx context.Context, ciID, ciName string) (time.Time, error)

	// CodeChanges returns the packages that changed in the given CI run with
	// respect to the previous run of the same pipeline.
	CodeChanges(ctx context.Context, ciID, ciName string) (codechanges.Summary, error)
}

// client implements Client against the API's HTTP endpoints.
type client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient returns a Client that queries the API rooted at apiURL. If
// httpClient is nil a default client with retries and bounded timeouts is
// used.
func NewClient(apiURL string, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = httputils.DefaultClientConfig().With2xxOnly().Client()
	}
	return &client{
		apiURL:     apiURL,
		httpClient: httpClient,
	}
}

// get issues a GET request and decodes the JSON response body into dst.
func (c *client) get(ctx context.Context, u string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return skerr.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return skerr.Wrapf(err, "Failed to establish connection with %s", u)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return skerr.Fmt("Request to %s returned status %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return skerr.Wrapf(err, "Failed to decode response from %s", u)
	}
	return nil
}

// RunTimestamp implements Client.
func (c *client) RunTimestamp(ctx context.Context, ciID, ciName string) (time.Time, error) {
	u := fmt.Sprintf("%s/jenkins/%s?ci_name=%s", c.apiURL, url.PathEscape(ciID), url.QueryEscape(ciName))
	var body struct {
		DateCreated string `json:"date_created"`
	}
	if err := c.get(ctx, u, &body); err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(DateFormat, body.DateCreated)
	if err != nil {
		return time.Time{}, skerr.Wrapf(err, "Invalid timestamp %q from %s", body.DateCreated, u)
	}
	return ts, nil
}

// CodeChanges implements Client.
func (c *client) CodeChanges(ctx context.Context, ciID, ciName string) (codechanges.Summary, error) {
	u := fmt.Sprintf("%s/code_changes/%s?ci_name=%s", c.apiURL, url.PathEscape(ciID), url.QueryEscape(ciName))
	var summary codechanges.Summary
	if err := c.get(ctx, u, &summary); err != nil {
		return codechanges.Summary{}, err
	}
	return summary, nil
}
