// Package influxdb is a minimal write-side client for an InfluxDB 1.x
// compatible time-series sink.
package influxdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// Client writes line protocol data to one database of a sink.
type Client struct {
	// url is the root URL of the sink, e.g. http://influxdb:8086.
	url      string
	database string
	client   *http.Client
}

// NewClient returns a Client for the given sink URL and database. If
// httpClient is nil a default client with retries and bounded timeouts is
// used.
func NewClient(sinkURL, database string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httputils.DefaultClientConfig().With2xxOnly().Client()
	}
	return &Client{
		url:      strings.TrimRight(sinkURL, "/"),
		database: database,
		client:   httpClient,
	}
}

// CreateDatabase creates the client's database. The statement is a no-op if
// the database already exists, so it is safe to call at every startup.
func (c *Client) CreateDatabase(ctx context.Context) error {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("CREATE DATABASE %q", c.database))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/query", strings.NewReader(q.Encode()))
	if err != nil {
		return skerr.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return skerr.Wrapf(err, "Failed to create database %q", c.database)
	}
	defer httputils.ReadAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return skerr.Fmt("Create database %q returned %q", c.database, resp.Status)
	}
	return nil
}

// WriteLines writes the given line protocol lines in one batch. The sink
// answers 204 on success; any other status fails the whole batch and the
// returned error carries the status and batch size.
func (c *Client) WriteLines(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	body := strings.Join(lines, "\n")
	writeURL := fmt.Sprintf("%s/write?db=%s", c.url, url.QueryEscape(c.database))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, strings.NewReader(body))
	if err != nil {
		return skerr.Wrap(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return skerr.Wrapf(err, "Failed to write %d lines to %q", len(lines), c.database)
	}
	defer httputils.ReadAndClose(resp.Body)
	if resp.StatusCode != http.StatusNoContent {
		return skerr.Fmt("Write of %d lines to %q returned %q", len(lines), c.database, resp.Status)
	}
	return nil
}
