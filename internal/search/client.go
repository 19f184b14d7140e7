// Package search proxies queries to the Google Programmable Search JSON API.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/linksapi/links/internal/errx"
)

const (
	// DefaultEndpoint is the Custom Search JSON API.
	DefaultEndpoint = "https://www.googleapis.com/customsearch/v1"
	// DefaultNum is the result count when the request does not ask for one.
	DefaultNum = 5
	// MaxNum is the largest result count the API serves per request.
	MaxNum = 10
)

// ErrNotConfigured is returned when the API key or engine id is missing.
var ErrNotConfigured = errors.New("search API key or engine id not configured")

// Result is one search hit.
type Result struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

// Response is the proxy's answer for one query.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Config configures a Client.
type Config struct {
	Endpoint   string
	APIKey     string
	CX         string
	Language   string
	Safe       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the search API.
type Client struct {
	http     *http.Client
	endpoint string
	key      string
	cx       string
	lang     string
	safe     string
}

// NewClient creates a Client. Missing credentials are reported per call so
// the server can start without them.
func NewClient(cfg Config) *Client {
	c := &Client{
		http:     cfg.HTTPClient,
		endpoint: cfg.Endpoint,
		key:      cfg.APIKey,
		cx:       cfg.CX,
		lang:     cfg.Language,
		safe:     cfg.Safe,
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	return c
}

// apiResponse is the subset of the API's JSON we read.
type apiResponse struct {
	Items []Result `json:"items"`
}

// Search runs q and returns at most num results.
func (c *Client) Search(ctx context.Context, q string, num int) (Response, error) {
	const op = "search.Client.Search"

	if c.key == "" || c.cx == "" {
		return Response{}, errx.E(op, errx.Unavailable, ErrNotConfigured)
	}
	if q == "" {
		return Response{}, errx.E(op, errx.Invalid, errors.New("query must not be empty"))
	}
	if num < 1 || num > MaxNum {
		return Response{}, errx.E(op, errx.Invalid, fmt.Errorf("num must be between 1 and %d", MaxNum))
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return Response{}, errx.E(op, errx.Internal, err)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("key", c.key)
	params.Set("cx", c.cx)
	params.Set("num", strconv.Itoa(num))
	if c.lang != "" {
		params.Set("hl", c.lang)
	}
	if c.safe != "" {
		params.Set("safe", c.safe)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, errx.E(op, errx.Internal, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the request URL, which includes the key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return Response{}, errx.E(op, errx.Upstream, fmt.Errorf("search request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Response{}, errx.E(op, errx.Upstream, fmt.Errorf("search API returned %s", resp.Status))
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Response{}, errx.E(op, errx.Upstream, fmt.Errorf("decode search response: %w", err))
	}

	results := body.Items
	if len(results) > num {
		results = results[:num]
	}
	if results == nil {
		results = []Result{}
	}
	return Response{Query: q, Results: results}, nil
}
