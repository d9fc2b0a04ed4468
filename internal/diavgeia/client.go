// Package diavgeia is a thin client for the transparency portal's opendata
// API. It does no retrying of its own; failures are classified as transient
// or permanent and the fetch stage's policy decides what happens next.
package diavgeia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
	"github.com/opengov-gr/diavgeia-harvester/internal/fetch"
)

const maxDocumentBytes = 256 << 20 // refuse anything past 256MB

// Summary is one row of a listing page.
type Summary struct {
	ADA       string `json:"ada"`
	Subject   string `json:"subject"`
	IssueDate int64  `json:"issueDate"`
}

type searchResponse struct {
	Decisions []Summary `json:"decisions"`
	Info      struct {
		Page  int `json:"page"`
		Size  int `json:"size"`
		Total int `json:"total"`
	} `json:"info"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Search returns one listing page of decision summaries. Pages are stable for
// a given query at call time; the page number is the resume cursor.
func (c *Client) Search(ctx context.Context, page, size int) ([]Summary, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	u := fmt.Sprintf("%s/search?%s", c.baseURL, q.Encode())

	body, _, err := c.get(ctx, u, "application/json")
	if err != nil {
		return nil, 0, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fetch.Permanent(fmt.Errorf("decode search page %d: %w", page, err))
	}
	return resp.Decisions, resp.Info.Total, nil
}

// Decision returns the raw metadata envelope for one ADA. The exact response
// bytes are kept alongside the decoded object for provenance.
func (c *Client) Decision(ctx context.Context, ada string) (entity.MetadataEnvelope, error) {
	u := fmt.Sprintf("%s/decisions/%s", c.baseURL, url.PathEscape(ada))

	body, _, err := c.get(ctx, u, "application/json")
	if err != nil {
		return entity.MetadataEnvelope{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return entity.MetadataEnvelope{}, fetch.Permanent(fmt.Errorf("decode decision %s: %w", ada, err))
	}
	return entity.MetadataEnvelope{ADA: ada, Raw: body, Fields: fields}, nil
}

// Document downloads the attached document verbatim and reports the URL the
// bytes actually came from (the portal redirects to versioned storage).
func (c *Client) Document(ctx context.Context, ada string) ([]byte, string, error) {
	u := fmt.Sprintf("%s/decisions/%s/document", c.baseURL, url.PathEscape(ada))

	body, finalURL, err := c.get(ctx, u, "")
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", fetch.Permanent(fmt.Errorf("document %s: empty body", ada))
	}
	return body, finalURL, nil
}

// get performs one GET and classifies the outcome. 429 and 5xx are transient
// (a Retry-After hint is honored by sleeping here, inside the attempt);
// other non-2xx statuses are permanent.
func (c *Client) get(ctx context.Context, u, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fetch.Permanent(err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, "", err
		}
		return nil, "", fetch.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if wait := retryAfter(resp); wait > 0 {
			c.logger.Warn("api.rate_limited", "url", u, "retry_after", wait)
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(wait):
			}
		}
		return nil, "", fetch.Transient(fmt.Errorf("GET %s: status %d", u, resp.StatusCode))
	default:
		return nil, "", fetch.Permanent(fmt.Errorf("GET %s: status %d", u, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, "", fetch.Transient(fmt.Errorf("GET %s: read body: %w", u, err))
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return body, finalURL, nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
