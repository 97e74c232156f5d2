package regioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vigil-app/vigil/internal/geo"
	"github.com/vigil-app/vigil/internal/report"
)

// DefaultTimeout is the client-side circuit breaker on queries and
// submissions. On expiry the operation fails; retry policy belongs to the
// caller, never to this client.
const DefaultTimeout = 30 * time.Second

// TransportError is a network or timeout failure on a client-originated
// call. Surfaced to the UI layer as a retryable failure.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is an HTTP implementation of Querier against the reports API. It
// also submits new reports. All calls are bounded by the configured timeout
// and safe to issue from any goroutine.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewClient creates a Client for the API at baseURL (e.g.
// "https://api.example.org"). token is the bearer token attached to
// authenticated calls; empty for anonymous use.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		token:      token,
	}
}

// radiusResponse mirrors the radius endpoint's JSON envelope.
type radiusResponse struct {
	Count   int              `json:"count"`
	Reports []*report.Report `json:"reports"`
}

// QueryRadius fetches all reports within radiusKm of center. The URL path
// carries latitude before longitude, matching the public API shape; the
// conversion to the canonical longitude-first representation happens through
// named fields only.
func (c *Client) QueryRadius(ctx context.Context, center geo.Point, radiusKm float64) ([]*report.Report, error) {
	url := fmt.Sprintf("%s/api/v1/reports/radius/%g/%g/%g",
		c.baseURL, center.Latitude, center.Longitude, radiusKm)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "query radius", Err: err}
	}

	var resp radiusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// QueryRecent fetches the limit newest reports.
func (c *Client) QueryRecent(ctx context.Context, limit int) ([]*report.Report, error) {
	url := fmt.Sprintf("%s/api/v1/reports/recent?limit=%d", c.baseURL, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "query recent", Err: err}
	}

	var resp radiusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// Submit sends a report submission and returns the persisted record.
func (c *Client) Submit(ctx context.Context, sub report.Submission) (*report.Report, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/reports", strings.NewReader(string(body)))
	if err != nil {
		return nil, &TransportError{Op: "submit report", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var created report.Report
	if err := c.do(req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do executes the request and decodes the response into out. Network
// failures and timeouts become TransportError; API-level rejections keep
// their error code.
func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return errors.New(http.StatusText(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
