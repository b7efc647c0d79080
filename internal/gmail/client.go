package gmail

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

	"atsinbox/pkg/circuitbreaker"
	"atsinbox/pkg/metrics"
	"atsinbox/pkg/trace"
)

const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// APIError is a non-2xx response from the Gmail API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail api error: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		cb:         newBreaker(),
	}
}

func newBreaker() *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.DefaultConfig()
	cfg.HalfOpenMaxRequests = 2
	cfg.IsFailure = isServerFailure
	return circuitbreaker.NewCircuitBreaker(cfg)
}

// BreakerState reports the position of the breaker guarding the API.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.cb.GetState()
}

// 4xx means the request or the token is wrong, not that Gmail is down.
func isServerFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// GetMessage fetches one message; format is "full", "metadata" or "raw".
func (c *Client) GetMessage(ctx context.Context, accessToken, id, format string) (*Message, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	var m Message
	if err := c.get(ctx, accessToken, "messages.get", "/messages/"+url.PathEscape(id), q, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns one page of message references.
func (c *Client) ListMessages(ctx context.Context, accessToken string, labelIDs []string, query, pageToken string, maxResults int) (*ListResponse, error) {
	q := url.Values{}
	for _, id := range labelIDs {
		q.Add("labelIds", id)
	}
	if query != "" {
		q.Set("q", query)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if maxResults > 0 {
		q.Set("maxResults", strconv.Itoa(maxResults))
	}
	var out ListResponse
	if err := c.get(ctx, accessToken, "messages.list", "/messages", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListLabels(ctx context.Context, accessToken string) ([]Label, error) {
	var out struct {
		Labels []Label `json:"labels"`
	}
	if err := c.get(ctx, accessToken, "labels.list", "/labels", nil, &out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

func (c *Client) get(ctx context.Context, accessToken, endpoint, path string, q url.Values, out any) error {
	defer func() { metrics.SetCircuitBreakerState("gmail", int(c.cb.GetState())) }()
	return c.cb.Execute(func() error {
		start := time.Now()
		u := c.baseURL + path
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName, traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordGmailCallLatency(endpoint, "error", time.Since(start))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			metrics.RecordGmailCallLatency(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
			return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		metrics.RecordGmailCallLatency(endpoint, "success", time.Since(start))
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	})
}
