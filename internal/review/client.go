package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

// Client talks to the review endpoints of a MotionWatch server.
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), client: httpClient}
}

type decisionRequest struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	DecidedAt string `json:"decidedAt"`
	Reviewer  string `json:"reviewer,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PostDecision sends a decision to POST /api/decision.
func (c *Client) PostDecision(ctx context.Context, d LocalDecision) error {
	return c.post(ctx, "/api/decision", decisionRequest{
		ID:        d.ID,
		Status:    string(d.Status),
		DecidedAt: d.DecidedAt.UTC().Format(time.RFC3339Nano),
		Reviewer:  d.Reviewer,
		Reason:    d.Reason,
	})
}

// SetFastlane sends a tag to POST /api/fastlane-tag.
func (c *Client) SetFastlane(ctx context.Context, id string, fastlane bool, taggedAt time.Time) error {
	return c.post(ctx, "/api/fastlane-tag", map[string]any{
		"id":       id,
		"fastlane": fastlane,
		"taggedAt": taggedAt.UTC().Format(time.RFC3339Nano),
	})
}

// FetchReviewItems reads GET /api/review-items.
func (c *Client) FetchReviewItems(ctx context.Context, includeDecided bool, limit int) ([]Item, error) {
	q := url.Values{}
	if includeDecided {
		q.Set("includeDecided", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := c.BaseURL + "/api/review-items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("review-items request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(endpoint, resp); err != nil {
		return nil, err
	}

	var result struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.Parse("review items", err)
	}
	return result.Items, nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(endpoint, resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ServerError carries the error message of a rejected request.
type ServerError struct {
	*apperrors.HTTPStatusError
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.HTTPStatusError.Error()
	}
	return e.HTTPStatusError.Error() + ": " + e.Message
}

func (e *ServerError) Unwrap() error {
	return e.HTTPStatusError
}

func checkStatus(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(respBody))
	if json.Unmarshal(respBody, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &ServerError{
		HTTPStatusError: &apperrors.HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode},
		Message:         msg,
	}
}
