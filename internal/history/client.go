package history

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

	"github.com/sethvargo/go-retry"
)

const (
	recordAttempts = 3
	recordBackoff  = 200 * time.Millisecond
)

// Client talks to the history server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type recordRequest struct {
	CompanionID string `json:"companion_id"`
}

type listResponse struct {
	Entries []Entry `json:"entries"`
}

// Record adds a session with companionID. Server errors are retried.
func (c *Client) Record(ctx context.Context, companionID string) error {
	body, err := json.Marshal(recordRequest{CompanionID: companionID})
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	backoff := retry.WithMaxRetries(recordAttempts-1, retry.NewExponential(recordBackoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/history", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to reach history server: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(statusError(resp))
		}
		if resp.StatusCode != http.StatusCreated {
			return statusError(resp)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record session history: %w", err)
	}

	return nil
}

// List returns recent sessions, most recent first.
func (c *Client) List(ctx context.Context, companionID string, limit int) ([]Entry, error) {
	query := url.Values{}
	if companionID != "" {
		query.Set("companion_id", companionID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	endpoint := c.baseURL + "/api/v1/history"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach history server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	return out.Entries, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("history server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}
