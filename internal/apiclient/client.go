// Package apiclient talks to the room-panel server: the document endpoints
// over HTTP and the change channel over a websocket.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"
)

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

type Client struct {
	Token   string
	BaseURL string
	client  *http.Client
}

// NewClient returns a client for the server at baseURL. token is sent as a
// bearer credential on writes when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		Token:   token,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// StatusError is a non-2xx response. 4xx responses match ErrRejected.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API request failed with status %d", e.Code)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code >= 400 && e.Code < 500 {
		return syncengine.ErrRejected
	}
	return nil
}

// Fetch reads the current document.
func (c *Client) Fetch(ctx context.Context) (models.VersionedDocument, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/data", nil)
	if err != nil {
		return models.VersionedDocument{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", "no-store")

	return c.do(ctx, httpReq)
}

// Push replaces the document and returns the stored value with its new
// stamp.
func (c *Client) Push(ctx context.Context, doc models.Document) (models.VersionedDocument, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/api/data", bytes.NewReader(doc))
	if err != nil {
		return models.VersionedDocument{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	return c.do(ctx, httpReq)
}

func (c *Client) do(ctx context.Context, httpReq *http.Request) (models.VersionedDocument, error) {
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.VersionedDocument{}, fmt.Errorf("%w: %v", syncengine.ErrCancelled, err)
		}
		return models.VersionedDocument{}, fmt.Errorf("%w: %v", syncengine.ErrStoreUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.VersionedDocument{}, &StatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(body)),
		}
	}

	var v models.VersionedDocument
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return models.VersionedDocument{}, fmt.Errorf("failed to decode response: %w: %v", syncengine.ErrMalformedPayload, err)
	}
	if !v.Data.IsEmpty() && !v.Data.Valid() {
		return models.VersionedDocument{}, fmt.Errorf("failed to decode response: %w", syncengine.ErrMalformedPayload)
	}
	return v, nil
}
