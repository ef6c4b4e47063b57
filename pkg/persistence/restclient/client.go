// Package restclient talks to an annotation storage service over HTTP.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/persistence"
)

const annotationsPath = "/api/annotations"

// Client implements persistence.Repository against the storage service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client for the service at baseURL
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid storage URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid storage URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("restclient"),
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) Create(ctx context.Context, rec persistence.Record) (persistence.Record, error) {
	var out persistence.Record
	if err := c.do(ctx, http.MethodPost, annotationsPath, rec, &out); err != nil {
		return persistence.Record{}, err
	}
	return out, nil
}

func (c *Client) GetByInstanceID(ctx context.Context, instanceID string) ([]persistence.Record, error) {
	var out []persistence.Record
	path := annotationsPath + "?instanceId=" + url.QueryEscape(instanceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, rec persistence.Record) (persistence.Record, error) {
	var out persistence.Record
	if err := c.do(ctx, http.MethodPut, annotationsPath+"/"+url.PathEscape(rec.ID), rec, &out); err != nil {
		return persistence.Record{}, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, annotationsPath+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("storage call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", persistence.ErrRecordNotFound, path)
	}
	if resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("storage returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("storage returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
