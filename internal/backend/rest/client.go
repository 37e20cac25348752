// Package rest implements backend.CRUD over JSON/HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/backend"
)

// Client talks to <baseURL>/rest/v1/<table>.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client. token is sent as a bearer credential when set.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ backend.CRUD = (*Client)(nil)

// Create inserts rec and returns the stored row.
func (c *Client) Create(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	var rows []backend.Record
	if err := c.do(ctx, http.MethodPost, table, nil, rec, &rows); err != nil {
		return nil, err
	}
	return first(rows), nil
}

// Update patches the row with id.
func (c *Client) Update(ctx context.Context, table, id string, patch backend.Record) (backend.Record, error) {
	var rows []backend.Record
	if err := c.do(ctx, http.MethodPatch, table, idFilter(id), patch, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.StatusError{Code: http.StatusNotFound, Message: table + " " + id, Kind: backend.ErrNotFound}
	}
	return rows[0], nil
}

// Delete removes the row with id.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, table, idFilter(id), nil, nil)
}

// List returns rows matching q.
func (c *Client) List(ctx context.Context, table string, q backend.Query) ([]backend.Record, error) {
	params := url.Values{}
	for col, v := range q.Filter {
		params.Set(col, "eq."+v)
	}
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var rows []backend.Record
	if err := c.do(ctx, http.MethodGet, table, params, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func idFilter(id string) url.Values {
	return url.Values{"id": {"eq." + id}}
}

func first(rows []backend.Record) backend.Record {
	if len(rows) == 0 {
		return backend.Record{}
	}
	return rows[0]
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, body, out any) error {
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %w: %v", method, table, backend.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w: %v", backend.ErrTransient, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	var kind error
	switch {
	case code == http.StatusConflict || code == http.StatusUnprocessableEntity:
		kind = backend.ErrConflict
	case code == http.StatusNotFound:
		kind = backend.ErrNotFound
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		kind = backend.ErrTransient
	}
	return &backend.StatusError{Code: code, Message: payload.Message, Kind: kind}
}
