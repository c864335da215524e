// Package client talks to a running tiermem server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/server"
	"github.com/lazypower/tiermem/internal/store"
)

const (
	DefaultServerURL = "http://127.0.0.1:37778"
	// Sleep cycles wait on the LLM, so requests get a generous deadline.
	httpTimeout   = 10 * time.Minute
	healthTimeout = 2 * time.Second
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the tiermem server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client. An empty serverURL falls back to TIERMEM_URL, then
// http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("TIERMEM_URL")
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

func (c *Client) CreateEntity(ctx context.Context, ownerID, name string, cfg map[string]any) (*store.Entity, error) {
	body := map[string]any{"owner_id": ownerID, "name": name, "config": cfg}
	var e store.Entity
	if err := c.do(ctx, http.MethodPost, "/api/entities", body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) ListEntities(ctx context.Context) ([]store.Entity, error) {
	var out struct {
		Entities []store.Entity `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/entities", nil, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func (c *Client) GetEntity(ctx context.Context, id string) (*server.EntityView, error) {
	var v server.EntityView
	if err := c.do(ctx, http.MethodGet, entityPath(id, ""), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) AddRecord(ctx context.Context, entityID string, day int, content string) (*store.Record, error) {
	var r store.Record
	body := map[string]any{"day": day, "content": content}
	if err := c.do(ctx, http.MethodPost, entityPath(entityID, "/records"), body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Ingest(ctx context.Context, entityID string, day int, transcript string) (*server.IngestResult, error) {
	var res server.IngestResult
	body := map[string]any{"day": day, "transcript": transcript}
	if err := c.do(ctx, http.MethodPost, entityPath(entityID, "/conversations"), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListRecords queries an entity's records. Nil filters are omitted.
func (c *Client) ListRecords(ctx context.Context, q store.RecordQuery) ([]store.Record, error) {
	params := url.Values{}
	if q.Tier != nil {
		params.Set("tier", q.Tier.String())
	}
	if q.StartDay != nil {
		params.Set("start_day", strconv.Itoa(*q.StartDay))
	}
	if q.EndDay != nil {
		params.Set("end_day", strconv.Itoa(*q.EndDay))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := entityPath(q.EntityID, "/records")
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Records []store.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Sleep runs a sleep cycle on the server. A failed cycle returns both the
// result and an *APIError.
func (c *Client) Sleep(ctx context.Context, entityID string, day int) (*engine.RunResult, error) {
	var res engine.RunResult
	err := c.do(ctx, http.MethodPost, entityPath(entityID, "/sleep"), map[string]any{"current_day": day}, &res)
	if err != nil {
		if res.EntityID == "" {
			return nil, err
		}
		return &res, err
	}
	return &res, nil
}

func (c *Client) ResetSessions(ctx context.Context, entityID string) (int, error) {
	var out struct {
		Closed int `json:"closed"`
	}
	if err := c.do(ctx, http.MethodPost, entityPath(entityID, "/sessions/reset"), nil, &out); err != nil {
		return 0, err
	}
	return out.Closed, nil
}

func (c *Client) Context(ctx context.Context, entityID string, day int) (*server.ContextView, error) {
	var v server.ContextView
	path := entityPath(entityID, "/context") + "?day=" + strconv.Itoa(day)
	if err := c.do(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func entityPath(id, suffix string) string {
	return "/api/entities/" + url.PathEscape(id) + suffix
}

// do sends body as JSON and decodes the response into out. Error responses
// are decoded into out as well when they carry a JSON object.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if out != nil {
			json.Unmarshal(data, out)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
