// Package listapi is the HTTP client for the list and import services.
package listapi

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

	"otakushelf/pkg/models"
)

const apiPrefix = "/api"

// Timeouts bounds each call type. Reads may take longer than writes.
type Timeouts struct {
	Read   time.Duration
	Write  time.Duration
	Import time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:   15 * time.Second,
		Write:  10 * time.Second,
		Import: 15 * time.Second,
	}
}

type Client struct {
	baseURL  string
	http     *http.Client
	token    string
	timeouts Timeouts
	logger   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		def := DefaultTimeouts()
		if t.Read <= 0 {
			t.Read = def.Read
		}
		if t.Write <= 0 {
			t.Write = def.Write
		}
		if t.Import <= 0 {
			t.Import = def.Import
		}
		c.timeouts = t
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:     &http.Client{},
		timeouts: DefaultTimeouts(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("listapi")
	return c
}

// BaseURL is the backend root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// EntryUpdate is the PUT body for a list entry. Only set fields are sent.
type EntryUpdate struct {
	Status          *models.Category `json:"status,omitempty"`
	EpisodesWatched *int             `json:"episodesWatched,omitempty"`
	UserRating      *int             `json:"userRating,omitempty"`
	FromCategory    models.Category  `json:"fromCategory,omitempty"`
	Category        models.Category  `json:"category,omitempty"`
}

// FetchList returns the user's whole list keyed by category, not yet
// normalized. Keys other than the four categories are ignored.
func (c *Client) FetchList(ctx context.Context, userID string) (models.RawSnapshot, error) {
	var body map[string]json.RawMessage
	if err := c.doJSON(ctx, c.timeouts.Read, http.MethodGet, listPath(userID), nil, &body); err != nil {
		return nil, fmt.Errorf("fetch list: %w", err)
	}

	out := make(models.RawSnapshot, len(models.Categories))
	for _, cat := range models.Categories {
		raw, ok := body[string(cat)]
		if !ok {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			c.logger.Warn("skipping malformed category", zap.String("category", string(cat)), zap.Error(err))
			continue
		}
		out[string(cat)] = items
	}
	return out, nil
}

// UpdateEntry sends a field-level update for one entry.
func (c *Client) UpdateEntry(ctx context.Context, userID, entryID string, u EntryUpdate) error {
	if err := c.doJSON(ctx, c.timeouts.Write, http.MethodPut, listPath(userID, entryID), u, nil); err != nil {
		return fmt.Errorf("update entry %s: %w", entryID, err)
	}
	return nil
}

func (c *Client) DeleteEntry(ctx context.Context, userID, entryID string) error {
	if err := c.doJSON(ctx, c.timeouts.Write, http.MethodDelete, listPath(userID, entryID), nil, nil); err != nil {
		return fmt.Errorf("delete entry %s: %w", entryID, err)
	}
	return nil
}

// AddEntry stores a catalog title under category. animeData is the raw
// provider record and is kept alongside the row.
func (c *Client) AddEntry(ctx context.Context, userID string, category models.Category, title string, animeData map[string]any) error {
	payload := map[string]any{
		"category":   category,
		"animeTitle": title,
		"animeData":  animeData,
	}
	if err := c.doJSON(ctx, c.timeouts.Write, http.MethodPost, listPath(userID), payload, nil); err != nil {
		return fmt.Errorf("add entry: %w", err)
	}
	return nil
}

func listPath(userID string, rest ...string) string {
	p := apiPrefix + "/list/" + url.PathEscape(userID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	contentType := ""
	if payload != nil {
		contentType = "application/json"
	}
	return c.do(ctx, timeout, method, path, contentType, body, out)
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: serverMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// serverMessage pulls a human readable reason out of an error body.
func serverMessage(data []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 || strings.HasPrefix(msg, "<") {
		return ""
	}
	return msg
}
