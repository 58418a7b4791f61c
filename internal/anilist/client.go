// Package anilist fetches read-only anime metadata from the AniList GraphQL
// API to enrich list entries.
package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"otakushelf/pkg/models"
)

const (
	DefaultEndpoint = "https://graphql.anilist.co"
	DefaultTimeout  = 8 * time.Second
	DefaultCacheTTL = 6 * time.Hour

	userAgent = "OtakuShelf/1.0"
)

var ErrNotFound = errors.New("anilist: media not found")

const mediaFields = `
    id
    idMal
    title { romaji english native }
    coverImage { large extraLarge }
    description(asHtml: false)
    format
    status
    episodes
    averageScore
    genres
    bannerImage
    studios { nodes { name isAnimationStudio } }
    trailer { id site thumbnail }
    relations {
      edges {
        relationType
        node { id format title { romaji english native } }
      }
    }`

// lookup names the Media argument an id is matched against.
type lookup string

const (
	byAniList lookup = "id"
	byMAL     lookup = "idMal"
)

func (l lookup) query() string {
	return `query ($id: Int) {
  Media(` + string(l) + `: $id, type: ANIME) {` + mediaFields + `
  }
}`
}

type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	ttl      time.Duration
	cache    *ristretto.Cache
	logger   *zap.Logger
}

type Option func(*Client)

func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create details cache: %w", err)
	}
	c := &Client{
		endpoint: DefaultEndpoint,
		http:     &http.Client{},
		timeout:  DefaultTimeout,
		ttl:      DefaultCacheTTL,
		cache:    cache,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("anilist")
	return c, nil
}

// Close releases the cache.
func (c *Client) Close() { c.cache.Close() }

// Details returns metadata for the AniList media id.
func (c *Client) Details(ctx context.Context, externalID int) (*models.AnimeDetails, error) {
	m, err := c.media(ctx, byAniList, externalID)
	if err != nil {
		return nil, fmt.Errorf("anilist details %d: %w", externalID, err)
	}
	return m.toDetails(), nil
}

// DetailsByMAL returns metadata for the media AniList links to MyAnimeList
// id malID.
func (c *Client) DetailsByMAL(ctx context.Context, malID int) (*models.AnimeDetails, error) {
	m, err := c.media(ctx, byMAL, malID)
	if err != nil {
		return nil, fmt.Errorf("anilist details for mal %d: %w", malID, err)
	}
	return m.toDetails(), nil
}

// AnimeData returns the media as the loosely typed record the list service
// stores alongside a new entry.
func (c *Client) AnimeData(ctx context.Context, externalID int) (map[string]any, error) {
	m, err := c.media(ctx, byAniList, externalID)
	if err != nil {
		return nil, fmt.Errorf("anilist media %d: %w", externalID, err)
	}
	return m.toAnimeData(), nil
}

func (c *Client) media(ctx context.Context, by lookup, id int) (*media, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid id %d", id)
	}
	key := cacheKey(by, id)
	if v, ok := c.cache.Get(key); ok {
		if m, ok := v.(*media); ok {
			return m, nil
		}
	}

	var data mediaResponse
	if err := c.query(ctx, by.query(), map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	m := data.Media
	if m == nil {
		return nil, ErrNotFound
	}
	c.cache.SetWithTTL(cacheKey(byAniList, m.ID), m, 1, c.ttl)
	if m.IDMal > 0 {
		c.cache.SetWithTTL(cacheKey(byMAL, m.IDMal), m, 1, c.ttl)
	}
	return m, nil
}

func cacheKey(by lookup, id int) string {
	return "media:" + string(by) + ":" + strconv.Itoa(id)
}

// Wait blocks until pending cache writes are visible.
func (c *Client) Wait() { c.cache.Wait() }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (c *Client) query(ctx context.Context, q string, vars map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(gqlRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("query", zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		if gr.Errors[0].Status == http.StatusNotFound {
			return ErrNotFound
		}
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
