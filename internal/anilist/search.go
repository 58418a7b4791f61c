package anilist

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	DefaultPerPage = 20
	maxPerPage     = 50
)

var ErrEmptySearch = errors.New("anilist: search needs a query, genre or format")

const searchQuery = `query (
  $page: Int = 1,
  $perPage: Int = 20,
  $search: String,
  $format_in: [MediaFormat],
  $status_in: [MediaStatus],
  $averageScore_greater: Int,
  $genre_in: [String]
) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { total currentPage lastPage hasNextPage }
    media(
      type: ANIME,
      isAdult: false,
      search: $search,
      format_in: $format_in,
      status_in: $status_in,
      averageScore_greater: $averageScore_greater,
      genre_in: $genre_in,
      sort: POPULARITY_DESC
    ) {
      id
      idMal
      title { romaji english native }
      format
      status
      episodes
      averageScore
      genres
    }
  }
}`

// SearchFilters narrows a catalog search. Zero values leave a filter off.
type SearchFilters struct {
	Formats  []string
	Statuses []string
	Genres   []string
	// MinScore is on a 0-10 scale.
	MinScore float64
	Page     int
	PerPage  int
}

// Hit is one search result; ExternalID is what `add` takes.
type Hit struct {
	ExternalID   int      `json:"externalId"`
	MalID        int      `json:"malId,omitempty"`
	Title        string   `json:"title"`
	Format       string   `json:"format,omitempty"`
	Status       string   `json:"status,omitempty"`
	Episodes     int      `json:"episodes"`
	AverageScore float64  `json:"averageScore,omitempty"`
	Genres       []string `json:"genres,omitempty"`
}

// EpisodesKnown reports whether the catalog knows the episode count yet.
func (h Hit) EpisodesKnown() bool { return h.Episodes > 0 }

type SearchPage struct {
	Hits     []Hit
	Page     int
	LastPage int
	Total    int
	HasNext  bool
}

type pageResponse struct {
	Page struct {
		PageInfo struct {
			Total       int  `json:"total"`
			CurrentPage int  `json:"currentPage"`
			LastPage    int  `json:"lastPage"`
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
		Media []media `json:"media"`
	} `json:"Page"`
}

// Search finds anime by title and filters, most popular first. An empty
// query with no filters is rejected.
func (c *Client) Search(ctx context.Context, query string, f SearchFilters) (*SearchPage, error) {
	q := strings.TrimSpace(query)
	if q == "" && len(trimmed(f.Genres)) == 0 && len(trimmed(f.Formats)) == 0 {
		return nil, ErrEmptySearch
	}
	vars := f.variables()
	if q != "" {
		vars["search"] = q
	}

	var data pageResponse
	if err := c.query(ctx, searchQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("anilist search: %w", err)
	}

	info := data.Page.PageInfo
	out := &SearchPage{
		Hits:     make([]Hit, 0, len(data.Page.Media)),
		Page:     info.CurrentPage,
		LastPage: info.LastPage,
		Total:    info.Total,
		HasNext:  info.HasNextPage,
	}
	for _, m := range data.Page.Media {
		if m.ID <= 0 {
			continue
		}
		out.Hits = append(out.Hits, Hit{
			ExternalID:   m.ID,
			MalID:        m.IDMal,
			Title:        m.Title.preferred(),
			Format:       m.Format,
			Status:       m.Status,
			Episodes:     m.Episodes,
			AverageScore: m.AverageScore,
			Genres:       append([]string(nil), m.Genres...),
		})
	}
	return out, nil
}

func (f SearchFilters) variables() map[string]any {
	page := f.Page
	if page < 1 {
		page = 1
	}
	per := f.PerPage
	switch {
	case per <= 0:
		per = DefaultPerPage
	case per > maxPerPage:
		per = maxPerPage
	}
	vars := map[string]any{"page": page, "perPage": per}

	if v := upper(f.Formats); len(v) > 0 {
		vars["format_in"] = v
	}
	if v := upper(f.Statuses); len(v) > 0 {
		vars["status_in"] = v
	}
	if v := trimmed(f.Genres); len(v) > 0 {
		vars["genre_in"] = v
	}
	if f.MinScore > 0 {
		vars["averageScore_greater"] = int(math.Floor(f.MinScore * 10))
	}
	return vars
}

// upper maps enum filters onto AniList's spelling, e.g. "tv" and "Movie"
// become TV and MOVIE.
func upper(in []string) []string {
	out := trimmed(in)
	for i, s := range out {
		out[i] = strings.ToUpper(strings.ReplaceAll(s, " ", "_"))
	}
	return out
}

func trimmed(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
