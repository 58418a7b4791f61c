package anilist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `{"data":{"Page":{
  "pageInfo": {"total": 41, "currentPage": 2, "lastPage": 3, "hasNextPage": true},
  "media": [
    {"id": 20, "idMal": 20, "title": {"romaji": "Naruto", "english": "Naruto"}, "format": "TV", "status": "FINISHED", "episodes": 220, "averageScore": 79, "genres": ["Action"]},
    {"id": 178788, "idMal": null, "title": {"romaji": "Boruto: Two Blue Vortex", "english": null}, "format": "TV", "status": "NOT_YET_RELEASED", "episodes": null, "averageScore": null, "genres": []}
  ]
}}}`

func TestSearch(t *testing.T) {
	var got gqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	c, err := New(WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer c.Close()

	page, err := c.Search(context.Background(), "  naruto ", SearchFilters{
		Formats:  []string{"tv", " "},
		Statuses: []string{"not yet released"},
		Genres:   []string{"Action"},
		MinScore: 7.55,
		Page:     2,
		PerPage:  500,
	})
	require.NoError(t, err)

	assert.Contains(t, got.Query, "Page(page: $page, perPage: $perPage)")
	assert.Equal(t, "naruto", got.Variables["search"])
	assert.Equal(t, float64(2), got.Variables["page"])
	assert.Equal(t, float64(maxPerPage), got.Variables["perPage"])
	assert.Equal(t, []any{"TV"}, got.Variables["format_in"])
	assert.Equal(t, []any{"NOT_YET_RELEASED"}, got.Variables["status_in"])
	assert.Equal(t, []any{"Action"}, got.Variables["genre_in"])
	assert.Equal(t, float64(75), got.Variables["averageScore_greater"])

	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.LastPage)
	assert.Equal(t, 41, page.Total)
	assert.True(t, page.HasNext)
	require.Len(t, page.Hits, 2)
	assert.Equal(t, Hit{
		ExternalID:   20,
		MalID:        20,
		Title:        "Naruto",
		Format:       "TV",
		Status:       "FINISHED",
		Episodes:     220,
		AverageScore: 79,
		Genres:       []string{"Action"},
	}, page.Hits[0])
	assert.Equal(t, "Boruto: Two Blue Vortex", page.Hits[1].Title)
	assert.False(t, page.Hits[1].EpisodesKnown())
}

func TestSearchDefaultsAndEmpty(t *testing.T) {
	var got gqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":{"Page":{"pageInfo":{"currentPage":1,"lastPage":1},"media":[]}}}`))
	}))
	defer srv.Close()

	c, err := New(WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Search(context.Background(), " ", SearchFilters{Statuses: []string{"FINISHED"}})
	assert.ErrorIs(t, err, ErrEmptySearch)

	page, err := c.Search(context.Background(), "", SearchFilters{Genres: []string{"Horror"}})
	require.NoError(t, err)
	assert.Empty(t, page.Hits)
	assert.Equal(t, float64(1), got.Variables["page"])
	assert.Equal(t, float64(DefaultPerPage), got.Variables["perPage"])
	assert.NotContains(t, got.Variables, "search")
	assert.NotContains(t, got.Variables, "averageScore_greater")
}
