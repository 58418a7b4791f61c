// Package normalize maps heterogeneous anime records (list backend rows,
// AniList media, MAL export records) onto models.AnimeEntry.
//
// Every field has an ordered alias chain; the first non-null value wins. A
// nested "animeData" object, as stored by the add-to-list flow, is consulted
// after the top-level fields.
package normalize

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"otakushelf/pkg/models"
)

const (
	UnknownTitle    = "Unknown Title"
	placeholderBase = "https://placehold.co/300x450?text="
)

var (
	localIDKeys    = []string{"_id", "entryId"}
	externalIDKeys = []string{"animeId", "anilistId", "id"}
	malIDKeys      = []string{"malId", "mal_id", "idMal", "series_animedb_id"}
	titleKeys      = []string{"title", "displayTitle", "animeTitle", "series_title"}
	imageKeys      = []string{"coverImageUrl", "image", "imageUrl", "image_url", "cover", "poster", "series_image"}
	bannerKeys     = []string{"bannerImage", "bannerImageUrl", "banner"}
	totalKeys      = []string{"totalEpisodes", "episodes", "episodeCount", "series_episodes"}
	watchedKeys    = []string{"episodesWatched", "progress", "watchedEpisodes", "my_watched_episodes"}
	ratingKeys     = []string{"userRating", "rating"}
	scoreKeys      = []string{"averageScore", "meanScore", "score"}
	genreKeys      = []string{"genres", "genre"}
	statusKeys     = []string{"status", "category", "my_status"}
	addedKeys      = []string{"addedDate", "createdAt", "my_start_date"}
	finishKeys     = []string{"finishDate", "completedAt", "my_finish_date"}
	updatedKeys    = []string{"updatedAt", "lastUpdated", "lastModified"}
)

// Normalize converts one raw record. It returns nil when the record carries no
// identity at all.
func Normalize(raw map[string]any) *models.AnimeEntry {
	if raw == nil {
		return nil
	}
	r := newRecord(raw)

	ext, _ := r.intOf(externalIDKeys...)
	mal, _ := r.intOf(malIDKeys...)
	id := r.localID()
	if id == "" && ext > 0 {
		id = strconv.Itoa(ext)
	}
	if id == "" && mal > 0 {
		id = "mal-" + strconv.Itoa(mal)
	}
	if id == "" {
		id = r.stringOf("id")
	}
	if id == "" {
		return nil
	}

	e := &models.AnimeEntry{
		ID:             id,
		ExternalID:     ext,
		MalID:          mal,
		Title:          r.title(),
		BannerImageURL: r.stringOf(bannerKeys...),
		TotalEpisodes:  models.UnknownEpisodes,
		Genres:         r.genres(),
	}
	e.CoverImageURL = r.cover(placeholderSeed(id, e.Title))

	if total, ok := r.intOf(totalKeys...); ok && total > 0 {
		e.TotalEpisodes = total
	}
	if watched, ok := r.intOf(watchedKeys...); ok {
		e.EpisodesWatched = models.ClampEpisodes(watched, e.TotalEpisodes)
	}
	e.UserRating = r.rating()
	if score, ok := r.floatOf(scoreKeys...); ok {
		e.Score = score
	}
	if s := r.stringOf(statusKeys...); s != "" {
		if c, ok := models.ParseCategory(s); ok {
			e.Status = c
		}
	}
	e.AddedDate, _ = r.timeOf(addedKeys...)
	e.FinishDate, _ = r.timeOf(finishKeys...)
	e.UpdatedAt, _ = r.timeOf(updatedKeys...)

	return e
}

// All normalizes a batch, dropping records without identity.
func All(raws []map[string]any) []models.AnimeEntry {
	out := make([]models.AnimeEntry, 0, len(raws))
	for _, raw := range raws {
		if e := Normalize(raw); e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// PlaceholderURL returns the stable placeholder cover for seed.
func PlaceholderURL(seed string) string {
	return placeholderBase + url.QueryEscape(seed)
}

func placeholderSeed(id, title string) string {
	if id != "" {
		return id
	}
	return title
}

type record struct {
	layers []map[string]any
}

func newRecord(raw map[string]any) record {
	r := record{layers: []map[string]any{raw}}
	if nested, ok := raw["animeData"].(map[string]any); ok {
		r.layers = append(r.layers, nested)
	}
	return r
}

// lookup returns the first non-null value for keys, checking the top-level
// record before the nested one.
func (r record) lookup(keys ...string) (any, bool) {
	for _, layer := range r.layers {
		for _, k := range keys {
			if v, ok := layer[k]; ok && v != nil {
				if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
					continue
				}
				return v, true
			}
		}
	}
	return nil, false
}

// localID only reads the top level: a nested animeData object describes the
// catalog title, never the list row.
func (r record) localID() string {
	top := r.layers[0]
	for _, k := range localIDKeys {
		if s := asString(top[k]); s != "" {
			return s
		}
	}
	return ""
}

func (r record) stringOf(keys ...string) string {
	for _, layer := range r.layers {
		for _, k := range keys {
			if s := asString(layer[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

func (r record) intOf(keys ...string) (int, bool) {
	for _, layer := range r.layers {
		for _, k := range keys {
			if n, ok := asInt(layer[k]); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func (r record) floatOf(keys ...string) (float64, bool) {
	for _, layer := range r.layers {
		for _, k := range keys {
			if f, ok := asFloat(layer[k]); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func (r record) title() string {
	for _, layer := range r.layers {
		for _, k := range titleKeys {
			switch t := layer[k].(type) {
			case string:
				if s := strings.TrimSpace(t); s != "" {
					return s
				}
			case map[string]any:
				for _, locale := range []string{"english", "romaji", "native"} {
					if s := asString(t[locale]); s != "" {
						return s
					}
				}
			}
		}
	}
	return UnknownTitle
}

func (r record) cover(seed string) string {
	if v, ok := r.lookup("coverImage"); ok {
		switch c := v.(type) {
		case string:
			if isURL(c) {
				return c
			}
		case map[string]any:
			for _, size := range []string{"large", "extraLarge"} {
				if s := asString(c[size]); isURL(s) {
					return s
				}
			}
			keys := make([]string, 0, len(c))
			for k := range c {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if s := asString(c[k]); isURL(s) {
					return s
				}
			}
		}
	}
	if s := r.stringOf(imageKeys...); isURL(s) {
		return s
	}
	return PlaceholderURL(seed)
}

func (r record) rating() int {
	if n, ok := r.intOf(ratingKeys...); ok {
		return models.ClampRating(n)
	}
	// MAL scores are out of ten.
	if n, ok := r.intOf("my_score"); ok {
		return models.ClampRating((n + 1) / 2)
	}
	return 0
}

func (r record) genres() []string {
	v, ok := r.lookup(genreKeys...)
	if !ok {
		return nil
	}
	var out []string
	switch g := v.(type) {
	case []string:
		out = append(out, g...)
	case []any:
		for _, item := range g {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				out = append(out, asString(it["name"]))
			}
		}
	case string:
		out = strings.Split(g, ",")
	}

	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
