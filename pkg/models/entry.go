package models

import "time"

// UnknownEpisodes marks an entry whose total episode count is not known yet.
const UnknownEpisodes = -1

// AnimeEntry is the canonical form of a list entry. Every source record (list
// backend, AniList, MAL export) is normalized into this shape before it reaches
// the category store. ExternalID is always an AniList media id; a MyAnimeList
// id lives in MalID so the two catalogs never share a key.
type AnimeEntry struct {
	ID              string    `json:"id"`
	ExternalID      int       `json:"externalId,omitempty"`
	MalID           int       `json:"malId,omitempty"`
	Title           string    `json:"title"`
	CoverImageURL   string    `json:"coverImageUrl,omitempty"`
	BannerImageURL  string    `json:"bannerImageUrl,omitempty"`
	Status          Category  `json:"status"`
	TotalEpisodes   int       `json:"totalEpisodes"`
	EpisodesWatched int       `json:"episodesWatched"`
	UserRating      int       `json:"userRating"`
	Score           float64   `json:"score,omitempty"`
	Genres          []string  `json:"genres,omitempty"`
	AddedDate       time.Time `json:"addedDate,omitempty"`
	FinishDate      time.Time `json:"finishDate,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

// EpisodesKnown reports whether TotalEpisodes carries a real count.
func (e AnimeEntry) EpisodesKnown() bool {
	return e.TotalEpisodes > 0
}

// AtEpisodeCeiling reports whether every known episode has been watched.
func (e AnimeEntry) AtEpisodeCeiling() bool {
	return e.EpisodesKnown() && e.EpisodesWatched >= e.TotalEpisodes
}

// Clone returns a copy that shares no slices with e.
func (e AnimeEntry) Clone() AnimeEntry {
	if e.Genres != nil {
		e.Genres = append([]string(nil), e.Genres...)
	}
	return e
}

// ClampEpisodes bounds watched to [0, total], or to [0, ∞) when total is unknown.
func ClampEpisodes(watched, total int) int {
	if watched < 0 {
		return 0
	}
	if total > 0 && watched > total {
		return total
	}
	return watched
}

// ClampRating bounds a user rating to [0, 5]; 0 means unrated.
func ClampRating(r int) int {
	switch {
	case r < 0:
		return 0
	case r > 5:
		return 5
	}
	return r
}

// Patch is a field-level change to an entry. Nil fields are left untouched.
// Status is deliberately absent: category changes go through a move so that
// status and collection membership can never disagree.
type Patch struct {
	EpisodesWatched *int
	UserRating      *int
	FinishDate      *time.Time
	UpdatedAt       *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.EpisodesWatched == nil && p.UserRating == nil && p.FinishDate == nil && p.UpdatedAt == nil
}

// ApplyTo merges p into e, clamping numeric fields.
func (p Patch) ApplyTo(e *AnimeEntry) {
	if p.EpisodesWatched != nil {
		e.EpisodesWatched = ClampEpisodes(*p.EpisodesWatched, e.TotalEpisodes)
	}
	if p.UserRating != nil {
		e.UserRating = ClampRating(*p.UserRating)
	}
	if p.FinishDate != nil {
		e.FinishDate = *p.FinishDate
	}
	if p.UpdatedAt != nil {
		e.UpdatedAt = *p.UpdatedAt
	}
}

// RawSnapshot is a category-keyed list as decoded from the list backend,
// before normalization.
type RawSnapshot map[string][]map[string]any
