package models

import "time"

// ListItem is a stored list row as the list service serves it. Its JSON shape
// is what the client-side normalizer reads back.
type ListItem struct {
	ID              string         `json:"_id"`
	UserID          string         `json:"userId"`
	AnimeID         int            `json:"animeId,omitempty"`
	MalID           int            `json:"malId,omitempty"`
	Title           string         `json:"title"`
	Image           string         `json:"image,omitempty"`
	BannerImage     string         `json:"bannerImage,omitempty"`
	Status          Category       `json:"status"`
	TotalEpisodes   int            `json:"totalEpisodes,omitempty"`
	EpisodesWatched int            `json:"episodesWatched"`
	UserRating      int            `json:"userRating"`
	Genres          []string       `json:"genres,omitempty"`
	AnimeData       map[string]any `json:"animeData,omitempty"`
	AddedDate       time.Time      `json:"addedDate"`
	FinishDate      *time.Time     `json:"finishDate,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ItemFromEntry converts a normalized entry into a row owned by userID.
func ItemFromEntry(userID string, e AnimeEntry) ListItem {
	it := ListItem{
		ID:              e.ID,
		UserID:          userID,
		AnimeID:         e.ExternalID,
		MalID:           e.MalID,
		Title:           e.Title,
		Image:           e.CoverImageURL,
		BannerImage:     e.BannerImageURL,
		Status:          e.Status,
		EpisodesWatched: e.EpisodesWatched,
		UserRating:      e.UserRating,
		Genres:          e.Genres,
		AddedDate:       e.AddedDate,
		UpdatedAt:       e.UpdatedAt,
	}
	if e.EpisodesKnown() {
		it.TotalEpisodes = e.TotalEpisodes
	}
	if !e.FinishDate.IsZero() {
		f := e.FinishDate
		it.FinishDate = &f
	}
	return it
}
