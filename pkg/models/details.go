package models

// AnimeDetails is the read-only enrichment fetched from the metadata provider.
type AnimeDetails struct {
	ExternalID   int        `json:"externalId"`
	Synopsis     string     `json:"synopsis,omitempty"`
	Format       string     `json:"format,omitempty"`
	Status       string     `json:"status,omitempty"`
	Episodes     int        `json:"episodes,omitempty"`
	AverageScore float64    `json:"averageScore,omitempty"`
	Genres       []string   `json:"genres,omitempty"`
	Studios      []string   `json:"studios,omitempty"`
	BannerImage  string     `json:"bannerImage,omitempty"`
	Trailer      *Trailer   `json:"trailer,omitempty"`
	Relations    []Relation `json:"relations,omitempty"`
}

type Trailer struct {
	ID        string `json:"id"`
	Site      string `json:"site"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// URL returns a watchable link for the trailer when the site is known.
func (t Trailer) URL() string {
	switch t.Site {
	case "youtube":
		return "https://www.youtube.com/watch?v=" + t.ID
	case "dailymotion":
		return "https://www.dailymotion.com/video/" + t.ID
	}
	return ""
}

type Relation struct {
	ExternalID int    `json:"externalId"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Format     string `json:"format,omitempty"`
}

// EntryDetails pairs a local entry with its best-effort enrichment.
// Details is nil when the provider could not be reached.
type EntryDetails struct {
	Entry    AnimeEntry    `json:"entry"`
	Category Category      `json:"category"`
	Details  *AnimeDetails `json:"details,omitempty"`
}
