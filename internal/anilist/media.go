package anilist

import (
	"strings"

	"golang.org/x/net/html"

	"otakushelf/pkg/models"
)

type mediaResponse struct {
	Media *media `json:"Media"`
}

type media struct {
	ID         int   `json:"id"`
	IDMal      int   `json:"idMal"`
	Title      title `json:"title"`
	CoverImage struct {
		Large      string `json:"large"`
		ExtraLarge string `json:"extraLarge"`
	} `json:"coverImage"`
	Description  string   `json:"description"`
	Format       string   `json:"format"`
	Status       string   `json:"status"`
	Episodes     int      `json:"episodes"`
	AverageScore float64  `json:"averageScore"`
	Genres       []string `json:"genres"`
	BannerImage  string   `json:"bannerImage"`
	Studios      struct {
		Nodes []struct {
			Name              string `json:"name"`
			IsAnimationStudio bool   `json:"isAnimationStudio"`
		} `json:"nodes"`
	} `json:"studios"`
	Trailer *struct {
		ID        string `json:"id"`
		Site      string `json:"site"`
		Thumbnail string `json:"thumbnail"`
	} `json:"trailer"`
	Relations struct {
		Edges []struct {
			RelationType string `json:"relationType"`
			Node         struct {
				ID     int    `json:"id"`
				Format string `json:"format"`
				Title  title  `json:"title"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"relations"`
}

type title struct {
	Romaji  string `json:"romaji"`
	English string `json:"english"`
	Native  string `json:"native"`
}

func (t title) preferred() string {
	for _, s := range []string{t.English, t.Romaji, t.Native} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "Unknown Title"
}

func (m *media) toDetails() *models.AnimeDetails {
	d := &models.AnimeDetails{
		ExternalID:   m.ID,
		Synopsis:     StripHTML(m.Description),
		Format:       m.Format,
		Status:       m.Status,
		Episodes:     m.Episodes,
		AverageScore: m.AverageScore,
		Genres:       append([]string(nil), m.Genres...),
		BannerImage:  m.BannerImage,
	}

	// Animation studios lead; producers follow.
	var producers []string
	for _, n := range m.Studios.Nodes {
		if n.Name == "" {
			continue
		}
		if n.IsAnimationStudio {
			d.Studios = append(d.Studios, n.Name)
		} else {
			producers = append(producers, n.Name)
		}
	}
	d.Studios = append(d.Studios, producers...)

	if m.Trailer != nil && m.Trailer.ID != "" && m.Trailer.Site != "" {
		d.Trailer = &models.Trailer{ID: m.Trailer.ID, Site: m.Trailer.Site, Thumbnail: m.Trailer.Thumbnail}
	}

	for _, e := range m.Relations.Edges {
		if e.Node.ID == 0 {
			continue
		}
		d.Relations = append(d.Relations, models.Relation{
			ExternalID: e.Node.ID,
			Type:       e.RelationType,
			Title:      e.Node.Title.preferred(),
			Format:     e.Node.Format,
		})
	}
	return d
}

// toAnimeData mirrors the media object the add-to-list flow posts. The
// returned map shares nothing with the cached media.
func (m *media) toAnimeData() map[string]any {
	data := map[string]any{
		"id": m.ID,
		"title": map[string]any{
			"romaji":  m.Title.Romaji,
			"english": m.Title.English,
			"native":  m.Title.Native,
		},
		"coverImage": map[string]any{
			"large":      m.CoverImage.Large,
			"extraLarge": m.CoverImage.ExtraLarge,
		},
		"bannerImage":  m.BannerImage,
		"genres":       append([]string(nil), m.Genres...),
		"averageScore": m.AverageScore,
		"format":       m.Format,
	}
	if m.Episodes > 0 {
		data["episodes"] = m.Episodes
	}
	if m.IDMal > 0 {
		data["idMal"] = m.IDMal
	}
	return data
}

// StripHTML reduces an AniList description to plain text. Line breaks
// survive as newlines.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte('\n')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
