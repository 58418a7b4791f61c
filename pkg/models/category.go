package models

import (
	"strconv"
	"strings"
)

// Category is one of the four fixed list buckets an entry can live in.
type Category string

const (
	Watching  Category = "watching"
	Completed Category = "completed"
	Planned   Category = "planned"
	Dropped   Category = "dropped"
)

// Categories lists every category in display order.
var Categories = []Category{Watching, Completed, Planned, Dropped}

func (c Category) String() string { return string(c) }

// Valid reports whether c is one of the four fixed categories.
func (c Category) Valid() bool {
	switch c {
	case Watching, Completed, Planned, Dropped:
		return true
	}
	return false
}

// ParseCategory maps the spellings used by the list backend, AniList and
// MyAnimeList exports onto a Category.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)

	switch s {
	case "watching", "current", "on hold", "onhold", "paused", "repeating", "rewatching", "1", "3":
		return Watching, true
	case "completed", "complete", "2":
		return Completed, true
	case "planned", "plan to watch", "plantowatch", "planning", "wish list", "6":
		return Planned, true
	case "dropped", "4":
		return Dropped, true
	}

	// MAL occasionally emits zero padded codes.
	if n, err := strconv.Atoi(s); err == nil && strconv.Itoa(n) != s {
		return ParseCategory(strconv.Itoa(n))
	}
	return "", false
}
