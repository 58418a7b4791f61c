// Package present derives display views of a category: entries grouped by
// month, or a flat list newest first.
package present

import (
	"sort"
	"time"

	"otakushelf/pkg/models"
)

const (
	monthFormat = "January 2006"

	// UnknownDate labels entries without any usable date.
	UnknownDate = "Unknown Date"
)

// Group is one month section of a category view.
type Group struct {
	Key     string
	Month   time.Time
	Entries []models.AnimeEntry
}

// Unknown reports whether g is the undated bucket.
func (g Group) Unknown() bool { return g.Key == UnknownDate }

// EffectiveDate picks the date an entry is filed under. Completed entries use
// the finish date first; every category then falls back to the added date and
// the last modification time.
func EffectiveDate(e models.AnimeEntry, c models.Category) (time.Time, bool) {
	candidates := []time.Time{e.AddedDate, e.UpdatedAt}
	if c == models.Completed {
		candidates = append([]time.Time{e.FinishDate}, candidates...)
	}
	for _, t := range candidates {
		if !t.IsZero() {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// GroupAndSort buckets entries by month of their effective date. Groups are
// newest first and the undated group, if any, is always last. Entries keep
// their input order inside a group.
func GroupAndSort(entries []models.AnimeEntry, c models.Category) []Group {
	var (
		groups  []*Group
		byKey   = map[string]*Group{}
		unknown *Group
	)
	for _, e := range entries {
		t, ok := EffectiveDate(e, c)
		if !ok {
			if unknown == nil {
				unknown = &Group{Key: UnknownDate}
			}
			unknown.Entries = append(unknown.Entries, e)
			continue
		}
		key := t.Format(monthFormat)
		g, found := byKey[key]
		if !found {
			g = &Group{Key: key, Month: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Entries = append(g.Entries, e)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Month.After(groups[j].Month)
	})

	out := make([]Group, 0, len(groups)+1)
	for _, g := range groups {
		out = append(out, *g)
	}
	if unknown != nil {
		out = append(out, *unknown)
	}
	return out
}

// SortFlat returns entries newest first by effective date, undated entries
// last. Ties keep their input order.
func SortFlat(entries []models.AnimeEntry, c models.Category) []models.AnimeEntry {
	type keyed struct {
		e  models.AnimeEntry
		t  time.Time
		ok bool
	}
	ks := make([]keyed, len(entries))
	for i, e := range entries {
		t, ok := EffectiveDate(e, c)
		ks[i] = keyed{e: e, t: t, ok: ok}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].ok != ks[j].ok {
			return ks[i].ok
		}
		return ks[i].t.After(ks[j].t)
	})

	out := make([]models.AnimeEntry, len(ks))
	for i, k := range ks {
		out[i] = k.e
	}
	return out
}
