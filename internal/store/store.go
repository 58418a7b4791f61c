// Package store holds the client-side category store: four ordered
// collections of canonical entries, one per list category.
package store

import (
	"sync"

	"otakushelf/internal/normalize"
	"otakushelf/pkg/models"
)

// Store maps each category to its ordered entries. An id lives in at most one
// category, and an entry's Status always equals the key of the collection
// holding it.
//
// Store is safe for concurrent use. None of its methods return errors: lookups
// report a found flag and mutations on unknown ids are no-ops.
type Store struct {
	mu    sync.RWMutex
	lists map[models.Category][]*models.AnimeEntry
}

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.lists = make(map[models.Category][]*models.AnimeEntry, len(models.Categories))
	for _, c := range models.Categories {
		s.lists[c] = []*models.AnimeEntry{}
	}
}

// Load replaces the store wholesale with a normalized snapshot. Categories
// missing from the snapshot become empty. Each entry's status is forced to
// the category it arrived under; duplicate ids keep their first occurrence
// in models.Categories order.
func (s *Store) Load(snapshot models.RawSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	seen := make(map[string]struct{})
	for _, c := range models.Categories {
		for _, e := range normalize.All(snapshot[string(c)]) {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			entry := e
			entry.Status = c
			s.lists[c] = append(s.lists[c], &entry)
		}
	}
}

// FindByID searches every category for id.
func (s *Store) FindByID(id string) (models.AnimeEntry, models.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, idx := s.locate(id)
	if idx < 0 {
		return models.AnimeEntry{}, "", false
	}
	return s.lists[c][idx].Clone(), c, true
}

// Update merges p into the entry with id, wherever it currently lives.
func (s *Store) Update(id string, p models.Patch) bool {
	return s.UpdateIf(id, nil, p)
}

// UpdateIf applies p only when pred accepts the entry's current value. Reverts
// use it so they never clobber a newer local intent on the same field.
func (s *Store) UpdateIf(id string, pred func(models.AnimeEntry) bool, p models.Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, idx := s.locate(id)
	if idx < 0 {
		return false
	}
	e := s.lists[c][idx]
	if pred != nil && !pred(*e) {
		return false
	}
	p.ApplyTo(e)
	return true
}

// MoveCategory moves id from one category to another and sets its status. It
// is a no-op when the entry is not in from, which happens when two status
// changes race.
func (s *Store) MoveCategory(id string, from, to models.Category) bool {
	if !to.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := indexOf(s.lists[from], id)
	if idx < 0 {
		return false
	}
	e := s.lists[from][idx]
	if from == to {
		return true
	}
	s.lists[from] = removeAt(s.lists[from], idx)
	e.Status = to
	s.lists[to] = append(s.lists[to], e)
	return true
}

// Add appends e to the category named by its status. It refuses ids that
// are already present.
func (s *Store) Add(e models.AnimeEntry) bool {
	if !e.Status.Valid() || e.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, idx := s.locate(e.ID); idx >= 0 {
		return false
	}
	entry := e.Clone()
	s.lists[e.Status] = append(s.lists[e.Status], &entry)
	return true
}

// Remove deletes id from every category.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, c := range models.Categories {
		if idx := indexOf(s.lists[c], id); idx >= 0 {
			s.lists[c] = removeAt(s.lists[c], idx)
			removed = true
		}
	}
	return removed
}

// Entries returns a copy of the category's entries in store order.
func (s *Store) Entries(c models.Category) []models.AnimeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.lists[c])
}

// All returns a copy of every category.
func (s *Store) All() map[models.Category][]models.AnimeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.Category][]models.AnimeEntry, len(models.Categories))
	for _, c := range models.Categories {
		out[c] = cloneAll(s.lists[c])
	}
	return out
}

// Counts returns the number of entries per category.
func (s *Store) Counts() map[models.Category]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.Category]int, len(models.Categories))
	for _, c := range models.Categories {
		out[c] = len(s.lists[c])
	}
	return out
}

// locate must be called with mu held. Collections are user-list sized, so a
// linear scan is fine.
func (s *Store) locate(id string) (models.Category, int) {
	for _, c := range models.Categories {
		if idx := indexOf(s.lists[c], id); idx >= 0 {
			return c, idx
		}
	}
	return "", -1
}

func indexOf(list []*models.AnimeEntry, id string) int {
	for i, e := range list {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(list []*models.AnimeEntry, idx int) []*models.AnimeEntry {
	out := make([]*models.AnimeEntry, 0, len(list)-1)
	out = append(out, list[:idx]...)
	return append(out, list[idx+1:]...)
}

func cloneAll(list []*models.AnimeEntry) []models.AnimeEntry {
	out := make([]models.AnimeEntry, 0, len(list))
	for _, e := range list {
		out = append(out, e.Clone())
	}
	return out
}
