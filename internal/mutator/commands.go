package mutator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"otakushelf/internal/listapi"
	"otakushelf/pkg/models"
)

type statusChange struct {
	id string
	to models.Category

	from      models.Category
	prior     models.AnimeEntry
	watched   *int
	finishSet *time.Time
}

func (c *statusChange) name() string { return "change status" }

func (c *statusChange) apply(m *Mutator) bool {
	e, from, ok := m.store.FindByID(c.id)
	if !ok || from == c.to {
		return false
	}
	if !m.store.MoveCategory(c.id, from, c.to) {
		return false
	}
	c.from, c.prior = from, e

	if c.to == models.Completed {
		var p models.Patch
		if e.EpisodesKnown() {
			w := e.TotalEpisodes
			c.watched, p.EpisodesWatched = &w, &w
		}
		if e.FinishDate.IsZero() {
			now := m.now()
			c.finishSet, p.FinishDate = &now, &now
		}
		if !p.Empty() {
			m.store.Update(c.id, p)
		}
	}
	return true
}

func (c *statusChange) remote(ctx context.Context, m *Mutator) error {
	to := c.to
	return m.remote.UpdateEntry(ctx, m.userID, c.id, listapi.EntryUpdate{
		Status:          &to,
		EpisodesWatched: c.watched,
		FromCategory:    c.from,
		Category:        c.to,
	})
}

// revert prefers a full reload over inverse-patching a cross-category move.
// Only when the reload itself fails is the move undone by hand.
func (c *statusChange) revert(ctx context.Context, m *Mutator) {
	if m.resync != nil {
		err := m.resync(ctx)
		if err == nil {
			return
		}
		m.logger.Warn("resync after failed status change failed, undoing locally",
			zap.String("entry", c.id), zap.Error(err))
	}

	if !m.store.MoveCategory(c.id, c.to, c.from) {
		return
	}
	var p models.Patch
	if c.watched != nil {
		w := c.prior.EpisodesWatched
		p.EpisodesWatched = &w
	}
	if c.finishSet != nil {
		f := c.prior.FinishDate
		p.FinishDate = &f
	}
	if p.Empty() {
		return
	}
	m.store.UpdateIf(c.id, func(e models.AnimeEntry) bool {
		if c.watched != nil && e.EpisodesWatched != *c.watched {
			return false
		}
		if c.finishSet != nil && !e.FinishDate.Equal(*c.finishSet) {
			return false
		}
		return true
	}, p)
}

type episodeIncrement struct {
	id string

	applied    bool
	prior      int
	next       int
	category   models.Category
	reachedEnd bool
}

func (c *episodeIncrement) name() string { return "increment episode" }

func (c *episodeIncrement) apply(m *Mutator) bool {
	e, cat, ok := m.store.FindByID(c.id)
	if !ok || e.AtEpisodeCeiling() {
		return false
	}
	c.prior = e.EpisodesWatched
	c.next = e.EpisodesWatched + 1
	c.category = cat
	c.reachedEnd = e.EpisodesKnown() && c.next >= e.TotalEpisodes
	next := c.next
	c.applied = m.store.Update(c.id, models.Patch{EpisodesWatched: &next})
	return c.applied
}

func (c *episodeIncrement) remote(ctx context.Context, m *Mutator) error {
	next, status := c.next, c.category
	return m.remote.UpdateEntry(ctx, m.userID, c.id, listapi.EntryUpdate{
		EpisodesWatched: &next,
		Status:          &status,
	})
}

func (c *episodeIncrement) revert(_ context.Context, m *Mutator) {
	prior := c.prior
	m.store.UpdateIf(c.id, func(e models.AnimeEntry) bool {
		return e.EpisodesWatched == c.next
	}, models.Patch{EpisodesWatched: &prior})
}

type ratingChange struct {
	id    string
	stars int

	prior    int
	category models.Category
}

func (c *ratingChange) name() string { return "change rating" }

func (c *ratingChange) apply(m *Mutator) bool {
	e, cat, ok := m.store.FindByID(c.id)
	if !ok || e.UserRating == c.stars {
		return false
	}
	c.prior, c.category = e.UserRating, cat
	stars := c.stars
	return m.store.Update(c.id, models.Patch{UserRating: &stars})
}

func (c *ratingChange) remote(ctx context.Context, m *Mutator) error {
	stars, status := c.stars, c.category
	return m.remote.UpdateEntry(ctx, m.userID, c.id, listapi.EntryUpdate{
		UserRating: &stars,
		Status:     &status,
	})
}

func (c *ratingChange) revert(_ context.Context, m *Mutator) {
	prior := c.prior
	m.store.UpdateIf(c.id, func(e models.AnimeEntry) bool {
		return e.UserRating == c.stars
	}, models.Patch{UserRating: &prior})
}
