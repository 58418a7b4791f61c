// Package mutator applies list changes optimistically: the category store is
// changed first, the list service is called, and the local change is undone
// if the call fails.
package mutator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otakushelf/internal/listapi"
	"otakushelf/internal/store"
	"otakushelf/pkg/models"
)

var (
	ErrInvalidRating   = errors.New("mutator: rating must be between 1 and 5")
	ErrInvalidCategory = errors.New("mutator: unknown category")
)

// Remote is the slice of the list service the mutator writes through.
type Remote interface {
	UpdateEntry(ctx context.Context, userID, entryID string, u listapi.EntryUpdate) error
	DeleteEntry(ctx context.Context, userID, entryID string) error
}

// ResyncFunc reloads the authoritative list into the store.
type ResyncFunc func(ctx context.Context) error

// ConfirmFunc asks the user to approve a destructive change.
type ConfirmFunc func(ctx context.Context, e models.AnimeEntry) bool

type Mutator struct {
	store  *store.Store
	remote Remote
	userID string
	resync ResyncFunc
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Mutator)

// WithResync sets the full reload used when a status change fails remotely.
func WithResync(fn ResyncFunc) Option {
	return func(m *Mutator) { m.resync = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Mutator) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Mutator) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(s *store.Store, remote Remote, userID string, opts ...Option) *Mutator {
	m := &Mutator{
		store:  s,
		remote: remote,
		userID: userID,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("mutator")
	return m
}

// command is one optimistic intent. apply reports false when there is nothing
// to do, in which case no remote call is made.
type command interface {
	name() string
	apply(m *Mutator) bool
	remote(ctx context.Context, m *Mutator) error
	revert(ctx context.Context, m *Mutator)
}

func (m *Mutator) execute(ctx context.Context, id string, cmd command) error {
	if !cmd.apply(m) {
		return nil
	}
	if err := cmd.remote(ctx, m); err != nil {
		m.logger.Warn("remote update failed, reverting",
			zap.String("intent", cmd.name()),
			zap.String("entry", id),
			zap.Error(err),
		)
		// The revert must run even if the caller has given up on ctx.
		cmd.revert(context.WithoutCancel(ctx), m)
		return fmt.Errorf("%s %s: %w", cmd.name(), id, err)
	}
	return nil
}

// ChangeStatus moves an entry to another category. Moving to completed also
// fills in the episode count and the finish date. On failure the whole list is
// re-fetched; if that fails as well the move is undone locally.
func (m *Mutator) ChangeStatus(ctx context.Context, id string, to models.Category) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, to)
	}
	return m.execute(ctx, id, &statusChange{id: id, to: to})
}

// IncrementEpisode adds one watched episode. Reaching the last known episode
// cascades into a status change to completed.
func (m *Mutator) IncrementEpisode(ctx context.Context, id string) error {
	cmd := &episodeIncrement{id: id}
	if err := m.execute(ctx, id, cmd); err != nil {
		return err
	}
	if cmd.applied && cmd.reachedEnd {
		m.logger.Debug("last episode watched, completing", zap.String("entry", id))
		return m.ChangeStatus(ctx, id, models.Completed)
	}
	return nil
}

// ChangeRating sets a 1..5 star rating.
func (m *Mutator) ChangeRating(ctx context.Context, id string, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}
	return m.execute(ctx, id, &ratingChange{id: id, stars: stars})
}

// Remove deletes an entry after confirm approves it. It is not optimistic:
// the store only changes once the server has confirmed the delete. It reports
// whether the entry was removed.
func (m *Mutator) Remove(ctx context.Context, id string, confirm ConfirmFunc) (bool, error) {
	e, _, ok := m.store.FindByID(id)
	if !ok {
		return false, nil
	}
	if confirm == nil || !confirm(ctx, e) {
		m.logger.Debug("removal declined", zap.String("entry", id))
		return false, nil
	}

	err := m.remote.DeleteEntry(ctx, m.userID, id)
	if err != nil && !errors.Is(err, listapi.ErrNotFound) {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	m.store.Remove(id)
	return true, nil
}
