// Package session wires the list components for one signed-in user: the
// category store, optimistic mutations, bulk import with live progress, and
// metadata enrichment.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"otakushelf/internal/importer"
	"otakushelf/internal/listapi"
	"otakushelf/internal/mutator"
	"otakushelf/internal/normalize"
	"otakushelf/internal/present"
	"otakushelf/internal/progress"
	"otakushelf/internal/store"
	"otakushelf/pkg/models"
)

var (
	ErrClosed    = errors.New("session: closed")
	ErrNoCatalog = errors.New("session: no metadata provider configured")
)

// ListService is the backend the session reads from and writes through.
type ListService interface {
	mutator.Remote
	importer.Uploader
	FetchList(ctx context.Context, userID string) (models.RawSnapshot, error)
	AddEntry(ctx context.Context, userID string, category models.Category, title string, animeData map[string]any) error
}

// Catalog enriches entries with metadata.
type Catalog interface {
	Details(ctx context.Context, externalID int) (*models.AnimeDetails, error)
	DetailsByMAL(ctx context.Context, malID int) (*models.AnimeDetails, error)
	AnimeData(ctx context.Context, externalID int) (map[string]any, error)
}

// Channel delivers import progress.
type Channel interface {
	Connect(ctx context.Context) error
	Subscribe() (<-chan progress.Event, func())
	Close() error
}

type Session struct {
	userID   string
	list     ListService
	catalog  Catalog
	channel  Channel
	store    *store.Store
	mutator  *mutator.Mutator
	tracker  *importer.Tracker
	importer *importer.Importer
	logger   *zap.Logger

	mu          sync.Mutex
	closed      bool
	stopWatch   context.CancelFunc
	unsubscribe func()
	watchDone   <-chan struct{}
}

type options struct {
	catalog    Catalog
	channel    Channel
	clearDelay time.Duration
	onChange   importer.ChangeFunc
	opener     importer.OpenFunc
	now        func() time.Time
	logger     *zap.Logger
}

type Option func(*options)

func WithCatalog(c Catalog) Option { return func(o *options) { o.catalog = c } }

func WithChannel(c Channel) Option { return func(o *options) { o.channel = c } }

// WithImportClearDelay sets how long a finished import stays visible.
func WithImportClearDelay(d time.Duration) Option {
	return func(o *options) { o.clearDelay = d }
}

// OnImportChange observes every import state change.
func OnImportChange(fn importer.ChangeFunc) Option {
	return func(o *options) { o.onChange = fn }
}

func WithFileOpener(fn importer.OpenFunc) Option { return func(o *options) { o.opener = fn } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

func New(userID string, list ListService, opts ...Option) *Session {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Session{
		userID:  userID,
		list:    list,
		catalog: o.catalog,
		channel: o.channel,
		store:   store.New(),
		logger:  o.logger.Named("session").With(zap.String("user", userID)),
	}
	s.mutator = mutator.New(s.store, list, userID,
		mutator.WithResync(s.Refresh),
		mutator.WithClock(o.now),
		mutator.WithLogger(o.logger),
	)
	s.tracker = importer.NewTracker(
		importer.WithClearDelay(o.clearDelay),
		importer.WithTrackerLogger(o.logger),
		importer.OnChange(o.onChange),
		importer.OnSettled(s.importSettled),
	)
	s.importer = importer.New(list, s.tracker,
		importer.WithOpener(o.opener),
		importer.WithLogger(o.logger),
	)
	return s
}

// Start loads the list and opens the progress channel. Only the list load can
// fail Start; a channel that cannot connect is logged and imports fall back
// to the HTTP acknowledgement.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}
	if s.channel == nil {
		return nil
	}

	events, unsubscribe := s.channel.Subscribe()
	watchCtx, stop := context.WithCancel(context.Background())
	done := s.tracker.Follow(watchCtx, events)

	s.mu.Lock()
	s.stopWatch, s.unsubscribe, s.watchDone = stop, unsubscribe, done
	s.mu.Unlock()

	if err := s.channel.Connect(ctx); err != nil {
		s.logger.Warn("progress channel unavailable", zap.Error(err))
		unsubscribe()
		<-done
	}
	return nil
}

// Refresh replaces the store with the server's list.
func (s *Session) Refresh(ctx context.Context) error {
	snap, err := s.list.FetchList(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("refresh list: %w", err)
	}
	s.store.Load(snap)
	return nil
}

func (s *Session) importSettled() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if err := s.Refresh(context.Background()); err != nil {
		s.logger.Warn("refresh after import failed", zap.Error(err))
	}
}

// ChangeStatus moves an entry to category c. A failed call has already been
// reconciled with the server when the error is returned.
func (s *Session) ChangeStatus(ctx context.Context, id string, c models.Category) error {
	return s.mutator.ChangeStatus(ctx, id, c)
}

func (s *Session) IncrementEpisode(ctx context.Context, id string) error {
	return s.mutator.IncrementEpisode(ctx, id)
}

func (s *Session) ChangeRating(ctx context.Context, id string, stars int) error {
	return s.mutator.ChangeRating(ctx, id, stars)
}

// Remove deletes an entry once confirm approves it.
func (s *Session) Remove(ctx context.Context, id string, confirm mutator.ConfirmFunc) (bool, error) {
	return s.mutator.Remove(ctx, id, confirm)
}

// Add puts the AniList media externalID on the list under c. The server
// assigns the entry id, so the list is reloaded afterwards.
func (s *Session) Add(ctx context.Context, externalID int, c models.Category) error {
	if !c.Valid() {
		return fmt.Errorf("add entry: unknown category %q", c)
	}
	if s.catalog == nil {
		return ErrNoCatalog
	}
	data, err := s.catalog.AnimeData(ctx, externalID)
	if err != nil {
		return fmt.Errorf("add entry: %w", err)
	}
	title := normalize.UnknownTitle
	if e := normalize.Normalize(data); e != nil {
		title = e.Title
	}
	if err := s.list.AddEntry(ctx, s.userID, c, title, data); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Import submits a MAL export. The list is refreshed once the server reports
// the job finished.
func (s *Session) Import(ctx context.Context, file models.PickedFile, mode models.ImportMode) (importer.Result, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return importer.Result{}, ErrClosed
	}
	return s.importer.Submit(ctx, s.userID, file, mode)
}

func (s *Session) ImportState() (models.ImportJobState, bool) { return s.tracker.State() }

func (s *Session) Importing() bool { return s.tracker.Importing() }

func (s *Session) Entries(c models.Category) []models.AnimeEntry { return s.store.Entries(c) }

func (s *Session) Counts() map[models.Category]int { return s.store.Counts() }

func (s *Session) Find(id string) (models.AnimeEntry, models.Category, bool) {
	return s.store.FindByID(id)
}

// Groups is the sectioned view of category c.
func (s *Session) Groups(c models.Category) []present.Group {
	return present.GroupAndSort(s.store.Entries(c), c)
}

// Sorted is the flat view of category c, newest first.
func (s *Session) Sorted(c models.Category) []models.AnimeEntry {
	return present.SortFlat(s.store.Entries(c), c)
}

// Details returns the local entry with metadata when the provider answers.
// Entries imported from MyAnimeList are looked up by their MAL id. Enrichment
// failures are logged and leave Details nil.
func (s *Session) Details(ctx context.Context, id string) (models.EntryDetails, bool) {
	e, c, ok := s.store.FindByID(id)
	if !ok {
		return models.EntryDetails{}, false
	}
	out := models.EntryDetails{Entry: e, Category: c}
	if s.catalog == nil {
		return out, true
	}

	var (
		d   *models.AnimeDetails
		err error
	)
	switch {
	case e.ExternalID > 0:
		d, err = s.catalog.Details(ctx, e.ExternalID)
	case e.MalID > 0:
		d, err = s.catalog.DetailsByMAL(ctx, e.MalID)
	default:
		return out, true
	}
	if err != nil {
		s.logger.Warn("metadata unavailable", zap.String("entry", id), zap.Error(err))
		return out, true
	}
	out.Details = d
	return out, true
}

// Close releases the progress channel and drops any import state. It must be
// called when the session ends.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, unsubscribe, done := s.stopWatch, s.unsubscribe, s.watchDone
	s.mu.Unlock()

	var err error
	if s.channel != nil {
		err = s.channel.Close()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
	s.tracker.Reset()
	return err
}

// NeedsLogin reports whether err means the user must sign in again.
func NeedsLogin(err error) bool { return errors.Is(err, listapi.ErrUnauthorized) }
