package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otakushelf/internal/mal"
	"otakushelf/internal/normalize"
	syncpkg "otakushelf/internal/sync"
	"otakushelf/pkg/models"
)

// DefaultProgressEvery is how many applied entries separate two progress
// messages.
const DefaultProgressEvery = 5

var ErrImportRunning = errors.New("an import is already running for this user")

// Notifier delivers a message to every live connection of a user.
type Notifier interface {
	SendToUser(userID string, v any) int
}

// Importer applies accepted MAL exports in the background and reports
// progress to the owning user's websocket clients.
type Importer struct {
	base   context.Context
	repo   *Repo
	notify Notifier
	every  int
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewImporter ties background jobs to ctx; cancelling it interrupts them.
func NewImporter(ctx context.Context, repo *Repo, notify Notifier, every int, logger *zap.Logger) *Importer {
	if every <= 0 {
		every = DefaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		base:    ctx,
		repo:    repo,
		notify:  notify,
		every:   every,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.Named("import"),
		running: make(map[string]bool),
	}
}

// Start claims the user's import slot and applies records in a goroutine.
func (im *Importer) Start(userID string, records []mal.Record, clearExisting bool) error {
	im.mu.Lock()
	if im.running[userID] {
		im.mu.Unlock()
		return ErrImportRunning
	}
	im.running[userID] = true
	im.mu.Unlock()

	im.wg.Add(1)
	go func() {
		defer im.wg.Done()
		defer im.release(userID)
		im.run(userID, records, clearExisting)
	}()
	return nil
}

// Wait blocks until every started import has finished.
func (im *Importer) Wait() { im.wg.Wait() }

func (im *Importer) release(userID string) {
	im.mu.Lock()
	delete(im.running, userID)
	im.mu.Unlock()
}

func (im *Importer) run(userID string, records []mal.Record, clearExisting bool) {
	ctx := im.base
	total := len(records)
	log := im.logger.With(zap.String("user_id", userID), zap.Int("total", total))
	log.Info("import started", zap.Bool("clear_existing", clearExisting))

	if clearExisting {
		n, err := im.repo.Clear(ctx, userID)
		if err != nil {
			log.Error("clear list", zap.Error(err))
			im.fail(userID, 0, total, "Import failed: could not clear the existing list")
			return
		}
		log.Info("list cleared", zap.Int64("removed", n))
	}

	applied, skipped := 0, 0
	for i, rec := range records {
		if ctx.Err() != nil {
			log.Warn("import interrupted", zap.Int("current", i))
			im.fail(userID, i, total, "Import interrupted: the server is shutting down")
			return
		}

		item, ok := im.itemFromRecord(userID, rec)
		if !ok {
			skipped++
		} else if err := im.repo.Merge(ctx, item); err != nil {
			log.Warn("skipping entry", zap.String("title", item.Title), zap.Error(err))
			skipped++
		} else {
			applied++
		}

		current := i + 1
		if current%im.every == 0 && current < total {
			im.send(userID, syncpkg.ProgressEvent{Type: syncpkg.TypeProgress, Current: current, Total: total})
		}
	}

	msg := fmt.Sprintf("Imported %d of %d entries", applied, total)
	if skipped > 0 {
		msg += fmt.Sprintf(" (%d skipped)", skipped)
	}
	log.Info("import finished", zap.Int("applied", applied), zap.Int("skipped", skipped))
	im.send(userID, syncpkg.ProgressEvent{
		Type:      syncpkg.TypeProgress,
		Current:   total,
		Total:     total,
		Completed: true,
		Message:   msg,
	})
}

func (im *Importer) fail(userID string, current, total int, msg string) {
	im.send(userID, syncpkg.ProgressEvent{
		Type:    syncpkg.TypeProgress,
		Current: current,
		Total:   total,
		Error:   true,
		Message: msg,
	})
}

func (im *Importer) send(userID string, ev syncpkg.ProgressEvent) {
	if im.notify == nil {
		return
	}
	if n := im.notify.SendToUser(userID, ev); n == 0 {
		im.logger.Debug("no subscribers for progress", zap.String("user_id", userID))
	}
}

// itemFromRecord maps one export record to a stored row. Records without a
// usable title are skipped.
func (im *Importer) itemFromRecord(userID string, rec mal.Record) (models.ListItem, bool) {
	e := normalize.Normalize(rec.Raw())
	if e == nil || e.Title == normalize.UnknownTitle {
		return models.ListItem{}, false
	}
	if !e.Status.Valid() {
		e.Status = models.Planned
	}

	now := im.now()
	if e.AddedDate.IsZero() {
		e.AddedDate = now
	}
	e.UpdatedAt = now
	if e.Status == models.Completed && e.FinishDate.IsZero() {
		e.FinishDate = now
	}
	e.ID = uuid.NewString()

	item := models.ItemFromEntry(userID, *e)
	item.AnimeData = map[string]any{
		"idMal":  e.MalID,
		"title":  e.Title,
		"source": "myanimelist",
	}
	if e.EpisodesKnown() {
		item.AnimeData["episodes"] = e.TotalEpisodes
	}
	return item, true
}
