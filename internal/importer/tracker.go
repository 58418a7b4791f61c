package importer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"otakushelf/internal/progress"
	"otakushelf/pkg/models"
)

// DefaultClearDelay is how long a finished job stays visible.
const DefaultClearDelay = 2 * time.Second

// ChangeFunc receives the job state after every change; ok is false once the
// state has been cleared.
type ChangeFunc func(state models.ImportJobState, ok bool)

// SettleFunc runs once per accepted job when the server side import is over.
type SettleFunc func()

// Tracker owns the transient import job: its counters, the single in-flight
// lock, and the timer that clears a finished job.
type Tracker struct {
	clearDelay time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	job       *job
	attached  bool
	onChange  ChangeFunc
	onSettled SettleFunc
}

type job struct {
	state     models.ImportJobState
	importing bool
	acked     bool
	accepted  bool
	finished  bool
	settled   bool
	timer     *time.Timer
}

type TrackerOption func(*Tracker)

func WithClearDelay(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.clearDelay = d
		}
	}
}

func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func OnChange(fn ChangeFunc) TrackerOption {
	return func(t *Tracker) { t.onChange = fn }
}

func OnSettled(fn SettleFunc) TrackerOption {
	return func(t *Tracker) { t.onSettled = fn }
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{clearDelay: DefaultClearDelay, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("import")
	return t
}

// State returns the current job, if any.
func (t *Tracker) State() (models.ImportJobState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return models.ImportJobState{}, false
	}
	return t.job.state, true
}

// Importing reports whether an import holds the lock.
func (t *Tracker) Importing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job != nil && t.job.importing
}

// Follow feeds progress events into the tracker until events is closed or
// ctx ends, and returns a channel closed when it stops. An import still
// running when the stream ends loses its lock, since no terminal event can
// arrive anymore.
func (t *Tracker) Follow(ctx context.Context, events <-chan progress.Event) <-chan struct{} {
	t.mu.Lock()
	t.attached = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer t.detach()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				t.Apply(ev)
			}
		}
	}()
	return done
}

func (t *Tracker) detach() {
	var n notice
	t.mu.Lock()
	t.attached = false
	if j := t.job; j != nil && j.importing {
		t.logger.Warn("progress stream ended during import, releasing lock")
		t.finishLocked(j, &n)
		n.change, n.state = true, j.state
	}
	t.mu.Unlock()
	t.deliver(n)
}

// Apply folds one progress event into the current job. Events with no job in
// flight are ignored.
func (t *Tracker) Apply(ev progress.Event) {
	var n notice
	t.mu.Lock()
	j := t.job
	if j == nil || j.finished {
		t.mu.Unlock()
		t.logger.Debug("progress without an active import", zap.Int("current", ev.Current))
		return
	}
	if ev.HasCounts {
		j.state.Current, j.state.Total = ev.Current, ev.Total
	}
	switch {
	case ev.Failed:
		j.state.Error = ev.Error
		t.logger.Warn("import failed", zap.String("error", ev.Error))
		t.finishLocked(j, &n)
	case ev.Completed:
		j.state.Completed = true
		t.finishLocked(j, &n)
	}
	n.change, n.state = true, j.state
	t.mu.Unlock()
	t.deliver(n)
}

// Reset drops the job and its timer, releasing the lock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	j := t.job
	if j != nil && j.timer != nil {
		j.timer.Stop()
	}
	t.job = nil
	t.mu.Unlock()
	if j != nil {
		t.deliver(notice{change: true, cleared: true})
	}
}

func (t *Tracker) begin(fileRef string, mode models.ImportMode) (*job, error) {
	t.mu.Lock()
	// A job is in flight until both the server run and the upload are over.
	if t.job != nil && (t.job.importing || !t.job.acked) {
		t.mu.Unlock()
		return nil, ErrImportInFlight
	}
	if t.job != nil && t.job.timer != nil {
		t.job.timer.Stop()
	}
	j := &job{
		state:     models.ImportJobState{FileRef: fileRef, Mode: mode},
		importing: true,
	}
	t.job = j
	t.mu.Unlock()
	t.deliver(notice{change: true, state: j.state})
	return j, nil
}

// ack records the HTTP outcome of the submission. Without a live progress
// stream the acknowledgement is the only completion signal there will be.
func (t *Tracker) ack(j *job, accepted bool, message string) {
	var n notice
	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		t.deliver(n)
	}()
	if t.job != j {
		return
	}
	j.acked, j.accepted = true, accepted

	switch {
	case !accepted:
		j.state.Error = message
		if !j.finished {
			t.finishLocked(j, &n)
		}
	case j.finished:
		t.settleLocked(j, &n)
	case !t.attached:
		j.state.Completed = true
		t.finishLocked(j, &n)
	default:
		return
	}
	t.scheduleClearLocked(j)
	n.change, n.state = true, j.state
}

func (t *Tracker) finishLocked(j *job, n *notice) {
	j.importing = false
	j.finished = true
	t.settleLocked(j, n)
	if j.acked {
		t.scheduleClearLocked(j)
	}
}

// scheduleClearLocked starts the clear timer once the job is finished. Callers
// only reach it after the acknowledgement, which may still need the job.
func (t *Tracker) scheduleClearLocked(j *job) {
	if j.finished && j.timer == nil {
		j.timer = time.AfterFunc(t.clearDelay, func() { t.clear(j) })
	}
}

func (t *Tracker) settleLocked(j *job, n *notice) {
	if j.acked && j.accepted && !j.settled {
		j.settled = true
		n.settle = true
	}
}

func (t *Tracker) clear(j *job) {
	t.mu.Lock()
	if t.job != j {
		t.mu.Unlock()
		return
	}
	t.job = nil
	t.mu.Unlock()
	t.deliver(notice{change: true, cleared: true})
}

// notice collects callbacks so they run without the lock held.
type notice struct {
	change  bool
	cleared bool
	state   models.ImportJobState
	settle  bool
}

func (t *Tracker) deliver(n notice) {
	if n.change && t.onChange != nil {
		t.onChange(n.state, !n.cleared)
	}
	if n.settle && t.onSettled != nil {
		t.onSettled()
	}
}
