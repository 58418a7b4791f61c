package importer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otakushelf/internal/listapi"
	"otakushelf/internal/progress"
	"otakushelf/pkg/models"
)

type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	clear   []bool
	body    string
	result  listapi.ImportResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeUploader) ImportMAL(ctx context.Context, _ string, file listapi.ImportUpload, clearExisting bool) (listapi.ImportResult, error) {
	b, _ := io.ReadAll(file.Content)
	f.mu.Lock()
	f.calls++
	f.clear = append(f.clear, clearExisting)
	f.body = string(b)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func exportFile(t *testing.T) models.PickedFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), "animelist.xml")
	require.NoError(t, os.WriteFile(p, []byte("<myanimelist/>"), 0o600))
	return models.PickedFile{URI: "file://" + p, MimeType: "text/xml"}
}

func TestReplaceImportFollowsProgressAndRefreshesOnce(t *testing.T) {
	var refreshes atomic.Int32
	var changes []models.ImportJobState
	var mu sync.Mutex
	tracker := NewTracker(
		WithClearDelay(50*time.Millisecond),
		OnSettled(func() { refreshes.Add(1) }),
		OnChange(func(s models.ImportJobState, ok bool) {
			mu.Lock()
			defer mu.Unlock()
			if ok {
				changes = append(changes, s)
			}
		}),
	)
	events := make(chan progress.Event)
	tracker.Follow(context.Background(), events)

	up := &fakeUploader{result: listapi.ImportResult{Success: true, Message: "Import started"}}
	im := New(up, tracker)

	res, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportReplace)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []bool{true}, up.clear)
	assert.Equal(t, "<myanimelist/>", up.body)
	assert.True(t, tracker.Importing(), "lock is held until the server reports completion")
	assert.Zero(t, refreshes.Load())

	events <- progress.Event{Current: 5, Total: 20, HasCounts: true}
	require.Eventually(t, func() bool {
		st, ok := tracker.State()
		return ok && st.Current == 5 && st.Total == 20
	}, time.Second, 5*time.Millisecond)

	events <- progress.Event{Current: 20, Total: 20, HasCounts: true, Completed: true}
	require.Eventually(t, func() bool { return !tracker.Importing() }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := tracker.State()
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), refreshes.Load())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
	assert.Equal(t, models.ImportReplace, changes[0].Mode)
}

func TestSecondImportRejectedWhileInFlight(t *testing.T) {
	tracker := NewTracker()
	up := &fakeUploader{
		result:  listapi.ImportResult{Success: true},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	im := New(up, tracker)
	file := exportFile(t)

	done := make(chan error, 1)
	go func() {
		_, err := im.Submit(context.Background(), "u1", file, models.ImportMerge)
		done <- err
	}()
	<-up.started

	_, err := im.Submit(context.Background(), "u1", file, models.ImportMerge)
	assert.ErrorIs(t, err, ErrImportInFlight)

	close(up.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, []bool{false}, up.clear)
}

func TestProgressBeforeAckIsKept(t *testing.T) {
	var refreshes atomic.Int32
	tracker := NewTracker(WithClearDelay(time.Hour), OnSettled(func() { refreshes.Add(1) }))
	tracker.attached = true

	up := &fakeUploader{
		result:  listapi.ImportResult{Success: true},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	im := New(up, tracker)

	done := make(chan error, 1)
	go func() {
		_, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportReplace)
		done <- err
	}()
	<-up.started

	tracker.Apply(progress.Event{Current: 3, Total: 3, HasCounts: true, Completed: true})
	assert.False(t, tracker.Importing())
	assert.Zero(t, refreshes.Load(), "not settled before the server accepted the job")

	close(up.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), refreshes.Load())
	st, ok := tracker.State()
	require.True(t, ok)
	assert.True(t, st.Completed)
	tracker.Reset()
}

func TestLateAckAfterClearDelayStillRefreshes(t *testing.T) {
	var refreshes atomic.Int32
	tracker := NewTracker(WithClearDelay(20*time.Millisecond), OnSettled(func() { refreshes.Add(1) }))
	events := make(chan progress.Event)
	tracker.Follow(context.Background(), events)

	up := &fakeUploader{
		result:  listapi.ImportResult{Success: true},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	im := New(up, tracker)

	done := make(chan Result, 1)
	go func() {
		res, _ := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
		done <- res
	}()
	<-up.started

	events <- progress.Event{Current: 3, Total: 3, HasCounts: true, Completed: true}
	time.Sleep(60 * time.Millisecond)
	st, ok := tracker.State()
	require.True(t, ok, "job survives the clear delay until the upload is acknowledged")
	assert.True(t, st.Completed)

	_, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	assert.ErrorIs(t, err, ErrImportInFlight)

	close(up.release)
	assert.True(t, (<-done).Success)
	assert.Equal(t, int32(1), refreshes.Load())
	require.Eventually(t, func() bool {
		_, ok := tracker.State()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestFailureSurfacesServerReason(t *testing.T) {
	tracker := NewTracker(WithClearDelay(time.Hour))
	up := &fakeUploader{
		result: listapi.ImportResult{Message: "Invalid MAL export"},
		err:    &listapi.APIError{Method: "POST", Path: "/api/list/import/mal", Status: 400, Message: "Invalid MAL export"},
	}
	im := New(up, tracker)

	res, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid MAL export", res.Message)
	assert.False(t, tracker.Importing())

	st, ok := tracker.State()
	require.True(t, ok)
	assert.Equal(t, "Invalid MAL export", st.Error)
	tracker.Reset()
	_, ok = tracker.State()
	assert.False(t, ok)
}

func TestFailureWithoutReasonUsesGenericMessage(t *testing.T) {
	im := New(&fakeUploader{err: errors.New("dial tcp: connection refused")}, NewTracker())

	res, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	require.Error(t, err)
	assert.Equal(t, FailureMessage, res.Message)
	assert.False(t, im.Tracker().Importing())
}

func TestRejectedResponse(t *testing.T) {
	im := New(&fakeUploader{result: listapi.ImportResult{Success: false}}, NewTracker())

	res, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, FailureMessage, res.Message)
}

func TestAckWithoutProgressStreamSettles(t *testing.T) {
	var refreshes atomic.Int32
	tracker := NewTracker(WithClearDelay(time.Hour), OnSettled(func() { refreshes.Add(1) }))
	im := New(&fakeUploader{result: listapi.ImportResult{Success: true}}, tracker)

	_, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	require.NoError(t, err)
	assert.False(t, tracker.Importing())
	assert.Equal(t, int32(1), refreshes.Load())
	tracker.Reset()
}

func TestStreamEndReleasesLock(t *testing.T) {
	tracker := NewTracker(WithClearDelay(time.Hour))
	up := &fakeUploader{result: listapi.ImportResult{Success: true}}
	im := New(up, tracker)

	events := make(chan progress.Event)
	watched := tracker.Follow(context.Background(), events)

	_, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	require.NoError(t, err)
	require.True(t, tracker.Importing())

	close(events)
	<-watched
	assert.False(t, tracker.Importing())
	tracker.Reset()
}

func TestProgressErrorReleasesLock(t *testing.T) {
	tracker := NewTracker(WithClearDelay(time.Hour))
	tracker.attached = true
	im := New(&fakeUploader{result: listapi.ImportResult{Success: true}}, tracker)

	_, err := im.Submit(context.Background(), "u1", exportFile(t), models.ImportMerge)
	require.NoError(t, err)

	tracker.Apply(progress.Event{Failed: true, Error: "row 12 invalid"})
	assert.False(t, tracker.Importing())
	st, _ := tracker.State()
	assert.Equal(t, "row 12 invalid", st.Error)
	tracker.Reset()
}

func TestLocalPath(t *testing.T) {
	p, err := localPath("file:///tmp/a%20b.xml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a b.xml", p)

	p, err = localPath("/tmp/plain.xml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/plain.xml", p)

	_, err = localPath("content://media/1")
	assert.Error(t, err)
	_, err = localPath("")
	assert.Error(t, err)
}
