package library

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otakushelf/internal/auth"
	"otakushelf/internal/mal"
	"otakushelf/internal/sync"
	"otakushelf/pkg/database"
	"otakushelf/pkg/models"
)

const userID = "user-1"

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, username, email, password_hash) VALUES (?, 'shelf', 'shelf@example.test', 'x')`, userID)
	require.NoError(t, err)
	return db
}

type recorder struct {
	mu     stdsync.Mutex
	events []sync.ProgressEvent
}

func (r *recorder) SendToUser(_ string, v any) int {
	ev, ok := v.(sync.ProgressEvent)
	if !ok {
		return 0
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return 1
}

func (r *recorder) snapshot() []sync.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sync.ProgressEvent(nil), r.events...)
}

func item(id string, ext int, status models.Category) models.ListItem {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return models.ListItem{
		ID:            id,
		UserID:        userID,
		AnimeID:       ext,
		Title:         "Title " + id,
		Status:        status,
		TotalEpisodes: 12,
		Genres:        []string{"Drama"},
		AddedDate:     now,
		UpdatedAt:     now,
	}
}

func TestRepoInsertListMerge(t *testing.T) {
	repo := NewRepo(openDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, item("a", 1, models.Watching)))
	require.NoError(t, repo.Insert(ctx, item("b", 0, models.Planned)))
	require.NoError(t, repo.Insert(ctx, item("c", 0, models.Planned)), "entries without catalog id may repeat")
	assert.ErrorIs(t, repo.Insert(ctx, item("d", 1, models.Dropped)), ErrDuplicate)

	merged := item("e", 1, models.Completed)
	merged.EpisodesWatched = 12
	merged.UserRating = 4
	merged.TotalEpisodes = 0
	require.NoError(t, repo.Merge(ctx, merged))

	items, err := repo.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID, "merge keeps the existing row")
	assert.Equal(t, models.Completed, items[0].Status)
	assert.Equal(t, 12, items[0].EpisodesWatched)
	assert.Equal(t, 12, items[0].TotalEpisodes, "unknown total does not erase a known one")
	assert.Equal(t, []string{"Drama"}, items[0].Genres)

	n, err := repo.Clear(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestRepoGetMissing(t *testing.T) {
	repo := NewRepo(openDB(t))
	it, err := repo.Get(context.Background(), userID, "nope")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func records(t *testing.T, n int) []mal.Record {
	t.Helper()
	var b strings.Builder
	b.WriteString("<myanimelist>")
	for i := 1; i <= n; i++ {
		b.WriteString("<anime><series_animedb_id>")
		b.WriteString(strings.Repeat("1", i))
		b.WriteString("</series_animedb_id><series_title>Show ")
		b.WriteString(strings.Repeat("I", i))
		b.WriteString("</series_title><my_status>Plan to Watch</my_status></anime>")
	}
	b.WriteString("</myanimelist>")
	exp, err := mal.Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	return exp.Records
}

func TestImporterEmitsProgressAndCompletion(t *testing.T) {
	repo := NewRepo(openDB(t))
	rec := &recorder{}
	im := NewImporter(context.Background(), repo, rec, 2, nil)

	require.NoError(t, repo.Insert(context.Background(), item("old", 99, models.Dropped)))
	require.NoError(t, im.Start(userID, records(t, 5), true))
	im.Wait()

	events := rec.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Current)
	assert.Equal(t, 4, events[1].Current)
	last := events[2]
	assert.True(t, last.Completed)
	assert.Equal(t, 5, last.Current)
	assert.Equal(t, 5, last.Total)
	assert.Equal(t, "Imported 5 of 5 entries", last.Message)

	items, err := repo.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for _, it := range items {
		assert.Equal(t, models.Planned, it.Status)
	}
}

func TestImportedMALIDDoesNotTouchAniListRow(t *testing.T) {
	repo := NewRepo(openDB(t))
	ctx := context.Background()

	anilistRow := item("anilist-row", 20, models.Planned)
	anilistRow.Title = "Naruto"
	require.NoError(t, repo.Insert(ctx, anilistRow))

	linked := item("linked-row", 5114, models.Watching)
	linked.MalID = 30
	require.NoError(t, repo.Insert(ctx, linked))

	exp, err := mal.Parse(strings.NewReader(`<myanimelist>
		<anime><series_animedb_id>20</series_animedb_id><series_title>Some MAL Show</series_title>
			<series_episodes>3</series_episodes><my_watched_episodes>3</my_watched_episodes>
			<my_status>Completed</my_status></anime>
		<anime><series_animedb_id>30</series_animedb_id><series_title>Linked</series_title>
			<my_watched_episodes>7</my_watched_episodes><my_status>Watching</my_status></anime>
	</myanimelist>`))
	require.NoError(t, err)

	im := NewImporter(ctx, repo, nil, 5, nil)
	require.NoError(t, im.Start(userID, exp.Records, false))
	im.Wait()

	got, err := repo.Get(ctx, userID, "anilist-row")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Naruto", got.Title)
	assert.Equal(t, models.Planned, got.Status)
	assert.Zero(t, got.EpisodesWatched)

	got, err = repo.Get(ctx, userID, "linked-row")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.EpisodesWatched, "same MAL id merges into the row")

	items, err := repo.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	imported := items[2]
	assert.Equal(t, "Some MAL Show", imported.Title)
	assert.Zero(t, imported.AnimeID)
	assert.Equal(t, 20, imported.MalID)
	assert.Equal(t, models.Completed, imported.Status)
	assert.Equal(t, 3, imported.EpisodesWatched)
}

func TestImporterOneJobPerUser(t *testing.T) {
	im := NewImporter(context.Background(), NewRepo(openDB(t)), nil, 1, nil)

	im.mu.Lock()
	im.running[userID] = true
	im.mu.Unlock()

	assert.ErrorIs(t, im.Start(userID, nil, false), ErrImportRunning)
	require.NoError(t, im.Start("someone-else", nil, false))
	im.Wait()
}

func TestImporterInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	im := NewImporter(ctx, NewRepo(openDB(t)), rec, 1, nil)
	require.NoError(t, im.Start(userID, records(t, 2), false))
	im.Wait()

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.True(t, events[0].Error)
	assert.Contains(t, events[0].Message, "interrupted")
}

func newRouter(t *testing.T) (*gin.Engine, *Repo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := NewRepo(openDB(t))
	h := NewHandler(repo, nil, NewImporter(context.Background(), repo, nil, 1, nil), nil)

	r := gin.New()
	g := r.Group("/api")
	g.Use(func(c *gin.Context) {
		c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: userID})
		c.Next()
	})
	h.RegisterRoutes(g)
	t.Cleanup(h.Imports.Wait)
	return r, repo
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAddCompletedFillsEpisodes(t *testing.T) {
	r, repo := newRouter(t)

	w := do(r, http.MethodPost, "/api/list/"+userID, map[string]any{
		"category":   "completed",
		"animeTitle": "Cowboy Bebop",
		"animeData":  map[string]any{"id": 1, "episodes": 26},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	items, err := repo.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 26, items[0].EpisodesWatched)
	assert.NotNil(t, items[0].FinishDate)
	assert.Equal(t, float64(1), items[0].AnimeData["id"])
}

func TestAddValidation(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/api/list/"+userID, map[string]any{"category": "reading", "animeTitle": "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/list/"+userID, map[string]any{"category": "planned"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/list/someone-else", map[string]any{"category": "planned", "animeTitle": "X"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateClampsAndValidates(t *testing.T) {
	r, repo := newRouter(t)
	require.NoError(t, repo.Insert(context.Background(), item("a", 1, models.Watching)))

	w := do(r, http.MethodPut, "/api/list/"+userID+"/a", map[string]any{"episodesWatched": 40})
	require.Equal(t, http.StatusOK, w.Code)
	var got models.ListItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 12, got.EpisodesWatched)

	w = do(r, http.MethodPut, "/api/list/"+userID+"/a", map[string]any{"userRating": 6})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/api/list/"+userID+"/a", map[string]any{"status": "finished"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/api/list/"+userID+"/missing", map[string]any{"userRating": 3})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAlwaysHasFourCategories(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodGet, "/api/list/"+userID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string][]models.ListItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, c := range models.Categories {
		v, ok := body[string(c)]
		assert.True(t, ok, c)
		assert.Empty(t, v)
	}
}

func TestImportEndpointValidates(t *testing.T) {
	r, _ := newRouter(t)

	upload := func(content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("malFile", "export.xml")
		_, _ = fw.Write([]byte(content))
		_ = mw.WriteField("userId", userID)
		_ = mw.WriteField("clearExisting", "false")
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/list/import/mal", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := upload("<html/>")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid MyAnimeList export file")

	w = upload("<myanimelist><anime><series_animedb_id>1</series_animedb_id><series_title>A</series_title></anime></myanimelist>")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
}
