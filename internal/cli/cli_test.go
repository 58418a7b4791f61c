package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otakushelf/internal/anilist"
	"otakushelf/internal/server"
	"otakushelf/pkg/config"
	"otakushelf/pkg/database"
)

const exportXML = `<myanimelist>
	<anime>
		<series_animedb_id>5114</series_animedb_id>
		<series_title>Fullmetal Alchemist: Brotherhood</series_title>
		<series_episodes>64</series_episodes>
		<my_watched_episodes>64</my_watched_episodes>
		<my_finish_date>2023-02-01</my_finish_date>
		<my_score>10</my_score>
		<my_status>Completed</my_status>
	</anime>
	<anime>
		<series_animedb_id>52991</series_animedb_id>
		<series_title>Sousou no Frieren</series_title>
		<series_episodes>28</series_episodes>
		<my_watched_episodes>3</my_watched_episodes>
		<my_status>Watching</my_status>
	</anime>
</myanimelist>`

func setup(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	color.NoColor = true

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	ctx, cancel := context.WithCancel(context.Background())
	srv := server.New(ctx, config.Server{
		JWTSecret:     "test-secret",
		JWTIssuer:     "otakushelf-test",
		JWTTTL:        time.Hour,
		ProgressEvery: 1,
	}, db, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().CloseAll()
		ts.Close()
		cancel()
		srv.WaitImports()
		_ = db.Close()
	})

	dir := t.TempDir()
	t.Setenv("OTAKUSHELF_CONFIG_PATH", dir)
	t.Setenv("OTAKUSHELF_TOKEN_PATH", filepath.Join(dir, "token.json"))
	t.Setenv("OTAKUSHELF_API_URL", ts.URL)
	t.Setenv("OTAKUSHELF_ANILIST_URL", ts.URL+"/no-graphql-here")
	t.Setenv("OTAKUSHELF_IMPORT_CLEAR_DELAY", "10ms")
	t.Setenv("OTAKUSHELF_LOG_LEVEL", "fatal")
	return dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorkflow(t *testing.T) {
	dir := setup(t)

	_, err := run(t, "", "list")
	require.ErrorIs(t, err, errNotLoggedIn)

	out, err := run(t, "hunter2hunter2\n", "register", "--username", "shelfuser", "--email", "shelf@example.test")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as shelfuser")

	creds, err := readCredentials(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, creds.UserID)

	export := filepath.Join(dir, "animelist.xml")
	require.NoError(t, os.WriteFile(export, []byte(exportXML), 0o600))

	out, err = run(t, "", "import", export, "--replace")
	require.NoError(t, err, out)
	assert.Contains(t, out, "import complete")
	assert.Contains(t, out, "completed  1")
	assert.Contains(t, out, "watching   1")

	out, err = run(t, "", "list", "completed", "--grouped")
	require.NoError(t, err)
	assert.Contains(t, out, "February 2023")
	assert.Contains(t, out, "Fullmetal Alchemist: Brotherhood")
	assert.Contains(t, out, "64/64")
	assert.Contains(t, out, "★★★★★")

	out, err = run(t, "", "list", "watching")
	require.NoError(t, err)
	assert.Contains(t, out, "3/28")
	id := firstID(t, out)

	out, err = run(t, "", "inc", id)
	require.NoError(t, err)
	assert.Contains(t, out, "4/28")

	_, err = run(t, "", "rate", id, "9")
	require.Error(t, err)

	out, err = run(t, "", "status", id, "dropped")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped")

	out, err = run(t, "n\n", "remove", id)
	require.NoError(t, err)
	assert.Contains(t, out, "kept")

	out, err = run(t, "", "remove", id, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = run(t, "", "list", "dropped")
	require.NoError(t, err)
	assert.Contains(t, out, "none")

	_, err = run(t, "", "logout")
	require.NoError(t, err)
	_, err = run(t, "", "list")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	setup(t)

	_, err := run(t, "", "register", "--username", "shelfuser", "--email", "shelf@example.test", "--password", "hunter2hunter2")
	require.NoError(t, err)

	_, err = run(t, "", "login", "--email", "shelf@example.test", "--password", "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestLoginPromptsForMissingFields(t *testing.T) {
	setup(t)

	_, err := run(t, "", "register", "--username", "shelfuser", "--email", "shelf@example.test", "--password", "hunter2hunter2")
	require.NoError(t, err)

	out, err := run(t, "shelf@example.test\nhunter2hunter2\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Email: ")
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "signed in as shelfuser")

	_, err = run(t, "\n", "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
}

// fakeAniList answers title searches with one hit and media lookups for it.
func fakeAniList(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "Page(") {
			_, _ = w.Write([]byte(`{"data":{"Page":{
				"pageInfo":{"total":1,"currentPage":1,"lastPage":1,"hasNextPage":false},
				"media":[{"id":154587,"idMal":52991,"title":{"english":"Frieren: Beyond Journey's End"},"format":"TV","episodes":28,"averageScore":91}]
			}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"Media":{"id":154587,"idMal":52991,
			"title":{"english":"Frieren: Beyond Journey's End","romaji":"Sousou no Frieren"},
			"episodes":28,"genres":["Adventure"]}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSearchThenAdd(t *testing.T) {
	setup(t)
	t.Setenv("OTAKUSHELF_ANILIST_URL", fakeAniList(t))

	_, err := run(t, "", "register", "--username", "shelfuser", "--email", "shelf@example.test", "--password", "hunter2hunter2")
	require.NoError(t, err)

	out, err := run(t, "", "search", "frieren")
	require.NoError(t, err)
	assert.Contains(t, out, "154587")
	assert.Contains(t, out, "Frieren: Beyond Journey's End")
	assert.Contains(t, out, "91%")

	_, err = run(t, "", "search")
	assert.ErrorIs(t, err, anilist.ErrEmptySearch)

	_, err = run(t, "7\n", "search", "frieren", "--add", "planned")
	assert.ErrorIs(t, err, errNoPick)

	out, err = run(t, "1\n", "search", "frieren", "--add", "planned")
	require.NoError(t, err)
	assert.Contains(t, out, "1) Frieren: Beyond Journey's End (TV, 28 eps)")
	assert.Contains(t, out, "added Frieren: Beyond Journey's End to planned")

	out, err = run(t, "", "list", "planned")
	require.NoError(t, err)
	assert.Contains(t, out, "0/28")
}

func TestUnknownCategory(t *testing.T) {
	setup(t)
	_, err := run(t, "", "list", "reading")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown list")
}

var shortIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// firstID pulls the short id from the first table row of list output.
func firstID(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && shortIDPattern.MatchString(fields[0]) {
			return fields[0]
		}
	}
	t.Fatalf("no entry row in:\n%s", out)
	return ""
}
