package library

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otakushelf/internal/auth"
	"otakushelf/internal/mal"
	"otakushelf/internal/normalize"
	"otakushelf/internal/sync"
	"otakushelf/pkg/models"
)

type Handler struct {
	Repo    *Repo
	Hub     *sync.Hub
	Imports *Importer
	now     func() time.Time
	logger  *zap.Logger
}

func NewHandler(repo *Repo, hub *sync.Hub, imports *Importer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Repo:    repo,
		Hub:     hub,
		Imports: imports,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.Named("library"),
	}
}

// RegisterRoutes mounts the list routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/list/import/mal", h.importMAL)
	rg.GET("/list/:userId", h.list)
	rg.POST("/list/:userId", h.add)
	rg.PUT("/list/:userId/:entryId", h.update)
	rg.DELETE("/list/:userId/:entryId", h.remove)
}

// owner resolves the list owner and checks that the bearer token is theirs.
func (h *Handler) owner(c *gin.Context, userID string) (string, bool) {
	claims := auth.MustGetClaims(c)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = claims.UserID
	}
	if userID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return userID, true
}

func (h *Handler) list(c *gin.Context) {
	userID, ok := h.owner(c, c.Param("userId"))
	if !ok {
		return
	}

	items, err := h.Repo.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list entries", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	out := make(map[models.Category][]models.ListItem, len(models.Categories))
	for _, cat := range models.Categories {
		out[cat] = []models.ListItem{}
	}
	for _, it := range items {
		if _, known := out[it.Status]; known {
			out[it.Status] = append(out[it.Status], it)
		}
	}
	c.JSON(http.StatusOK, out)
}

type addReq struct {
	Category   string         `json:"category"`
	Status     string         `json:"status"`
	AnimeTitle string         `json:"animeTitle"`
	AnimeData  map[string]any `json:"animeData"`
}

func (h *Handler) add(c *gin.Context) {
	userID, ok := h.owner(c, c.Param("userId"))
	if !ok {
		return
	}

	var req addReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	cat, ok := models.ParseCategory(firstNonEmpty(req.Category, req.Status))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category must be one of: watching, completed, planned, dropped"})
		return
	}

	raw := make(map[string]any, len(req.AnimeData)+2)
	for k, v := range req.AnimeData {
		raw[k] = v
	}
	if t := strings.TrimSpace(req.AnimeTitle); t != "" {
		raw["title"] = t
	}
	raw["_id"] = uuid.NewString()

	e := normalize.Normalize(raw)
	if e.Title == normalize.UnknownTitle {
		c.JSON(http.StatusBadRequest, gin.H{"error": "animeTitle required"})
		return
	}

	now := h.now()
	e.Status = cat
	e.EpisodesWatched = 0
	e.UserRating = 0
	e.AddedDate = now
	e.UpdatedAt = now
	e.FinishDate = time.Time{}
	if cat == models.Completed {
		if e.EpisodesKnown() {
			e.EpisodesWatched = e.TotalEpisodes
		}
		e.FinishDate = now
	}

	item := models.ItemFromEntry(userID, *e)
	item.AnimeData = req.AnimeData

	if err := h.Repo.Insert(c.Request.Context(), item); err != nil {
		if errors.Is(err, ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "anime already in list"})
			return
		}
		h.logger.Error("add entry", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	h.broadcast(userID, sync.TypeListUpdate, item.ID, item.Status)
	c.JSON(http.StatusCreated, item)
}

type updateReq struct {
	Status          string `json:"status"`
	Category        string `json:"category"`
	FromCategory    string `json:"fromCategory"`
	EpisodesWatched *int   `json:"episodesWatched"`
	UserRating      *int   `json:"userRating"`
}

func (h *Handler) update(c *gin.Context) {
	userID, ok := h.owner(c, c.Param("userId"))
	if !ok {
		return
	}
	entryID := strings.TrimSpace(c.Param("entryId"))

	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	it, err := h.Repo.Get(c.Request.Context(), userID, entryID)
	if err != nil {
		h.logger.Error("get entry", zap.String("entry_id", entryID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if it == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	now := h.now()
	if s := firstNonEmpty(req.Status, req.Category); s != "" {
		cat, ok := models.ParseCategory(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		if req.FromCategory != "" && models.Category(req.FromCategory) != it.Status {
			h.logger.Debug("stale fromCategory",
				zap.String("entry_id", entryID),
				zap.String("from", req.FromCategory),
				zap.String("stored", string(it.Status)))
		}
		it.Status = cat
		if cat == models.Completed && it.FinishDate == nil {
			it.FinishDate = &now
		}
	}
	if req.EpisodesWatched != nil {
		if *req.EpisodesWatched < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "episodesWatched must be >= 0"})
			return
		}
		it.EpisodesWatched = models.ClampEpisodes(*req.EpisodesWatched, it.TotalEpisodes)
	}
	if req.UserRating != nil {
		if *req.UserRating < 0 || *req.UserRating > 5 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userRating must be between 0 and 5"})
			return
		}
		it.UserRating = *req.UserRating
	}
	it.UpdatedAt = now

	if err := h.Repo.Save(c.Request.Context(), *it); err != nil {
		h.logger.Error("save entry", zap.String("entry_id", entryID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	h.broadcast(userID, sync.TypeListUpdate, it.ID, it.Status)
	c.JSON(http.StatusOK, it)
}

func (h *Handler) remove(c *gin.Context) {
	userID, ok := h.owner(c, c.Param("userId"))
	if !ok {
		return
	}
	entryID := strings.TrimSpace(c.Param("entryId"))

	deleted, err := h.Repo.Delete(c.Request.Context(), userID, entryID)
	if err != nil {
		h.logger.Error("delete entry", zap.String("entry_id", entryID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	h.broadcast(userID, sync.TypeListDelete, entryID, "")
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) importMAL(c *gin.Context) {
	userID, ok := h.owner(c, c.PostForm("userId"))
	if !ok {
		return
	}

	fh, err := c.FormFile("malFile")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "malFile is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "could not read the uploaded file"})
		return
	}
	defer f.Close()

	export, err := mal.Parse(f)
	if err != nil {
		h.logger.Info("rejected import", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid MyAnimeList export file"})
		return
	}

	clearExisting, _ := strconv.ParseBool(c.PostForm("clearExisting"))
	if err := h.Imports.Start(userID, export.Records, clearExisting); err != nil {
		if errors.Is(err, ErrImportRunning) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "An import is already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "import failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Import started: %d entries", len(export.Records)),
	})
}

func (h *Handler) broadcast(userID, typ, entryID string, status models.Category) {
	if h.Hub == nil {
		return
	}
	ev := sync.ListEvent{
		Type:    typ,
		UserID:  userID,
		EntryID: entryID,
		Status:  string(status),
		At:      h.now(),
	}
	go h.Hub.SendToUser(userID, ev)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
