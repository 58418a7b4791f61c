package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"otakushelf/pkg/models"
)

// ErrDuplicate is returned when the user already lists the same catalog id.
var ErrDuplicate = errors.New("anime already in list")

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const entryColumns = `id, user_id, external_id, mal_id, title, image, banner_image, status,
	total_episodes, episodes_watched, user_rating, genres, anime_data,
	added_date, finish_date, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (models.ListItem, error) {
	var (
		it           models.ListItem
		status       string
		genres, data string
		finish       sql.NullTime
	)
	err := s.Scan(&it.ID, &it.UserID, &it.AnimeID, &it.MalID, &it.Title, &it.Image, &it.BannerImage, &status,
		&it.TotalEpisodes, &it.EpisodesWatched, &it.UserRating, &genres, &data,
		&it.AddedDate, &finish, &it.UpdatedAt)
	if err != nil {
		return it, err
	}
	it.Status = models.Category(status)
	if finish.Valid {
		t := finish.Time.UTC()
		it.FinishDate = &t
	}
	it.AddedDate = it.AddedDate.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(genres), &it.Genres); err != nil {
		return it, fmt.Errorf("decode genres: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &it.AnimeData); err != nil {
		return it, fmt.Errorf("decode anime data: %w", err)
	}
	return it, nil
}

func encodeJSON(genres []string, data map[string]any) (string, string, error) {
	if genres == nil {
		genres = []string{}
	}
	if data == nil {
		data = map[string]any{}
	}
	g, err := json.Marshal(genres)
	if err != nil {
		return "", "", fmt.Errorf("encode genres: %w", err)
	}
	d, err := json.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("encode anime data: %w", err)
	}
	return string(g), string(d), nil
}

// List returns every entry of userID in insertion order.
func (r *Repo) List(ctx context.Context, userID string) ([]models.ListItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM list_entries
		WHERE user_id = ?
		ORDER BY rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []models.ListItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) Get(ctx context.Context, userID, id string) (*models.ListItem, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM list_entries
		WHERE user_id = ? AND id = ?
	`, userID, id)

	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &it, nil
}

func (r *Repo) Insert(ctx context.Context, it models.ListItem) error {
	genres, data, err := encodeJSON(it.Genres, it.AnimeData)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO list_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.UserID, it.AnimeID, it.MalID, it.Title, it.Image, it.BannerImage, string(it.Status),
		it.TotalEpisodes, it.EpisodesWatched, it.UserRating, genres, data,
		it.AddedDate.UTC(), it.FinishDate, it.UpdatedAt.UTC())
	if err != nil {
		if isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Save writes the user-editable fields of an existing entry.
func (r *Repo) Save(ctx context.Context, it models.ListItem) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE list_entries
		SET status = ?, episodes_watched = ?, user_rating = ?, finish_date = ?, updated_at = ?
		WHERE user_id = ? AND id = ?
	`, string(it.Status), it.EpisodesWatched, it.UserRating, it.FinishDate, it.UpdatedAt.UTC(),
		it.UserID, it.ID)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save entry: %w", sql.ErrNoRows)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM list_entries
		WHERE user_id = ? AND id = ?
	`, userID, id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Clear removes every entry of userID.
func (r *Repo) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM list_entries WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Merge inserts an imported entry, or, when the user already lists the same
// title, overwrites its progress while keeping its id and title. The match is
// made on the AniList id when the item has one and on the MAL id otherwise;
// the two catalogs number their titles independently.
func (r *Repo) Merge(ctx context.Context, it models.ListItem) error {
	genres, data, err := encodeJSON(it.Genres, it.AnimeData)
	if err != nil {
		return err
	}
	target := "(user_id, external_id) WHERE external_id > 0"
	if it.AnimeID <= 0 && it.MalID > 0 {
		target = "(user_id, mal_id) WHERE mal_id > 0"
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO list_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT `+target+` DO UPDATE SET
			status = excluded.status,
			episodes_watched = excluded.episodes_watched,
			user_rating = excluded.user_rating,
			total_episodes = CASE WHEN excluded.total_episodes > 0
				THEN excluded.total_episodes ELSE list_entries.total_episodes END,
			finish_date = COALESCE(excluded.finish_date, list_entries.finish_date),
			updated_at = excluded.updated_at
	`, it.ID, it.UserID, it.AnimeID, it.MalID, it.Title, it.Image, it.BannerImage, string(it.Status),
		it.TotalEpisodes, it.EpisodesWatched, it.UserRating, genres, data,
		it.AddedDate.UTC(), it.FinishDate, it.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("merge entry: %w", err)
	}
	return nil
}

func isUnique(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
