package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

// MusicRepository defines persistence operations for bands, albums and songs.
type MusicRepository interface {
	CreateBand(ctx context.Context, q Querier, name string) (Band, error)
	CreateAlbum(ctx context.Context, q Querier, name string, bandID int64) (Album, error)
	CreateSong(ctx context.Context, q Querier, name string, albumID int64) (Song, error)

	ListBands(ctx context.Context, q Querier, limit int) ([]Band, error)
	ListAlbums(ctx context.Context, q Querier, limit int) ([]Album, error)
	ListSongs(ctx context.Context, q Querier, limit int) ([]Song, error)

	RenameBand(ctx context.Context, q Querier, id int64, name string) (Band, error)
	RenameAlbum(ctx context.Context, q Querier, id int64, name string) (Album, error)
	RenameSong(ctx context.Context, q Querier, id int64, name string) (Song, error)

	Delete(ctx context.Context, q Querier, t MusicType, id int64) error
	AlbumExists(ctx context.Context, q Querier, id int64) (bool, error)
}

// PgMusicRepository implements MusicRepository on PostgreSQL.
type PgMusicRepository struct {
	log *slog.Logger
}

func NewPgMusicRepository(logger *slog.Logger) *PgMusicRepository {
	return &PgMusicRepository{log: logger}
}

func (r *PgMusicRepository) CreateBand(ctx context.Context, q Querier, name string) (Band, error) {
	const stmt = `INSERT INTO bands (name) VALUES ($1) RETURNING id, name`
	return insertOne[Band](ctx, r.log, q, "bands.create", stmt, strings.TrimSpace(name))
}

func (r *PgMusicRepository) CreateAlbum(ctx context.Context, q Querier, name string, bandID int64) (Album, error) {
	const stmt = `INSERT INTO albums (name, band_id) VALUES ($1,$2) RETURNING id, name, band_id`
	return insertOne[Album](ctx, r.log, q, "albums.create", stmt, strings.TrimSpace(name), bandID)
}

func (r *PgMusicRepository) CreateSong(ctx context.Context, q Querier, name string, albumID int64) (Song, error) {
	const stmt = `INSERT INTO songs (name, album_id) VALUES ($1,$2) RETURNING id, name, album_id`
	return insertOne[Song](ctx, r.log, q, "songs.create", stmt, strings.TrimSpace(name), albumID)
}

func (r *PgMusicRepository) ListBands(ctx context.Context, q Querier, limit int) ([]Band, error) {
	return listRows[Band](ctx, r.log, q, "bands.list", `SELECT id, name FROM bands ORDER BY id LIMIT $1`, limit)
}

func (r *PgMusicRepository) ListAlbums(ctx context.Context, q Querier, limit int) ([]Album, error) {
	return listRows[Album](ctx, r.log, q, "albums.list", `SELECT id, name, band_id FROM albums ORDER BY id LIMIT $1`, limit)
}

func (r *PgMusicRepository) ListSongs(ctx context.Context, q Querier, limit int) ([]Song, error) {
	return listRows[Song](ctx, r.log, q, "songs.list", `SELECT id, name, album_id FROM songs ORDER BY id LIMIT $1`, limit)
}

func (r *PgMusicRepository) RenameBand(ctx context.Context, q Querier, id int64, name string) (Band, error) {
	const stmt = `UPDATE bands SET name=$1 WHERE id=$2 RETURNING id, name`
	return updateOne[Band](ctx, r.log, q, "bands.rename", stmt, strings.TrimSpace(name), id)
}

func (r *PgMusicRepository) RenameAlbum(ctx context.Context, q Querier, id int64, name string) (Album, error) {
	const stmt = `UPDATE albums SET name=$1 WHERE id=$2 RETURNING id, name, band_id`
	return updateOne[Album](ctx, r.log, q, "albums.rename", stmt, strings.TrimSpace(name), id)
}

func (r *PgMusicRepository) RenameSong(ctx context.Context, q Querier, id int64, name string) (Song, error) {
	const stmt = `UPDATE songs SET name=$1 WHERE id=$2 RETURNING id, name, album_id`
	return updateOne[Song](ctx, r.log, q, "songs.rename", stmt, strings.TrimSpace(name), id)
}

// Delete removes one row. Rows still referenced by albums, songs or
// subscriptions are rejected by the foreign keys and surface as Conflict.
func (r *PgMusicRepository) Delete(ctx context.Context, q Querier, t MusicType, id int64) error {
	var stmt string
	switch t {
	case MusicBand:
		stmt = `DELETE FROM bands WHERE id=$1`
	case MusicAlbum:
		stmt = `DELETE FROM albums WHERE id=$1`
	case MusicSong:
		stmt = `DELETE FROM songs WHERE id=$1`
	default:
		return Validation("Wrong input data")
	}
	ct, err := q.Exec(ctx, stmt, id)
	if err != nil {
		return storageError(r.log, "music.delete", err, KindInternal, "Deletion failed")
	}
	if ct.RowsAffected() == 0 {
		return NotFound("Music not found")
	}
	return nil
}

func (r *PgMusicRepository) AlbumExists(ctx context.Context, q Querier, id int64) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM albums WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError(r.log, "albums.exists", err, KindInternal, "Album lookup failed")
	}
	return true, nil
}

func insertOne[T any](ctx context.Context, log *slog.Logger, q Querier, op, stmt string, args ...any) (T, error) {
	var zero T
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return zero, storageError(log, op, err, KindConflict, "Insertion failed")
	}
	v, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		return zero, storageError(log, op, err, KindConflict, "Insertion failed")
	}
	return v, nil
}

func updateOne[T any](ctx context.Context, log *slog.Logger, q Querier, op, stmt string, args ...any) (T, error) {
	var zero T
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return zero, storageError(log, op, err, KindInternal, "Update failed")
	}
	v, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, NotFound("Music not found")
	}
	if err != nil {
		return zero, storageError(log, op, err, KindInternal, "Update failed")
	}
	return v, nil
}

func listRows[T any](ctx context.Context, log *slog.Logger, q Querier, op, stmt string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, storageError(log, op, err, KindInternal, "Music lookup failed")
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, storageError(log, op, err, KindInternal, "Music lookup failed")
	}
	return items, nil
}
