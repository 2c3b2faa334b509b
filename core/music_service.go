package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// MusicListLimit caps how many rows List returns.
const MusicListLimit = 10

// MusicService manages the band/album/song catalog.
type MusicService struct {
	music MusicRepository
	subs  *SubscriptionService
	log   *slog.Logger
}

func NewMusicService(music MusicRepository, subs *SubscriptionService, logger *slog.Logger) *MusicService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MusicService{music: music, subs: subs, log: logger}
}

// Add inserts one entity. A new album notifies the band's subscribers in the
// same unit of work, so a failed notification undoes the insert.
func (s *MusicService) Add(ctx context.Context, q Querier, in MusicInput) (MusicOut, error) {
	if in == nil {
		return MusicOut{}, Validation("Wrong input data")
	}
	if err := in.validate(); err != nil {
		return MusicOut{}, err
	}
	s.log.DebugContext(ctx, "adding music", "type", in.MusicType())

	switch v := in.(type) {
	case BandInput:
		band, err := s.music.CreateBand(ctx, q, v.Name)
		if err != nil {
			return MusicOut{}, err
		}
		return MusicOut{Type: MusicBand, Data: []Band{band}}, nil
	case AlbumInput:
		album, err := s.music.CreateAlbum(ctx, q, v.Name, v.BandID)
		if err != nil {
			return MusicOut{}, err
		}
		if _, err := s.subs.NotifySubscribers(ctx, q, album.BandID, album.ID); err != nil {
			return MusicOut{}, err
		}
		return MusicOut{Type: MusicAlbum, Data: []Album{album}}, nil
	case SongInput:
		song, err := s.music.CreateSong(ctx, q, v.Name, v.AlbumID)
		if err != nil {
			return MusicOut{}, err
		}
		return MusicOut{Type: MusicSong, Data: []Song{song}}, nil
	}
	return MusicOut{}, Validation("Wrong input data")
}

// List returns up to MusicListLimit entities of type t.
func (s *MusicService) List(ctx context.Context, q Querier, t MusicType) (MusicOut, error) {
	out := MusicOut{Type: t}
	var err error
	switch t {
	case MusicBand:
		var items []Band
		items, err = s.music.ListBands(ctx, q, MusicListLimit)
		out.Data = nonNil(items)
	case MusicAlbum:
		var items []Album
		items, err = s.music.ListAlbums(ctx, q, MusicListLimit)
		out.Data = nonNil(items)
	case MusicSong:
		var items []Song
		items, err = s.music.ListSongs(ctx, q, MusicListLimit)
		out.Data = nonNil(items)
	default:
		return MusicOut{}, Validation("Wrong input data")
	}
	if err != nil {
		return MusicOut{}, err
	}
	return out, nil
}

// Rename changes the name of entity id of type t.
func (s *MusicService) Rename(ctx context.Context, q Querier, t MusicType, id int64, name string) (MusicOut, error) {
	if id <= 0 {
		return MusicOut{}, Validation("music_id must be a positive integer")
	}
	if err := requireName(name); err != nil {
		return MusicOut{}, err
	}
	s.log.DebugContext(ctx, "updating music", "type", t, "id", id)

	switch t {
	case MusicBand:
		band, err := s.music.RenameBand(ctx, q, id, name)
		if err != nil {
			return MusicOut{}, err
		}
		return MusicOut{Type: t, Data: []Band{band}}, nil
	case MusicAlbum:
		album, err := s.music.RenameAlbum(ctx, q, id, name)
		if err != nil {
			return MusicOut{}, err
		}
		return MusicOut{Type: t, Data: []Album{album}}, nil
	case MusicSong:
		song, err := s.music.RenameSong(ctx, q, id, name)
		if err != nil {
			return MusicOut{}, err
		}
		return MusicOut{Type: t, Data: []Song{song}}, nil
	}
	return MusicOut{}, Validation("Wrong input data")
}

// Delete removes entity id of type t; a missing id is NotFound.
func (s *MusicService) Delete(ctx context.Context, q Querier, t MusicType, id int64) error {
	if id <= 0 {
		return Validation("music_id must be a positive integer")
	}
	switch t {
	case MusicBand, MusicAlbum, MusicSong:
	default:
		return Validation("Wrong input data")
	}
	s.log.DebugContext(ctx, "deleting music", "type", t, "id", id)
	return s.music.Delete(ctx, q, t, id)
}

// ImportSongsCSV inserts one song per data row of r. Columns are album_id,
// song_name; the first row is a header. Every referenced album must exist.
// It returns the number of songs inserted; callers run it inside a unit of
// work so a bad row leaves nothing behind.
func (s *MusicService) ImportSongsCSV(ctx context.Context, q Querier, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, Validation("CSV is empty")
		}
		return 0, Validation("CSV could not be read")
	}

	known := map[int64]bool{}
	count := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return count, Validation(fmt.Sprintf("row %d: malformed CSV", perr.StartLine))
			}
			return count, Validation("CSV could not be read")
		}
		// Quoted fields may span lines; report where the record starts.
		line, _ := reader.FieldPos(0)
		if len(row) < 2 {
			return count, Validation(fmt.Sprintf("row %d: expected album_id,song_name", line))
		}
		albumID, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil || albumID <= 0 {
			return count, Validation(fmt.Sprintf("row %d: invalid album_id %q", line, row[0]))
		}
		name := strings.TrimSpace(row[1])
		if name == "" {
			return count, Validation(fmt.Sprintf("row %d: song_name is required", line))
		}

		exists, seen := known[albumID]
		if !seen {
			exists, err = s.music.AlbumExists(ctx, q, albumID)
			if err != nil {
				return count, err
			}
			known[albumID] = exists
		}
		if !exists {
			return count, NotFound(fmt.Sprintf("row %d: album %d not found", line, albumID))
		}

		s.log.DebugContext(ctx, "adding song from csv", "song", name, "album_id", albumID)
		if _, err := s.music.CreateSong(ctx, q, name, albumID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
