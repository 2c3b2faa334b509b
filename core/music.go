package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MusicType discriminates the three catalog entities.
type MusicType string

const (
	MusicBand  MusicType = "Band"
	MusicAlbum MusicType = "Album"
	MusicSong  MusicType = "Song"
)

// ParseMusicType accepts the canonical names case-insensitively.
func ParseMusicType(s string) (MusicType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "band":
		return MusicBand, nil
	case "album":
		return MusicAlbum, nil
	case "song":
		return MusicSong, nil
	}
	return "", Validation(fmt.Sprintf("unknown music type %q", s))
}

func (t *MusicType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMusicType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type Band struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Album struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	BandID int64  `json:"band_id" db:"band_id"`
}

type Song struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	AlbumID int64  `json:"album_id" db:"album_id"`
}

// MusicInput is the payload of an add request: exactly one of BandInput,
// AlbumInput or SongInput.
type MusicInput interface {
	MusicType() MusicType
	validate() error
}

type BandInput struct {
	Name string `json:"name"`
}

type AlbumInput struct {
	Name   string `json:"name"`
	BandID int64  `json:"band_id"`
}

type SongInput struct {
	Name    string `json:"name"`
	AlbumID int64  `json:"album_id"`
}

func (BandInput) MusicType() MusicType  { return MusicBand }
func (AlbumInput) MusicType() MusicType { return MusicAlbum }
func (SongInput) MusicType() MusicType  { return MusicSong }

func (in BandInput) validate() error { return requireName(in.Name) }

func (in AlbumInput) validate() error {
	if err := requireName(in.Name); err != nil {
		return err
	}
	if in.BandID <= 0 {
		return Validation("band_id must be a positive integer")
	}
	return nil
}

func (in SongInput) validate() error {
	if err := requireName(in.Name); err != nil {
		return err
	}
	if in.AlbumID <= 0 {
		return Validation("album_id must be a positive integer")
	}
	return nil
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Validation("name is required")
	}
	return nil
}

// DecodeMusicInput parses {"type": ..., "data": {...}} into the matching
// input variant.
func DecodeMusicInput(body []byte) (MusicInput, error) {
	var envelope struct {
		Type MusicType       `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		if IsKind(err, KindValidation) {
			return nil, err
		}
		return nil, Validation("Wrong input data")
	}
	if len(envelope.Data) == 0 {
		return nil, Validation("data is required")
	}

	var in MusicInput
	switch envelope.Type {
	case MusicBand:
		var b BandInput
		if err := json.Unmarshal(envelope.Data, &b); err != nil {
			return nil, Validation("Wrong input data")
		}
		in = b
	case MusicAlbum:
		var a AlbumInput
		if err := json.Unmarshal(envelope.Data, &a); err != nil {
			return nil, Validation("Wrong input data")
		}
		in = a
	case MusicSong:
		var s SongInput
		if err := json.Unmarshal(envelope.Data, &s); err != nil {
			return nil, Validation("Wrong input data")
		}
		in = s
	default:
		return nil, Validation("type is required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// MusicOut is the response shape for every music operation. Data holds a
// []Band, []Album or []Song matching Type.
type MusicOut struct {
	Type MusicType `json:"type"`
	Data any       `json:"data"`
}
