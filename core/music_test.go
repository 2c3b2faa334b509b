package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMusicType(t *testing.T) {
	for in, want := range map[string]MusicType{"Band": MusicBand, "album": MusicAlbum, " SONG ": MusicSong} {
		got, err := ParseMusicType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMusicType("Playlist")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestDecodeMusicInput(t *testing.T) {
	in, err := DecodeMusicInput([]byte(`{"type":"Band","data":{"name":"Muse"}}`))
	require.NoError(t, err)
	assert.Equal(t, BandInput{Name: "Muse"}, in)

	in, err = DecodeMusicInput([]byte(`{"type":"Album","data":{"name":"Drones","band_id":3}}`))
	require.NoError(t, err)
	assert.Equal(t, AlbumInput{Name: "Drones", BandID: 3}, in)

	in, err = DecodeMusicInput([]byte(`{"type":"song","data":{"name":"Uprising","album_id":2}}`))
	require.NoError(t, err)
	assert.Equal(t, MusicSong, in.MusicType())
}

func TestDecodeMusicInputRejects(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"type":"Band"}`,
		`{"data":{"name":"x"}}`,
		`{"type":"Playlist","data":{"name":"x"}}`,
		`{"type":"Album","data":{"name":"x"}}`,
		`{"type":"Song","data":{"name":"","album_id":1}}`,
		`{"type":"Album","data":{"name":"x","band_id":"three"}}`,
	}
	for _, body := range bodies {
		_, err := DecodeMusicInput([]byte(body))
		assert.Equal(t, KindValidation, KindOf(err), body)
	}
}

func TestMusicOutJSON(t *testing.T) {
	raw, err := json.Marshal(MusicOut{Type: MusicAlbum, Data: []Album{{ID: 1, Name: "A", BandID: 2}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Album","data":[{"id":1,"name":"A","band_id":2}]}`, string(raw))
}
