package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogSeed is the YAML document read from CATALOG_SEED_PATH:
//
//	bands:
//	  - name: Radiohead
//	    albums:
//	      - name: OK Computer
//	        songs: [Airbag, Paranoid Android]
type CatalogSeed struct {
	Bands []struct {
		Name   string `yaml:"name"`
		Albums []struct {
			Name  string   `yaml:"name"`
			Songs []string `yaml:"songs"`
		} `yaml:"albums"`
	} `yaml:"bands"`
}

// ParseCatalogSeed decodes and validates a seed document.
func ParseCatalogSeed(r io.Reader) (CatalogSeed, error) {
	var seed CatalogSeed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return CatalogSeed{}, fmt.Errorf("parse catalog seed: %w", err)
	}
	for i, b := range seed.Bands {
		if strings.TrimSpace(b.Name) == "" {
			return CatalogSeed{}, fmt.Errorf("catalog seed: band #%d has no name", i+1)
		}
		for j, a := range b.Albums {
			if strings.TrimSpace(a.Name) == "" {
				return CatalogSeed{}, fmt.Errorf("catalog seed: band %q album #%d has no name", b.Name, j+1)
			}
		}
	}
	return seed, nil
}

// BootstrapCatalog imports the seed file at cfg.CatalogSeedPath. It is
// idempotent: nothing happens when the path is empty or any band exists.
func BootstrapCatalog(ctx context.Context, cfg Config, uow UnitOfWork, music MusicRepository, log *slog.Logger) error {
	if cfg.CatalogSeedPath == "" {
		return nil
	}
	f, err := os.Open(cfg.CatalogSeedPath)
	if err != nil {
		return err
	}
	defer f.Close()

	seed, err := ParseCatalogSeed(f)
	if err != nil {
		return err
	}
	seeded, err := SeedCatalog(ctx, uow, music, seed)
	if err != nil {
		return err
	}
	if seeded {
		log.InfoContext(ctx, "catalog seeded", "path", cfg.CatalogSeedPath, "bands", len(seed.Bands))
	} else {
		log.InfoContext(ctx, "catalog already populated; seed skipped", "path", cfg.CatalogSeedPath)
	}
	return nil
}

// SeedCatalog inserts seed in one unit of work unless a band already exists.
// Albums are inserted directly, so no subscriber is notified.
func SeedCatalog(ctx context.Context, uow UnitOfWork, music MusicRepository, seed CatalogSeed) (bool, error) {
	seeded := false
	err := uow.Do(ctx, func(ctx context.Context, q Querier) error {
		existing, err := music.ListBands(ctx, q, 1)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		for _, b := range seed.Bands {
			band, err := music.CreateBand(ctx, q, b.Name)
			if err != nil {
				return err
			}
			for _, a := range b.Albums {
				album, err := music.CreateAlbum(ctx, q, a.Name, band.ID)
				if err != nil {
					return err
				}
				for _, song := range a.Songs {
					if strings.TrimSpace(song) == "" {
						continue
					}
					if _, err := music.CreateSong(ctx, q, song, album.ID); err != nil {
						return err
					}
				}
			}
		}
		seeded = true
		return nil
	})
	return seeded, err
}
