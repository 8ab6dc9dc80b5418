// main.go
//
// Entry point for the GeoPursuit Go server. Wires config, SQLite, the
// Badger session cache, the location pool, the Nominatim resolver, and
// the session engine into the HTTP server.

package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/geopursuit/go-server/internal/cache"
	"github.com/geopursuit/go-server/internal/config"
	"github.com/geopursuit/go-server/internal/geocode"
	"github.com/geopursuit/go-server/internal/httpserver"
	"github.com/geopursuit/go-server/internal/locations"
	"github.com/geopursuit/go-server/internal/session"
	"github.com/geopursuit/go-server/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	if err := seedLocations(db); err != nil {
		log.Fatal().Err(err).Msg("failed to seed locations")
	}

	c, err := cache.Open(cfg.CacheDir, cfg.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session cache")
	}
	defer c.Close()
	go c.RunGC(context.Background(), 10*time.Minute)

	st := store.NewSQL(db)
	pool := locations.NewPool(db)
	resolver := geocode.NewNominatim(cfg.NominatimURL, cfg.GeocodeTimeout)
	eng := session.New(st, c, pool, resolver, cfg.RoundCount)

	srv := httpserver.New(cfg, db, st, eng, pool, resolver)
	log.Info().Str("addr", cfg.HTTPAddr).Int("rounds", cfg.RoundCount).Msg("starting geopursuit server")
	if err := srv.Start(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
