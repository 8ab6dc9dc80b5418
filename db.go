// db.go
//
// Database helpers for the GeoPursuit Go server.
// Responsibilities:
//   - Opening SQLite database with safe defaults (WAL, busy timeout, foreign keys).
//   - Applying migrations from ./sql/*.sql (idempotent, recorded in _migrations).
//   - Seeding the location pool on first boot.
//
// Note: This file assumes SQLite but can be adapted for other backends.

package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// openDB opens (and creates if missing) a SQLite database file.
//
//   - Ensures parent directory exists for relative DSNs (e.g. ./data/app.db).
//   - Configures busy timeout and WAL journaling mode.
//   - Enforces foreign keys.
func openDB(dsn string) (*sql.DB, error) {
	// Ensure directory exists for ./data/app.db, etc.
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// Open DB with busy timeout and WAL journaling.
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// Explicitly enforce foreign keys + WAL.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// migrate applies SQL migrations from the ./sql directory.
//
//   - Uses a _migrations table to track applied files.
//   - Executes each *.sql file in lexical order.
//   - Skips if already applied.
//   - Detects "self-managed" scripts (with BEGIN TRANSACTION or PRAGMA
//     FOREIGN_KEYS=OFF) and runs them outside of an outer transaction.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	// Collect ./sql/*.sql
	root := "sql"
	var files []string
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk sql dir: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		// Skip if already applied
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, f).Scan(&done)
		if err == nil {
			log.Info().Str("migration", f).Msg("already applied")
			continue
		}
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("query _migrations: %w", err)
		}

		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		sqlText := string(sqlBytes)

		// Detect scripts that manage their own tx or FK pragmas.
		upper := strings.ToUpper(sqlText)
		selfManaged := strings.Contains(upper, "BEGIN TRANSACTION") ||
			strings.Contains(upper, "PRAGMA FOREIGN_KEYS=OFF") ||
			strings.Contains(upper, "PRAGMA FOREIGN_KEYS = OFF")

		if selfManaged {
			if _, err := db.Exec(sqlText); err != nil {
				return fmt.Errorf("apply %s: %w", f, err)
			}
			if _, err := db.Exec(`INSERT INTO _migrations(name) VALUES (?)`, f); err != nil {
				return fmt.Errorf("record %s: %w", f, err)
			}
			log.Info().Str("migration", f).Msg("applied (self-managed)")
			continue
		}

		// Run inside dedicated transaction
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(sqlText); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, f); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", f, err)
		}
		log.Info().Str("migration", f).Msg("applied")
	}
	return nil
}

/* --------------------------- location seeding --------------------------- */

// seedLocation is one entry of the built-in starter pool.
type seedLocation struct {
	lat, lng float64
	panoID   string
}

// Street-level spots around the Puget Sound area. Pano ids are opaque
// handles the client forwards to its imagery provider.
var starterPool = []seedLocation{
	{47.60357, -122.32945, "sp-pioneer-square"},
	{47.60896, -122.34044, "sp-pike-place"},
	{47.62045, -122.34930, "sp-space-needle"},
	{47.62982, -122.34255, "sp-lake-union-south"},
	{47.64842, -122.34697, "sp-gas-works"},
	{47.65533, -122.30789, "sp-university-district"},
	{47.66825, -122.38426, "sp-ballard-locks"},
	{47.63023, -122.51583, "sp-bainbridge-ferry"},
	{47.56678, -122.38659, "sp-alki-beach"},
	{47.54531, -122.31642, "sp-georgetown"},
	{47.67412, -122.32582, "sp-green-lake"},
	{47.61066, -122.20086, "sp-bellevue-downtown"},
	{47.58065, -122.22551, "sp-mercer-island"},
	{47.67630, -122.12029, "sp-redmond-town"},
	{47.25288, -122.44429, "sp-tacoma-museum"},
	{47.98550, -122.20829, "sp-everett-marina"},
	{47.49082, -122.79592, "sp-bremerton-yard"},
	{48.11757, -122.76045, "sp-port-townsend"},
	{47.04230, -122.90072, "sp-olympia-capitol"},
	{47.74414, -122.64284, "sp-poulsbo-front"},
}

// seedLocations fills the locations table on first boot. Existing rows win;
// reruns are no-ops.
func seedLocations(db *sql.DB) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(1) FROM locations`).Scan(&n); err != nil {
		return fmt.Errorf("count locations: %w", err)
	}
	if n > 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, s := range starterPool {
		if _, err := tx.Exec(
			`INSERT INTO locations (latitude, longitude, pano_id) VALUES (?,?,?)`,
			s.lat, s.lng, s.panoID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed %s: %w", s.panoID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info().Int("count", len(starterPool)).Msg("seeded location pool")
	return nil
}
