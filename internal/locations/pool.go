// internal/locations/pool.go
//
// Read-only location pool backed by the SQLite `locations` table.
// Responsibilities:
//   - Total count of known locations (cached after first query).
//   - Lookup by 1-based id (the engine draws random indices against Count).
//   - Reverse lookup by street-view panorama id.
//
// The pool never writes; seeding lives in db.go at the repository root.

package locations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no location exists for the given index
// or panorama id.
var ErrNotFound = errors.New("location not found")

// Location is one entry of the pool: a coordinate plus the panorama id
// shown to the player.
type Location struct {
	ID     int
	Lat    float64
	Lng    float64
	PanoID string
}

// Pool provides indexed access to the location table.
type Pool struct {
	db *sql.DB

	mu    sync.Mutex // guards count
	count int        // cached total; 0 = not yet loaded
}

// NewPool constructs a Pool over db.
func NewPool(db *sql.DB) *Pool {
	return &Pool{db: db}
}

// Count returns the total number of locations. The first call hits the
// database; subsequent calls return the cached value (the table is
// append-only and effectively static at runtime, mirroring the count
// cache the engine needs for cheap random draws).
func (p *Pool) Count(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count > 0 {
		return p.count, nil
	}
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM locations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	p.count = n
	return n, nil
}

// Pick returns the location with the given 1-based id.
func (p *Pool) Pick(ctx context.Context, index int) (Location, error) {
	var loc Location
	err := p.db.QueryRowContext(ctx,
		`SELECT id, latitude, longitude, pano_id FROM locations WHERE id=?`, index,
	).Scan(&loc.ID, &loc.Lat, &loc.Lng, &loc.PanoID)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("pick location %d: %w", index, err)
	}
	return loc, nil
}

// ResolveByPanoID returns the location carrying the given panorama id.
func (p *Pool) ResolveByPanoID(ctx context.Context, panoID string) (Location, error) {
	var loc Location
	err := p.db.QueryRowContext(ctx,
		`SELECT id, latitude, longitude, pano_id FROM locations WHERE pano_id=?`, panoID,
	).Scan(&loc.ID, &loc.Lat, &loc.Lng, &loc.PanoID)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("resolve pano %s: %w", panoID, err)
	}
	return loc, nil
}
