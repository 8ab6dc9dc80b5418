// internal/session/engine.go
//
// Game session engine: the state machine orchestrating session creation,
// round advancement, guess scoring, and reconciliation between the
// ephemeral cache and the durable store.
//
// Transitions (per user): NO_SESSION → IN_PROGRESS → COMPLETE.
//   - Start: idempotent; draws the full location sequence up front.
//   - Advance: materializes durable rows for the current round; never
//     increments the round counter.
//   - SubmitGuess: scores against the document's own location sequence,
//     records the guess durably, then increments the round counter.
//   - Finalize: store aggregates are authoritative for the final figures.
//   - Reset: clears the cache document; durable history is preserved.
//
// Ordering rule: every durable write happens before the cache write that
// reflects it. A failed store call leaves the previous cache document
// untouched.

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/geopursuit/go-server/internal/geo"
	"github.com/geopursuit/go-server/internal/geocode"
	"github.com/geopursuit/go-server/internal/locations"
	"github.com/geopursuit/go-server/internal/store"
)

// DefaultRoundCount is the number of rounds in a session unless
// configured otherwise.
const DefaultRoundCount = 5

// Store is the durable-record adapter consumed by the engine.
type Store interface {
	CreateGame(ctx context.Context, userID string) (string, error)
	CreateRound(ctx context.Context, gameID string, roundNumber int, locationName string) (string, error)
	CreateUserRound(ctx context.Context, roundID, userID string) (string, error)
	RecordGuess(ctx context.Context, roundID, guessName string, guessLat, guessLng, distanceKM float64, score int) (store.UserRound, error)
	SumScore(ctx context.Context, userID, gameID string) (int, error)
	SumDistance(ctx context.Context, userID, gameID string) (float64, error)
	FinalizeGame(ctx context.Context, userID, gameID string, totalScore int, totalDistance float64) (store.Game, error)
}

// Cache holds the live session document per user. Get returns ErrNoSession
// when no document exists; Put replaces the whole document.
type Cache interface {
	Get(ctx context.Context, userID string) (*Document, error)
	Put(ctx context.Context, userID string, doc *Document) error
	Delete(ctx context.Context, userID string) error
}

// Pool is the read-only location lookup the engine draws rounds from.
type Pool interface {
	Count(ctx context.Context) (int, error)
	Pick(ctx context.Context, index int) (locations.Location, error)
}

// Engine coordinates store, cache, pool, and geocoder for all session
// operations.
type Engine struct {
	store      Store
	cache      Cache
	pool       Pool
	resolver   geocode.Resolver
	roundCount int
	locks      *keyedMutex

	// randIndex returns a uniform int in [0, n). Overridable in tests.
	randIndex func(n int) int
}

// New constructs an Engine. roundCount ≤ 0 falls back to DefaultRoundCount.
func New(st Store, c Cache, p Pool, r geocode.Resolver, roundCount int) *Engine {
	if roundCount <= 0 {
		roundCount = DefaultRoundCount
	}
	return &Engine{
		store:      st,
		cache:      c,
		pool:       p,
		resolver:   r,
		roundCount: roundCount,
		locks:      newKeyedMutex(),
		randIndex:  rand.IntN,
	}
}

// Start creates a session for userID, or returns the existing one
// unchanged. The second call for the same user performs no store writes.
func (e *Engine) Start(ctx context.Context, userID string) (Snapshot, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	doc, err := e.cache.Get(ctx, userID)
	if err == nil {
		return doc.Snapshot(), nil
	}
	if !errors.Is(err, ErrNoSession) {
		return Snapshot{}, fmt.Errorf("read session: %w", err)
	}

	locs, err := e.drawLocations(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	// Only the first round is revealed at start; later names resolve on
	// Advance.
	locs[0].Name = e.displayName(ctx, locs[0].Lat, locs[0].Lng)

	gameID, err := e.store.CreateGame(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create game: %w", err)
	}
	roundID, err := e.store.CreateRound(ctx, gameID, 1, locs[0].Name)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create round: %w", err)
	}
	if _, err := e.store.CreateUserRound(ctx, roundID, userID); err != nil {
		return Snapshot{}, fmt.Errorf("create user round: %w", err)
	}

	doc = &Document{
		GameID:         gameID,
		UserID:         userID,
		RoundCount:     e.roundCount,
		Locations:      locs,
		CurrentRound:   1,
		CurrentRoundID: roundID,
		RoundOpen:      true,
		Scores:         []int{},
		Distances:      []float64{},
		StartedAt:      time.Now().UTC(),
	}
	if err := e.put(ctx, userID, doc); err != nil {
		return Snapshot{}, err
	}
	return doc.Snapshot(), nil
}

// Advance materializes the durable rows for the current round. The round
// sequence was fixed at Start time; Advance never re-randomizes and never
// increments CurrentRound. Calling it while the current round is already
// open is a no-op.
func (e *Engine) Advance(ctx context.Context, userID string) (Snapshot, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	doc, err := e.cache.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return Snapshot{}, ErrNoSession
		}
		return Snapshot{}, fmt.Errorf("read session: %w", err)
	}
	if doc.Complete() {
		return Snapshot{}, ErrSessionComplete
	}
	if doc.RoundOpen {
		return doc.Snapshot(), nil
	}

	i := doc.CurrentRound
	loc := &doc.Locations[i-1]
	if loc.Name == "" {
		loc.Name = e.displayName(ctx, loc.Lat, loc.Lng)
	}

	roundID, err := e.store.CreateRound(ctx, doc.GameID, i, loc.Name)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create round: %w", err)
	}
	if _, err := e.store.CreateUserRound(ctx, roundID, userID); err != nil {
		return Snapshot{}, fmt.Errorf("create user round: %w", err)
	}

	doc.CurrentRoundID = roundID
	doc.RoundOpen = true
	if err := e.put(ctx, userID, doc); err != nil {
		return Snapshot{}, err
	}
	return doc.Snapshot(), nil
}

// SubmitGuess validates and scores a guess against the current round,
// records it durably, and only then advances the round counter in the
// cached document.
func (e *Engine) SubmitGuess(ctx context.Context, userID string, guessLat, guessLng float64) (RoundResult, error) {
	guess := geo.Point{Lat: guessLat, Lng: guessLng}
	if !guess.Valid() {
		return RoundResult{}, ErrInvalidInput
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	doc, err := e.cache.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return RoundResult{}, ErrNoSession
		}
		return RoundResult{}, fmt.Errorf("read session: %w", err)
	}
	if doc.Complete() {
		return RoundResult{}, ErrSessionComplete
	}
	if !doc.RoundOpen {
		// Rows for this round were never created (client skipped Advance).
		return RoundResult{}, ErrRoundNotOpen
	}

	// Score against the document's own sequence: guaranteed to be the same
	// location the player was shown.
	actual := doc.Locations[doc.CurrentRound-1]
	actualName := actual.Name
	if actualName == "" {
		actualName = geocode.Unknown
	}
	distanceKM := geo.Distance(geo.Point{Lat: actual.Lat, Lng: actual.Lng}, guess)
	score := geo.Score(distanceKM)
	guessName := e.displayName(ctx, guessLat, guessLng)

	if _, err := e.store.RecordGuess(ctx, doc.CurrentRoundID, guessName, guessLat, guessLng, distanceKM, score); err != nil {
		return RoundResult{}, fmt.Errorf("record guess: %w", err)
	}

	doc.Scores = append(doc.Scores, score)
	doc.Distances = append(doc.Distances, distanceKM)
	doc.TotalScore += score
	doc.TotalDistance += distanceKM
	doc.CurrentRound++
	doc.RoundOpen = false
	if err := e.put(ctx, userID, doc); err != nil {
		return RoundResult{}, err
	}

	return RoundResult{
		RoundNumber:   doc.CurrentRound - 1,
		ActualLat:     actual.Lat,
		ActualLng:     actual.Lng,
		ActualName:    actualName,
		GuessLat:      guessLat,
		GuessLng:      guessLng,
		GuessName:     guessName,
		DistanceKM:    distanceKM,
		Score:         score,
		TotalScore:    doc.TotalScore,
		TotalDistance: doc.TotalDistance,
		Completed:     doc.Complete(),
	}, nil
}

// Current returns the last-committed session snapshot, or Active=false if
// the user has no session. Read-only: takes no lock and tolerates an
// in-flight mutation.
func (e *Engine) Current(ctx context.Context, userID string) (Snapshot, error) {
	doc, err := e.cache.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return Snapshot{Active: false}, nil
		}
		return Snapshot{}, fmt.Errorf("read session: %w", err)
	}
	return doc.Snapshot(), nil
}

// Finalize computes final aggregates from the durable store (the cache's
// running totals are a projection, not the authority), marks the game
// complete, and merges in the cached per-round history. Idempotent: the
// first completion timestamp is preserved and sums are stable.
func (e *Engine) Finalize(ctx context.Context, userID string) (GameResults, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	doc, err := e.cache.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return GameResults{}, ErrNoSession
		}
		return GameResults{}, fmt.Errorf("read session: %w", err)
	}

	totalScore, err := e.store.SumScore(ctx, userID, doc.GameID)
	if err != nil {
		return GameResults{}, fmt.Errorf("sum score: %w", err)
	}
	totalDistance, err := e.store.SumDistance(ctx, userID, doc.GameID)
	if err != nil {
		return GameResults{}, fmt.Errorf("sum distance: %w", err)
	}
	g, err := e.store.FinalizeGame(ctx, userID, doc.GameID, totalScore, totalDistance)
	if err != nil {
		return GameResults{}, fmt.Errorf("finalize game: %w", err)
	}

	results := GameResults{
		GameID:        doc.GameID,
		TotalScore:    totalScore,
		TotalDistance: totalDistance,
		Rounds:        make([]RoundSummary, 0, len(doc.Scores)),
	}
	if g.CompletedAt != nil {
		results.CompletedAt = *g.CompletedAt
	}
	for i := range doc.Scores {
		name := doc.Locations[i].Name
		if name == "" {
			name = geocode.Unknown
		}
		results.Rounds = append(results.Rounds, RoundSummary{
			RoundNumber:  i + 1,
			LocationName: name,
			Score:        doc.Scores[i],
			DistanceKM:   doc.Distances[i],
		})
	}
	return results, nil
}

// Reset deletes the cache document. Durable rows are untouched, so history
// survives; only the resume pointer is cleared. Idempotent.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	if err := e.cache.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ----------------------------- internals -----------------------------------

// put validates invariants and writes the document back to the cache.
func (e *Engine) put(ctx context.Context, userID string, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	if err := e.cache.Put(ctx, userID, doc); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// drawLocations picks the session's full round sequence. Indices are drawn
// without replacement when the pool is large enough; tiny pools fall back
// to independent draws so a short table still yields a playable session.
func (e *Engine) drawLocations(ctx context.Context) ([]RoundLocation, error) {
	n, err := e.pool.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count locations: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyPool
	}

	indices := make([]int, 0, e.roundCount)
	if n >= e.roundCount {
		seen := make(map[int]struct{}, e.roundCount)
		for len(indices) < e.roundCount {
			i := e.randIndex(n) + 1
			if _, dup := seen[i]; dup {
				continue
			}
			seen[i] = struct{}{}
			indices = append(indices, i)
		}
	} else {
		for len(indices) < e.roundCount {
			indices = append(indices, e.randIndex(n)+1)
		}
	}

	out := make([]RoundLocation, 0, e.roundCount)
	for _, idx := range indices {
		loc, err := e.pool.Pick(ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("pick location %d: %w", idx, err)
		}
		out = append(out, RoundLocation{Lat: loc.Lat, Lng: loc.Lng, PanoID: loc.PanoID})
	}
	return out, nil
}

// displayName reverse-geocodes best-effort; failures degrade to the
// placeholder rather than aborting the transition.
func (e *Engine) displayName(ctx context.Context, lat, lng float64) string {
	name, err := e.resolver.Resolve(ctx, lat, lng)
	if err != nil || name == "" {
		log.Debug().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("reverse geocode failed")
		return geocode.Unknown
	}
	return name
}
