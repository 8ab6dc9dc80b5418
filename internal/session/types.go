// internal/session/types.go
//
// Core type definitions for the game session engine.
// Defines:
//   - Document: the cache-resident state of one user's in-progress game.
//   - RoundLocation: one pre-drawn location of the session.
//   - Snapshot: the client-facing view of a Document (never leaks the
//     answer coordinates for unplayed rounds).
//   - RoundResult / GameResults: payloads returned by guess scoring and
//     finalization.

package session

import (
	"fmt"
	"time"
)

// RoundLocation is one entry of the session's immutable location sequence.
// Name is resolved lazily: empty until the round is first revealed.
type RoundLocation struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	PanoID string  `json:"panoId"`
	Name   string  `json:"name"`
}

// Document is the live game-session state for one user. It is owned by the
// session cache entry for that user and always read-modified-written as a
// whole.
type Document struct {
	GameID     string          `json:"gameId"`
	UserID     string          `json:"userId"`
	RoundCount int             `json:"roundCount"`
	Locations  []RoundLocation `json:"locations"`

	// CurrentRound is 1-based; RoundCount+1 signals the session is complete.
	CurrentRound   int    `json:"currentRound"`
	CurrentRoundID string `json:"currentRoundId"`

	// RoundOpen is true once durable rows exist for CurrentRound and no
	// guess has been scored against it yet. Keeps Advance idempotent.
	RoundOpen bool `json:"roundOpen"`

	Scores        []int     `json:"scores"`
	Distances     []float64 `json:"distances"`
	TotalScore    int       `json:"totalScore"`
	TotalDistance float64   `json:"totalDistance"`
	StartedAt     time.Time `json:"startedAt"`
}

// Complete reports whether every round has been scored.
func (d *Document) Complete() bool { return d.CurrentRound > d.RoundCount }

// validate checks the document invariants. Called before every cache write;
// a violation means an engine bug, not bad client input.
func (d *Document) validate() error {
	if d.RoundCount < 1 {
		return fmt.Errorf("session: round count %d", d.RoundCount)
	}
	if len(d.Locations) != d.RoundCount {
		return fmt.Errorf("session: %d locations for %d rounds", len(d.Locations), d.RoundCount)
	}
	if d.CurrentRound < 1 || d.CurrentRound > d.RoundCount+1 {
		return fmt.Errorf("session: current round %d out of [1, %d]", d.CurrentRound, d.RoundCount+1)
	}
	if len(d.Scores) != d.CurrentRound-1 || len(d.Distances) != d.CurrentRound-1 {
		return fmt.Errorf("session: %d scores / %d distances at round %d",
			len(d.Scores), len(d.Distances), d.CurrentRound)
	}
	sum := 0
	for _, s := range d.Scores {
		sum += s
	}
	if sum != d.TotalScore {
		return fmt.Errorf("session: total score %d != sum %d", d.TotalScore, sum)
	}
	var dist float64
	for _, km := range d.Distances {
		dist += km
	}
	if diff := dist - d.TotalDistance; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("session: total distance %v != sum %v", d.TotalDistance, dist)
	}
	return nil
}

// clone returns a deep copy so callers never share slices with the cached
// document.
func (d *Document) clone() *Document {
	c := *d
	c.Locations = append([]RoundLocation(nil), d.Locations...)
	c.Scores = append([]int(nil), d.Scores...)
	c.Distances = append([]float64(nil), d.Distances...)
	return &c
}

// Snapshot is the client-facing view of a session. Actual coordinates of
// unplayed rounds stay server-side; the client only ever sees the panorama
// id it should render.
type Snapshot struct {
	Active         bool      `json:"active"`
	GameID         string    `json:"gameId,omitempty"`
	RoundCount     int       `json:"roundCount,omitempty"`
	CurrentRound   int       `json:"currentRound,omitempty"`
	CurrentRoundID string    `json:"currentRoundId,omitempty"`
	PanoID         string    `json:"panoId,omitempty"`
	RoundOpen      bool      `json:"roundOpen,omitempty"`
	Scores         []int     `json:"scores,omitempty"`
	Distances      []float64 `json:"distances,omitempty"`
	TotalScore     int       `json:"totalScore"`
	TotalDistance  float64   `json:"totalDistance"`
	Completed      bool      `json:"completed"`
	StartedAt      time.Time `json:"startedAt,omitzero"`
}

// Snapshot derives the client view from the document.
func (d *Document) Snapshot() Snapshot {
	s := Snapshot{
		Active:         true,
		GameID:         d.GameID,
		RoundCount:     d.RoundCount,
		CurrentRound:   d.CurrentRound,
		CurrentRoundID: d.CurrentRoundID,
		RoundOpen:      d.RoundOpen,
		Scores:         append([]int(nil), d.Scores...),
		Distances:      append([]float64(nil), d.Distances...),
		TotalScore:     d.TotalScore,
		TotalDistance:  d.TotalDistance,
		Completed:      d.Complete(),
		StartedAt:      d.StartedAt,
	}
	if !d.Complete() {
		s.PanoID = d.Locations[d.CurrentRound-1].PanoID
	}
	return s
}

// RoundResult is returned by SubmitGuess: both coordinate pairs, both
// resolved display names, the per-round figures, and the running totals.
type RoundResult struct {
	RoundNumber   int     `json:"roundNumber"`
	ActualLat     float64 `json:"actualLat"`
	ActualLng     float64 `json:"actualLng"`
	ActualName    string  `json:"actualName"`
	GuessLat      float64 `json:"guessLat"`
	GuessLng      float64 `json:"guessLng"`
	GuessName     string  `json:"guessName"`
	DistanceKM    float64 `json:"distanceKm"`
	Score         int     `json:"score"`
	TotalScore    int     `json:"totalScore"`
	TotalDistance float64 `json:"totalDistance"`
	Completed     bool    `json:"completed"`
}

// RoundSummary is one line of the per-round history in GameResults.
type RoundSummary struct {
	RoundNumber  int     `json:"roundNumber"`
	LocationName string  `json:"locationName"`
	Score        int     `json:"score"`
	DistanceKM   float64 `json:"distanceKm"`
}

// GameResults merges the store's authoritative aggregates with the cached
// per-round history for client rendering.
type GameResults struct {
	GameID        string         `json:"gameId"`
	TotalScore    int            `json:"totalScore"`
	TotalDistance float64        `json:"totalDistance"`
	CompletedAt   time.Time      `json:"completedAt"`
	Rounds        []RoundSummary `json:"rounds"`
}
