// internal/store/store.go
//
// Durable store adapter over database/sql (SQLite). Owns the games,
// rounds, and user_rounds tables: the authoritative history behind the
// ephemeral session cache.
//
// Conventions (matching the rest of the repo):
//   - Row ids are UUID strings.
//   - Timestamps are stored as RFC3339 TEXT.
//   - Each exported operation is a single logical transaction.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the target row does not exist.
var ErrNotFound = errors.New("record not found")

// Game matches the games table shape.
type Game struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	TotalScore    int        `json:"totalScore"`
	TotalDistance float64    `json:"totalDistance"`
}

// UserRound matches the user_rounds table shape after a guess is recorded.
type UserRound struct {
	ID          string    `json:"id"`
	RoundID     string    `json:"roundId"`
	UserID      string    `json:"userId"`
	GuessLat    float64   `json:"guessLat"`
	GuessLng    float64   `json:"guessLng"`
	GuessName   string    `json:"guessName"`
	DistanceKM  float64   `json:"distanceKm"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// LeaderboardRow is one entry of the finalized-games leaderboard.
type LeaderboardRow struct {
	UserID        string  `json:"userId"`
	Username      string  `json:"username"`
	TotalScore    int     `json:"totalScore"`
	TotalDistance float64 `json:"totalDistance"`
}

// SQL is the database/sql-backed adapter.
type SQL struct {
	db *sql.DB
}

// NewSQL constructs the adapter over db.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// CreateGame inserts a games row for userID and returns its id.
func (s *SQL) CreateGame(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO games (id, user_id, started_at) VALUES (?,?,?)`,
		id, userID, now())
	if err != nil {
		return "", fmt.Errorf("insert game: %w", err)
	}
	return id, nil
}

// CreateRound inserts a rounds row and returns its id. The display name is
// resolved at round-creation time and immutable thereafter.
func (s *SQL) CreateRound(ctx context.Context, gameID string, roundNumber int, locationName string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rounds (id, game_id, round_number, location_string) VALUES (?,?,?,?)`,
		id, gameID, roundNumber, locationName)
	if err != nil {
		return "", fmt.Errorf("insert round: %w", err)
	}
	return id, nil
}

// CreateUserRound inserts an empty participation row: score 0, guess
// fields NULL until the guess is scored.
func (s *SQL) CreateUserRound(ctx context.Context, roundID, userID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_rounds (id, round_id, user_id, round_score) VALUES (?,?,?,0)`,
		id, roundID, userID)
	if err != nil {
		return "", fmt.Errorf("insert user round: %w", err)
	}
	return id, nil
}

// RecordGuess populates the user_rounds row for roundID. This is strictly
// an update: ErrNotFound if no row exists. At-most-once semantics are the
// engine's responsibility, not enforced here.
func (s *SQL) RecordGuess(ctx context.Context, roundID, guessName string, guessLat, guessLng, distanceKM float64, score int) (UserRound, error) {
	submitted := now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_rounds
		 SET guess_lat=?, guess_lng=?, guess_string=?, distance_off=?, round_score=?, submitted_at=?
		 WHERE round_id=?`,
		guessLat, guessLng, guessName, distanceKM, score, submitted, roundID)
	if err != nil {
		return UserRound{}, fmt.Errorf("record guess: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UserRound{}, err
	}
	if n == 0 {
		return UserRound{}, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, round_id, user_id, guess_lat, guess_lng, guess_string, distance_off, round_score, submitted_at
		 FROM user_rounds WHERE round_id=?`, roundID)
	var ur UserRound
	var submittedAt string
	if err := row.Scan(&ur.ID, &ur.RoundID, &ur.UserID, &ur.GuessLat, &ur.GuessLng,
		&ur.GuessName, &ur.DistanceKM, &ur.Score, &submittedAt); err != nil {
		return UserRound{}, fmt.Errorf("read back user round: %w", err)
	}
	ur.SubmittedAt = parseTime(submittedAt)
	return ur, nil
}

// SumScore aggregates round scores for the user within one game.
func (s *SQL) SumScore(ctx context.Context, userID, gameID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(ur.round_score), 0)
		 FROM user_rounds ur JOIN rounds r ON r.id = ur.round_id
		 WHERE ur.user_id=? AND r.game_id=?`, userID, gameID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum score: %w", err)
	}
	return total, nil
}

// SumDistance aggregates guess distances for the user within one game.
// Rounds without a recorded guess contribute nothing.
func (s *SQL) SumDistance(ctx context.Context, userID, gameID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(ur.distance_off), 0)
		 FROM user_rounds ur JOIN rounds r ON r.id = ur.round_id
		 WHERE ur.user_id=? AND r.game_id=?`, userID, gameID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum distance: %w", err)
	}
	return total, nil
}

// FinalizeGame stores the totals and stamps completed_at. The first
// completion timestamp wins so repeated finalization stays idempotent.
func (s *SQL) FinalizeGame(ctx context.Context, userID, gameID string, totalScore int, totalDistance float64) (Game, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE games
		 SET completed_at = COALESCE(completed_at, ?), total_score=?, total_distance=?
		 WHERE id=? AND user_id=?`,
		now(), totalScore, totalDistance, gameID, userID)
	if err != nil {
		return Game{}, fmt.Errorf("finalize game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Game{}, err
	}
	if n == 0 {
		return Game{}, ErrNotFound
	}
	return s.gameByID(ctx, gameID)
}

// GamesByUser returns the user's most recent games, newest first.
func (s *SQL) GamesByUser(ctx context.Context, userID string, limit int) ([]Game, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, started_at, completed_at, COALESCE(total_score, 0), COALESCE(total_distance, 0)
		 FROM games WHERE user_id=? ORDER BY started_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	out := []Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Leaderboard returns the top finalized games by total score.
func (s *SQL) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.user_id, u.username, g.total_score, g.total_distance
		 FROM games g JOIN users u ON u.id = g.user_id
		 WHERE g.completed_at IS NOT NULL
		 ORDER BY g.total_score DESC, g.total_distance ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	out := []LeaderboardRow{}
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.TotalScore, &r.TotalDistance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// gameByID loads one games row.
func (s *SQL) gameByID(ctx context.Context, id string) (Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, started_at, completed_at, COALESCE(total_score, 0), COALESCE(total_distance, 0)
		 FROM games WHERE id=?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrNotFound
	}
	return g, err
}

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanGame(row scannable) (Game, error) {
	var g Game
	var started string
	var completed sql.NullString
	if err := row.Scan(&g.ID, &g.UserID, &started, &completed, &g.TotalScore, &g.TotalDistance); err != nil {
		return Game{}, err
	}
	g.StartedAt = parseTime(started)
	if completed.Valid {
		t := parseTime(completed.String)
		g.CompletedAt = &t
	}
	return g, nil
}

// now formats the current UTC time as RFC3339.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// parseTime parses RFC3339 timestamps; on error returns zero time.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
