package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/geopursuit/go-server/internal/geocode"
	"github.com/geopursuit/go-server/internal/locations"
	"github.com/geopursuit/go-server/internal/store"
)

// ----------------------------- fakes ---------------------------------------

type fakeStore struct {
	mu         sync.Mutex
	games      int
	rounds     int
	userRounds int
	guesses    map[string]store.UserRound // by round id
	completed  map[string]time.Time       // game id → first completion
	failNext   error

	sumScore    int
	sumDistance float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guesses:   make(map[string]store.UserRound),
		completed: make(map[string]time.Time),
	}
}

func (f *fakeStore) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeStore) CreateGame(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	f.games++
	return fmt.Sprintf("game-%d", f.games), nil
}

func (f *fakeStore) CreateRound(ctx context.Context, gameID string, roundNumber int, locationName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	f.rounds++
	return fmt.Sprintf("round-%d", f.rounds), nil
}

func (f *fakeStore) CreateUserRound(ctx context.Context, roundID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	f.userRounds++
	return fmt.Sprintf("ur-%d", f.userRounds), nil
}

func (f *fakeStore) RecordGuess(ctx context.Context, roundID, guessName string, guessLat, guessLng, distanceKM float64, score int) (store.UserRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return store.UserRound{}, err
	}
	ur := store.UserRound{
		RoundID:     roundID,
		GuessLat:    guessLat,
		GuessLng:    guessLng,
		GuessName:   guessName,
		DistanceKM:  distanceKM,
		Score:       score,
		SubmittedAt: time.Now().UTC(),
	}
	f.guesses[roundID] = ur
	return ur, nil
}

func (f *fakeStore) SumScore(ctx context.Context, userID, gameID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sumScore != 0 {
		return f.sumScore, nil
	}
	total := 0
	for _, g := range f.guesses {
		total += g.Score
	}
	return total, nil
}

func (f *fakeStore) SumDistance(ctx context.Context, userID, gameID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sumDistance != 0 {
		return f.sumDistance, nil
	}
	var total float64
	for _, g := range f.guesses {
		total += g.DistanceKM
	}
	return total, nil
}

func (f *fakeStore) FinalizeGame(ctx context.Context, userID, gameID string, totalScore int, totalDistance float64) (store.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return store.Game{}, err
	}
	first, ok := f.completed[gameID]
	if !ok {
		first = time.Now().UTC()
		f.completed[gameID] = first
	}
	return store.Game{
		ID:            gameID,
		UserID:        userID,
		CompletedAt:   &first,
		TotalScore:    totalScore,
		TotalDistance: totalDistance,
	}, nil
}

type fakeCache struct {
	mu   sync.Mutex
	docs map[string]*Document
	puts int
}

func newFakeCache() *fakeCache {
	return &fakeCache{docs: make(map[string]*Document)}
}

func (f *fakeCache) Get(ctx context.Context, userID string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return doc.clone(), nil
}

func (f *fakeCache) Put(ctx context.Context, userID string, doc *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[userID] = doc.clone()
	f.puts++
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, userID)
	return nil
}

type fakePool struct {
	locs []locations.Location
}

func (f *fakePool) Count(ctx context.Context) (int, error) {
	return len(f.locs), nil
}

func (f *fakePool) Pick(ctx context.Context, index int) (locations.Location, error) {
	if index < 1 || index > len(f.locs) {
		return locations.Location{}, locations.ErrNotFound
	}
	return f.locs[index-1], nil
}

type resolverFunc func(ctx context.Context, lat, lng float64) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	return f(ctx, lat, lng)
}

// ----------------------------- helpers -------------------------------------

const seattleLat, seattleLng = 47.6, -122.3

func newTestEngine(t *testing.T, roundCount int) (*Engine, *fakeStore, *fakeCache) {
	t.Helper()
	st := newFakeStore()
	c := newFakeCache()
	pool := &fakePool{locs: []locations.Location{
		{ID: 1, Lat: seattleLat, Lng: seattleLng, PanoID: "pano-1"},
		{ID: 2, Lat: 47.25, Lng: -122.44, PanoID: "pano-2"},
		{ID: 3, Lat: 48.75, Lng: -122.48, PanoID: "pano-3"},
		{ID: 4, Lat: 47.04, Lng: -122.9, PanoID: "pano-4"},
		{ID: 5, Lat: 46.6, Lng: -120.5, PanoID: "pano-5"},
		{ID: 6, Lat: 47.66, Lng: -117.43, PanoID: "pano-6"},
	}}
	resolver := resolverFunc(func(ctx context.Context, lat, lng float64) (string, error) {
		return fmt.Sprintf("Place at %.2f,%.2f", lat, lng), nil
	})
	e := New(st, c, pool, resolver, roundCount)
	// Deterministic draws: always the lowest available index.
	next := 0
	e.randIndex = func(n int) int {
		v := next % n
		next++
		return v
	}
	return e, st, c
}

// playRound scores one perfect guess for the current round, advancing first
// when the round is not yet open.
func playRound(t *testing.T, e *Engine, userID string) RoundResult {
	t.Helper()
	ctx := context.Background()
	snap, err := e.Current(ctx, userID)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !snap.RoundOpen {
		if _, err := e.Advance(ctx, userID); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		snap, err = e.Current(ctx, userID)
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
	}
	doc, err := e.cache.Get(ctx, userID)
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	loc := doc.Locations[doc.CurrentRound-1]
	res, err := e.SubmitGuess(ctx, userID, loc.Lat, loc.Lng)
	if err != nil {
		t.Fatalf("SubmitGuess round %d: %v", snap.CurrentRound, err)
	}
	return res
}

// ----------------------------- tests ---------------------------------------

func TestStartCreatesSession(t *testing.T) {
	e, st, _ := newTestEngine(t, 5)
	ctx := context.Background()

	snap, err := e.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !snap.Active || snap.CurrentRound != 1 || snap.Completed {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.PanoID != "pano-1" {
		t.Errorf("PanoID = %q, want pano-1", snap.PanoID)
	}
	if len(snap.Scores) != 0 || snap.TotalScore != 0 {
		t.Errorf("fresh session carries scores: %+v", snap)
	}
	if st.games != 1 || st.rounds != 1 || st.userRounds != 1 {
		t.Errorf("store writes = %d/%d/%d, want 1/1/1", st.games, st.rounds, st.userRounds)
	}
}

func TestStartIdempotent(t *testing.T) {
	e, st, _ := newTestEngine(t, 5)
	ctx := context.Background()

	first, err := e.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := e.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.GameID != second.GameID || first.CurrentRoundID != second.CurrentRoundID {
		t.Errorf("second Start returned a different session: %+v vs %+v", first, second)
	}
	// No new durable writes on the second call.
	if st.games != 1 || st.rounds != 1 || st.userRounds != 1 {
		t.Errorf("store writes after second Start = %d/%d/%d, want 1/1/1", st.games, st.rounds, st.userRounds)
	}
}

func TestStartDrawsDistinctLocations(t *testing.T) {
	e, _, c := newTestEngine(t, 5)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc, err := c.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	seen := map[string]bool{}
	for _, loc := range doc.Locations {
		if seen[loc.PanoID] {
			t.Errorf("duplicate location %q in a pool of 6", loc.PanoID)
		}
		seen[loc.PanoID] = true
	}
}

func TestFullGame(t *testing.T) {
	e, _, c := newTestEngine(t, 5)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var last RoundResult
	for i := 0; i < 5; i++ {
		last = playRound(t, e, "u1")
	}
	if !last.Completed {
		t.Error("last round result not marked completed")
	}

	doc, err := c.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.CurrentRound != 6 {
		t.Errorf("CurrentRound = %d, want 6", doc.CurrentRound)
	}
	if len(doc.Scores) != 5 || len(doc.Distances) != 5 {
		t.Errorf("history lengths = %d/%d, want 5/5", len(doc.Scores), len(doc.Distances))
	}
	sum := 0
	for _, s := range doc.Scores {
		sum += s
	}
	if doc.TotalScore != sum {
		t.Errorf("TotalScore %d != sum %d", doc.TotalScore, sum)
	}
	// Perfect guesses: every round scores the maximum.
	if doc.TotalScore != 25000 {
		t.Errorf("TotalScore = %d, want 25000", doc.TotalScore)
	}
}

func TestSubmitGuessPerfect(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if res.DistanceKM != 0 || res.Score != 5000 {
		t.Errorf("perfect guess: distance %v score %d, want 0 / 5000", res.DistanceKM, res.Score)
	}
	if res.ActualLat != seattleLat || res.ActualLng != seattleLng {
		t.Errorf("actual coords = (%v, %v)", res.ActualLat, res.ActualLng)
	}
}

func TestSubmitGuessFarAway(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Round 1 target is Seattle-area; guess near New York.
	res, err := e.SubmitGuess(ctx, "u1", 40.7, -74.0)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if res.DistanceKM < 3800 || res.DistanceKM > 3930 {
		t.Errorf("distance = %v km, want ≈3866", res.DistanceKM)
	}
	if res.Score != 0 {
		t.Errorf("score = %d, want 0 (clamped)", res.Score)
	}
}

func TestSubmitGuessInvalidInput(t *testing.T) {
	e, st, c := newTestEngine(t, 5)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := c.Get(ctx, "u1")
	putsBefore := c.puts

	cases := [][2]float64{
		{91, 0},
		{-91, 0},
		{0, 181},
		{0, -181},
	}
	for _, tc := range cases {
		if _, err := e.SubmitGuess(ctx, "u1", tc[0], tc[1]); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("SubmitGuess(%v, %v) err = %v, want ErrInvalidInput", tc[0], tc[1], err)
		}
	}

	// Document untouched: no cache writes, no durable guesses.
	after, _ := c.Get(ctx, "u1")
	if c.puts != putsBefore {
		t.Error("rejected guess wrote to cache")
	}
	if after.CurrentRound != before.CurrentRound || len(after.Scores) != len(before.Scores) {
		t.Errorf("rejected guess mutated document: %+v", after)
	}
	if len(st.guesses) != 0 {
		t.Error("rejected guess recorded durably")
	}
}

func TestSubmitGuessAfterComplete(t *testing.T) {
	e, _, _ := newTestEngine(t, 2)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	playRound(t, e, "u1")
	playRound(t, e, "u1")

	if _, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("err = %v, want ErrSessionComplete", err)
	}
}

func TestSubmitGuessWithoutAdvance(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng); err != nil {
		t.Fatalf("first guess: %v", err)
	}
	// Round 2 rows don't exist yet.
	if _, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng); !errors.Is(err, ErrRoundNotOpen) {
		t.Errorf("err = %v, want ErrRoundNotOpen", err)
	}
}

func TestAdvance(t *testing.T) {
	e, st, _ := newTestEngine(t, 3)
	ctx := context.Background()

	if _, err := e.Advance(ctx, "ghost"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Advance without session err = %v, want ErrNoSession", err)
	}

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Round 1 is already open: Advance is a no-op.
	snap, err := e.Advance(ctx, "u1")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if snap.CurrentRound != 1 || st.rounds != 1 {
		t.Errorf("no-op Advance created rows: round %d, %d round rows", snap.CurrentRound, st.rounds)
	}

	if _, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng); err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}

	snap, err = e.Advance(ctx, "u1")
	if err != nil {
		t.Fatalf("Advance after guess: %v", err)
	}
	if snap.CurrentRound != 2 {
		t.Errorf("CurrentRound = %d, want 2 (incremented by the guess, not Advance)", snap.CurrentRound)
	}
	if !snap.RoundOpen || snap.PanoID != "pano-2" {
		t.Errorf("round 2 not opened: %+v", snap)
	}
	if st.rounds != 2 || st.userRounds != 2 {
		t.Errorf("store rows = %d/%d, want 2/2", st.rounds, st.userRounds)
	}

	// Repeated Advance stays a no-op.
	if _, err := e.Advance(ctx, "u1"); err != nil {
		t.Fatalf("repeated Advance: %v", err)
	}
	if st.rounds != 2 {
		t.Errorf("repeated Advance duplicated round rows: %d", st.rounds)
	}
}

func TestAdvancePastFinalRound(t *testing.T) {
	e, _, _ := newTestEngine(t, 1)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	playRound(t, e, "u1")
	if _, err := e.Advance(ctx, "u1"); !errors.Is(err, ErrSessionComplete) {
		t.Errorf("err = %v, want ErrSessionComplete", err)
	}
}

func TestCurrent(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)
	ctx := context.Background()

	snap, err := e.Current(ctx, "nobody")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if snap.Active {
		t.Error("expected inactive snapshot for unknown user")
	}

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err = e.Current(ctx, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !snap.Active || snap.CurrentRound != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestResetThenStart(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	ctx := context.Background()

	first, err := e.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	playRound(t, e, "u1")

	if err := e.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	// Idempotent.
	if err := e.Reset(ctx, "u1"); err != nil {
		t.Fatalf("second Reset: %v", err)
	}

	second, err := e.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("Start after Reset: %v", err)
	}
	if second.GameID == first.GameID {
		t.Error("Start after Reset reused the old game")
	}
	if second.CurrentRound != 1 || len(second.Scores) != 0 || second.TotalScore != 0 {
		t.Errorf("session not fresh: %+v", second)
	}
}

func TestFinalize(t *testing.T) {
	e, _, _ := newTestEngine(t, 2)
	ctx := context.Background()

	if _, err := e.Finalize(ctx, "nobody"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Finalize without session err = %v, want ErrNoSession", err)
	}

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	playRound(t, e, "u1")
	playRound(t, e, "u1")

	res, err := e.Finalize(ctx, "u1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.TotalScore != 10000 {
		t.Errorf("TotalScore = %d, want 10000", res.TotalScore)
	}
	if len(res.Rounds) != 2 {
		t.Fatalf("history length = %d, want 2", len(res.Rounds))
	}
	if res.Rounds[0].RoundNumber != 1 || res.Rounds[1].RoundNumber != 2 {
		t.Errorf("round numbers wrong: %+v", res.Rounds)
	}
	if res.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	// Idempotent: same totals, same completion timestamp, no double count.
	again, err := e.Finalize(ctx, "u1")
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if again.TotalScore != res.TotalScore || again.TotalDistance != res.TotalDistance {
		t.Errorf("second Finalize changed totals: %+v vs %+v", again, res)
	}
	if !again.CompletedAt.Equal(res.CompletedAt) {
		t.Errorf("CompletedAt changed: %v vs %v", again.CompletedAt, res.CompletedAt)
	}
}

func TestFinalizeUsesStoreAggregates(t *testing.T) {
	e, st, _ := newTestEngine(t, 2)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	playRound(t, e, "u1")

	// The store, not the cached running totals, is authoritative.
	st.sumScore = 1234
	st.sumDistance = 56.7
	res, err := e.Finalize(ctx, "u1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.TotalScore != 1234 || res.TotalDistance != 56.7 {
		t.Errorf("totals = %d / %v, want store aggregates 1234 / 56.7", res.TotalScore, res.TotalDistance)
	}
}

func TestStoreFailureLeavesCacheUntouched(t *testing.T) {
	e, st, c := newTestEngine(t, 3)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := c.Get(ctx, "u1")

	st.mu.Lock()
	st.failNext = errors.New("store down")
	st.mu.Unlock()

	if _, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng); err == nil {
		t.Fatal("expected error from failing store")
	}

	after, _ := c.Get(ctx, "u1")
	if after.CurrentRound != before.CurrentRound || after.TotalScore != before.TotalScore {
		t.Errorf("cache mutated despite store failure: %+v", after)
	}
}

func TestGeocodeFailureDegradesToPlaceholder(t *testing.T) {
	st := newFakeStore()
	c := newFakeCache()
	pool := &fakePool{locs: []locations.Location{
		{ID: 1, Lat: seattleLat, Lng: seattleLng, PanoID: "pano-1"},
	}}
	resolver := resolverFunc(func(ctx context.Context, lat, lng float64) (string, error) {
		return "", errors.New("provider down")
	})
	e := New(st, c, pool, resolver, 1)
	e.randIndex = func(n int) int { return 0 }
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start must not fail on geocode errors: %v", err)
	}
	res, err := e.SubmitGuess(ctx, "u1", seattleLat, seattleLng)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if res.ActualName != geocode.Unknown || res.GuessName != geocode.Unknown {
		t.Errorf("names = %q / %q, want placeholders", res.ActualName, res.GuessName)
	}
}

func TestTinyPoolFallsBackToReplacement(t *testing.T) {
	st := newFakeStore()
	c := newFakeCache()
	pool := &fakePool{locs: []locations.Location{
		{ID: 1, Lat: seattleLat, Lng: seattleLng, PanoID: "pano-1"},
		{ID: 2, Lat: 47.25, Lng: -122.44, PanoID: "pano-2"},
	}}
	resolver := resolverFunc(func(ctx context.Context, lat, lng float64) (string, error) {
		return "somewhere", nil
	})
	e := New(st, c, pool, resolver, 5)
	next := 0
	e.randIndex = func(n int) int {
		v := next % n
		next++
		return v
	}
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start with tiny pool: %v", err)
	}
	doc, _ := c.Get(ctx, "u1")
	if len(doc.Locations) != 5 {
		t.Errorf("locations = %d, want 5 (with replacement)", len(doc.Locations))
	}
}

func TestEmptyPool(t *testing.T) {
	st := newFakeStore()
	c := newFakeCache()
	resolver := resolverFunc(func(ctx context.Context, lat, lng float64) (string, error) {
		return "", nil
	})
	e := New(st, c, &fakePool{}, resolver, 5)
	if _, err := e.Start(context.Background(), "u1"); !errors.Is(err, ErrEmptyPool) {
		t.Errorf("err = %v, want ErrEmptyPool", err)
	}
}

func TestConcurrentSubmitsSerialized(t *testing.T) {
	e, st, c := newTestEngine(t, 5)
	ctx := context.Background()

	if _, err := e.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Double-submit race: exactly one of the concurrent guesses may score
	// round 1; the other must observe the closed round.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.SubmitGuess(ctx, "u1", seattleLat, seattleLng)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrRoundNotOpen) {
			t.Errorf("unexpected race error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d guesses scored, want exactly 1", ok)
	}

	doc, _ := c.Get(ctx, "u1")
	if doc.CurrentRound != 2 || len(doc.Scores) != 1 {
		t.Errorf("lost-update detected: round %d, %d scores", doc.CurrentRound, len(doc.Scores))
	}
	if len(st.guesses) != 1 {
		t.Errorf("%d durable guesses, want 1", len(st.guesses))
	}
}
