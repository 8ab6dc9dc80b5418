// internal/httpserver/server.go
//
// HTTP server wiring for the GeoPursuit backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", reverse-geocode passthrough.
//   - Game endpoints (require auth): start, advance, guess, current state,
//     results, reset.
//   - History/leaderboard endpoints over finalized games.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - The session engine owns all game semantics; handlers only decode,
//     delegate, and map engine errors to status codes.

package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/geopursuit/go-server/internal/config"
	"github.com/geopursuit/go-server/internal/geocode"
	"github.com/geopursuit/go-server/internal/locations"
	"github.com/geopursuit/go-server/internal/session"
	"github.com/geopursuit/go-server/internal/store"
)

// Server bundles router, durable stores, and the session engine.
type Server struct {
	r        *chi.Mux
	db       *sql.DB
	store    *store.SQL
	engine   *session.Engine
	pool     *locations.Pool
	resolver geocode.Resolver
	cfg      *config.Config
}

// New constructs a Server, installs middleware, and registers routes.
func New(cfg *config.Config, db *sql.DB, st *store.SQL, eng *session.Engine, pool *locations.Pool, resolver geocode.Resolver) *Server {
	s := &Server{r: chi.NewRouter(), db: db, store: st, engine: eng, pool: pool, resolver: resolver, cfg: cfg}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                 // add X-Request-ID
	s.r.Use(chimw.RealIP)                    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)                 // recover from panics
	s.r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
	s.r.Use(jsonContentType)                 // default JSON responses
	s.r.Use(corsFromConfig(cfg))             // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"geopursuit-go","endpoints":["/health","/auth/*","POST /game/start","POST /game/guess"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// Reverse-geocode passthrough (public; used by the map UI).
	s.r.Get("/location", s.handleLocation)

	// Auth
	s.r.Post("/auth/signup", s.handleSignup)
	s.r.Post("/auth/login", s.handleLogin)
	s.r.Post("/auth/logout", s.handleLogout)
	s.r.With(s.requireAuth()).Get("/auth/me", s.handleMe)

	// Game endpoints — all gated: sessions are keyed by user identity.
	s.r.Route("/game", func(r chi.Router) {
		r.Use(s.requireAuth())
		r.Post("/start", s.handleStart)
		r.Post("/next-round", s.handleAdvance)
		r.Post("/guess", s.handleGuess)
		r.Get("/current", s.handleCurrent)
		r.Post("/results", s.handleResults)
		r.Post("/reset", s.handleReset)
	})

	// History + leaderboard over finalized games.
	s.r.With(s.requireAuth()).Get("/games/mine", s.handleGamesMine)
	s.r.Get("/leaderboard", s.handleLeaderboard)

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromConfig enables credentialed CORS for a single origin.
func corsFromConfig(cfg *config.Config) func(http.Handler) http.Handler {
	origin := cfg.ClientOrigin
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ------------------------------ GAME ---------------------------------------

// handleStart creates (or resumes) the caller's session.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	snap, err := s.engine.Start(r.Context(), me.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

// handleAdvance opens the durable rows for the current round.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	snap, err := s.engine.Advance(r.Context(), me.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

// guessReq is the payload for POST /game/guess.
type guessReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// handleGuess scores a guess for the caller's current round.
func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	var req guessReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	res, err := s.engine.SubmitGuess(r.Context(), me.ID, req.Lat, req.Lng)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}

// handleCurrent returns the last-committed session snapshot, or
// {"active":false} if the caller has none.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	snap, err := s.engine.Current(r.Context(), me.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

// handleResults finalizes the caller's game and returns the merged results.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	res, err := s.engine.Finalize(r.Context(), me.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}

// handleReset clears the caller's session; durable history is preserved.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	if err := s.engine.Reset(r.Context(), me.ID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// --------------------------- LOCATION --------------------------------------

// handleLocation reverse-geocodes to a display name. Accepts either a
// lat/lng pair or a panoId from the pool.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var lat, lng float64
	if panoID := r.URL.Query().Get("panoId"); panoID != "" {
		loc, err := s.pool.ResolveByPanoID(r.Context(), panoID)
		if err != nil {
			if errors.Is(err, locations.ErrNotFound) {
				http.Error(w, `{"error":"unknown panoId"}`, http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("panoId", panoID).Msg("pano lookup")
			http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
			return
		}
		lat, lng = loc.Lat, loc.Lng
	} else {
		var err1, err2 error
		lat, err1 = strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, err2 = strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if err1 != nil || err2 != nil {
			http.Error(w, `{"error":"lat and lng (or panoId) query params required"}`, http.StatusBadRequest)
			return
		}
	}
	name, err := s.resolver.Resolve(r.Context(), lat, lng)
	if err != nil || name == "" {
		name = geocode.Unknown
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"displayName": name})
}

// --------------------------- HISTORY ---------------------------------------

// handleGamesMine lists the caller's recent games, newest first.
func (s *Server) handleGamesMine(w http.ResponseWriter, r *http.Request) {
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	games, err := s.store.GamesByUser(r.Context(), me.ID, 50)
	if err != nil {
		log.Error().Err(err).Msg("list games")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(games)
}

// handleLeaderboard lists the top finalized games by total score.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	rows, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("leaderboard")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(rows)
}

// --------------------------- error mapping ---------------------------------

// writeEngineError maps the engine taxonomy to HTTP statuses. Store/cache
// failures are logged and surfaced opaquely.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		http.Error(w, `{"error":"invalid_guess","detail":"lat must be in [-90,90], lng in [-180,180]"}`, http.StatusBadRequest)
	case errors.Is(err, session.ErrSessionComplete):
		http.Error(w, `{"error":"session_complete"}`, http.StatusConflict)
	case errors.Is(err, session.ErrRoundNotOpen):
		http.Error(w, `{"error":"round_not_open","detail":"advance to the next round before guessing"}`, http.StatusConflict)
	case errors.Is(err, session.ErrNoSession):
		http.Error(w, `{"error":"no_session"}`, http.StatusNotFound)
	default:
		log.Error().Err(err).Msg("session operation failed")
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
	}
}
