// internal/config/config.go
//
// Typed configuration for the game server. godotenv loads `.env` in
// development (done by main); caarlos0/env parses the process environment
// into this struct.

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable of the server.
type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":5175"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	ClientOrigin string `env:"CLIENT_ORIGIN" envDefault:"http://localhost:5173"`

	// Durable store and session cache.
	DBPath     string        `env:"DB_PATH" envDefault:"./data/app.db"`
	CacheDir   string        `env:"CACHE_DIR" envDefault:"./data/cache"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Game shape.
	RoundCount int `env:"ROUND_COUNT" envDefault:"5"`

	// Auth.
	JWTSecret      string `env:"JWT_SECRET" envDefault:"dev_secret_change_me"`
	JWTExpiresDays int    `env:"JWT_EXPIRES_DAYS" envDefault:"14"`
	CookieName     string `env:"COOKIE_NAME" envDefault:"geopursuit_token"`
	CookieSecure   bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// Reverse geocoding.
	NominatimURL   string        `env:"NOMINATIM_URL" envDefault:"https://nominatim.openstreetmap.org"`
	GeocodeTimeout time.Duration `env:"GEOCODE_TIMEOUT" envDefault:"5s"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.RoundCount < 1 {
		return nil, fmt.Errorf("ROUND_COUNT must be positive, got %d", cfg.RoundCount)
	}
	return &cfg, nil
}
