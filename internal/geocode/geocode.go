// internal/geocode/geocode.go
//
// Reverse geocoding client: coordinates → human-readable display name.
// Responsibilities:
//   - Query a Nominatim-compatible endpoint (format=jsonv2).
//   - Guard the provider with a circuit breaker so a flapping upstream
//     short-circuits instead of stalling every round transition.
//
// Callers treat this as best-effort: the engine substitutes a placeholder
// on any failure, so errors here never abort a game transition.

package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

// Unknown is the placeholder display name used whenever resolution fails.
const Unknown = "Unknown location"

// ErrNoResult means the provider answered but had no name for the point.
var ErrNoResult = errors.New("geocode: no result")

// Resolver turns a coordinate into a display name.
type Resolver interface {
	Resolve(ctx context.Context, lat, lng float64) (string, error)
}

// Nominatim is a Resolver backed by a Nominatim-compatible HTTP endpoint.
type Nominatim struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewNominatim constructs a client for baseURL (e.g.
// https://nominatim.openstreetmap.org) with a bounded request timeout.
func NewNominatim(baseURL string, timeout time.Duration) *Nominatim {
	return &Nominatim{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    "nominatim",
			Timeout: 30 * time.Second,
		}),
	}
}

// Resolve performs a reverse geocode lookup through the breaker.
func (n *Nominatim) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	return n.breaker.Execute(func() (string, error) {
		return n.reverse(ctx, lat, lng)
	})
}

// reverseResponse is the subset of the jsonv2 payload we consume.
type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

func (n *Nominatim) reverse(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", "geopursuit-go-server")

	res, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return "", fmt.Errorf("geocode: status %d", res.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("geocode: decode: %w", err)
	}
	if body.Error != "" || body.DisplayName == "" {
		return "", ErrNoResult
	}
	return body.DisplayName, nil
}
