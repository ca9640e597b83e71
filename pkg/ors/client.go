// Package ors retrieves foot-walking route distances from an
// OpenRouteService instance.
package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stadtlabor/wohnlage/internal/geo"
)

// Route is one routed walking connection.
type Route struct {
	// DistanceM is the walking distance in meters.
	DistanceM float64 `json:"distance_m"`
	// Geometry is the GeoJSON LineString of the path.
	Geometry string `json:"geometry,omitempty"`
}

// Client computes walking routes between coordinate pairs. Lookups
// are safe to invoke concurrently.
type Client interface {
	RouteDistance(ctx context.Context, origin, dest geo.Coord) (*Route, error)
}

// Cache stores successful route lookups keyed by the rounded
// origin/destination pair. Implementations must be safe for
// concurrent use.
type Cache interface {
	GetRoute(ctx context.Context, key string) (*Route, bool, error)
	PutRoute(ctx context.Context, key string, r *Route) error
}

// Option configures the routing client.
type Option func(*client)

// WithAPIKey sets the Authorization header for the hosted ORS API.
// A local instance needs none.
func WithAPIKey(key string) Option {
	return func(c *client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache enables route caching.
func WithCache(cache Cache) Option {
	return func(c *client) {
		c.cache = cache
	}
}

// WithTimeout bounds a single directions request.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.httpClient.Timeout = d
	}
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
}

// NewClient creates a routing Client for the given ORS directions
// endpoint (GeoJSON profile URL).
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(40, 40),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type directionsRequest struct {
	Coordinates  [][2]float64 `json:"coordinates"`
	Instructions bool         `json:"instructions"`
	Geometry     bool         `json:"geometry"`
	Preference   string       `json:"preference"`
}

type directionsResponse struct {
	Features []struct {
		Properties struct {
			Summary struct {
				Distance float64 `json:"distance"`
			} `json:"summary"`
		} `json:"properties"`
		Geometry json.RawMessage `json:"geometry"`
	} `json:"features"`
}

// RouteDistance routes from origin to dest on foot. Any failure is an
// error; callers record it as a missing distance rather than falling
// back to straight-line silently.
func (c *client) RouteDistance(ctx context.Context, origin, dest geo.Coord) (*Route, error) {
	key := geo.CacheKey(origin, dest)

	if c.cache != nil {
		if r, ok, err := c.cache.GetRoute(ctx, key); err == nil && ok {
			return r, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ors: rate limit wait")
	}

	payload := directionsRequest{
		// ORS expects lon/lat order.
		Coordinates:  [][2]float64{{origin.Lon, origin.Lat}, {dest.Lon, dest.Lat}},
		Instructions: false,
		Geometry:     true,
		Preference:   "recommended",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "ors: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ors: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ors: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("ors: unexpected status %d", resp.StatusCode)
	}

	var parsed directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, eris.Wrap(err, "ors: decode response")
	}
	if len(parsed.Features) == 0 {
		return nil, eris.New("ors: no route found")
	}

	feat := parsed.Features[0]
	route := &Route{
		DistanceM: feat.Properties.Summary.Distance,
		Geometry:  string(feat.Geometry),
	}

	if c.cache != nil {
		if err := c.cache.PutRoute(ctx, key, route); err != nil {
			zap.L().Warn("route cache store failed", zap.Error(err))
		}
	}

	return route, nil
}
