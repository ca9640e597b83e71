// Package nominatim geocodes free-form address queries against a
// Nominatim instance (public OSM or self-hosted).
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client geocodes a single query. A query that matches nothing is not
// an error; the result comes back with Matched=false and the address
// keeps null coordinates.
type Client interface {
	Geocode(ctx context.Context, q Query) (*Result, error)
}

// Query is one geocoding request. Either Street/HouseNumber or
// Name (+ optional StopKind) should be set.
type Query struct {
	Street      string
	HouseNumber string
	// Name is the point-of-interest name, e.g. a transit stop.
	Name string
	// StopKind is "bus_stop" or "tram_stop"; it switches the query
	// to the English POI phrasing Nominatim resolves best.
	StopKind string
}

// Result holds the geocoding output.
type Result struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	Type        string  `json:"type"`
	Category    string  `json:"category"`
	Matched     bool    `json:"matched"`
}

// Cache stores geocode results (matches and non-matches) keyed by the
// normalized query.
type Cache interface {
	GetGeocode(ctx context.Context, key string) (*Result, bool, error)
	PutGeocode(ctx context.Context, key string, r *Result) error
}

// Option configures the geocoder.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. The public
// instance's fair-use policy requires at most 1.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header. The public instance
// rejects requests without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

// WithCache enables result caching.
func WithCache(cache Cache) Option {
	return func(c *client) {
		c.cache = cache
	}
}

// WithPlace sets the city/region/zip qualifiers appended to queries
// to narrow results to one municipality.
func WithPlace(city, region, zip string) Option {
	return func(c *client) {
		c.city = city
		c.region = region
		c.zip = zip
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	cache      Cache
	city       string
	region     string
	zip        string
}

// NewClient creates a geocoding Client for the given Nominatim search
// endpoint.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
		userAgent:  "wohnlage/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Freeform renders the query string sent to Nominatim. Stops use an
// English POI phrase ("Bus stop Marzahne, Brandenburg, 14770"),
// addresses the "street number, city" form.
func (c *client) freeform(q Query) string {
	if q.Name != "" {
		name := strings.TrimSpace(strings.ReplaceAll(q.Name, ",", ""))
		switch q.StopKind {
		case "bus_stop":
			return fmt.Sprintf("Bus stop %s, %s, %s", name, c.region, c.zip)
		case "tram_stop":
			return fmt.Sprintf("Tram stop %s, %s, %s", name, c.region, c.zip)
		default:
			return fmt.Sprintf("%s, %s", name, c.city)
		}
	}
	addr := strings.TrimSpace(strings.TrimSpace(q.Street) + " " + strings.TrimSpace(q.HouseNumber))
	parts := make([]string, 0, 2)
	for _, p := range []string{addr, c.city} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type nominatimHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	Category    string `json:"category"`
}

// Geocode resolves a query, consulting the cache first. Cached
// non-matches are returned as-is so unresolvable addresses do not hit
// the service again on every run.
func (c *client) Geocode(ctx context.Context, q Query) (*Result, error) {
	freeform := c.freeform(q)
	key := cacheKey(freeform)

	if c.cache != nil {
		if r, ok, err := c.cache.GetGeocode(ctx, key); err == nil && ok {
			zap.L().Debug("geocode cache hit", zap.String("query", freeform), zap.Bool("matched", r.Matched))
			return r, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nominatim: rate limit wait")
	}

	params := url.Values{}
	params.Set("q", freeform)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}

	var hits []nominatimHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, eris.Wrap(err, "nominatim: decode response")
	}

	result := &Result{}
	if len(hits) > 0 {
		hit := hits[0]
		lat, latErr := strconv.ParseFloat(hit.Lat, 64)
		lon, lonErr := strconv.ParseFloat(hit.Lon, 64)
		if latErr == nil && lonErr == nil {
			result = &Result{
				Lat:         lat,
				Lon:         lon,
				DisplayName: hit.DisplayName,
				Type:        hit.Type,
				Category:    hit.Category,
				Matched:     true,
			}
		}
	}

	if c.cache != nil {
		if err := c.cache.PutGeocode(ctx, key, result); err != nil {
			zap.L().Warn("geocode cache store failed", zap.Error(err))
		}
	}

	return result, nil
}
