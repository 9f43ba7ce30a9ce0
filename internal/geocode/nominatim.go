// ABOUTME: Nominatim-compatible HTTP geocoder asking for at most one candidate
// ABOUTME: Picks the accept-language from the place name's detected script

package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/tidwall/gjson"

	"github.com/2389/mapfeed/internal/markers"
)

const (
	// DefaultBaseURL is the public OpenStreetMap Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultTimeout bounds one lookup.
	DefaultTimeout = 10 * time.Second
	// maxBody caps how much of a response is read.
	maxBody = 1 << 20
)

// NominatimConfig configures a Nominatim client.
type NominatimConfig struct {
	BaseURL   string
	UserAgent string
	// Language is the accept-language used when detection is unreliable.
	Language string
	Timeout  time.Duration
}

// Nominatim queries a Nominatim /search endpoint.
type Nominatim struct {
	baseURL   string
	userAgent string
	language  string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
}

// NewNominatim creates a client. Zero config fields take defaults.
func NewNominatim(cfg NominatimConfig, logger *slog.Logger) *Nominatim {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mapfeed/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Nominatim{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		language:  cfg.Language,
		timeout:   cfg.Timeout,
		client:    &http.Client{},
		logger:    logger.With("component", "geocoder"),
	}
}

// Resolve looks up place and returns the first candidate's coordinates.
func (n *Nominatim) Resolve(ctx context.Context, place string) (markers.Coordinates, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return markers.Coordinates{}, fmt.Errorf("resolving empty place name: %w", ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if lang := n.languageFor(place); lang != "" {
		q.Set("accept-language", lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return markers.Coordinates{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		return markers.Coordinates{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return markers.Coordinates{}, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return markers.Coordinates{}, fmt.Errorf("%w: provider returned status %d", ErrUnavailable, resp.StatusCode)
	}

	coords, err := parseSearch(body)
	n.logger.Debug("geocode lookup",
		"place", place,
		"duration", time.Since(start),
		"found", err == nil)
	if err != nil {
		return markers.Coordinates{}, fmt.Errorf("resolving %q: %w", place, err)
	}
	return coords, nil
}

func (n *Nominatim) languageFor(place string) string {
	info := whatlanggo.Detect(place)
	if info.IsReliable() {
		if code := info.Lang.Iso6391(); code != "" {
			return code
		}
	}
	return n.language
}

// parseSearch reads the first hit of a jsonv2 search response.
func parseSearch(body []byte) (markers.Coordinates, error) {
	if !gjson.ValidBytes(body) {
		return markers.Coordinates{}, fmt.Errorf("%w: malformed response", ErrUnavailable)
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return markers.Coordinates{}, fmt.Errorf("%w: expected a result array", ErrUnavailable)
	}
	hits := res.Array()
	if len(hits) == 0 {
		return markers.Coordinates{}, ErrNotFound
	}
	lat, latOK := coordinate(hits[0].Get("lat"))
	lon, lonOK := coordinate(hits[0].Get("lon"))
	if !latOK || !lonOK {
		return markers.Coordinates{}, fmt.Errorf("%w: candidate without usable coordinates", ErrNotFound)
	}
	c := markers.Coordinates{Lon: lon, Lat: lat}
	if err := (markers.Marker{Name: "candidate", Coords: c}).Validate(); err != nil {
		return markers.Coordinates{}, errors.Join(ErrNotFound, err)
	}
	return c, nil
}

// coordinate accepts a JSON number or a numeric string. gjson's Float reads
// anything else as 0, which would land the marker at null island.
func coordinate(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		return v, err == nil
	default:
		return 0, false
	}
}
