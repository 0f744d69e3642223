package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"net/url"
	"strconv"
	"strings"
)

type Config struct {
	URL          string
	Email        string
	CountryCodes string
	UserAgent    string
}

// GeocoderAdapter - запросы /search в формате jsonv2 через общий FetcherPort
type GeocoderAdapter struct {
	fetcher  port.FetcherPort
	endpoint *url.URL
	cfg      Config
}

var _ port.GeocoderPort = (*GeocoderAdapter)(nil)

func NewGeocoderAdapter(fetcher port.FetcherPort, cfg Config) (*GeocoderAdapter, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, domain.FatalConfigError("nominatim: invalid url %q", cfg.URL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "listing-pipeline-service"
		if cfg.Email != "" {
			cfg.UserAgent += " (" + cfg.Email + ")"
		}
	}
	return &GeocoderAdapter{fetcher: fetcher, endpoint: endpoint, cfg: cfg}, nil
}

type searchResult struct {
	Lat        string   `json:"lat"`
	Lon        string   `json:"lon"`
	Importance *float64 `json:"importance"`
}

func (a *GeocoderAdapter) searchURL(query string) string {
	q := a.endpoint.Query()
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if a.cfg.CountryCodes != "" {
		q.Set("countrycodes", a.cfg.CountryCodes)
	}
	if a.cfg.Email != "" {
		q.Set("email", a.cfg.Email)
	}
	u := *a.endpoint
	u.RawQuery = q.Encode()
	return u.String()
}

// Geocode возвращает (nil, nil), если адрес не найден
func (a *GeocoderAdapter) Geocode(ctx context.Context, query string) (*domain.GeoPoint, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "NominatimGeocoder",
		"method":    "Geocode",
	})

	resp, err := a.fetcher.Fetch(ctx, a.searchURL(query), domain.FetchOptions{
		UserAgent: a.cfg.UserAgent,
		Headers:   map[string]string{"Accept": "application/json", "Accept-Language": "pl"},
	})
	if err != nil {
		return nil, fmt.Errorf("nominatim: search %q: %w", query, err)
	}

	var results []searchResult
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return nil, fmt.Errorf("nominatim: decode response: %w", err)
	}
	if len(results) == 0 {
		logger.Debug("No geocoding result", port.Fields{"query": query})
		return nil, nil
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return nil, fmt.Errorf("nominatim: bad coordinates %q,%q", results[0].Lat, results[0].Lon)
	}
	return &domain.GeoPoint{Lat: lat, Lng: lng, Confidence: confidence(results[0].Importance)}, nil
}

// confidence - importance из ответа, приведенная к [0, 1]; без importance считаем 0.5
func confidence(importance *float64) float64 {
	if importance == nil {
		return 0.5
	}
	return min(max(*importance, 0), 1)
}
