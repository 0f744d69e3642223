package usecase

import (
	"bytes"
	"context"
	"fmt"
	"listing-pipeline-service/internal/core/canonical"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"strconv"
	"strings"
	"sync"
	"time"
)

func ptr[T any](v T) *T { return &v }

var baseTime = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

// fakeFetcher отдает заранее заданные ответы и считает запросы
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*domain.FetchResponse
	errors    map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*domain.FetchResponse),
		errors:    make(map[string]error),
	}
}

func (f *fakeFetcher) page(rawURL string, status int, body string) *fakeFetcher {
	f.responses[rawURL] = &domain.FetchResponse{StatusCode: status, Body: []byte(body), FinalURL: rawURL}
	return f
}

func (f *fakeFetcher) redirect(rawURL, finalURL string, body string) *fakeFetcher {
	f.responses[rawURL] = &domain.FetchResponse{StatusCode: 200, Body: []byte(body), FinalURL: finalURL}
	return f
}

func (f *fakeFetcher) fail(rawURL string, err error) *fakeFetcher {
	f.errors[rawURL] = err
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, opts domain.FetchOptions) (*domain.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errors[rawURL]; ok {
		return nil, err
	}
	resp, ok := f.responses[rawURL]
	if !ok {
		return &domain.FetchResponse{StatusCode: 404, FinalURL: rawURL}, fmt.Errorf("fetch %s: HTTP status 404", rawURL)
	}
	switch {
	case resp.StatusCode == 403 || resp.StatusCode == 429:
		return resp, fmt.Errorf("fetch %s: %w", rawURL, domain.ErrBlocked)
	case !resp.IsSuccess():
		return resp, fmt.Errorf("fetch %s: HTTP status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (f *fakeFetcher) called(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == rawURL {
			n++
		}
	}
	return n
}

// stubAdapter - портал с текстовой выдачей: строка "url|title|price".
// Деталь объявления берется из details по адресу страницы.
type stubAdapter struct {
	source  domain.SourceKey
	host    string
	details map[string]domain.ListingAttributes
}

var _ port.SourceAdapterPort = (*stubAdapter)(nil)

func newStubAdapter(source domain.SourceKey) *stubAdapter {
	return &stubAdapter{source: source, host: "https://" + string(source) + ".test", details: map[string]domain.ListingAttributes{}}
}

func (a *stubAdapter) Source() domain.SourceKey { return a.source }

func (a *stubAdapter) BuildSearchURL(filters domain.SearchFilters, page int) (string, error) {
	city := filters.City
	if city == "" {
		city = "cala-polska"
	}
	u := a.host + "/szukaj/" + city
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u, nil
}

func (a *stubAdapter) searchURL(city string, page int) string {
	u, _ := a.BuildSearchURL(domain.SearchFilters{City: city}, page)
	return u
}

func (a *stubAdapter) ParseSearchResults(body []byte, baseURL string) ([]domain.ListingCandidate, error) {
	var out []domain.ListingCandidate
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			continue
		}
		c := domain.ListingCandidate{SourceURL: parts[0], Title: parts[1]}
		if len(parts) > 2 {
			if v, err := strconv.ParseFloat(parts[2], 64); err == nil {
				c.PriceAmount = &v
			}
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, domain.ErrParseEmpty
	}
	return out, nil
}

func (a *stubAdapter) SearchMatches(requestedURL, finalURL string) bool {
	return canonical.SameSearch(requestedURL, finalURL, "page")
}

func (a *stubAdapter) ParseDetails(body []byte, pageURL string) (domain.ListingAttributes, error) {
	attrs, ok := a.details[pageURL]
	if !ok {
		return domain.ListingAttributes{}, domain.ErrParseEmpty
	}
	return attrs, nil
}

func (a *stubAdapter) IsExpired(body []byte) bool {
	return bytes.Contains(body, []byte("Ogłoszenie nieaktualne"))
}

type stubRegistry map[domain.SourceKey]port.SourceAdapterPort

func (r stubRegistry) Adapter(source domain.SourceKey) (port.SourceAdapterPort, error) {
	a, ok := r[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, source)
	}
	return a, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
