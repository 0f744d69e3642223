package usecase

import (
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/core/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder struct {
	mu      sync.Mutex
	points  map[string]*domain.GeoPoint
	fail    map[string]error
	queries []string
}

func (g *fakeGeocoder) Geocode(ctx context.Context, query string) (*domain.GeoPoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
	if err := g.fail[query]; err != nil {
		return nil, err
	}
	return g.points[query], nil
}

func TestGeocodeQueryPrecedence(t *testing.T) {
	tests := []struct {
		name string
		row  domain.ExternalListing
		want string
	}{
		{
			name: "street city voivodeship",
			row:  domain.ExternalListing{Street: ptr("ul. Długa 3"), City: ptr("Gdańsk"), Voivodeship: ptr("pomorskie"), LocationText: ptr("Śródmieście")},
			want: "ul. Długa 3, Gdańsk, pomorskie",
		},
		{
			name: "location text with city",
			row:  domain.ExternalListing{City: ptr("Poznań"), LocationText: ptr("Jeżyce")},
			want: "Jeżyce, Poznań",
		},
		{
			name: "location text already names the city",
			row:  domain.ExternalListing{City: ptr("Poznań"), LocationText: ptr("Jeżyce, POZNAN")},
			want: "Jeżyce, POZNAN",
		},
		{
			name: "location text only",
			row:  domain.ExternalListing{LocationText: ptr("Mokotów, Warszawa")},
			want: "Mokotów, Warszawa",
		},
		{
			name: "city only",
			row:  domain.ExternalListing{City: ptr("Lublin"), Street: ptr("")},
			want: "Lublin",
		},
		{
			name: "nothing",
			row:  domain.ExternalListing{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GeocodeQuery(tt.row))
		})
	}
}

func TestGeocodeBatchMarksAttemptsOnce(t *testing.T) {
	f := newSweepFixture()
	found := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/a-ID3a",
		domain.ListingCandidate{LocationText: ptr("Stare Miasto, Toruń")})
	missing := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/b-ID3b",
		domain.ListingCandidate{LocationText: ptr("gdzieś daleko")})
	flaky := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/c-ID3c",
		domain.ListingCandidate{LocationText: ptr("Rynek, Wrocław")})

	geocoder := &fakeGeocoder{
		points: map[string]*domain.GeoPoint{"Stare Miasto, Toruń": {Lat: 53.01, Lng: 18.6, Confidence: 0.62}},
		fail:   map[string]error{"Rynek, Wrocław": fmt.Errorf("nominatim: connection reset: %w", domain.ErrTransient)},
	}
	uc := NewGeocodeBatchUseCase(geocoder, f.listings, 0)
	uc.now = fixedClock(baseTime)

	summary, err := uc.Execute(context.Background(), f.office, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	require.Len(t, summary.Errors, 1)
	assert.Len(t, geocoder.queries, 3)

	row, _ := f.listings.Get(found)
	assert.Equal(t, 53.01, *row.Lat)
	assert.Equal(t, 0.62, *row.GeocodeConfidence)

	row, _ = f.listings.Get(missing)
	assert.Nil(t, row.Lat)
	assert.Equal(t, 0.0, *row.GeocodeConfidence)
	assert.Equal(t, baseTime, *row.GeocodedAt)

	row, _ = f.listings.Get(flaky)
	assert.Nil(t, row.GeocodedAt, "a transient failure is not an attempt marker")
	assert.Equal(t, 1, row.GeocodeAttempts)

	// без force повторно идет только строка с ошибкой
	geocoder.fail = nil
	summary, err = uc.Execute(context.Background(), f.office, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"Stare Miasto, Toruń", "gdzieś daleko", "Rynek, Wrocław", "Rynek, Wrocław"}, geocoder.queries)

	summary, err = uc.Execute(context.Background(), f.office, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed, "force re-geocodes rows still without coordinates")
}

func TestGeocodeBatchPermanentFailureDoesNotBlockQueue(t *testing.T) {
	f := newSweepFixture()
	bad := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/a-ID4a",
		domain.ListingCandidate{LocationText: ptr("bad query")})
	good := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/b-ID4b",
		domain.ListingCandidate{LocationText: ptr("Rynek, Wrocław")})

	geocoder := &fakeGeocoder{
		points: map[string]*domain.GeoPoint{"Rynek, Wrocław": {Lat: 51.11, Lng: 17.03, Confidence: 0.7}},
		fail:   map[string]error{"bad query": errors.New("nominatim: decode response: invalid character '<'")},
	}
	uc := NewGeocodeBatchUseCase(geocoder, f.listings, 0)
	uc.now = fixedClock(baseTime)

	for i := 0; i < 5; i++ {
		_, err := uc.Execute(context.Background(), f.office, 1, false)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"bad query", "Rynek, Wrocław"}, geocoder.queries)

	row, _ := f.listings.Get(bad)
	require.NotNil(t, row.GeocodedAt, "a definitive failure counts as the attempt")
	assert.Nil(t, row.Lat)
	assert.Equal(t, 0.0, *row.GeocodeConfidence)

	row, _ = f.listings.Get(good)
	require.NotNil(t, row.Lat)
	assert.Equal(t, 51.11, *row.Lat)
}

func TestGeocodeBatchTransientFailuresAreBounded(t *testing.T) {
	f := newSweepFixture()
	flaky := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/a-ID5a",
		domain.ListingCandidate{LocationText: ptr("Stare Miasto, Toruń")})
	good := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/b-ID5b",
		domain.ListingCandidate{LocationText: ptr("Rynek, Wrocław")})

	geocoder := &fakeGeocoder{
		points: map[string]*domain.GeoPoint{"Rynek, Wrocław": {Lat: 51.11, Lng: 17.03, Confidence: 0.7}},
		fail:   map[string]error{"Stare Miasto, Toruń": fmt.Errorf("nominatim: %w", domain.ErrBlocked)},
	}
	uc := NewGeocodeBatchUseCase(geocoder, f.listings, 0)
	uc.now = fixedClock(baseTime)

	for i := 0; i < 6; i++ {
		_, err := uc.Execute(context.Background(), f.office, 1, false)
		require.NoError(t, err)
	}

	// после первого сбоя строка уступает очередь, затем исчерпывает лимит попыток
	assert.Equal(t, []string{
		"Stare Miasto, Toruń",
		"Rynek, Wrocław",
		"Stare Miasto, Toruń",
		"Stare Miasto, Toruń",
	}, geocoder.queries)

	row, _ := f.listings.Get(good)
	assert.NotNil(t, row.Lat)

	row, _ = f.listings.Get(flaky)
	require.NotNil(t, row.GeocodedAt)
	assert.Nil(t, row.Lat)
	assert.Equal(t, 0, row.GeocodeAttempts)
}

func TestGeocodeBatchWithoutQueryMakesNoCall(t *testing.T) {
	f := newSweepFixture()
	id := seedListing(t, f.listings, f.office, domain.SourceOtodom, "https://otodom.test/oferta/a-ID2q", domain.ListingCandidate{})
	geocoder := &fakeGeocoder{}

	summary, err := NewGeocodeBatchUseCase(geocoder, f.listings, time.Second).Execute(context.Background(), f.office, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, geocoder.queries)
	row, _ := f.listings.Get(id)
	assert.NotNil(t, row.GeocodedAt)
}

func TestPacerSpacesCalls(t *testing.T) {
	pacer := newPacer(20 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, pacer.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}
