package otodomfetcher

import (
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return body
}

func newAdapter(t *testing.T) *OtodomAdapter {
	t.Helper()
	a, err := NewOtodomAdapter("https://www.otodom.pl/", textparse.DefaultPriceBounds)
	require.NoError(t, err)
	return a
}

func ptr[T any](v T) *T { return &v }

func TestNewOtodomAdapterRejectsBadBaseURL(t *testing.T) {
	_, err := NewOtodomAdapter("otodom", textparse.DefaultPriceBounds)
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}

func TestBuildSearchURL(t *testing.T) {
	a := newAdapter(t)

	got, err := a.BuildSearchURL(domain.SearchFilters{
		TransactionType: domain.TransactionSale,
		PropertyType:    domain.PropertyApartment,
		Voivodeship:     "Mazowieckie",
		City:            "Warszawa",
		PriceMax:        ptr(900000.0),
		RoomsMin:        ptr(2),
		RoomsMax:        ptr(3),
	}, 2)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa", u.Path)
	assert.Equal(t, "900000", u.Query().Get("priceMax"))
	assert.Equal(t, "[TWO,THREE]", u.Query().Get("roomsNumber"))
	assert.Equal(t, "2", u.Query().Get("page"))

	again, err := a.BuildSearchURL(domain.SearchFilters{
		TransactionType: domain.TransactionSale,
		PropertyType:    domain.PropertyApartment,
		Voivodeship:     "Mazowieckie",
		City:            "Warszawa",
		PriceMax:        ptr(900000.0),
		RoomsMin:        ptr(2),
		RoomsMax:        ptr(3),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestBuildSearchURLOmitsUnsupportedDimensions(t *testing.T) {
	a := newAdapter(t)

	got, err := a.BuildSearchURL(domain.SearchFilters{City: "Gdańsk", RoomsMin: ptr(2)}, 1)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/pl/wyniki/sprzedaz/mieszkanie/cala-polska", u.Path)
	assert.Empty(t, u.Query().Get("roomsNumber"))
	assert.Empty(t, u.Query().Get("page"))

	_, err = a.BuildSearchURL(domain.SearchFilters{PropertyType: "garage"}, 1)
	assert.Error(t, err)
}

func TestParseSearchResultsFromNextData(t *testing.T) {
	candidates, err := newAdapter(t).ParseSearchResults(fixture(t, "search_next.html"), "https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	first := candidates[0]
	assert.Equal(t, "https://www.otodom.pl/pl/oferta/sloneczne-3-pokoje-przy-metrze-ID4kX1a", first.SourceURL)
	assert.Equal(t, "Słoneczne 3 pokoje przy metrze", first.Title)
	assert.Equal(t, 899000.0, *first.PriceAmount)
	assert.Equal(t, "PLN", *first.Currency)
	assert.Equal(t, 61.5, *first.AreaM2)
	assert.Equal(t, 3, *first.Rooms)
	assert.Equal(t, "ul. Prosta, Warszawa, mazowieckie", *first.LocationText)

	second := candidates[1]
	assert.Equal(t, "Kawalerka mokotow", second.Title)
	assert.Nil(t, second.PriceAmount, "price below bounds is dropped")
}

func TestParseSearchResultsFromCards(t *testing.T) {
	baseURL := "https://www.otodom.pl/pl/wyniki/sprzedaz/dom/mazowieckie"
	candidates, err := newAdapter(t).ParseSearchResults(fixture(t, "search_cards.html"), baseURL)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "https://www.otodom.pl/pl/oferta/dom-z-ogrodem-ID5aa1", candidates[0].SourceURL)
	assert.Equal(t, "Dom z ogrodem", candidates[0].Title)
	assert.Equal(t, 1250000.0, *candidates[0].PriceAmount)
	assert.Equal(t, "Wilanów, Warszawa, mazowieckie", *candidates[0].LocationText)

	assert.Equal(t, "Segment piaseczno", candidates[1].Title)
	assert.Nil(t, candidates[1].PriceAmount)
}

func TestParseDetailsFromNextData(t *testing.T) {
	attrs, err := newAdapter(t).ParseDetails(fixture(t, "details_next.html"), "https://www.otodom.pl/pl/oferta/x-ID4kX1a")
	require.NoError(t, err)

	assert.Equal(t, "Słoneczne 3 pokoje przy metrze", *attrs.Title)
	assert.Equal(t, "Mieszkanie po remoncie.", *attrs.Description)
	assert.Equal(t, 899000.0, *attrs.PriceAmount)
	assert.Equal(t, "PLN", *attrs.Currency)
	assert.Equal(t, 61.5, *attrs.AreaM2)
	assert.InDelta(t, 14617.88, *attrs.PricePerM2, 0.01)
	assert.Equal(t, 3, *attrs.Rooms)
	assert.Equal(t, 2, *attrs.Floor)
	assert.Equal(t, 2012, *attrs.YearBuilt)
	assert.Equal(t, domain.TransactionSale, *attrs.TransactionType)
	assert.Equal(t, domain.PropertyApartment, *attrs.PropertyType)
	assert.Equal(t, "ul. Prosta 12", *attrs.Street)
	assert.Equal(t, "Wola", *attrs.District)
	assert.Equal(t, "Warszawa", *attrs.City)
	assert.Equal(t, "mazowieckie", *attrs.Voivodeship)
	assert.Equal(t, 52.2297, *attrs.Lat)
	assert.Equal(t, 20.9861, *attrs.Lng)
	assert.Equal(t, "Jan Kowalski", *attrs.OwnerName)
	assert.Equal(t, "+48 600 100 200", *attrs.OwnerPhone)
}

func TestParseDetailsFallsBackToMarkup(t *testing.T) {
	attrs, err := newAdapter(t).ParseDetails(fixture(t, "details_markup.html"), "https://www.otodom.pl/pl/oferta/dom-ID5aa1")
	require.NoError(t, err)

	assert.Equal(t, "Dom z ogrodem", *attrs.Title)
	assert.Equal(t, "Przestronny dom z ogrodem.", *attrs.Description)
	assert.Equal(t, 1250000.0, *attrs.PriceAmount)
	assert.Equal(t, 154.5, *attrs.AreaM2)
	assert.Equal(t, 5, *attrs.Rooms)
	assert.Equal(t, 0, *attrs.Floor)
	assert.Equal(t, 2019, *attrs.YearBuilt)
	assert.Equal(t, "ul. Sarmacka 5, Wilanów, Warszawa, mazowieckie", *attrs.LocationText)
	assert.Nil(t, attrs.Lat)
}

func TestParseDetailsEmptyPage(t *testing.T) {
	_, err := newAdapter(t).ParseDetails([]byte("<html><body></body></html>"), "https://www.otodom.pl/pl/oferta/x")
	assert.ErrorIs(t, err, domain.ErrParseEmpty)
}

func TestIsExpiredAndSearchMatches(t *testing.T) {
	a := newAdapter(t)
	assert.True(t, a.IsExpired(fixture(t, "expired.html")))
	assert.False(t, a.IsExpired(fixture(t, "details_next.html")))

	requested := "https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa?page=2"
	assert.True(t, a.SearchMatches(requested, "https://otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa?page=2"))
	assert.False(t, a.SearchMatches(requested, "https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/cala-polska?page=2"))
}
