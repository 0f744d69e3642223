package olxfetcher

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

func newAdapter(t *testing.T) *OlxAdapter {
	t.Helper()
	a, err := NewOlxAdapter("https://www.olx.pl", textparse.DefaultPriceBounds)
	require.NoError(t, err)
	return a
}

func ptr[T any](v T) *T { return &v }

func TestBuildSearchURL(t *testing.T) {
	got, err := newAdapter(t).BuildSearchURL(domain.SearchFilters{
		PropertyType: domain.PropertyHouse,
		City:         "Gdańsk",
		District:     "Oliwa",
		PriceMin:     ptr(500000.0),
		AreaMax:      ptr(200.0),
		RoomsMin:     ptr(2),
		RoomsMax:     ptr(3),
	}, 3)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/nieruchomosci/domy/sprzedaz/gdansk/", u.Path)
	q := u.Query()
	assert.Equal(t, "500000", q.Get("search[filter_float_price:from]"))
	assert.Equal(t, "200", q.Get("search[filter_float_m:to]"))
	assert.Equal(t, "two", q.Get("search[filter_enum_rooms][0]"))
	assert.Equal(t, "three", q.Get("search[filter_enum_rooms][1]"))
	assert.Equal(t, "3", q.Get("page"))
	assert.NotContains(t, got, "oliwa")
}

func TestBuildSearchURLVoivodeshipAndRoomsOutOfRange(t *testing.T) {
	got, err := newAdapter(t).BuildSearchURL(domain.SearchFilters{
		TransactionType: domain.TransactionRent,
		Voivodeship:     "woj. Małopolskie",
		RoomsMin:        ptr(3),
		RoomsMax:        ptr(6),
	}, 1)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/nieruchomosci/mieszkania/wynajem/malopolskie/", u.Path)
	assert.Empty(t, u.RawQuery)
}

func TestParseSearchResultsFromPrerenderedState(t *testing.T) {
	candidates, err := newAdapter(t).ParseSearchResults(fixture(t, "search_state.html"), "https://www.olx.pl/nieruchomosci/mieszkania/sprzedaz/krakow/")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	first := candidates[0]
	assert.Equal(t, domain.SourceOlx, first.Source)
	assert.Equal(t, "Kawalerka w centrum, balkon", first.Title)
	assert.Equal(t, 415000.0, *first.PriceAmount)
	assert.Equal(t, "PLN", *first.Currency)
	assert.Equal(t, 28.5, *first.AreaM2)
	assert.Equal(t, 1, *first.Rooms)
	assert.Equal(t, "Stare Miasto, Kraków, Małopolskie", *first.LocationText)

	assert.Equal(t, "https://www.olx.pl/d/oferta/mieszkanie-2-pokoje-podgorze-CID3-IDzQ9w4.html", candidates[1].SourceURL)
	assert.Equal(t, 2, *candidates[1].Rooms)
}

func TestParseSearchResultsFromCards(t *testing.T) {
	candidates, err := newAdapter(t).ParseSearchResults(fixture(t, "search_cards.html"), "https://www.olx.pl/nieruchomosci/domy/sprzedaz/gdansk/")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "https://www.olx.pl/d/oferta/dom-wolnostojacy-CID3-IDaa1.html", c.SourceURL)
	assert.Equal(t, "Dom wolnostojący", c.Title)
	assert.Equal(t, 1150000.0, *c.PriceAmount)
	assert.Equal(t, "Gdańsk, Oliwa", *c.LocationText)
}

func TestParseDetailsFromState(t *testing.T) {
	attrs, err := newAdapter(t).ParseDetails(fixture(t, "details_state.html"), "https://www.olx.pl/d/oferta/x-IDzQ9w1.html")
	require.NoError(t, err)

	assert.Equal(t, "Kawalerka w centrum, balkon", *attrs.Title)
	assert.Equal(t, "Kawalerka z balkonem", *attrs.Description)
	assert.Equal(t, 415000.0, *attrs.PriceAmount)
	assert.Equal(t, 28.5, *attrs.AreaM2)
	assert.Equal(t, 1, *attrs.Rooms)
	assert.Equal(t, 3, *attrs.Floor)
	assert.Equal(t, domain.TransactionSale, *attrs.TransactionType)
	assert.Equal(t, "Kraków", *attrs.City)
	assert.Equal(t, "Stare Miasto", *attrs.District)
	assert.Equal(t, "małopolskie", *attrs.Voivodeship)
	assert.Equal(t, 50.0614, *attrs.Lat)
	assert.Equal(t, 19.9366, *attrs.Lng)
	assert.Equal(t, "Anna", *attrs.OwnerName)
	require.NotNil(t, attrs.PricePerM2)
}

func TestParseDetailsFromMarkup(t *testing.T) {
	attrs, err := newAdapter(t).ParseDetails(fixture(t, "details_markup.html"), "https://www.olx.pl/d/oferta/dom-IDaa1.html")
	require.NoError(t, err)

	assert.Equal(t, "Dom wolnostojący", *attrs.Title)
	assert.Equal(t, 1150000.0, *attrs.PriceAmount)
	assert.Equal(t, 180.0, *attrs.AreaM2)
	assert.Equal(t, 6, *attrs.Rooms)
	assert.Equal(t, 0, *attrs.Floor)
	assert.Equal(t, "Dom z garażem i ogrodem.", *attrs.Description)
	assert.Equal(t, "Gdańsk, Oliwa, Pomorskie", *attrs.LocationText)
	assert.Equal(t, "Piotr", *attrs.OwnerName)
}

func TestIsExpired(t *testing.T) {
	a := newAdapter(t)
	assert.True(t, a.IsExpired(fixture(t, "expired.html")))
	assert.False(t, a.IsExpired(fixture(t, "details_markup.html")))
}
