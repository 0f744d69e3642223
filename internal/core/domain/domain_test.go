package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestListingAttributesMergeKeepsExistingValues(t *testing.T) {
	structured := ListingAttributes{Title: ptr("Mieszkanie 3 pokoje"), PriceAmount: ptr(650000.0)}
	selectors := ListingAttributes{Title: ptr("other"), AreaM2: ptr(54.5), City: ptr("Warszawa")}

	merged := structured.Merge(selectors)

	assert.Equal(t, "Mieszkanie 3 pokoje", *merged.Title)
	assert.Equal(t, 650000.0, *merged.PriceAmount)
	assert.Equal(t, 54.5, *merged.AreaM2)
	assert.Equal(t, "Warszawa", *merged.City)
	assert.Nil(t, merged.Rooms)
}

func TestListingAttributesMergeTakesCoordinatesAsPair(t *testing.T) {
	tests := []struct {
		name    string
		a, b    ListingAttributes
		wantLat *float64
		wantLng *float64
	}{
		{
			name:    "halves from both sides are dropped",
			a:       ListingAttributes{Lat: ptr(52.23)},
			b:       ListingAttributes{Lng: ptr(21.01)},
			wantLat: nil,
			wantLng: nil,
		},
		{
			name:    "complete pair on the other side replaces a half",
			a:       ListingAttributes{Lat: ptr(52.23)},
			b:       ListingAttributes{Lat: ptr(50.06), Lng: ptr(19.94)},
			wantLat: ptr(50.06),
			wantLng: ptr(19.94),
		},
		{
			name:    "own complete pair wins",
			a:       ListingAttributes{Lat: ptr(52.23), Lng: ptr(21.01)},
			b:       ListingAttributes{Lat: ptr(50.06), Lng: ptr(19.94)},
			wantLat: ptr(52.23),
			wantLng: ptr(21.01),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := tt.a.Merge(tt.b)
			assert.Equal(t, tt.wantLat, merged.Lat)
			assert.Equal(t, tt.wantLng, merged.Lng)
		})
	}
}

func TestListingAttributesIsEmpty(t *testing.T) {
	assert.True(t, ListingAttributes{}.IsEmpty())
	assert.False(t, ListingAttributes{Rooms: ptr(2)}.IsEmpty())
}

func TestSearchFiltersWithDefaults(t *testing.T) {
	defaults := SearchFilters{City: "Kraków", TransactionType: TransactionSale, PriceMax: ptr(900000.0)}
	req := SearchFilters{City: "Gdańsk", AreaMin: ptr(40.0)}

	got := req.WithDefaults(defaults)

	assert.Equal(t, "Gdańsk", got.City)
	assert.Equal(t, TransactionSale, got.TransactionType)
	require.NotNil(t, got.PriceMax)
	assert.Equal(t, 900000.0, *got.PriceMax)
	assert.Equal(t, 40.0, *got.AreaMin)
}

func TestSourceDefinitionIsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Minute)

	assert.True(t, SourceDefinition{}.IsDue(now))
	assert.False(t, SourceDefinition{CrawlInterval: time.Hour, LastHarvestedAt: &last}.IsDue(now))
	assert.True(t, SourceDefinition{CrawlInterval: 30 * time.Minute, LastHarvestedAt: &last}.IsDue(now))
}

func TestParseSourceKey(t *testing.T) {
	key, err := ParseSourceKey("otodom")
	require.NoError(t, err)
	assert.Equal(t, SourceOtodom, key)

	_, err = ParseSourceKey("allegro")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KindBlocked, ClassifyError(fmt.Errorf("page 2: %w", ErrBlocked)))
	assert.Equal(t, KindTransient, ClassifyError(fmt.Errorf("x: %w", ErrTransient)))
	assert.Equal(t, KindFatalConfig, ClassifyError(FatalConfigError("missing %s", "RCN_WFS_URL")))
	assert.Equal(t, KindUnknown, ClassifyError(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), ClassifyError(nil))
}

func TestListingStatusIsUserDecided(t *testing.T) {
	assert.True(t, StatusShortlisted.IsUserDecided())
	assert.True(t, StatusConverted.IsUserDecided())
	assert.False(t, StatusEnriched.IsUserDecided())
	assert.False(t, StatusError.IsUserDecided())
}

func TestPipelineReportCounts(t *testing.T) {
	report := PipelineReport{
		Harvest: HarvestSummary{BatchSummary: BatchSummary{Processed: 4, Errors: []ItemError{{Kind: KindBlocked}}}},
		Enrich:  BatchSummary{Processed: 3},
		Verify:  BatchSummary{Processed: 2},
		Geocode: &BatchSummary{Processed: 1, Errors: []ItemError{{Kind: KindTransient}}},
	}

	counts := report.Counts()

	assert.Equal(t, 4, counts["harvested"])
	assert.Equal(t, 3, counts["enriched"])
	assert.Equal(t, 2, counts["verified"])
	assert.Equal(t, 1, counts["geocoded"])
	assert.Equal(t, 2, counts["errors"])
	_, hasRcn := counts["rcn_checked"]
	assert.False(t, hasRcn)
}

func TestExternalListingPredicates(t *testing.T) {
	full := ExternalListing{Description: ptr("x"), PriceAmount: ptr(1.0), AreaM2: ptr(1.0), City: ptr("Poznań")}
	assert.False(t, full.MissingKeyAttributes())
	full.City = nil
	assert.True(t, full.MissingKeyAttributes())

	assert.False(t, ExternalListing{Status: StatusShortlisted, SourceStatus: SourceStatusActive}.IsTerminal())
	assert.True(t, ExternalListing{Status: StatusRejected}.IsTerminal())
	assert.True(t, ExternalListing{Status: StatusNew, SourceStatus: SourceStatusRemoved}.IsTerminal())
}
