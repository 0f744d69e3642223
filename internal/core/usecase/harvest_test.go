package usecase

import (
	"context"
	"errors"
	memory_adapter "listing-pipeline-service/internal/adapters/memory"
	"listing-pipeline-service/internal/core/domain"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harvestFixture struct {
	office   uuid.UUID
	otodom   *stubAdapter
	olx      *stubAdapter
	fetcher  *fakeFetcher
	listings *memory_adapter.ListingRepository
	sources  *memory_adapter.SourceDefinitions
	uc       *HarvestUseCase
}

func newHarvestFixture(limits HarvestLimits) *harvestFixture {
	f := &harvestFixture{
		office:   uuid.New(),
		otodom:   newStubAdapter(domain.SourceOtodom),
		olx:      newStubAdapter(domain.SourceOlx),
		fetcher:  newFakeFetcher(),
		listings: memory_adapter.NewListingRepository(),
	}
	f.sources = memory_adapter.NewSourceDefinitions(
		domain.SourceDefinition{OfficeID: f.office, Source: domain.SourceOtodom, Enabled: true, CrawlInterval: time.Hour,
			DefaultFilters: domain.SearchFilters{City: "warszawa"}},
		domain.SourceDefinition{OfficeID: f.office, Source: domain.SourceOlx, Enabled: true,
			DefaultFilters: domain.SearchFilters{City: "warszawa"}},
	)
	registry := stubRegistry{domain.SourceOtodom: f.otodom, domain.SourceOlx: f.olx}
	f.uc = NewHarvestUseCase(registry, f.fetcher, f.listings, f.sources, limits)
	f.uc.now = fixedClock(baseTime)
	return f
}

func TestHarvestDiscardsCandidatesWithoutTitle(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 1})
	f.fetcher.page(f.otodom.searchURL("warszawa", 1), 200,
		"https://otodom.test/oferta/mieszkanie-wola-ID1a|Mieszkanie Wola|650000\n"+
			"https://otodom.test/oferta/bez-tytulu-ID1b|\n"+
			"https://otodom.test/oferta/kawalerka-ID1c|Kawalerka|420000")

	summary, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{Sources: []domain.SourceKey{domain.SourceOtodom}})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Len(t, f.listings.List(f.office), 2)
	require.Len(t, summary.Sources, 1)
	assert.Equal(t, 1, summary.Sources[0].Discarded)
	assert.Equal(t, 2, summary.Sources[0].Inserted)
	assert.Empty(t, summary.Errors)
}

func TestHarvestTwiceRefreshesPriceAndMatchedAt(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 1})
	search := f.otodom.searchURL("warszawa", 1)
	filters := domain.SearchFilters{Sources: []domain.SourceKey{domain.SourceOtodom}}

	f.fetcher.page(search, 200, "https://otodom.test/oferta/dom-ID9z|Dom|1200000")
	_, err := f.uc.Execute(context.Background(), f.office, filters)
	require.NoError(t, err)

	later := baseTime.Add(10 * time.Minute)
	f.uc.now = fixedClock(later)
	f.fetcher.page(search, 200, "https://otodom.test/oferta/dom-ID9z?utm_medium=feed|Dom po obniżce|1150000")
	summary, err := f.uc.Execute(context.Background(), f.office, filters)
	require.NoError(t, err)

	rows := f.listings.List(f.office)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, summary.Sources[0].Updated)
	assert.Equal(t, 1150000.0, *rows[0].PriceAmount)
	assert.Equal(t, later, *rows[0].MatchedAt)
	assert.Equal(t, "Dom po obniżce", rows[0].Title)
	assert.Equal(t, "https://otodom.test/oferta/dom-ID9z", rows[0].SourceURL)
}

func TestHarvestStopsPaginationOnDegradedSearch(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 3})
	f.fetcher.
		page(f.otodom.searchURL("warszawa", 1), 200,
			"https://otodom.test/oferta/a-ID2a|A|500000\nhttps://otodom.test/oferta/b-ID2b|B|510000").
		redirect(f.otodom.searchURL("warszawa", 2), f.otodom.searchURL("mazowieckie", 2),
			"https://otodom.test/oferta/c-ID2c|C|520000").
		page(f.otodom.searchURL("warszawa", 3), 200, "https://otodom.test/oferta/d-ID2d|D|530000")

	summary, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{Sources: []domain.SourceKey{domain.SourceOtodom}})
	require.NoError(t, err)

	stats := summary.Sources[0]
	assert.True(t, stats.Degraded)
	assert.Equal(t, "degraded", stats.StoppedReason)
	assert.Equal(t, 2, stats.PagesFetched)
	assert.Equal(t, 0, f.fetcher.called(f.otodom.searchURL("warszawa", 3)))
	assert.Len(t, f.listings.List(f.office), 2, "rows of the first page stay")
	assert.Empty(t, summary.Errors)
}

func TestHarvestDegradedFirstPageIsReported(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 2})
	f.fetcher.redirect(f.otodom.searchURL("warszawa", 1), f.otodom.searchURL("cala-polska", 1), "https://otodom.test/oferta/x-ID3x|X|1")

	summary, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{Sources: []domain.SourceKey{domain.SourceOtodom}})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, domain.KindDegraded, summary.Errors[0].Kind)
	assert.Empty(t, f.listings.List(f.office))
}

func TestHarvestBlockedSourceDoesNotStopOthers(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 2})
	f.fetcher.page(f.otodom.searchURL("warszawa", 1), 429, "")
	f.fetcher.page(f.olx.searchURL("warszawa", 1), 200, "https://olx.test/d/oferta/pokoj-CID3-IDq1.html|Pokój|1800")
	f.fetcher.page(f.olx.searchURL("warszawa", 2), 200, "")

	summary, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{})
	require.NoError(t, err)

	require.Len(t, summary.Sources, 2)
	assert.True(t, summary.Sources[0].Blocked)
	assert.Equal(t, domain.SourceOlx, summary.Sources[1].Source)
	assert.Equal(t, 1, summary.Sources[1].Inserted)
	assert.Equal(t, "parse_empty", summary.Sources[1].StoppedReason, "empty second page ends pagination")
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, domain.KindBlocked, summary.Errors[0].Kind)
	assert.Equal(t, 1, summary.Processed)
}

func TestHarvestUnknownSourceAbortsBeforeWork(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 1})

	_, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{
		Sources: []domain.SourceKey{domain.SourceOtodom, domain.SourceGratka},
	})
	assert.True(t, errors.Is(err, domain.ErrFatalConfig))
	assert.Empty(t, f.fetcher.calls)
}

func TestHarvestOnlyDueAndMarkHarvested(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 1})
	f.fetcher.page(f.otodom.searchURL("warszawa", 1), 200, "https://otodom.test/oferta/a-ID4a|A|1")
	f.fetcher.page(f.olx.searchURL("warszawa", 1), 200, "https://olx.test/d/oferta/b-CID3-IDq2.html|B|2")

	_, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{OnlyDue: true})
	require.NoError(t, err)
	defs, _ := f.sources.ListEnabled(context.Background(), f.office)
	require.NotNil(t, defs[0].LastHarvestedAt)
	assert.Equal(t, baseTime, *defs[0].LastHarvestedAt)

	// через 10 минут otodom (интервал час) еще не пора, olx без интервала - пора
	f.uc.now = fixedClock(baseTime.Add(10 * time.Minute))
	summary, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{OnlyDue: true})
	require.NoError(t, err)
	require.Len(t, summary.Sources, 1)
	assert.Equal(t, domain.SourceOlx, summary.Sources[0].Source)
}

func TestHarvestItemBudget(t *testing.T) {
	f := newHarvestFixture(HarvestLimits{MaxPages: 2, ItemBudget: 2})
	f.fetcher.page(f.otodom.searchURL("warszawa", 1), 200,
		"https://otodom.test/oferta/a-ID5a|A|1\nhttps://otodom.test/oferta/b-ID5b|B|2\nhttps://otodom.test/oferta/c-ID5c|C|3")

	summary, err := f.uc.Execute(context.Background(), f.office, domain.SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	require.Len(t, summary.Sources, 1, "budget ends the whole call")
	assert.Equal(t, "item_budget", summary.Sources[0].StoppedReason)
}
