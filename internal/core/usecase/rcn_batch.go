package usecase

import (
	"context"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"time"

	"github.com/google/uuid"
	"github.com/mmcloughlin/geohash"
)

// rcnCellPrecision - ячейка geohash ~38x19 м: строки одного дома делят один запрос к реестру
const rcnCellPrecision = 8

// RcnSettings - параметры сверки с реестром цен
type RcnSettings struct {
	RadiusM  float64
	Cooldown time.Duration
	Delay    time.Duration
}

// RcnBatchUseCase сверяет строки с координатами с реестром цен и стоимостей
type RcnBatchUseCase struct {
	registry port.PriceRegistryPort
	listings port.ListingRepositoryPort
	settings RcnSettings
	now      func() time.Time
}

func NewRcnBatchUseCase(registry port.PriceRegistryPort, listings port.ListingRepositoryPort, settings RcnSettings) *RcnBatchUseCase {
	if settings.RadiusM <= 0 {
		settings.RadiusM = 150
	}
	return &RcnBatchUseCase{
		registry: registry,
		listings: listings,
		settings: settings,
		now:      time.Now,
	}
}

type cellLookup struct {
	match domain.RegistryMatch
	err   error
}

// Execute: rcn_enriched_at ставится при любом исходе, даже если реестр не ответил,
// поэтому повтор возможен только после cooldown или с force.
func (uc *RcnBatchUseCase) Execute(ctx context.Context, officeID uuid.UUID, limit int, radiusM float64, force bool) (domain.BatchSummary, error) {
	if radiusM <= 0 {
		radiusM = uc.settings.RadiusM
	}
	ucLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":  "RcnBatch",
		"office_id": officeID.String(),
		"radius_m":  radiusM,
		"force":     force,
	})
	summary := domain.BatchSummary{Errors: []domain.ItemError{}}

	rows, err := uc.listings.SelectStaleForRcn(ctx, officeID, limit, radiusM, uc.now().Add(-uc.settings.Cooldown), force)
	if err != nil {
		ucLogger.Error("Failed to select listings for registry lookup", err, nil)
		return summary, fmt.Errorf("rcn batch: %w", err)
	}
	ucLogger.Info("Starting registry batch", port.Fields{"selected": len(rows)})

	limiter := newPacer(uc.settings.Delay)
	cache := make(map[string]cellLookup)
	for _, row := range rows {
		if !row.HasCoordinates() {
			continue
		}
		lat, lng := *row.Lat, *row.Lng
		rowLogger := ucLogger.WithFields(port.Fields{"listing_id": row.ID.String()})
		id := row.ID

		cell := geohash.EncodeWithPrecision(lat, lng, rcnCellPrecision)
		lookup, cached := cache[cell]
		if !cached {
			if err := limiter.Wait(ctx); err != nil {
				summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
				break
			}
			lookup.match, lookup.err = uc.registry.Lookup(contextkeys.ContextWithLogger(ctx, rowLogger), lat, lng, radiusM)
			cache[cell] = lookup
		}

		match := lookup.match
		// ссылка на карту своя у каждой строки, даже при общем запросе
		match.Link = uc.registry.MapLink(lat, lng, radiusM)
		if lookup.err != nil {
			rowLogger.Warn("Registry lookup failed", port.Fields{"error": lookup.err.Error(), "cached": cached})
			summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, lookup.err))
		}

		if err := uc.listings.ApplyRegistryMatch(ctx, row.ID, match, radiusM, uc.now().UTC()); err != nil {
			rowLogger.Error("Failed to store registry match", err, nil)
			summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
			continue
		}
		if match.HasPrice() {
			rowLogger.Debug("Registry price found", port.Fields{"price": *match.Price, "layer": match.Layer})
		}
		summary.Processed++
	}

	ucLogger.Info("Registry batch finished", port.Fields{
		"processed": summary.Processed,
		"lookups":   len(cache),
		"errors":    len(summary.Errors),
	})
	return summary, nil
}
