package usecase

import (
	"context"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"listing-pipeline-service/internal/core/textparse"
	"time"

	"github.com/google/uuid"
)

// EnrichRoundUseCase дочитывает страницы объявлений и заполняет пустые атрибуты
type EnrichRoundUseCase struct {
	registry      port.SourceRegistryPort
	fetcher       port.FetcherPort
	listings      port.ListingRepositoryPort
	locks         port.TenantLockPort
	retryCooldown time.Duration
	now           func() time.Time
}

func NewEnrichRoundUseCase(
	registry port.SourceRegistryPort,
	fetcher port.FetcherPort,
	listings port.ListingRepositoryPort,
	locks port.TenantLockPort,
	retryCooldown time.Duration,
) *EnrichRoundUseCase {
	return &EnrichRoundUseCase{
		registry:      registry,
		fetcher:       fetcher,
		listings:      listings,
		locks:         locks,
		retryCooldown: retryCooldown,
		now:           time.Now,
	}
}

// Execute: если раунд этого офиса уже идет, возвращает Skipped без ошибки.
// Processed - число строк, по которым записан результат (успех или ошибка).
func (uc *EnrichRoundUseCase) Execute(ctx context.Context, officeID uuid.UUID, limit int) (domain.BatchSummary, error) {
	ucLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":  "EnrichRound",
		"office_id": officeID.String(),
	})
	summary := domain.BatchSummary{Errors: []domain.ItemError{}}

	lock, acquired, err := uc.locks.TryAcquire(ctx, officeID, port.LockScopeEnrich)
	if err != nil {
		ucLogger.Error("Failed to acquire tenant lock", err, nil)
		return summary, fmt.Errorf("enrich round: %w", err)
	}
	if !acquired {
		ucLogger.Info("Enrichment sweep already running for office, skipping", nil)
		summary.Skipped = true
		return summary, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			ucLogger.Error("Failed to release tenant lock", err, nil)
		}
	}()

	rows, err := uc.listings.SelectStaleForEnrichment(ctx, officeID, limit, uc.now().Add(-uc.retryCooldown))
	if err != nil {
		ucLogger.Error("Failed to select stale listings", err, nil)
		return summary, fmt.Errorf("enrich round: %w", err)
	}
	ucLogger.Info("Starting enrichment round", port.Fields{"selected": len(rows)})

	for _, row := range rows {
		rowLogger := ucLogger.WithFields(port.Fields{"listing_id": row.ID.String(), "source": string(row.Source)})
		rowCtx := contextkeys.ContextWithLogger(ctx, rowLogger)

		if err := uc.enrichOne(rowCtx, row); err != nil {
			id := row.ID
			summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
			if markErr := uc.listings.MarkEnrichmentFailed(rowCtx, row.ID, err.Error(), uc.now().UTC()); markErr != nil {
				rowLogger.Error("Failed to record enrichment failure", markErr, nil)
				summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, markErr))
				continue
			}
			rowLogger.Warn("Enrichment failed", port.Fields{"error": err.Error()})
		}
		summary.Processed++
	}

	ucLogger.Info("Enrichment round finished", port.Fields{"processed": summary.Processed, "errors": len(summary.Errors)})
	return summary, nil
}

func (uc *EnrichRoundUseCase) enrichOne(ctx context.Context, row domain.ExternalListing) error {
	adapter, err := uc.registry.Adapter(row.Source)
	if err != nil {
		return err
	}

	resp, err := uc.fetcher.Fetch(ctx, row.SourceURL, domain.FetchOptions{})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("detail page returned HTTP %d", resp.StatusCode)
	}

	attrs, err := adapter.ParseDetails(resp.Body, resp.FinalURL)
	if err != nil {
		return err
	}
	attrs = withDecomposedLocation(row, attrs)

	return uc.listings.ApplyEnrichment(ctx, row.ID, attrs, uc.now().UTC())
}

// withDecomposedLocation раскладывает строку адреса, если ни строка каталога,
// ни страница не дали город
func withDecomposedLocation(row domain.ExternalListing, attrs domain.ListingAttributes) domain.ListingAttributes {
	if row.LocationDecomposed() || attrs.City != nil {
		return attrs
	}
	text := attrs.LocationText
	if text == nil {
		text = row.LocationText
	}
	if text == nil || *text == "" {
		return attrs
	}
	loc := textparse.SplitLocation(*text)
	return attrs.Merge(domain.ListingAttributes{
		Street:      loc.Street,
		District:    loc.District,
		City:        loc.City,
		Voivodeship: loc.Voivodeship,
	})
}
