package usecase

import (
	"context"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/canonical"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// VerifyRoundUseCase перепроверяет source_url давно не проверенных объявлений
type VerifyRoundUseCase struct {
	registry port.SourceRegistryPort
	fetcher  port.FetcherPort
	listings port.ListingRepositoryPort
	locks    port.TenantLockPort
	interval time.Duration
	now      func() time.Time
}

func NewVerifyRoundUseCase(
	registry port.SourceRegistryPort,
	fetcher port.FetcherPort,
	listings port.ListingRepositoryPort,
	locks port.TenantLockPort,
	interval time.Duration,
) *VerifyRoundUseCase {
	return &VerifyRoundUseCase{
		registry: registry,
		fetcher:  fetcher,
		listings: listings,
		locks:    locks,
		interval: interval,
		now:      time.Now,
	}
}

func (uc *VerifyRoundUseCase) Execute(ctx context.Context, officeID uuid.UUID, limit int) (domain.BatchSummary, error) {
	ucLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":  "VerifyRound",
		"office_id": officeID.String(),
	})
	summary := domain.BatchSummary{Errors: []domain.ItemError{}}

	lock, acquired, err := uc.locks.TryAcquire(ctx, officeID, port.LockScopeVerify)
	if err != nil {
		ucLogger.Error("Failed to acquire tenant lock", err, nil)
		return summary, fmt.Errorf("verify round: %w", err)
	}
	if !acquired {
		ucLogger.Info("Verification sweep already running for office, skipping", nil)
		summary.Skipped = true
		return summary, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			ucLogger.Error("Failed to release tenant lock", err, nil)
		}
	}()

	rows, err := uc.listings.SelectStaleForVerification(ctx, officeID, limit, uc.now().Add(-uc.interval))
	if err != nil {
		ucLogger.Error("Failed to select listings for verification", err, nil)
		return summary, fmt.Errorf("verify round: %w", err)
	}
	ucLogger.Info("Starting verification round", port.Fields{"selected": len(rows)})

	for _, row := range rows {
		rowLogger := ucLogger.WithFields(port.Fields{"listing_id": row.ID.String(), "source": string(row.Source)})
		rowCtx := contextkeys.ContextWithLogger(ctx, rowLogger)
		id := row.ID

		result, checkErr := uc.check(rowCtx, row)
		if checkErr != nil {
			rowLogger.Warn("Verification request failed", port.Fields{"error": checkErr.Error()})
			summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, checkErr))
		}
		if err := uc.listings.ApplyVerification(rowCtx, row.ID, result); err != nil {
			rowLogger.Error("Failed to store verification result", err, nil)
			summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
			continue
		}
		if result.SourceStatus != row.SourceStatus {
			rowLogger.Info("Source status changed", port.Fields{"from": string(row.SourceStatus), "to": string(result.SourceStatus)})
		}
		summary.Processed++
	}

	ucLogger.Info("Verification round finished", port.Fields{"processed": summary.Processed, "errors": len(summary.Errors)})
	return summary, nil
}

// check всегда возвращает результат с CheckedAt: при сбое запроса статус строки сохраняется,
// а last_checked_at все равно сдвигается.
func (uc *VerifyRoundUseCase) check(ctx context.Context, row domain.ExternalListing) (domain.VerificationResult, error) {
	result := domain.VerificationResult{SourceStatus: row.SourceStatus, CheckedAt: uc.now().UTC()}

	adapter, err := uc.registry.Adapter(row.Source)
	if err != nil {
		return result, err
	}

	resp, err := uc.fetcher.Fetch(ctx, row.SourceURL, domain.FetchOptions{})
	if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) {
		result.SourceStatus = domain.SourceStatusRemoved
		return result, nil
	}
	if err != nil {
		return result, err
	}
	if !resp.IsSuccess() {
		result.SourceStatus = domain.SourceStatusUnknown
		return result, fmt.Errorf("listing page returned HTTP %d", resp.StatusCode)
	}

	if adapter.IsExpired(resp.Body) {
		result.SourceStatus = domain.SourceStatusInactive
	} else {
		result.SourceStatus = domain.SourceStatusActive
	}

	if resp.FinalURL != "" && resp.FinalURL != row.SourceURL {
		moved, err := canonical.Resolve(row.Source, resp.FinalURL)
		if err == nil && moved.NormalizedURL != row.NormalizedURL {
			if !sameListing(row.SourceListingID, moved.SourceListingID) {
				// портал увел на выдачу или чужое объявление: само объявление снято
				contextkeys.LoggerFromContext(ctx).Info("Listing redirected away from its page", port.Fields{"final_url": resp.FinalURL})
				result.SourceStatus = domain.SourceStatusInactive
				return result, nil
			}
			result.NewIdentity = &moved
		}
	}
	return result, nil
}

// sameListing: адрес после редиректа - страница объявления с тем же идентификатором.
// Для строки без идентификатора достаточно, чтобы он нашелся в новом адресе.
func sameListing(current, moved *string) bool {
	if moved == nil {
		return false
	}
	return current == nil || *current == *moved
}
