package port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"
	"time"

	"github.com/google/uuid"
)

// ListingRepositoryPort - доступ конвейера к каталогу внешних объявлений
type ListingRepositoryPort interface {
	// UpsertListing вставляет кандидата или сливает его с существующей строкой той же идентичности.
	// Возвращает id строки и признак вставки.
	UpsertListing(ctx context.Context, officeID uuid.UUID, in domain.ListingUpsert) (uuid.UUID, bool, error)

	// SelectStaleForEnrichment - строки без ключевых обогащенных полей, старые попытки первыми.
	// Строки, уже обогащавшиеся позже retryBefore, не выбираются.
	SelectStaleForEnrichment(ctx context.Context, officeID uuid.UUID, limit int, retryBefore time.Time) ([]domain.ExternalListing, error)
	// SelectStaleForGeocoding - строки без координат и без geocoded_at (force снимает второе условие).
	// Строки с временными сбоями идут после строк без попыток.
	SelectStaleForGeocoding(ctx context.Context, officeID uuid.UUID, limit int, force bool) ([]domain.ExternalListing, error)
	// SelectStaleForRcn - строки с координатами, у которых rcn_enriched_at пуст, старше cooldownBefore
	// или получен для другого радиуса
	SelectStaleForRcn(ctx context.Context, officeID uuid.UUID, limit int, radiusM float64, cooldownBefore time.Time, force bool) ([]domain.ExternalListing, error)
	// SelectStaleForVerification - не удаленные строки, давно проверенные первыми
	SelectStaleForVerification(ctx context.Context, officeID uuid.UUID, limit int, checkedBefore time.Time) ([]domain.ExternalListing, error)

	ApplyEnrichment(ctx context.Context, listingID uuid.UUID, attrs domain.ListingAttributes, enrichedAt time.Time) error
	MarkEnrichmentFailed(ctx context.Context, listingID uuid.UUID, message string, attemptedAt time.Time) error
	// ApplyGeocode записывает результат попытки; point == nil означает "координаты не найдены"
	ApplyGeocode(ctx context.Context, listingID uuid.UUID, point *domain.GeoPoint, geocodedAt time.Time) error
	// RecordGeocodeFailure увеличивает счетчик временных сбоев, geocoded_at не трогает.
	// Возвращает новое значение счетчика.
	RecordGeocodeFailure(ctx context.Context, listingID uuid.UUID) (int, error)
	ApplyRegistryMatch(ctx context.Context, listingID uuid.UUID, match domain.RegistryMatch, radiusM float64, checkedAt time.Time) error
	ApplyVerification(ctx context.Context, listingID uuid.UUID, result domain.VerificationResult) error
}
