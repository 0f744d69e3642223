package usecase

import (
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"listing-pipeline-service/internal/core/textparse"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxTransientGeocodeAttempts - после стольких временных сбоев подряд попытка засчитывается
// как "координаты не найдены"
const maxTransientGeocodeAttempts = 3

// GeocodeBatchUseCase ищет координаты для строк, которые еще ни разу не геокодировались
type GeocodeBatchUseCase struct {
	geocoder port.GeocoderPort
	listings port.ListingRepositoryPort
	delay    time.Duration
	now      func() time.Time
}

func NewGeocodeBatchUseCase(geocoder port.GeocoderPort, listings port.ListingRepositoryPort, delay time.Duration) *GeocodeBatchUseCase {
	return &GeocodeBatchUseCase{
		geocoder: geocoder,
		listings: listings,
		delay:    delay,
		now:      time.Now,
	}
}

// Execute: один внешний вызов на строку, паузы между вызовами задает лимитер этого вызова.
// Временный сбой геокодера (ErrTransient, ErrBlocked) оставляет geocoded_at пустым и отправляет
// строку в конец очереди, не больше maxTransientGeocodeAttempts раз. Любая другая ошибка
// записывается как попытка без координат.
func (uc *GeocodeBatchUseCase) Execute(ctx context.Context, officeID uuid.UUID, limit int, force bool) (domain.BatchSummary, error) {
	ucLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":  "GeocodeBatch",
		"office_id": officeID.String(),
		"force":     force,
	})
	summary := domain.BatchSummary{Errors: []domain.ItemError{}}

	rows, err := uc.listings.SelectStaleForGeocoding(ctx, officeID, limit, force)
	if err != nil {
		ucLogger.Error("Failed to select listings for geocoding", err, nil)
		return summary, fmt.Errorf("geocode batch: %w", err)
	}
	ucLogger.Info("Starting geocode batch", port.Fields{"selected": len(rows)})

	limiter := newPacer(uc.delay)
	for _, row := range rows {
		rowLogger := ucLogger.WithFields(port.Fields{"listing_id": row.ID.String()})
		id := row.ID

		var point *domain.GeoPoint
		if query := GeocodeQuery(row); query != "" {
			if err := limiter.Wait(ctx); err != nil {
				summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
				break
			}
			point, err = uc.geocoder.Geocode(contextkeys.ContextWithLogger(ctx, rowLogger), query)
			if err != nil {
				if ctx.Err() != nil {
					summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, ctx.Err()))
					break
				}
				rowLogger.Warn("Geocoding failed", port.Fields{"query": query, "error": err.Error()})
				summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
				if uc.retryLater(ctx, row.ID, err, rowLogger) {
					continue
				}
				point = nil
			}
		}

		if err := uc.listings.ApplyGeocode(ctx, row.ID, point, uc.now().UTC()); err != nil {
			rowLogger.Error("Failed to store geocode result", err, nil)
			summary.AddError(domain.NewItemError(row.Source, &id, row.SourceURL, err))
			continue
		}
		summary.Processed++
	}

	ucLogger.Info("Geocode batch finished", port.Fields{"processed": summary.Processed, "errors": len(summary.Errors)})
	return summary, nil
}

// retryLater: true, если строка остается без geocoded_at до следующего пакета
func (uc *GeocodeBatchUseCase) retryLater(ctx context.Context, listingID uuid.UUID, cause error, logger port.LoggerPort) bool {
	if !errors.Is(cause, domain.ErrTransient) && !errors.Is(cause, domain.ErrBlocked) {
		return false
	}
	attempts, err := uc.listings.RecordGeocodeFailure(ctx, listingID)
	if err != nil {
		logger.Error("Failed to record geocode failure", err, nil)
		return true
	}
	if attempts >= maxTransientGeocodeAttempts {
		logger.Warn("Giving up on geocoding after repeated failures", port.Fields{"attempts": attempts})
		return false
	}
	return true
}

// GeocodeQuery собирает запрос по приоритету: улица+город+воеводство, затем
// location_text+город, затем location_text, затем только город.
func GeocodeQuery(row domain.ExternalListing) string {
	street := value(row.Street)
	city := value(row.City)
	voivodeship := value(row.Voivodeship)
	locationText := value(row.LocationText)

	switch {
	case street != "" && city != "":
		return joinNonEmpty(street, city, voivodeship)
	case locationText != "" && city != "":
		if strings.Contains(textparse.Fold(locationText), textparse.Fold(city)) {
			return locationText
		}
		return joinNonEmpty(locationText, city)
	case locationText != "":
		return locationText
	default:
		return city
	}
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// newPacer - лимитер с одним токеном: первый вызов сразу, дальше не чаще раза в delay
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
