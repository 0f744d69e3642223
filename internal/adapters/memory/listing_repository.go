package memory_adapter

import (
	"context"
	"fmt"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ListingRepository - каталог в памяти с теми же двумя режимами уникальности и правилами слияния,
// что и Postgres. Для прогонов без базы и для тестов.
type ListingRepository struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*domain.ExternalListing
	order  []uuid.UUID
	byKey  map[string]uuid.UUID
	byHash map[string]uuid.UUID
	now    func() time.Time
}

var _ port.ListingRepositoryPort = (*ListingRepository)(nil)

func NewListingRepository() *ListingRepository {
	return &ListingRepository{
		rows:   make(map[uuid.UUID]*domain.ExternalListing),
		byKey:  make(map[string]uuid.UUID),
		byHash: make(map[string]uuid.UUID),
		now:    time.Now,
	}
}

func sourceKey(officeID uuid.UUID, source domain.SourceKey, listingID string) string {
	return officeID.String() + "|" + string(source) + "|" + listingID
}

func hashKey(officeID uuid.UUID, urlHash string) string {
	return officeID.String() + "|" + urlHash
}

// lookupIdentity ищет строку в индексе ее режима уникальности
func (r *ListingRepository) lookupIdentity(officeID uuid.UUID, id domain.ListingIdentity) (uuid.UUID, bool) {
	if id.UsesSourceKey() {
		existing, ok := r.byKey[sourceKey(officeID, id.Source, *id.SourceListingID)]
		return existing, ok
	}
	existing, ok := r.byHash[hashKey(officeID, id.URLHash)]
	return existing, ok
}

func (r *ListingRepository) index(row *domain.ExternalListing) {
	if row.SourceListingID != nil && *row.SourceListingID != "" {
		r.byKey[sourceKey(row.OfficeID, row.Source, *row.SourceListingID)] = row.ID
		return
	}
	r.byHash[hashKey(row.OfficeID, row.URLHash)] = row.ID
}

func (r *ListingRepository) unindex(row *domain.ExternalListing) {
	if row.SourceListingID != nil && *row.SourceListingID != "" {
		delete(r.byKey, sourceKey(row.OfficeID, row.Source, *row.SourceListingID))
		return
	}
	delete(r.byHash, hashKey(row.OfficeID, row.URLHash))
}

func (r *ListingRepository) UpsertListing(ctx context.Context, officeID uuid.UUID, in domain.ListingUpsert) (uuid.UUID, bool, error) {
	if in.Candidate.Title == "" {
		return uuid.Nil, false, fmt.Errorf("%w: title", domain.ErrFieldMissing)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existingID, ok := r.lookupIdentity(officeID, in.Identity); ok {
		row := r.rows[existingID]
		mergeHarvest(row, in, now)
		return row.ID, false, nil
	}

	row := newListing(officeID, in, now)
	r.rows[row.ID] = row
	r.order = append(r.order, row.ID)
	r.index(row)
	return row.ID, true, nil
}

func newListing(officeID uuid.UUID, in domain.ListingUpsert, now time.Time) *domain.ExternalListing {
	c := in.Candidate
	status := in.Status
	if status == "" {
		status = domain.StatusNew
	}
	matchedAt := in.MatchedAt
	return &domain.ExternalListing{
		ID:              uuid.New(),
		OfficeID:        officeID,
		Source:          in.Identity.Source,
		SourceListingID: in.Identity.SourceListingID,
		SourceURL:       in.Identity.SourceURL,
		NormalizedURL:   in.Identity.NormalizedURL,
		URLHash:         in.Identity.URLHash,
		Title:           c.Title,
		PriceAmount:     c.PriceAmount,
		Currency:        c.Currency,
		TransactionType: c.TransactionType,
		PropertyType:    c.PropertyType,
		AreaM2:          c.AreaM2,
		Rooms:           c.Rooms,
		LocationText:    c.LocationText,
		Status:          status,
		SourceStatus:    domain.SourceStatusActive,
		LastSeenAt:      &matchedAt,
		MatchedAt:       &matchedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// mergeHarvest: title, цена (только не-null), статус и matched_at перезаписываются,
// остальное заполняется, только если пусто. Идентичность не меняется.
func mergeHarvest(row *domain.ExternalListing, in domain.ListingUpsert, now time.Time) {
	c := in.Candidate
	row.Title = c.Title
	if c.PriceAmount != nil {
		row.PriceAmount = c.PriceAmount
	}
	if in.Status != "" && !keepsStatus(row.Status) {
		row.Status = in.Status
	}
	matchedAt := in.MatchedAt
	row.MatchedAt = &matchedAt
	row.LastSeenAt = &matchedAt
	if row.SourceStatus != domain.SourceStatusRemoved {
		row.SourceStatus = domain.SourceStatusActive
	}

	row.Currency = coalesce(row.Currency, c.Currency)
	row.TransactionType = coalesce(row.TransactionType, c.TransactionType)
	row.PropertyType = coalesce(row.PropertyType, c.PropertyType)
	row.AreaM2 = coalesce(row.AreaM2, c.AreaM2)
	row.Rooms = coalesce(row.Rooms, c.Rooms)
	row.LocationText = coalesce(row.LocationText, c.LocationText)
	row.UpdatedAt = now
}

// keepsStatus - решения агента и результат обогащения сбор не откатывает
func keepsStatus(s domain.ListingStatus) bool {
	return s.IsUserDecided() || s == domain.StatusEnriched
}

func coalesce[T any](current, next *T) *T {
	if current != nil {
		return current
	}
	return next
}

func overwrite[T any](current, next *T) *T {
	if next != nil {
		return next
	}
	return current
}

func (r *ListingRepository) SelectStaleForEnrichment(ctx context.Context, officeID uuid.UUID, limit int, retryBefore time.Time) ([]domain.ExternalListing, error) {
	return r.selectRows(officeID, limit, func(l *domain.ExternalListing) bool {
		if l.IsTerminal() {
			return false
		}
		return l.EnrichedAt == nil || (l.EnrichedAt.Before(retryBefore) && l.MissingKeyAttributes())
	}, func(l *domain.ExternalListing) *time.Time { return l.EnrichedAt }, nil), nil
}

func (r *ListingRepository) SelectStaleForGeocoding(ctx context.Context, officeID uuid.UUID, limit int, force bool) ([]domain.ExternalListing, error) {
	return r.selectRows(officeID, limit, func(l *domain.ExternalListing) bool {
		return !l.IsTerminal() && !l.HasCoordinates() && (force || l.GeocodedAt == nil)
	}, func(l *domain.ExternalListing) *time.Time { return l.GeocodedAt }, byGeocodeAttempts), nil
}

func (r *ListingRepository) SelectStaleForRcn(ctx context.Context, officeID uuid.UUID, limit int, radiusM float64, cooldownBefore time.Time, force bool) ([]domain.ExternalListing, error) {
	return r.selectRows(officeID, limit, func(l *domain.ExternalListing) bool {
		if l.IsTerminal() || !l.HasCoordinates() {
			return false
		}
		return force || l.RcnEnrichedAt == nil || l.RcnEnrichedAt.Before(cooldownBefore) ||
			l.RcnRadiusM == nil || *l.RcnRadiusM != radiusM
	}, func(l *domain.ExternalListing) *time.Time { return l.RcnEnrichedAt }, nil), nil
}

func (r *ListingRepository) SelectStaleForVerification(ctx context.Context, officeID uuid.UUID, limit int, checkedBefore time.Time) ([]domain.ExternalListing, error) {
	return r.selectRows(officeID, limit, func(l *domain.ExternalListing) bool {
		return l.SourceStatus != domain.SourceStatusRemoved &&
			(l.LastCheckedAt == nil || l.LastCheckedAt.Before(checkedBefore))
	}, func(l *domain.ExternalListing) *time.Time { return l.LastCheckedAt }, nil), nil
}

// byGeocodeAttempts - меньше временных сбоев раньше в очереди
func byGeocodeAttempts(a, b *domain.ExternalListing) int {
	return a.GeocodeAttempts - b.GeocodeAttempts
}

// selectRows - фильтр и порядок "самые несвежие первыми": NULL маркера, затем самый старый,
// при равенстве - tiebreak (если задан) и время создания
func (r *ListingRepository) selectRows(
	officeID uuid.UUID,
	limit int,
	match func(*domain.ExternalListing) bool,
	marker func(*domain.ExternalListing) *time.Time,
	tiebreak func(a, b *domain.ExternalListing) int,
) []domain.ExternalListing {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ExternalListing
	for _, id := range r.order {
		if row := r.rows[id]; row.OfficeID == officeID && match(row) {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := marker(&out[i]), marker(&out[j])
		switch {
		case mi == nil && mj != nil:
			return true
		case mi != nil && mj == nil:
			return false
		case mi != nil && !mi.Equal(*mj):
			return mi.Before(*mj)
		case tiebreak != nil && tiebreak(&out[i], &out[j]) != 0:
			return tiebreak(&out[i], &out[j]) < 0
		default:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *ListingRepository) update(listingID uuid.UUID, apply func(row *domain.ExternalListing) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[listingID]
	if !ok {
		return fmt.Errorf("listing %s: %w", listingID, domain.ErrNotFound)
	}
	if err := apply(row); err != nil {
		return err
	}
	row.UpdatedAt = r.now()
	return nil
}

// ApplyEnrichment: title и цена заменяются не-null значениями, остальные поля заполняются только пустые
func (r *ListingRepository) ApplyEnrichment(ctx context.Context, listingID uuid.UUID, attrs domain.ListingAttributes, enrichedAt time.Time) error {
	return r.update(listingID, func(row *domain.ExternalListing) error {
		if attrs.Title != nil && *attrs.Title != "" {
			row.Title = *attrs.Title
		}
		row.PriceAmount = overwrite(row.PriceAmount, attrs.PriceAmount)

		row.Description = coalesce(row.Description, attrs.Description)
		row.Currency = coalesce(row.Currency, attrs.Currency)
		row.TransactionType = coalesce(row.TransactionType, attrs.TransactionType)
		row.PropertyType = coalesce(row.PropertyType, attrs.PropertyType)
		row.AreaM2 = coalesce(row.AreaM2, attrs.AreaM2)
		row.PricePerM2 = coalesce(row.PricePerM2, attrs.PricePerM2)
		row.Rooms = coalesce(row.Rooms, attrs.Rooms)
		row.Floor = coalesce(row.Floor, attrs.Floor)
		row.YearBuilt = coalesce(row.YearBuilt, attrs.YearBuilt)
		row.OwnerName = coalesce(row.OwnerName, attrs.OwnerName)
		row.OwnerPhone = coalesce(row.OwnerPhone, attrs.OwnerPhone)
		row.LocationText = coalesce(row.LocationText, attrs.LocationText)
		row.Voivodeship = coalesce(row.Voivodeship, attrs.Voivodeship)
		row.City = coalesce(row.City, attrs.City)
		row.District = coalesce(row.District, attrs.District)
		row.Street = coalesce(row.Street, attrs.Street)
		if !row.HasCoordinates() && attrs.Lat != nil && attrs.Lng != nil {
			row.Lat, row.Lng = attrs.Lat, attrs.Lng
		}

		at := enrichedAt
		row.EnrichedAt = &at
		row.EnrichError = nil
		if !row.Status.IsUserDecided() {
			row.Status = domain.StatusEnriched
		}
		return nil
	})
}

func (r *ListingRepository) MarkEnrichmentFailed(ctx context.Context, listingID uuid.UUID, message string, attemptedAt time.Time) error {
	return r.update(listingID, func(row *domain.ExternalListing) error {
		at := attemptedAt
		msg := message
		row.EnrichedAt = &at
		row.EnrichError = &msg
		if !row.Status.IsUserDecided() {
			row.Status = domain.StatusError
		}
		return nil
	})
}

func (r *ListingRepository) ApplyGeocode(ctx context.Context, listingID uuid.UUID, point *domain.GeoPoint, geocodedAt time.Time) error {
	return r.update(listingID, func(row *domain.ExternalListing) error {
		confidence := 0.0
		if point != nil {
			lat, lng := point.Lat, point.Lng
			row.Lat, row.Lng = &lat, &lng
			confidence = point.Confidence
		}
		at := geocodedAt
		row.GeocodeConfidence = &confidence
		row.GeocodedAt = &at
		row.GeocodeAttempts = 0
		return nil
	})
}

func (r *ListingRepository) RecordGeocodeFailure(ctx context.Context, listingID uuid.UUID) (int, error) {
	var attempts int
	err := r.update(listingID, func(row *domain.ExternalListing) error {
		row.GeocodeAttempts++
		attempts = row.GeocodeAttempts
		return nil
	})
	return attempts, err
}

// ApplyRegistryMatch: найденные поля пишутся независимо друг от друга, rcn_enriched_at - всегда
func (r *ListingRepository) ApplyRegistryMatch(ctx context.Context, listingID uuid.UUID, match domain.RegistryMatch, radiusM float64, checkedAt time.Time) error {
	return r.update(listingID, func(row *domain.ExternalListing) error {
		row.RcnLastPrice = overwrite(row.RcnLastPrice, match.Price)
		row.RcnLastDate = overwrite(row.RcnLastDate, match.Date)
		row.RcnLastSourceID = overwrite(row.RcnLastSourceID, match.SourceID)
		if match.Link != "" {
			link := match.Link
			row.RcnLink = &link
		}
		radius, at := radiusM, checkedAt
		row.RcnRadiusM = &radius
		row.RcnEnrichedAt = &at
		return nil
	})
}

// ApplyVerification; новый канонический адрес пропускается, если он уже занят другой строкой
func (r *ListingRepository) ApplyVerification(ctx context.Context, listingID uuid.UUID, result domain.VerificationResult) error {
	return r.update(listingID, func(row *domain.ExternalListing) error {
		at := result.CheckedAt
		row.SourceStatus = result.SourceStatus
		row.LastCheckedAt = &at
		if result.SourceStatus == domain.SourceStatusActive {
			row.LastSeenAt = &at
		}

		id := result.NewIdentity
		if id == nil || id.URLHash == row.URLHash {
			return nil
		}
		if existing, taken := r.lookupIdentity(row.OfficeID, *id); taken && existing != row.ID {
			return nil
		}
		r.unindex(row)
		row.SourceURL = id.SourceURL
		row.NormalizedURL = id.NormalizedURL
		row.URLHash = id.URLHash
		row.SourceListingID = coalesce(id.SourceListingID, row.SourceListingID)
		r.index(row)
		return nil
	})
}

// Get - копия строки, для тестов и отладочных ручек
func (r *ListingRepository) Get(listingID uuid.UUID) (domain.ExternalListing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[listingID]
	if !ok {
		return domain.ExternalListing{}, false
	}
	return *row, true
}

// List - все строки офиса в порядке создания
func (r *ListingRepository) List(officeID uuid.UUID) []domain.ExternalListing {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExternalListing
	for _, id := range r.order {
		if row := r.rows[id]; row.OfficeID == officeID {
			out = append(out, *row)
		}
	}
	return out
}
