package postgres_adapter

import (
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresListingRepository - каталог внешних объявлений в PostgreSQL
type PostgresListingRepository struct {
	pool *pgxpool.Pool
}

var _ port.ListingRepositoryPort = (*PostgresListingRepository)(nil)

func NewPostgresListingRepository(pool *pgxpool.Pool) (*PostgresListingRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxpool.Pool cannot be nil")
	}
	return &PostgresListingRepository{pool: pool}, nil
}

const listingColumns = `
	id, office_id, source, source_listing_id, source_url, normalized_url, url_hash,
	title, description, price_amount, currency, transaction_type, property_type,
	area_m2, price_per_m2, rooms, floor, year_built, owner_name, owner_phone,
	location_text, voivodeship, city, district, street, lat, lng, geocode_confidence, geocode_attempts,
	rcn_last_price, rcn_last_date, rcn_last_source_id, rcn_link, rcn_radius_m, rcn_enriched_at,
	status, source_status, enrich_error, enriched_at, geocoded_at, last_seen_at, last_checked_at,
	matched_at, created_at, updated_at`

// keptStatuses - статусы, которые сбор не перезаписывает
const keptStatuses = `('enriched', 'shortlisted', 'rejected', 'converted')`

// Оба запроса отличаются только целью конфликта: предикат частичного индекса обязан
// совпадать с индексом из миграции.
const upsertListingTemplate = `
	INSERT INTO external_listings (
		id, office_id, source, source_listing_id, source_url, normalized_url, url_hash,
		title, price_amount, currency, transaction_type, property_type, area_m2, rooms, location_text,
		status, source_status, last_seen_at, matched_at, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		COALESCE(NULLIF($16::text, ''), 'new'), 'active', $17, $17, $18, $18)
	ON CONFLICT %s DO UPDATE SET
		title            = EXCLUDED.title,
		price_amount     = COALESCE(EXCLUDED.price_amount, external_listings.price_amount),
		currency         = COALESCE(external_listings.currency, EXCLUDED.currency),
		transaction_type = COALESCE(external_listings.transaction_type, EXCLUDED.transaction_type),
		property_type    = COALESCE(external_listings.property_type, EXCLUDED.property_type),
		area_m2          = COALESCE(external_listings.area_m2, EXCLUDED.area_m2),
		rooms            = COALESCE(external_listings.rooms, EXCLUDED.rooms),
		location_text    = COALESCE(external_listings.location_text, EXCLUDED.location_text),
		status           = CASE
			WHEN NULLIF($16::text, '') IS NULL OR external_listings.status IN ` + keptStatuses + ` THEN external_listings.status
			ELSE $16::text
		END,
		source_status    = CASE WHEN external_listings.source_status = 'removed' THEN 'removed' ELSE 'active' END,
		matched_at       = EXCLUDED.matched_at,
		last_seen_at     = EXCLUDED.matched_at,
		updated_at       = EXCLUDED.updated_at
	RETURNING id, (xmax = 0) AS inserted`

var (
	upsertBySourceKeyQuery = fmt.Sprintf(upsertListingTemplate, "(office_id, source, source_listing_id) WHERE source_listing_id IS NOT NULL")
	upsertByURLHashQuery   = fmt.Sprintf(upsertListingTemplate, "(office_id, url_hash) WHERE source_listing_id IS NULL")
)

func (r *PostgresListingRepository) UpsertListing(ctx context.Context, officeID uuid.UUID, in domain.ListingUpsert) (uuid.UUID, bool, error) {
	repoLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "PostgresListingRepository",
		"method":    "UpsertListing",
		"office_id": officeID.String(),
		"url":       in.Identity.NormalizedURL,
	})

	c := in.Candidate
	if c.Title == "" {
		return uuid.Nil, false, fmt.Errorf("%w: title", domain.ErrFieldMissing)
	}

	query := upsertByURLHashQuery
	var listingID *string
	if in.Identity.UsesSourceKey() {
		query = upsertBySourceKeyQuery
		listingID = in.Identity.SourceListingID
	}

	var (
		id       uuid.UUID
		inserted bool
	)
	err := r.pool.QueryRow(ctx, query,
		uuid.New(),
		officeID,
		string(in.Identity.Source),
		listingID,
		in.Identity.SourceURL,
		in.Identity.NormalizedURL,
		in.Identity.URLHash,
		c.Title,
		c.PriceAmount,
		c.Currency,
		textPtr(c.TransactionType),
		textPtr(c.PropertyType),
		c.AreaM2,
		c.Rooms,
		c.LocationText,
		string(in.Status),
		in.MatchedAt,
		time.Now().UTC(),
	).Scan(&id, &inserted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // 23505 - unique_violation
			repoLogger.Warn("Upsert hit a concurrent unique violation", port.Fields{"constraint": pgErr.ConstraintName})
			return uuid.Nil, false, fmt.Errorf("%w: %s", domain.ErrPersistenceConflict, pgErr.ConstraintName)
		}
		repoLogger.Error("Failed to upsert listing", err, port.Fields{"query": query})
		return uuid.Nil, false, fmt.Errorf("failed to upsert listing: %w", err)
	}
	return id, inserted, nil
}

// Условие "запись больше не интересна конвейеру", то же, что ExternalListing.IsTerminal
const notTerminal = `source_status <> 'removed' AND status NOT IN ('rejected', 'converted')`

func (r *PostgresListingRepository) SelectStaleForEnrichment(ctx context.Context, officeID uuid.UUID, limit int, retryBefore time.Time) ([]domain.ExternalListing, error) {
	query := `SELECT ` + listingColumns + `
		FROM external_listings
		WHERE office_id = $1 AND ` + notTerminal + `
		  AND (enriched_at IS NULL OR (enriched_at < $3
		       AND (description IS NULL OR price_amount IS NULL OR area_m2 IS NULL OR city IS NULL)))
		ORDER BY enriched_at ASC NULLS FIRST, created_at ASC
		LIMIT $2`
	return r.selectListings(ctx, "SelectStaleForEnrichment", query, officeID, limitArg(limit), retryBefore)
}

func (r *PostgresListingRepository) SelectStaleForGeocoding(ctx context.Context, officeID uuid.UUID, limit int, force bool) ([]domain.ExternalListing, error) {
	query := `SELECT ` + listingColumns + `
		FROM external_listings
		WHERE office_id = $1 AND ` + notTerminal + `
		  AND (lat IS NULL OR lng IS NULL)
		  AND ($3::boolean OR geocoded_at IS NULL)
		ORDER BY geocoded_at ASC NULLS FIRST, geocode_attempts ASC, created_at ASC
		LIMIT $2`
	return r.selectListings(ctx, "SelectStaleForGeocoding", query, officeID, limitArg(limit), force)
}

func (r *PostgresListingRepository) SelectStaleForRcn(ctx context.Context, officeID uuid.UUID, limit int, radiusM float64, cooldownBefore time.Time, force bool) ([]domain.ExternalListing, error) {
	query := `SELECT ` + listingColumns + `
		FROM external_listings
		WHERE office_id = $1 AND ` + notTerminal + `
		  AND lat IS NOT NULL AND lng IS NOT NULL
		  AND ($5::boolean OR rcn_enriched_at IS NULL OR rcn_enriched_at < $4 OR rcn_radius_m IS DISTINCT FROM $3::double precision)
		ORDER BY rcn_enriched_at ASC NULLS FIRST, created_at ASC
		LIMIT $2`
	return r.selectListings(ctx, "SelectStaleForRcn", query, officeID, limitArg(limit), radiusM, cooldownBefore, force)
}

func (r *PostgresListingRepository) SelectStaleForVerification(ctx context.Context, officeID uuid.UUID, limit int, checkedBefore time.Time) ([]domain.ExternalListing, error) {
	query := `SELECT ` + listingColumns + `
		FROM external_listings
		WHERE office_id = $1 AND source_status <> 'removed'
		  AND (last_checked_at IS NULL OR last_checked_at < $3)
		ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC
		LIMIT $2`
	return r.selectListings(ctx, "SelectStaleForVerification", query, officeID, limitArg(limit), checkedBefore)
}

func (r *PostgresListingRepository) selectListings(ctx context.Context, method, query string, args ...any) ([]domain.ExternalListing, error) {
	repoLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "PostgresListingRepository",
		"method":    method,
	})

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		repoLogger.Error("Failed to select listings", err, port.Fields{"query": query})
		return nil, fmt.Errorf("failed to select listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.ExternalListing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			repoLogger.Error("Failed to scan listing row", err, nil)
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		repoLogger.Error("Error during listing rows iteration", err, nil)
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	repoLogger.Debug("Stale listings selected", port.Fields{"count": len(listings)})
	return listings, nil
}

// FindByID нужен REST-ручкам и интеграционным тестам
func (r *PostgresListingRepository) FindByID(ctx context.Context, listingID uuid.UUID) (*domain.ExternalListing, error) {
	query := `SELECT ` + listingColumns + ` FROM external_listings WHERE id = $1`
	listing, err := scanListing(r.pool.QueryRow(ctx, query, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("listing %s: %w", listingID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	return &listing, nil
}

func scanListing(row pgx.Row) (domain.ExternalListing, error) {
	var (
		l               domain.ExternalListing
		source          string
		status          string
		sourceStatus    string
		transactionType *string
		propertyType    *string
	)
	err := row.Scan(
		&l.ID, &l.OfficeID, &source, &l.SourceListingID, &l.SourceURL, &l.NormalizedURL, &l.URLHash,
		&l.Title, &l.Description, &l.PriceAmount, &l.Currency, &transactionType, &propertyType,
		&l.AreaM2, &l.PricePerM2, &l.Rooms, &l.Floor, &l.YearBuilt, &l.OwnerName, &l.OwnerPhone,
		&l.LocationText, &l.Voivodeship, &l.City, &l.District, &l.Street, &l.Lat, &l.Lng, &l.GeocodeConfidence, &l.GeocodeAttempts,
		&l.RcnLastPrice, &l.RcnLastDate, &l.RcnLastSourceID, &l.RcnLink, &l.RcnRadiusM, &l.RcnEnrichedAt,
		&status, &sourceStatus, &l.EnrichError, &l.EnrichedAt, &l.GeocodedAt, &l.LastSeenAt, &l.LastCheckedAt,
		&l.MatchedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.ExternalListing{}, err
	}
	l.Source = domain.SourceKey(source)
	l.Status = domain.ListingStatus(status)
	l.SourceStatus = domain.SourceStatus(sourceStatus)
	l.TransactionType = enumPtr[domain.TransactionType](transactionType)
	l.PropertyType = enumPtr[domain.PropertyType](propertyType)
	return l, nil
}

func (r *PostgresListingRepository) ApplyEnrichment(ctx context.Context, listingID uuid.UUID, attrs domain.ListingAttributes, enrichedAt time.Time) error {
	query := `
		UPDATE external_listings SET
			title            = COALESCE(NULLIF($2::text, ''), title),
			price_amount     = COALESCE($3, price_amount),
			description      = COALESCE(description, $4),
			currency         = COALESCE(currency, $5),
			transaction_type = COALESCE(transaction_type, $6),
			property_type    = COALESCE(property_type, $7),
			area_m2          = COALESCE(area_m2, $8),
			price_per_m2     = COALESCE(price_per_m2, $9),
			rooms            = COALESCE(rooms, $10),
			floor            = COALESCE(floor, $11),
			year_built       = COALESCE(year_built, $12),
			owner_name       = COALESCE(owner_name, $13),
			owner_phone      = COALESCE(owner_phone, $14),
			location_text    = COALESCE(location_text, $15),
			voivodeship      = COALESCE(voivodeship, $16),
			city             = COALESCE(city, $17),
			district         = COALESCE(district, $18),
			street           = COALESCE(street, $19),
			lat              = CASE WHEN lat IS NULL OR lng IS NULL THEN COALESCE($20, lat) ELSE lat END,
			lng              = CASE WHEN lat IS NULL OR lng IS NULL THEN COALESCE($21, lng) ELSE lng END,
			enriched_at      = $22,
			enrich_error     = NULL,
			status           = CASE WHEN status IN ('shortlisted', 'rejected', 'converted') THEN status ELSE 'enriched' END,
			updated_at       = now()
		WHERE id = $1`

	// координаты пишутся только парой
	lat, lng := attrs.Lat, attrs.Lng
	if lat == nil || lng == nil {
		lat, lng = nil, nil
	}
	return r.exec(ctx, "ApplyEnrichment", listingID, query,
		listingID,
		attrs.Title,
		attrs.PriceAmount,
		attrs.Description,
		attrs.Currency,
		textPtr(attrs.TransactionType),
		textPtr(attrs.PropertyType),
		attrs.AreaM2,
		attrs.PricePerM2,
		attrs.Rooms,
		attrs.Floor,
		attrs.YearBuilt,
		attrs.OwnerName,
		attrs.OwnerPhone,
		attrs.LocationText,
		attrs.Voivodeship,
		attrs.City,
		attrs.District,
		attrs.Street,
		lat,
		lng,
		enrichedAt,
	)
}

func (r *PostgresListingRepository) MarkEnrichmentFailed(ctx context.Context, listingID uuid.UUID, message string, attemptedAt time.Time) error {
	query := `
		UPDATE external_listings SET
			enriched_at  = $2,
			enrich_error = $3,
			status       = CASE WHEN status IN ('shortlisted', 'rejected', 'converted') THEN status ELSE 'error' END,
			updated_at   = now()
		WHERE id = $1`
	return r.exec(ctx, "MarkEnrichmentFailed", listingID, query, listingID, attemptedAt, message)
}

func (r *PostgresListingRepository) ApplyGeocode(ctx context.Context, listingID uuid.UUID, point *domain.GeoPoint, geocodedAt time.Time) error {
	query := `
		UPDATE external_listings SET
			lat                = COALESCE($2, lat),
			lng                = COALESCE($3, lng),
			geocode_confidence = $4,
			geocoded_at        = $5,
			geocode_attempts   = 0,
			updated_at         = now()
		WHERE id = $1`

	var lat, lng *float64
	confidence := 0.0
	if point != nil {
		lat, lng = &point.Lat, &point.Lng
		confidence = point.Confidence
	}
	return r.exec(ctx, "ApplyGeocode", listingID, query, listingID, lat, lng, confidence, geocodedAt)
}

func (r *PostgresListingRepository) RecordGeocodeFailure(ctx context.Context, listingID uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE external_listings SET
			geocode_attempts = geocode_attempts + 1,
			updated_at       = now()
		WHERE id = $1
		RETURNING geocode_attempts`, listingID).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("listing %s: %w", listingID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("PostgresListingRepository.RecordGeocodeFailure: %w", err)
	}
	return attempts, nil
}

func (r *PostgresListingRepository) ApplyRegistryMatch(ctx context.Context, listingID uuid.UUID, match domain.RegistryMatch, radiusM float64, checkedAt time.Time) error {
	query := `
		UPDATE external_listings SET
			rcn_last_price     = COALESCE($2, rcn_last_price),
			rcn_last_date      = COALESCE($3, rcn_last_date),
			rcn_last_source_id = COALESCE($4, rcn_last_source_id),
			rcn_link           = COALESCE(NULLIF($5::text, ''), rcn_link),
			rcn_radius_m       = $6,
			rcn_enriched_at    = $7,
			updated_at         = now()
		WHERE id = $1`
	return r.exec(ctx, "ApplyRegistryMatch", listingID, query,
		listingID, match.Price, match.Date, match.SourceID, match.Link, radiusM, checkedAt)
}

// ApplyVerification пишет статус и, отдельным запросом, новый канонический адрес.
// Адрес пропускается, если его уже занимает другая строка офиса.
func (r *PostgresListingRepository) ApplyVerification(ctx context.Context, listingID uuid.UUID, result domain.VerificationResult) error {
	repoLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component":  "PostgresListingRepository",
		"method":     "ApplyVerification",
		"listing_id": listingID.String(),
	})

	statusQuery := `
		UPDATE external_listings SET
			source_status   = $2,
			last_checked_at = $3,
			last_seen_at    = CASE WHEN $2::text = 'active' THEN $3 ELSE last_seen_at END,
			updated_at      = now()
		WHERE id = $1`
	err := r.exec(ctx, "ApplyVerification", listingID, statusQuery, listingID, string(result.SourceStatus), result.CheckedAt)
	if err != nil || result.NewIdentity == nil {
		return err
	}

	id := result.NewIdentity
	identityQuery := `
		UPDATE external_listings AS l SET
			source_url        = $2,
			normalized_url    = $3,
			url_hash          = $4,
			source_listing_id = COALESCE($5, l.source_listing_id),
			updated_at        = now()
		WHERE l.id = $1 AND l.url_hash <> $4
		  AND NOT EXISTS (
			SELECT 1 FROM external_listings o
			WHERE o.office_id = l.office_id AND o.id <> l.id
			  AND (o.url_hash = $4 OR ($5::text IS NOT NULL AND o.source = l.source AND o.source_listing_id = $5))
		  )`
	tag, err := r.pool.Exec(ctx, identityQuery, listingID, id.SourceURL, id.NormalizedURL, id.URLHash, id.SourceListingID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			repoLogger.Warn("Redirected identity collides with another listing, keeping the old one", port.Fields{"constraint": pgErr.ConstraintName})
			return nil
		}
		repoLogger.Error("Failed to update listing identity", err, port.Fields{"query": identityQuery})
		return fmt.Errorf("failed to update listing identity: %w", err)
	}
	if tag.RowsAffected() > 0 {
		repoLogger.Info("Listing moved to a new canonical url", port.Fields{"url": id.NormalizedURL})
	}
	return nil
}

func (r *PostgresListingRepository) exec(ctx context.Context, method string, listingID uuid.UUID, query string, args ...any) error {
	repoLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component":  "PostgresListingRepository",
		"method":     method,
		"listing_id": listingID.String(),
	})

	cmdTag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		repoLogger.Error("Failed to update listing", err, port.Fields{"query": query})
		return fmt.Errorf("failed to update listing: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		repoLogger.Warn("Update failed: listing not found", nil)
		return fmt.Errorf("listing %s: %w", listingID, domain.ErrNotFound)
	}
	return nil
}

// limitArg: LIMIT NULL в Postgres означает "без ограничения"
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func textPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func enumPtr[T ~string](s *string) *T {
	if s == nil {
		return nil
	}
	v := T(*s)
	return &v
}
