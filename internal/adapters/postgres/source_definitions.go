package postgres_adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSourceDefinitions - таблица external_sources
type PostgresSourceDefinitions struct {
	pool *pgxpool.Pool
}

var _ port.SourceDefinitionRepositoryPort = (*PostgresSourceDefinitions)(nil)

func NewPostgresSourceDefinitions(pool *pgxpool.Pool) (*PostgresSourceDefinitions, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxpool.Pool cannot be nil")
	}
	return &PostgresSourceDefinitions{pool: pool}, nil
}

func (r *PostgresSourceDefinitions) ListEnabled(ctx context.Context, officeID uuid.UUID) ([]domain.SourceDefinition, error) {
	repoLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "PostgresSourceDefinitions",
		"method":    "ListEnabled",
		"office_id": officeID.String(),
	})

	query := `
		SELECT office_id, source, enabled, crawl_interval_seconds, default_filters, last_harvested_at
		FROM external_sources
		WHERE office_id = $1 AND enabled
		ORDER BY created_at, source`
	rows, err := r.pool.Query(ctx, query, officeID)
	if err != nil {
		repoLogger.Error("Failed to query source definitions", err, port.Fields{"query": query})
		return nil, fmt.Errorf("failed to query source definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.SourceDefinition
	for rows.Next() {
		var (
			def             domain.SourceDefinition
			source          string
			intervalSeconds int
			filtersJSON     []byte
		)
		if err := rows.Scan(&def.OfficeID, &source, &def.Enabled, &intervalSeconds, &filtersJSON, &def.LastHarvestedAt); err != nil {
			repoLogger.Error("Failed to scan source definition", err, nil)
			return nil, fmt.Errorf("failed to scan source definition: %w", err)
		}
		def.Source = domain.SourceKey(source)
		def.CrawlInterval = time.Duration(intervalSeconds) * time.Second
		if len(filtersJSON) > 0 {
			if err := json.Unmarshal(filtersJSON, &def.DefaultFilters); err != nil {
				// битые фильтры не отключают источник, сбор идет с фильтрами запроса
				repoLogger.Warn("Invalid default_filters, ignoring", port.Fields{"source": source, "error": err.Error()})
			}
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		repoLogger.Error("Error during source definition rows iteration", err, nil)
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return defs, nil
}

func (r *PostgresSourceDefinitions) ListOfficesWithEnabledSources(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT office_id FROM external_sources WHERE enabled ORDER BY office_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query offices: %w", err)
	}
	defer rows.Close()

	var offices []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan office id: %w", err)
		}
		offices = append(offices, id)
	}
	return offices, rows.Err()
}

func (r *PostgresSourceDefinitions) MarkHarvested(ctx context.Context, officeID uuid.UUID, source domain.SourceKey, at time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE external_sources SET last_harvested_at = $3 WHERE office_id = $1 AND source = $2`,
		officeID, string(source), at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark source harvested: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("source %s for office %s: %w", source, officeID, domain.ErrNotFound)
	}
	return nil
}

// Save добавляет или заменяет определение источника офиса
func (r *PostgresSourceDefinitions) Save(ctx context.Context, def domain.SourceDefinition) error {
	filtersJSON, err := json.Marshal(def.DefaultFilters)
	if err != nil {
		return fmt.Errorf("failed to marshal default filters: %w", err)
	}
	query := `
		INSERT INTO external_sources (office_id, source, enabled, crawl_interval_seconds, default_filters, last_harvested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (office_id, source) DO UPDATE SET
			enabled                = EXCLUDED.enabled,
			crawl_interval_seconds = EXCLUDED.crawl_interval_seconds,
			default_filters        = EXCLUDED.default_filters,
			last_harvested_at      = COALESCE(EXCLUDED.last_harvested_at, external_sources.last_harvested_at)`
	_, err = r.pool.Exec(ctx, query,
		def.OfficeID,
		string(def.Source),
		def.Enabled,
		int(def.CrawlInterval/time.Second),
		filtersJSON,
		def.LastHarvestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save source definition: %w", err)
	}
	return nil
}
