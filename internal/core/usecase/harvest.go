package usecase

import (
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/canonical"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"time"

	"github.com/google/uuid"
)

// Причины остановки пагинации источника
const (
	stopLastPage   = "max_pages"
	stopEmpty      = "parse_empty"
	stopDegraded   = "degraded"
	stopBlocked    = "blocked"
	stopFailed     = "fetch_failed"
	stopParseError = "parse_error"
	stopBudget     = "item_budget"
	stopCancelled  = "cancelled"
)

// HarvestLimits - бюджеты одного вызова сбора
type HarvestLimits struct {
	MaxPages   int
	ItemBudget int
}

// HarvestUseCase обходит поисковую выдачу включенных источников офиса и пишет кандидатов в каталог
type HarvestUseCase struct {
	registry port.SourceRegistryPort
	fetcher  port.FetcherPort
	listings port.ListingRepositoryPort
	sources  port.SourceDefinitionRepositoryPort
	limits   HarvestLimits
	now      func() time.Time
}

func NewHarvestUseCase(
	registry port.SourceRegistryPort,
	fetcher port.FetcherPort,
	listings port.ListingRepositoryPort,
	sources port.SourceDefinitionRepositoryPort,
	limits HarvestLimits,
) *HarvestUseCase {
	if limits.MaxPages <= 0 {
		limits.MaxPages = 1
	}
	return &HarvestUseCase{
		registry: registry,
		fetcher:  fetcher,
		listings: listings,
		sources:  sources,
		limits:   limits,
		now:      time.Now,
	}
}

// harvestPlan - источник вместе с адаптером и итоговыми фильтрами
type harvestPlan struct {
	source  domain.SourceKey
	adapter port.SourceAdapterPort
	filters domain.SearchFilters
	defined bool
}

// Execute возвращает ошибку только для проблем конфигурации (неизвестный источник) и
// недоступного хранилища определений; все остальное попадает в сводку.
func (uc *HarvestUseCase) Execute(ctx context.Context, officeID uuid.UUID, filters domain.SearchFilters) (domain.HarvestSummary, error) {
	ucLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":  "Harvest",
		"office_id": officeID.String(),
	})

	summary := domain.HarvestSummary{BatchSummary: domain.BatchSummary{Errors: []domain.ItemError{}}}

	plans, err := uc.plan(ctx, officeID, filters)
	if err != nil {
		ucLogger.Error("Harvest aborted before start", err, nil)
		return summary, err
	}
	if len(plans) == 0 {
		ucLogger.Info("No enabled sources to harvest", nil)
		return summary, nil
	}

	matchedAt := uc.now().UTC()
	budget := uc.limits.ItemBudget
	for _, p := range plans {
		sourceLogger := ucLogger.WithFields(port.Fields{"source": string(p.source)})
		sourceCtx := contextkeys.ContextWithLogger(ctx, sourceLogger)

		stats := uc.harvestSource(sourceCtx, officeID, p, matchedAt, &budget, &summary.BatchSummary)
		summary.Sources = append(summary.Sources, stats)

		if stats.PagesFetched > 0 && p.defined {
			if err := uc.sources.MarkHarvested(ctx, officeID, p.source, matchedAt); err != nil {
				sourceLogger.Warn("Failed to mark source harvested", port.Fields{"error": err.Error()})
			}
		}
		sourceLogger.Info("Source harvested", port.Fields{
			"pages":     stats.PagesFetched,
			"inserted":  stats.Inserted,
			"updated":   stats.Updated,
			"discarded": stats.Discarded,
			"stopped":   stats.StoppedReason,
		})

		if stats.StoppedReason == stopBudget || stats.StoppedReason == stopCancelled {
			break
		}
	}

	ucLogger.Info("Harvest finished", port.Fields{"processed": summary.Processed, "errors": len(summary.Errors)})
	return summary, nil
}

// plan выбирает источники: явный список из фильтров или включенные определения офиса.
// Неизвестный ключ источника прерывает весь вызов до начала работы.
func (uc *HarvestUseCase) plan(ctx context.Context, officeID uuid.UUID, filters domain.SearchFilters) ([]harvestPlan, error) {
	defs, err := uc.sources.ListEnabled(ctx, officeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source definitions: %w", err)
	}
	byKey := make(map[domain.SourceKey]domain.SourceDefinition, len(defs))
	for _, d := range defs {
		byKey[d.Source] = d
	}

	var keys []domain.SourceKey
	if len(filters.Sources) > 0 {
		keys = filters.Sources
	} else {
		for _, d := range defs {
			keys = append(keys, d.Source)
		}
	}

	now := uc.now()
	seen := make(map[domain.SourceKey]struct{}, len(keys))
	plans := make([]harvestPlan, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		adapter, err := uc.registry.Adapter(key)
		if err != nil {
			return nil, domain.FatalConfigError("source %q: %v", key, err)
		}
		def, defined := byKey[key]
		if filters.OnlyDue && defined && !def.IsDue(now) {
			continue
		}
		plans = append(plans, harvestPlan{
			source:  key,
			adapter: adapter,
			filters: filters.WithDefaults(def.DefaultFilters),
			defined: defined,
		})
	}
	return plans, nil
}

// harvestSource листает страницы по возрастанию и останавливается на первой деградации,
// блокировке, ошибке или пустой странице. Строки уже обработанных страниц остаются.
func (uc *HarvestUseCase) harvestSource(ctx context.Context, officeID uuid.UUID, p harvestPlan, matchedAt time.Time, budget *int, summary *domain.BatchSummary) domain.SourceHarvestStats {
	logger := contextkeys.LoggerFromContext(ctx)
	stats := domain.SourceHarvestStats{Source: p.source, StoppedReason: stopLastPage}

	for page := 1; page <= uc.limits.MaxPages; page++ {
		if ctx.Err() != nil {
			stats.StoppedReason = stopCancelled
			return stats
		}
		if uc.limits.ItemBudget > 0 && *budget <= 0 {
			stats.StoppedReason = stopBudget
			return stats
		}
		pageLogger := logger.WithFields(port.Fields{"page": page})

		searchURL, err := p.adapter.BuildSearchURL(p.filters, page)
		if err != nil {
			summary.AddError(domain.NewItemError(p.source, nil, "", err))
			stats.StoppedReason = stopParseError
			return stats
		}

		resp, err := uc.fetcher.Fetch(ctx, searchURL, domain.FetchOptions{})
		if err != nil || !resp.IsSuccess() {
			if err == nil {
				err = fmt.Errorf("search page returned HTTP %d", resp.StatusCode)
			}
			summary.AddError(domain.NewItemError(p.source, nil, searchURL, err))
			if errors.Is(err, domain.ErrBlocked) {
				pageLogger.Warn("Source blocked the search, skipping for this run", nil)
				stats.Blocked = true
				stats.StoppedReason = stopBlocked
			} else {
				pageLogger.Error("Failed to fetch search page", err, port.Fields{"url": searchURL})
				stats.StoppedReason = stopFailed
			}
			return stats
		}
		stats.PagesFetched++

		if !p.adapter.SearchMatches(searchURL, resp.FinalURL) {
			pageLogger.Warn("Portal changed the search, stopping pagination", port.Fields{
				"requested": searchURL,
				"final":     resp.FinalURL,
			})
			stats.Degraded = true
			stats.StoppedReason = stopDegraded
			if stats.Inserted+stats.Updated == 0 {
				summary.AddError(domain.NewItemError(p.source, nil, searchURL,
					fmt.Errorf("%w: redirected to %s", domain.ErrDegraded, resp.FinalURL)))
			}
			return stats
		}

		candidates, err := p.adapter.ParseSearchResults(resp.Body, resp.FinalURL)
		if errors.Is(err, domain.ErrParseEmpty) || (err == nil && len(candidates) == 0) {
			pageLogger.Info("No candidates on page", nil)
			stats.StoppedReason = stopEmpty
			return stats
		}
		if err != nil {
			pageLogger.Error("Failed to parse search page", err, nil)
			summary.AddError(domain.NewItemError(p.source, nil, searchURL, err))
			stats.StoppedReason = stopParseError
			return stats
		}
		stats.Candidates += len(candidates)

		for _, c := range candidates {
			if uc.limits.ItemBudget > 0 && *budget <= 0 {
				stats.StoppedReason = stopBudget
				return stats
			}
			if uc.ingest(ctx, officeID, p.source, c, matchedAt, &stats, summary) {
				*budget--
			}
		}
	}
	return stats
}

// ingest резолвит идентичность и делает upsert; true, если строка записана
func (uc *HarvestUseCase) ingest(ctx context.Context, officeID uuid.UUID, source domain.SourceKey, c domain.ListingCandidate, matchedAt time.Time, stats *domain.SourceHarvestStats, summary *domain.BatchSummary) bool {
	if c.Title == "" {
		stats.Discarded++
		return false
	}
	c.Source = source

	identity, err := canonical.Resolve(source, c.SourceURL)
	if err != nil {
		stats.Discarded++
		summary.AddError(domain.NewItemError(source, nil, c.SourceURL, err))
		return false
	}

	id, inserted, err := uc.listings.UpsertListing(ctx, officeID, domain.ListingUpsert{
		Identity:  identity,
		Candidate: c,
		Status:    domain.StatusNew,
		MatchedAt: matchedAt,
	})
	if err != nil {
		summary.AddError(domain.NewItemError(source, nil, c.SourceURL, err))
		return false
	}

	summary.Processed++
	if inserted {
		stats.Inserted++
	} else {
		stats.Updated++
	}
	contextkeys.LoggerFromContext(ctx).Debug("Listing upserted", port.Fields{"listing_id": id.String(), "inserted": inserted})
	return true
}
