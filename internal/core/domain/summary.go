package domain

import (
	"time"

	"github.com/google/uuid"
)

// ItemError - ошибка обработки одного объявления или одного источника
type ItemError struct {
	ListingID *uuid.UUID `json:"listing_id,omitempty"`
	Source    SourceKey  `json:"source,omitempty"`
	URL       string     `json:"url,omitempty"`
	Kind      ErrorKind  `json:"kind"`
	Message   string     `json:"message"`
}

// NewItemError строит ItemError с классификацией по таксономии
func NewItemError(source SourceKey, listingID *uuid.UUID, url string, err error) ItemError {
	return ItemError{
		ListingID: listingID,
		Source:    source,
		URL:       url,
		Kind:      ClassifyError(err),
		Message:   err.Error(),
	}
}

// BatchSummary - результат одной пакетной операции конвейера
type BatchSummary struct {
	Processed int         `json:"processed"`
	Errors    []ItemError `json:"errors"`
	// Skipped выставляется, когда обход пропущен из-за занятой блокировки офиса
	Skipped bool `json:"skipped,omitempty"`
}

// AddError добавляет ошибку в сводку
func (s *BatchSummary) AddError(e ItemError) {
	s.Errors = append(s.Errors, e)
}

// Merge суммирует сводки раундов
func (s *BatchSummary) Merge(other BatchSummary) {
	s.Processed += other.Processed
	s.Errors = append(s.Errors, other.Errors...)
}

// SourceHarvestStats - статистика сбора по одному источнику
type SourceHarvestStats struct {
	Source        SourceKey `json:"source"`
	PagesFetched  int       `json:"pages_fetched"`
	Candidates    int       `json:"candidates"`
	Discarded     int       `json:"discarded"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Degraded      bool      `json:"degraded"`
	Blocked       bool      `json:"blocked"`
	StoppedReason string    `json:"stopped_reason,omitempty"`
}

// HarvestSummary - сводка сбора: общая часть плюс разбивка по источникам
type HarvestSummary struct {
	BatchSummary
	Sources []SourceHarvestStats `json:"sources"`
}

// PipelineReport - агрегированный результат полного прогона для офиса
type PipelineReport struct {
	OfficeID     uuid.UUID      `json:"office_id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Harvest      HarvestSummary `json:"harvest"`
	Enrich       BatchSummary   `json:"enrich"`
	EnrichRounds int            `json:"enrich_rounds"`
	Geocode      *BatchSummary  `json:"geocode,omitempty"`
	Rcn          *BatchSummary  `json:"rcn,omitempty"`
	Verify       BatchSummary   `json:"verify"`
	VerifyRounds int            `json:"verify_rounds"`
	// Error - причина, по которой прогон прерван; пусто для завершенного прогона
	Error        string         `json:"error,omitempty"`
}

// Failed - прогон прерван до конца конвейера
func (r PipelineReport) Failed() bool {
	return r.Error != ""
}

// Counts - агрегированные счетчики для наблюдаемости
func (r PipelineReport) Counts() map[string]int {
	counts := map[string]int{
		"harvested": r.Harvest.Processed,
		"enriched":  r.Enrich.Processed,
		"verified":  r.Verify.Processed,
		"errors":    len(r.Harvest.Errors) + len(r.Enrich.Errors) + len(r.Verify.Errors),
	}
	if r.Geocode != nil {
		counts["geocoded"] = r.Geocode.Processed
		counts["errors"] += len(r.Geocode.Errors)
	}
	if r.Rcn != nil {
		counts["rcn_checked"] = r.Rcn.Processed
		counts["errors"] += len(r.Rcn.Errors)
	}
	return counts
}
