package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceKey - ключ портала-источника
type SourceKey string

const (
	SourceOtodom SourceKey = "otodom"
	SourceOlx    SourceKey = "olx"
	SourceGratka SourceKey = "gratka"
)

// ParseSourceKey проверяет, что ключ известен конвейеру
func ParseSourceKey(raw string) (SourceKey, error) {
	switch key := SourceKey(raw); key {
	case SourceOtodom, SourceOlx, SourceGratka:
		return key, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSource, raw)
	}
}

// SearchFilters - портальнонезависимый набор фильтров поиска.
// Адаптер сам решает, какие измерения он умеет передать порталу.
type SearchFilters struct {
	Sources         []SourceKey     `json:"sources,omitempty"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
	PropertyType    PropertyType    `json:"property_type,omitempty"`
	Voivodeship     string          `json:"voivodeship,omitempty"`
	City            string          `json:"city,omitempty"`
	District        string          `json:"district,omitempty"`
	PriceMin        *float64        `json:"price_min,omitempty"`
	PriceMax        *float64        `json:"price_max,omitempty"`
	AreaMin         *float64        `json:"area_min,omitempty"`
	AreaMax         *float64        `json:"area_max,omitempty"`
	RoomsMin        *int            `json:"rooms_min,omitempty"`
	RoomsMax        *int            `json:"rooms_max,omitempty"`
	OnlyDue         bool            `json:"only_due,omitempty"`
}

// WithDefaults возвращает f, где незаданные измерения взяты из defaults
func (f SearchFilters) WithDefaults(defaults SearchFilters) SearchFilters {
	if f.TransactionType == "" {
		f.TransactionType = defaults.TransactionType
	}
	if f.PropertyType == "" {
		f.PropertyType = defaults.PropertyType
	}
	if f.Voivodeship == "" {
		f.Voivodeship = defaults.Voivodeship
	}
	if f.City == "" {
		f.City = defaults.City
	}
	if f.District == "" {
		f.District = defaults.District
	}
	f.PriceMin = coalesce(f.PriceMin, defaults.PriceMin)
	f.PriceMax = coalesce(f.PriceMax, defaults.PriceMax)
	f.AreaMin = coalesce(f.AreaMin, defaults.AreaMin)
	f.AreaMax = coalesce(f.AreaMax, defaults.AreaMax)
	f.RoomsMin = coalesce(f.RoomsMin, defaults.RoomsMin)
	f.RoomsMax = coalesce(f.RoomsMax, defaults.RoomsMax)
	return f
}

// SourceDefinition - настройка источника для офиса
type SourceDefinition struct {
	OfficeID        uuid.UUID
	Source          SourceKey
	Enabled         bool
	CrawlInterval   time.Duration
	DefaultFilters  SearchFilters
	LastHarvestedAt *time.Time
}

// IsDue - пора ли запускать плановый сбор
func (d SourceDefinition) IsDue(now time.Time) bool {
	if d.LastHarvestedAt == nil || d.CrawlInterval <= 0 {
		return true
	}
	return !now.Before(d.LastHarvestedAt.Add(d.CrawlInterval))
}
