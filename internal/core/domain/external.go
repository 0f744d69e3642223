package domain

import (
	"net/http"
	"time"
)

// FetchOptions - параметры одного внешнего запроса
type FetchOptions struct {
	Method    string
	Headers   map[string]string
	Body      []byte
	Timeout   time.Duration
	UserAgent string
	// MaxAttempts переопределяет число попыток клиента, если > 0
	MaxAttempts int
}

// FetchResponse - ответ внешнего ресурса после всех редиректов
type FetchResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FinalURL   string
}

// IsSuccess - 2xx
func (r *FetchResponse) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// GeoPoint - результат геокодирования
type GeoPoint struct {
	Lat        float64
	Lng        float64
	Confidence float64
}

// RegistryMatch - то, что удалось найти в реестре цен (RCN) около точки.
// Цена, дата и идентификатор записываются независимо друг от друга.
type RegistryMatch struct {
	Price    *float64
	Date     *time.Time
	SourceID *string
	Layer    string
	Link     string
}

// HasPrice - найдена ли цена
func (m RegistryMatch) HasPrice() bool {
	return m.Price != nil
}

// VerificationResult - итог повторной проверки объявления
type VerificationResult struct {
	SourceStatus SourceStatus
	// NewIdentity задан, если портал перенес объявление на другой канонический адрес
	NewIdentity *ListingIdentity
	CheckedAt    time.Time
}
