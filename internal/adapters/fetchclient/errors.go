package fetchclient

import (
	"fmt"
	"listing-pipeline-service/internal/core/domain"
)

// StatusError - неуспешный HTTP-статус. Kind указывает класс таксономии
// (domain.ErrBlocked, domain.ErrTransient) или nil для окончательных 4xx.
type StatusError struct {
	URL        string
	StatusCode int
	Kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// RequestError - запрос не дошел до ответа (таймаут, обрыв соединения)
type RequestError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

// Unwrap отдает и причину, и domain.ErrTransient
func (e *RequestError) Unwrap() []error {
	return []error{domain.ErrTransient, e.Cause}
}

func classifyStatus(code int) error {
	switch {
	case code == 403 || code == 429:
		return domain.ErrBlocked
	case code == 408 || code >= 500:
		return domain.ErrTransient
	default:
		return nil
	}
}
