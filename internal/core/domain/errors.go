package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок конвейера. Адаптеры оборачивают их через %w,
// use case'ы классифицируют через errors.Is.
var (
	ErrTransient           = errors.New("transient network failure")
	ErrBlocked             = errors.New("blocked by source")
	ErrDegraded            = errors.New("portal degraded the search")
	ErrParseEmpty          = errors.New("no extractable candidates")
	ErrFieldMissing        = errors.New("field missing")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrFatalConfig         = errors.New("fatal configuration error")
	ErrUnsupportedSource   = errors.New("unsupported source")
	ErrNotFound            = errors.New("not found")
)

// ErrorKind - строковая метка класса ошибки для отчетов
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindBlocked     ErrorKind = "blocked"
	KindDegraded    ErrorKind = "degraded"
	KindParseEmpty  ErrorKind = "parse_empty"
	KindConflict    ErrorKind = "persistence_conflict"
	KindFatalConfig ErrorKind = "fatal_config"
	KindUnsupported ErrorKind = "unsupported_source"
	KindParse       ErrorKind = "parse"
	KindPersistence ErrorKind = "persistence"
	KindUnknown     ErrorKind = "unknown"
)

// ClassifyError сопоставляет ошибку классу таксономии
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrDegraded):
		return KindDegraded
	case errors.Is(err, ErrParseEmpty):
		return KindParseEmpty
	case errors.Is(err, ErrPersistenceConflict):
		return KindConflict
	case errors.Is(err, ErrFatalConfig):
		return KindFatalConfig
	case errors.Is(err, ErrUnsupportedSource):
		return KindUnsupported
	default:
		return KindUnknown
	}
}

// FatalConfigError оборачивает ошибку конфигурации, прерывающую весь запуск
func FatalConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatalConfig, fmt.Sprintf(format, args...))
}
