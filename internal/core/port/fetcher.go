package port

import (
	"context"
	"listing-pipeline-service/internal/core/domain"
)

// FetcherPort - устойчивый HTTP-клиент, общий для всех стадий.
// 403/429 возвращаются как domain.ErrBlocked, исчерпанные ретраи как domain.ErrTransient.
// Для окончательных 4xx возвращается ответ вместе с ошибкой.
type FetcherPort interface {
	Fetch(ctx context.Context, rawURL string, opts domain.FetchOptions) (*domain.FetchResponse, error)
}
