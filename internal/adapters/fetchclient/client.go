package fetchclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
)

// Config - политика повторов и таймаутов
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// UserAgent фиксирует заголовок; пустое значение включает случайный браузерный UA
	UserAgent string
	// RandomDelay - случайная пауза colly после каждого запроса
	RandomDelay time.Duration
	// Parallelism - одновременных запросов на весь процесс
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
	return c
}

// Client - FetcherPort поверх colly. Родительский коллектор держит общие лимиты,
// на каждый запрос делается Clone().
type Client struct {
	collector *colly.Collector
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ port.FetcherPort = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	// Таймаут http.Client общий для всех клонов; укороченный таймаут попытки задается контекстом
	c.SetRequestTimeout(cfg.Timeout)

	err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		RandomDelay: cfg.RandomDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("FetchClient: failed to set limit rule: %w", err)
	}

	return &Client{collector: c, cfg: cfg, sleep: sleepCtx}, nil
}

// Fetch выполняет запрос с повторами: сетевые ошибки, 408 и 5xx повторяются с экспоненциальной
// задержкой и случайным jitter. 403/429 и прочие 4xx возвращаются сразу вместе с ответом.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts domain.FetchOptions) (*domain.FetchResponse, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "FetchClient",
		"url":       rawURL,
	})

	attempts := c.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		attempts = opts.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			logger.Debug("Retrying request", port.Fields{"attempt": attempt, "delay": delay.String(), "reason": lastErr.Error()})
			if err := c.sleep(ctx, delay); err != nil {
				return nil, &RequestError{URL: rawURL, Attempts: attempt - 1, Cause: err}
			}
		}

		resp, err := c.once(ctx, rawURL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &RequestError{URL: rawURL, Attempts: attempt, Cause: ctx.Err()}
			}
			lastErr = err
			continue
		}

		kind := classifyStatus(resp.StatusCode)
		switch {
		case resp.IsSuccess():
			return resp, nil
		case errors.Is(kind, domain.ErrTransient):
			lastErr = &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Kind: kind}
			if attempt == attempts {
				return resp, lastErr
			}
			continue
		default:
			if kind != nil {
				logger.Warn("Source blocked the request", port.Fields{"status": resp.StatusCode})
			}
			return resp, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Kind: kind}
		}
	}

	logger.Warn("Request failed after all attempts", port.Fields{"attempts": attempts, "error": lastErr.Error()})
	return nil, &RequestError{URL: rawURL, Attempts: attempts, Cause: lastErr}
}

// once - одна попытка на клоне родительского коллектора
func (c *Client) once(ctx context.Context, rawURL string, opts domain.FetchOptions) (*domain.FetchResponse, error) {
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 && opts.Timeout < timeout {
		timeout = opts.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clone := c.collector.Clone()
	clone.Context = attemptCtx
	clone.ParseHTTPErrorResponse = true

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = c.cfg.UserAgent
	}
	if userAgent == "" {
		extensions.RandomUserAgent(clone)
	} else {
		clone.UserAgent = userAgent
	}
	extensions.Referer(clone)

	clone.OnRequest(func(r *colly.Request) {
		for k, v := range opts.Headers {
			r.Headers.Set(k, v)
		}
	})

	var result *domain.FetchResponse
	clone.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		result = &domain.FetchResponse{
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
	})

	var callbackErr error
	clone.OnError(func(r *colly.Response, err error) {
		callbackErr = err
	})

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	var err error
	if body != nil {
		err = clone.Request(method, rawURL, body, nil, nil)
	} else {
		err = clone.Request(method, rawURL, nil, nil, nil)
	}
	clone.Wait()

	if err != nil {
		return nil, err
	}
	if result == nil {
		if callbackErr != nil {
			return nil, callbackErr
		}
		return nil, fmt.Errorf("no response received")
	}
	return result, nil
}

// backoff: BaseDelay * 2^(n-1) с jitter до половины задержки, не больше MaxDelay
func (c *Client) backoff(retry int) time.Duration {
	delay := c.cfg.BaseDelay << (retry - 1)
	if delay <= 0 || delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	if half := int64(delay / 2); half > 0 {
		delay += time.Duration(rand.Int64N(half))
	}
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
