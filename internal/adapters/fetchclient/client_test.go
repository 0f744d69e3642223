package fetchclient

import (
	"context"
	"errors"
	"io"
	"listing-pipeline-service/internal/core/domain"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, attempts int) *Client {
	t.Helper()
	c, err := NewClient(Config{Timeout: 2 * time.Second, MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestFetchFollowsRedirectsAndReportsFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new?x=1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pl-PL", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := newTestClient(t, 3).Fetch(context.Background(), server.URL+"/old", domain.FetchOptions{
		Headers: map[string]string{"Accept-Language": "pl-PL"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, server.URL+"/new?x=1", resp.FinalURL)
	assert.Equal(t, "<html>ok</html>", string(resp.Body))
	assert.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer server.Close()

	resp, err := newTestClient(t, 3).Fetch(context.Background(), server.URL, domain.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "finally", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustedServerErrorsAreTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := newTestClient(t, 2).Fetch(context.Background(), server.URL, domain.FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchDoesNotRetryDefinitive4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	resp, err := newTestClient(t, 3).Fetch(context.Background(), server.URL, domain.FetchOptions{})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
	assert.False(t, errors.Is(err, domain.ErrTransient))
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchSurfacesBlocked(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusTooManyRequests} {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		_, err := newTestClient(t, 3).Fetch(context.Background(), server.URL, domain.FetchOptions{})
		assert.ErrorIs(t, err, domain.ErrBlocked, code)
		assert.Equal(t, int32(1), calls.Load(), code)
		server.Close()
	}
}

func TestFetchNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, 2).Fetch(context.Background(), url, domain.FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 2, reqErr.Attempts)
}

func TestFetchSendsBodyWithMethod(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	resp, err := newTestClient(t, 1).Fetch(context.Background(), server.URL, domain.FetchOptions{
		Method: http.MethodPost,
		Body:   []byte(`{"q":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"q":1}`, string(resp.Body))
}

func TestBackoffIsCapped(t *testing.T) {
	c := &Client{cfg: Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}}
	for retry := 1; retry < 10; retry++ {
		d := c.backoff(retry)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	}
}
