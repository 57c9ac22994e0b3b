package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGet(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestClientRetry(t *testing.T) {
	t.Run("Retries 429 then succeeds", func(t *testing.T) {
		hits := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			if hits == 1 {
				w.Header().Set("Retry-After", "0.01")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(5*time.Second, 3, time.Second)
		resp, err := client.Do(context.Background(), buildGet(server.URL))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2, hits)
	})

	t.Run("Retries 5xx up to max attempts and returns last response", func(t *testing.T) {
		hits := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(5*time.Second, 3, time.Second)
		resp, err := client.Do(context.Background(), buildGet(server.URL))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, 3, hits)
	})

	t.Run("4xx not retried", func(t *testing.T) {
		hits := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewClient(5*time.Second, 3, time.Second)
		resp, err := client.Do(context.Background(), buildGet(server.URL))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 1, hits)
	})

	t.Run("Cancelled context aborts wait", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewClient(5*time.Second, 3, time.Second)
		_, err := client.Do(ctx, buildGet(server.URL))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoff(t *testing.T) {
	client := NewClient(5*time.Second, 5, 4*time.Second)

	t.Run("Exponential growth capped at maxWait", func(t *testing.T) {
		assert.Equal(t, time.Second, client.backoff(1, 0))
		assert.Equal(t, 2*time.Second, client.backoff(2, 0))
		assert.Equal(t, 4*time.Second, client.backoff(3, 0))
		assert.Equal(t, 4*time.Second, client.backoff(4, 0))
	})

	t.Run("Retry-After hint wins but is capped", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, client.backoff(1, 2*time.Second))
		assert.Equal(t, 4*time.Second, client.backoff(1, time.Minute))
	})
}

func TestParseRetryAfter(t *testing.T) {
	t.Run("Seconds format", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"2"}}}
		assert.Equal(t, 2*time.Second, parseRetryAfter(resp))
	})

	t.Run("HTTP date format", func(t *testing.T) {
		future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
		resp := &http.Response{Header: http.Header{"Retry-After": []string{future}}}
		wait := parseRetryAfter(resp)
		assert.Greater(t, wait, time.Second)
		assert.LessOrEqual(t, wait, 4*time.Second)
	})

	t.Run("Missing or invalid returns zero", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Zero(t, parseRetryAfter(resp))

		resp = &http.Response{Header: http.Header{"Retry-After": []string{"garbage"}}}
		assert.Zero(t, parseRetryAfter(resp))
	})
}
