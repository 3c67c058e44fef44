package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNominatim(t *testing.T, h http.HandlerFunc, retries int) *Nominatim {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	n, err := NewNominatim(NominatimConfig{
		BaseURL:      srv.URL,
		UserAgent:    "test-agent",
		Timeout:      200 * time.Millisecond,
		MaxRetries:   retries,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return n
}

func TestNominatimReverse(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "40.7506", r.URL.Query().Get("lat"))
		assert.Equal(t, "-73.9972", r.URL.Query().Get("lon"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"display_name":"x","address":{"postcode":" 10001 ","city":"New York"}}`)
	}, 0)

	zip, err := n.Reverse(context.Background(), 40.7506, -73.9972)
	require.NoError(t, err)
	assert.Equal(t, "10001", zip)
}

func TestNominatimNoPostcode(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"Unable to geocode"}`)
	}, 0)

	_, err := n.Reverse(context.Background(), 0, 0)
	assert.True(t, errors.Is(err, ErrNoResult))
}

func TestNominatimServerErrorNoRetryByDefault(t *testing.T) {
	var calls int32
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 0)

	_, err := n.Reverse(context.Background(), 1, 1)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNominatimRetries(t *testing.T) {
	var calls int32
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"address":{"postcode":"11201"}}`)
	}, 2)

	zip, err := n.Reverse(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "11201", zip)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNominatimTimeout(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}, 0)

	_, err := n.Reverse(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestNewNominatimValidates(t *testing.T) {
	_, err := NewNominatim(NominatimConfig{BaseURL: "not a url", UserAgent: "x"})
	assert.Error(t, err)
	_, err = NewNominatim(NominatimConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestCache(t *testing.T) {
	var calls int
	next := ReverserFunc(func(ctx context.Context, lat, lon float64) (string, error) {
		calls++
		if lat < 0 {
			return "", ErrNoResult
		}
		return "10001", nil
	})

	path := filepath.Join(t.TempDir(), "geocode.bolt")
	c, err := OpenCache(path, next)
	require.NoError(t, err)

	ctx := context.Background()
	zip, err := c.Reverse(ctx, 40.750601, -73.997201)
	require.NoError(t, err)
	assert.Equal(t, "10001", zip)

	// same point after rounding
	zip, err = c.Reverse(ctx, 40.7506014, -73.9972009)
	require.NoError(t, err)
	assert.Equal(t, "10001", zip)
	assert.Equal(t, 1, calls)

	// failures are not cached
	_, err = c.Reverse(ctx, -1, -1)
	assert.Error(t, err)
	_, err = c.Reverse(ctx, -1, -1)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 3, misses)
	require.NoError(t, c.Close())

	// persisted across reopen
	c, err = OpenCache(path, next)
	require.NoError(t, err)
	defer c.Close()
	zip, ok := c.Get(40.750601, -73.997201)
	assert.True(t, ok)
	assert.Equal(t, "10001", zip)
	_, ok = c.Get(10, 10)
	assert.False(t, ok)

	// direct reads count as hits; a miss on Get alone is not a geocoder call
	hits, misses = c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 0, misses)
}
