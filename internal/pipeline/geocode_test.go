package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-geo-enrich/internal/geocode"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/metrics"
)

type call struct{ lat, lon float64 }

type fakeReverser struct {
	calls   []call
	answers map[float64]string // by latitude
}

func (f *fakeReverser) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	f.calls = append(f.calls, call{lat, lon})
	if zip, ok := f.answers[lat]; ok {
		return zip, nil
	}
	return "", geocode.ErrNoResult
}

func newGeoTable(t *testing.T) *model.Table {
	t.Helper()
	tbl, err := model.NewTable(
		&model.Column{Name: "zip", Type: model.TypePostal, Values: []interface{}{"10001", nil, nil, nil, nil}},
		&model.Column{Name: "latitude", Type: model.TypeFloat, Values: []interface{}{40.1, 40.2, nil, 40.4, 40.5}},
		&model.Column{Name: "longitude", Type: model.TypeFloat, Values: []interface{}{-73.1, -73.2, -73.3, -73.4, -73.5}},
	)
	require.NoError(t, err)
	return tbl
}

func geoOpts(m *metrics.Manager) GeocodeOptions {
	return GeocodeOptions{
		PostalColumn: "zip",
		LatColumn:    "latitude",
		LonColumn:    "longitude",
		Timeout:      time.Second,
		Metrics:      m,
	}
}

func TestFillMissingPostalCodes(t *testing.T) {
	tbl := newGeoTable(t)
	rev := &fakeReverser{answers: map[float64]string{40.2: "11201-3301", 40.5: "7030"}}
	m := metrics.NewManager()

	res, err := FillMissingPostalCodes(context.Background(), tbl, rev, geoOpts(m))
	require.NoError(t, err)

	// row 0 already has a code, row 2 has no latitude
	assert.Equal(t, []call{{40.2, -73.2}, {40.4, -73.4}, {40.5, -73.5}}, rev.calls)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, []int{1, 4}, res.Filled)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []interface{}{"10001", "11201", nil, nil, "07030"}, tbl.Column("zip").Values)

	for _, i := range res.Filled {
		assert.False(t, tbl.Column("latitude").IsNull(i))
		assert.False(t, tbl.Column("longitude").IsNull(i))
	}
	// success and not_found series
	series, err := testutil.GatherAndCount(m.Registry(), "geoenrich_pipeline_geocode_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestFillMissingPostalCodesTimeoutLeavesNull(t *testing.T) {
	tbl := newGeoTable(t)
	slow := geocode.ReverserFunc(func(ctx context.Context, lat, lon float64) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	opts := geoOpts(metrics.NewManager())
	opts.Timeout = 10 * time.Millisecond

	res, err := FillMissingPostalCodes(context.Background(), tbl, slow, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	assert.Empty(t, res.Filled)
	assert.Equal(t, 4, tbl.NullCount("zip"))
}

func TestFillMissingPostalCodesRateLimited(t *testing.T) {
	tbl := newGeoTable(t)
	rev := &fakeReverser{}
	opts := geoOpts(metrics.NewManager())
	opts.MinDelay = 30 * time.Millisecond

	start := time.Now()
	_, err := FillMissingPostalCodes(context.Background(), tbl, rev, opts)
	require.NoError(t, err)
	assert.Len(t, rev.calls, 3)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestFillMissingPostalCodesCancelled(t *testing.T) {
	tbl := newGeoTable(t)
	ctx, cancel := context.WithCancel(context.Background())
	rev := geocode.ReverserFunc(func(context.Context, float64, float64) (string, error) {
		cancel()
		return "10001", nil
	})

	res, err := FillMissingPostalCodes(ctx, tbl, rev, geoOpts(metrics.NewManager()))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, res.Filled)
}

func TestFillMissingPostalCodesAddsPostalColumn(t *testing.T) {
	tbl, err := model.NewTable(
		&model.Column{Name: "lat", Type: model.TypeFloat, Values: []interface{}{1.0, 2.0}},
		&model.Column{Name: "lon", Type: model.TypeFloat, Values: []interface{}{1.0, 2.0}},
	)
	require.NoError(t, err)
	rev := &fakeReverser{answers: map[float64]string{1.0: "10001"}}

	res, err := FillMissingPostalCodes(context.Background(), tbl, rev, GeocodeOptions{
		PostalColumn: "postal", LatColumn: "lat", LonColumn: "lon", Metrics: metrics.NewManager(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, []interface{}{"10001", nil}, tbl.Column("postal").Values)
}

func TestFillMissingPostalCodesMissingCoordinates(t *testing.T) {
	tbl := newGeoTable(t)
	opts := geoOpts(metrics.NewManager())
	opts.LatColumn = "lat"
	_, err := FillMissingPostalCodes(context.Background(), tbl, &fakeReverser{}, opts)
	assert.Error(t, err)
}

func TestFillMissingPostalCodesUsesCache(t *testing.T) {
	next := &fakeReverser{answers: map[float64]string{40.2: "11201", 40.5: "07030"}}
	cache, err := geocode.OpenCache(filepath.Join(t.TempDir(), "cache.bolt"), next)
	require.NoError(t, err)
	defer cache.Close()

	_, err = FillMissingPostalCodes(context.Background(), newGeoTable(t), cache, geoOpts(metrics.NewManager()))
	require.NoError(t, err)
	require.Len(t, next.calls, 3)

	opts := geoOpts(metrics.NewManager())
	opts.MinDelay = time.Hour // cache hits skip the limiter; a second network call would block
	tbl := newGeoTable(t)
	res, err := FillMissingPostalCodes(context.Background(), tbl, cache, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CacheHits)
	assert.Len(t, next.calls, 4) // only the failed row is asked again
	hits, misses := cache.Stats()
	assert.Equal(t, res.CacheHits, hits)
	assert.Equal(t, 4, misses)
	assert.Equal(t, []interface{}{"10001", "11201", nil, nil, "07030"}, tbl.Column("zip").Values)
}
