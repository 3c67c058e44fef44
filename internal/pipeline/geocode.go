package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/geocode"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/logger"
	"go-geo-enrich/pkg/metrics"
	"go-geo-enrich/pkg/utils"
)

// GeocodeOptions controls the reverse-geocoding fill
type GeocodeOptions struct {
	PostalColumn string
	LatColumn    string
	LonColumn    string
	Timeout      time.Duration // per call; 0 means no timeout
	MinDelay     time.Duration // minimum spacing between calls
	Metrics      *metrics.Manager
}

// GeocodeOptionsFromConfig converts the geocode section of the config
func GeocodeOptionsFromConfig(c config.GeocodeConfig) GeocodeOptions {
	return GeocodeOptions{
		PostalColumn: c.PostalColumn,
		LatColumn:    c.LatColumn,
		LonColumn:    c.LonColumn,
		Timeout:      c.Timeout,
		MinDelay:     c.MinDelay,
	}
}

// GeocodeResult reports what the fill did
type GeocodeResult struct {
	Candidates int           `json:"candidates"`
	Filled     []int         `json:"filled"` // row indices
	Failed     int           `json:"failed"`
	CacheHits  int           `json:"cache_hits"`
	Duration   time.Duration `json:"duration"`
}

// cachedReverser is implemented by reversers that can answer locally
// without a network call.
type cachedReverser interface {
	Get(lat, lon float64) (string, bool)
}

// FillMissingPostalCodes reverse-geocodes rows whose postal code is missing
// but whose coordinates are present. Rows are processed in order with one
// call in flight. A failed call leaves the value missing.
func FillMissingPostalCodes(ctx context.Context, t *model.Table, rev geocode.Reverser, opts GeocodeOptions) (GeocodeResult, error) {
	start := time.Now()
	var result GeocodeResult

	lat, lon := t.Column(opts.LatColumn), t.Column(opts.LonColumn)
	if lat == nil || lon == nil {
		return result, errors.Errorf("coordinate columns %q/%q not found", opts.LatColumn, opts.LonColumn)
	}
	postal := t.Column(opts.PostalColumn)
	if postal == nil {
		postal = model.NewColumn(opts.PostalColumn, model.TypePostal, t.NumRows())
		postal.Values = postal.Values[:t.NumRows()]
		if err := t.AddColumn(postal); err != nil {
			return result, err
		}
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}
	var limiter *rate.Limiter
	if opts.MinDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinDelay), 1)
	}
	cache, _ := rev.(cachedReverser)
	log := logger.Named("geocode")

	for i := 0; i < t.NumRows(); i++ {
		if !postal.IsNull(i) || lat.IsNull(i) || lon.IsNull(i) {
			continue
		}
		y, okY := lat.Float(i)
		x, okX := lon.Float(i)
		if !okY || !okX {
			continue
		}
		result.Candidates++

		if cache != nil {
			if zip, ok := cache.Get(y, x); ok {
				if zip = utils.NormalizePostalCode(zip); zip != "" {
					postal.Values[i] = zip
					result.Filled = append(result.Filled, i)
					result.CacheHits++
					m.RecordGeocode(metrics.OutcomeCached, 0)
					m.RecordPostalFilled()
					continue
				}
			}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				result.Duration = time.Since(start)
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				return result, errors.Wrap(err, "waiting for geocode rate limit")
			}
		}
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		zip, latency, err := reverseOnce(ctx, rev, y, x, opts.Timeout)
		if ctx.Err() != nil {
			result.Duration = time.Since(start)
			return result, ctx.Err()
		}
		if err == nil {
			zip = utils.NormalizePostalCode(zip)
			if zip == "" {
				err = geocode.ErrNoResult
			}
		}
		if err != nil {
			result.Failed++
			outcome := metrics.OutcomeError
			if errors.Is(err, geocode.ErrNoResult) {
				outcome = metrics.OutcomeNotFound
			}
			m.RecordGeocode(outcome, latency)
			log.Debug(ctx, "reverse geocode failed",
				logger.Int("row", i), logger.Float64("lat", y), logger.Float64("lon", x), logger.Error(err))
			continue
		}

		postal.Values[i] = zip
		result.Filled = append(result.Filled, i)
		m.RecordGeocode(metrics.OutcomeSuccess, latency)
		m.RecordPostalFilled()

		if len(result.Filled)%100 == 0 || len(result.Filled) <= 10 {
			log.Info(ctx, "🌍 postal codes filled",
				logger.Int("filled", len(result.Filled)), logger.Int("candidates_seen", result.Candidates))
		}
	}

	result.Duration = time.Since(start)
	log.Info(ctx, "🌍 geocode fill done",
		logger.Int("candidates", result.Candidates),
		logger.Int("filled", len(result.Filled)),
		logger.Int("failed", result.Failed),
		logger.Int("cache_hits", result.CacheHits),
		logger.Duration("took", result.Duration))
	return result, nil
}

func reverseOnce(ctx context.Context, rev geocode.Reverser, lat, lon float64, timeout time.Duration) (string, time.Duration, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	zip, err := rev.Reverse(callCtx, lat, lon)
	return zip, time.Since(start), err
}
