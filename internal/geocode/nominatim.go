package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"go-geo-enrich/pkg/logger"
)

// NominatimConfig configures a Nominatim client.
type NominatimConfig struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration // per attempt
	MaxRetries   int           // 0 disables retries
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Nominatim is a reverse-geocoding client for the OpenStreetMap Nominatim API.
type Nominatim struct {
	base      *url.URL
	userAgent string
	client    *retryablehttp.Client
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// NewNominatim builds a client. A user agent is required by the service's
// usage policy.
func NewNominatim(cfg NominatimConfig) (*Nominatim, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid geocoder base URL %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, errors.New("geocoder user agent is required")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil
	// hand the last response back instead of a generic "giving up" error
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Nominatim{base: base, userAgent: cfg.UserAgent, client: client}, nil
}

// Reverse looks up the postcode at lat/lon.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	u := *n.base
	u.Path += "/reverse"
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("addressdetails", "1")
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "building reverse request")
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "reverse geocoding %v,%v", lat, lon)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", errors.Errorf("geocoder returned %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decoding geocoder response")
	}
	if body.Error != "" || strings.TrimSpace(body.Address.Postcode) == "" {
		logger.Named("geocode").Debug(ctx, "no postcode in response",
			logger.Float64("lat", lat), logger.Float64("lon", lon), logger.String("service_error", body.Error))
		return "", ErrNoResult
	}
	return strings.TrimSpace(body.Address.Postcode), nil
}
