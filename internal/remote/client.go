// Package remote talks to the weather and geocoding REST provider.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/woozymasta/globeview/internal/cache"
	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/metrics"

	"github.com/rs/zerolog/log"
)

var (
	// ErrMissingAPIKey is returned before any request when no key was configured.
	ErrMissingAPIKey = errors.New("weather api key is not set")
	// ErrEmptyQuery is returned by Geocode for a blank search string.
	ErrEmptyQuery = errors.New("empty geocoding query")
)

// StatusError is a non-200 response from the provider.
type StatusError struct {
	Endpoint string
	Message  string
	Code     int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.Code)
}

// Client fetches weather and place data. Responses are kept in a cache.
type Client struct {
	HTTP    *http.Client
	cache   cache.Cache
	baseURL string
	apiKey  string
	ttl     time.Duration
}

// New builds a client from upstream settings. A nil cache disables caching.
func New(cfg config.Upstream, c cache.Cache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		cache:   c,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		ttl:     cfg.TTL,
	}
}

// getJSON performs a GET on endpoint and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	query.Set("key", c.apiKey)
	u := c.baseURL + "/" + endpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	// Explicitly ignore close error as it's a read-only operation
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "status").Inc()
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Message: providerMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "decode").Inc()
		return fmt.Errorf("%s: decode: %w", endpoint, err)
	}

	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// providerMessage extracts {"error":{"message":...}} from an error body.
func providerMessage(r io.Reader) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Error.Message
}

// cached returns the cached value for key or calls fetch and stores its result.
// Cache failures are logged and never fail the lookup.
func cached[T any](ctx context.Context, c *Client, op, key string, fetch func() (T, error)) (T, error) {
	if c.cache != nil {
		data, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			var v T
			if jsonErr := json.Unmarshal(data, &v); jsonErr == nil {
				metrics.CacheHits.WithLabelValues(op).Inc()
				return v, nil
			}
			log.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
		case !errors.Is(err, cache.ErrMiss):
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		metrics.CacheMisses.WithLabelValues(op).Inc()
	}

	v, err := fetch()
	if err != nil {
		return v, err
	}

	if c.cache != nil {
		data, err := json.Marshal(v)
		if err == nil {
			err = c.cache.Set(ctx, key, data, c.ttl)
		}
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
	}

	return v, nil
}
