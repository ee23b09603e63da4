// Package providers holds the shared guarded transport used by every
// upstream client. A fetch passes the rate limiter, the daily budget, and
// the circuit breaker before touching the network, and successful bodies are
// cached under the caller's key.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/net/breaker"
	"github.com/defiinsight/insight/internal/net/budget"
	"github.com/defiinsight/insight/internal/net/httpx"
	"github.com/defiinsight/insight/internal/net/ratelimit"
)

// staleTTL is how long a successful response stays usable as a degraded
// fallback after its fresh TTL expires.
const staleTTL = 24 * time.Hour

// maxBodyBytes caps upstream response bodies. CoinGecko's full coin list is
// the largest payload we handle and stays well under this.
const maxBodyBytes = 8 << 20

// Client is the shared transport for all provider packages.
type Client struct {
	cfg      *config.ProvidersConfig
	pool     *httpx.ClientPool
	limiters *ratelimit.Manager
	budgets  *budget.Manager
	breakers *breaker.Manager
	store    cache.Cache
}

// New builds the guarded transport from provider configuration.
func New(cfg *config.ProvidersConfig, store cache.Cache) *Client {
	return &Client{
		cfg:      cfg,
		pool:     httpx.NewClientPool(httpx.ClientConfigFromProviders(cfg)),
		limiters: ratelimit.NewManagerFromConfig(cfg),
		budgets:  budget.NewManagerFromConfig(cfg),
		breakers: breaker.NewManagerFromConfig(cfg),
		store:    store,
	}
}

// Request describes one upstream call.
type Request struct {
	Provider string
	Method   string // Defaults to GET
	URL      string
	Headers  map[string]string
	Body     []byte

	CacheKey string        // Empty disables caching
	TTL      time.Duration // Zero uses the provider's configured TTL

	// PreRequest runs only when the request actually goes to the network,
	// never on cache hits. Used for provider-specific cooldowns.
	PreRequest func(context.Context) error
}

// Fetch performs the request and decodes the JSON body into out. When the
// upstream fails but a stale cached body exists, out is filled from it and
// the returned error wraps ErrDegraded so callers can keep the data.
func (c *Client) Fetch(ctx context.Context, r Request, out interface{}) error {
	if r.CacheKey != "" {
		if body, ok := c.store.Get(ctx, r.CacheKey); ok {
			return json.Unmarshal(body, out)
		}
	}

	body, err := c.fetchBody(ctx, r)
	if err != nil {
		if r.CacheKey != "" {
			if stale, ok := c.store.Get(ctx, "stale:"+r.CacheKey); ok {
				if uerr := json.Unmarshal(stale, out); uerr == nil {
					log.Warn().
						Str("provider", r.Provider).
						Str("cache_key", r.CacheKey).
						Err(err).
						Msg("Serving stale cached response")
					return fmt.Errorf("%w: %s: %v", ErrDegraded, r.Provider, err)
				}
			}
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", r.Provider, err)
	}

	if r.CacheKey != "" {
		ttl := r.TTL
		if ttl == 0 {
			if pc, ok := c.cfg.GetProvider(r.Provider); ok {
				ttl = pc.GetCacheTTL()
			}
		}
		if ttl > 0 {
			if err := c.store.Set(ctx, r.CacheKey, body, ttl); err != nil {
				log.Debug().Err(err).Str("cache_key", r.CacheKey).Msg("Cache write failed")
			}
			_ = c.store.Set(ctx, "stale:"+r.CacheKey, body, staleTTL)
		}
	}

	return nil
}

func (c *Client) fetchBody(ctx context.Context, r Request) ([]byte, error) {
	pc, known := c.cfg.GetProvider(r.Provider)
	if known && !pc.Enabled {
		return nil, fmt.Errorf("%s: %w", r.Provider, ErrDisabled)
	}

	if r.PreRequest != nil {
		if err := r.PreRequest(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", r.Provider, err)
		}
	}

	host := ""
	if known {
		host = pc.Host
	}
	if err := c.limiters.Wait(ctx, r.Provider, host); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", r.Provider, err)
	}
	if err := c.budgets.Consume(r.Provider); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Provider, err)
	}

	if known && pc.Circuit.RequestTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pc.GetRequestTimeout())
		defer cancel()
	}

	result, err := c.breakers.Execute(r.Provider, func() (interface{}, error) {
		return c.doRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) doRequest(ctx context.Context, r Request) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if len(r.Body) > 0 {
		reqBody = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequest(method, r.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", r.Provider, err)
	}
	if len(r.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
		payload := r.Body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.pool.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", r.Provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Provider:   r.Provider,
			StatusCode: resp.StatusCode,
			Snippet:    snippet(body),
		}
	}

	log.Debug().
		Str("provider", r.Provider).
		Str("url", r.URL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Provider request completed")

	return body, nil
}

// Status is a point-in-time snapshot of all transport guards, exposed on the
// status endpoint.
type Status struct {
	Breakers  map[string]breaker.Status           `json:"breakers"`
	Budgets   map[string]budget.Stats             `json:"budgets"`
	RateLimit map[string]map[string]ratelimit.Stats `json:"rate_limits"`
	Pool      httpx.ClientStats                   `json:"pool"`
	Cache     cache.Stats                         `json:"cache"`
}

// Status reports the current guard state for every provider.
func (c *Client) Status() Status {
	return Status{
		Breakers:  c.breakers.StatusAll(),
		Budgets:   c.budgets.Stats(),
		RateLimit: c.limiters.Stats(),
		Pool:      c.pool.GetStats(),
		Cache:     c.store.Stats(),
	}
}

// Breakers exposes the breaker manager for fallback-chain decisions.
func (c *Client) Breakers() *breaker.Manager { return c.breakers }

// Healthy reports whether no provider circuit is open.
func (c *Client) Healthy() bool { return c.breakers.Healthy() }

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
