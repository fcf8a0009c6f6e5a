package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/errors"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

const (
	defaultBaseURL = "https://api.binance.com"

	klinesEndpoint  = "/api/v3/klines"
	tradesEndpoint  = "/api/v3/aggTrades"
	fundingEndpoint = "/fapi/v1/fundingRate"

	defaultPageLimit      = 1000
	defaultRequestTimeout = 30 * time.Second

	defaultMaxAttempts       = 5
	defaultRateLimitAttempts = 2
	defaultInitialBackoff    = 500 * time.Millisecond
	defaultMaxBackoff        = 30 * time.Second
	defaultRateLimitBackoff  = 15 * time.Second
	backoffMultiplier        = 2.0
	backoffJitter            = 0.5
)

// ClientConfig tunes the REST client. The zero value is usable; defaults are
// applied by NewClient.
type ClientConfig struct {
	BaseURL           string
	PageLimit         int
	RequestTimeout    time.Duration
	MaxAttempts       int           // attempt budget for transient failures
	RateLimitAttempts int           // smaller budget for 429 responses
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RateLimitBackoff  time.Duration // applied when 429 carries no Retry-After
	RequestsPerSec    float64       // raw request pacing on top of the weight window
}

func (c *ClientConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.PageLimit <= 0 {
		c.PageLimit = defaultPageLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RateLimitAttempts <= 0 {
		c.RateLimitAttempts = defaultRateLimitAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = defaultRateLimitBackoff
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 10
	}
}

// Client fetches time-series market data from a Binance-shaped REST API.
// Every request reserves its weight with the shared WeightLimiter and waits
// on the per-second pacer before hitting the network. Safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	weights *WeightLimiter
	pacer   *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a client over the shared weight limiter. The limiter is
// passed in, never constructed here, so every worker in a run shares one
// budget view and tests can hand in an isolated instance.
func NewClient(cfg ClientConfig, weights *WeightLimiter, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		weights: weights,
		pacer:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:  logger.With("component", "binance_client"),
	}
}

// klineWeight mirrors the exchange's published weight table for the klines
// endpoint, which scales with the per-request limit.
func klineWeight(limit int) int {
	switch {
	case limit <= 100:
		return 1
	case limit <= 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}

// Fetch issues one rate-limited GET against endpoint with params and returns
// the raw records of the response array. Retries follow the taxonomy:
// transient failures and 5xx back off exponentially with jitter up to
// MaxAttempts; 429 honors Retry-After (or RateLimitBackoff) within the
// smaller RateLimitAttempts budget; other 4xx surface immediately.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values, weight int) ([]json.RawMessage, error) {
	reqURL := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	body, err := c.getWithRetry(ctx, endpoint, reqURL, weight)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.InvalidRequest(endpoint, fmt.Errorf("unexpected response shape: %w", err))
	}
	return records, nil
}

func (c *Client) getWithRetry(ctx context.Context, op, reqURL string, weight int) ([]byte, error) {
	var (
		body          []byte
		transientLeft = c.cfg.MaxAttempts
		rateLimitLeft = c.cfg.RateLimitAttempts
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.Multiplier = backoffMultiplier
	bo.RandomizationFactor = backoffJitter
	bo.MaxElapsedTime = 0 // bounded by attempt counters and ctx

	operation := func() error {
		// Retries are physical requests too: each attempt reserves its
		// weight and waits on the pacer before touching the network.
		if err := c.weights.Acquire(ctx, weight); err != nil {
			return backoff.Permanent(fmt.Errorf("acquiring request weight: %w", err))
		}
		if err := c.pacer.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("request pacing: %w", err))
		}

		b, err := c.getOnce(ctx, op, reqURL)
		if err == nil {
			body = b
			return nil
		}

		switch errors.KindOf(err) {
		case errors.KindInvalidRequest:
			return backoff.Permanent(err)
		case errors.KindRateLimited:
			rateLimitLeft--
			if rateLimitLeft <= 0 {
				return backoff.Permanent(err)
			}
			delay := errors.RetryAfterHint(err)
			if delay <= 0 {
				delay = c.cfg.RateLimitBackoff
			}
			c.logger.Warn("rate limited by server despite local limiting",
				"op", op, "retry_after", delay, "attempts_left", rateLimitLeft)
			// Honor the server's delay here; the exponential schedule only
			// governs transient failures.
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
			return err
		default:
			transientLeft--
			if transientLeft <= 0 {
				return backoff.Permanent(err)
			}
			c.logger.Warn("request failed, backing off",
				"op", op, "error", err, "attempts_left", transientLeft)
			return err
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		return nil, errors.Transient(op, err)
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, op, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.InvalidRequest(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transient(op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.FromStatus(op, resp.StatusCode, truncateBody(body), parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	return body, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// FetchKlineRange pages through the klines endpoint until [Start, End) is
// covered, returning the raw rows in ascending time order. The cursor always
// advances to the open time of the last returned row plus one interval, never
// by record count, so a short page cannot double-count rows.
func (c *Client) FetchKlineRange(ctx context.Context, r models.ExtractionRange) ([]json.RawMessage, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.InvalidRequest("klines", err)
	}

	var rows []json.RawMessage
	cursor := r.Start
	step := r.Interval.Duration()

	for cursor.Before(r.End) {
		params := url.Values{}
		params.Set("symbol", r.Symbol)
		params.Set("interval", r.Interval.String())
		params.Set("startTime", strconv.FormatInt(cursor.UnixMilli(), 10))
		params.Set("endTime", strconv.FormatInt(r.End.UnixMilli()-1, 10))
		params.Set("limit", strconv.Itoa(c.cfg.PageLimit))

		page, err := c.Fetch(ctx, klinesEndpoint, params, klineWeight(c.cfg.PageLimit))
		if err != nil {
			return rows, err
		}
		if len(page) == 0 {
			break
		}
		rows = append(rows, page...)

		last := gjson.ParseBytes(page[len(page)-1])
		lastOpen := time.UnixMilli(last.Get("0").Int()).UTC()
		next := lastOpen.Add(step)
		if !next.After(cursor) {
			// Defend against a non-advancing cursor on a malformed page.
			return rows, errors.InvalidRequest("klines", fmt.Errorf("page cursor did not advance past %s", cursor))
		}
		cursor = next
	}
	return rows, nil
}

// FetchFundingRange pages the funding-rate endpoint over [Start, End),
// advancing by the last funding time plus one millisecond.
func (c *Client) FetchFundingRange(ctx context.Context, symbol string, start, end time.Time) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	cursor := start

	for cursor.Before(end) {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("startTime", strconv.FormatInt(cursor.UnixMilli(), 10))
		params.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
		params.Set("limit", strconv.Itoa(c.cfg.PageLimit))

		page, err := c.Fetch(ctx, fundingEndpoint, params, 1)
		if err != nil {
			return rows, err
		}
		if len(page) == 0 {
			break
		}
		rows = append(rows, page...)

		last := gjson.ParseBytes(page[len(page)-1])
		next := time.UnixMilli(last.Get("fundingTime").Int()).UTC().Add(time.Millisecond)
		if !next.After(cursor) {
			return rows, errors.InvalidRequest("fundingRate", fmt.Errorf("page cursor did not advance past %s", cursor))
		}
		cursor = next
	}
	return rows, nil
}

// FetchTradeRange pages the aggregate-trades endpoint over [Start, End),
// advancing by the last trade time plus one millisecond.
func (c *Client) FetchTradeRange(ctx context.Context, symbol string, start, end time.Time) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	cursor := start

	for cursor.Before(end) {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("startTime", strconv.FormatInt(cursor.UnixMilli(), 10))
		params.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
		params.Set("limit", strconv.Itoa(c.cfg.PageLimit))

		page, err := c.Fetch(ctx, tradesEndpoint, params, 1)
		if err != nil {
			return rows, err
		}
		if len(page) == 0 {
			break
		}
		rows = append(rows, page...)

		last := gjson.ParseBytes(page[len(page)-1])
		next := time.UnixMilli(last.Get("T").Int()).UTC().Add(time.Millisecond)
		if !next.After(cursor) {
			return rows, errors.InvalidRequest("aggTrades", fmt.Errorf("page cursor did not advance past %s", cursor))
		}
		cursor = next
	}
	return rows, nil
}
