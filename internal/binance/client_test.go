package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/errors"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		BaseURL:        baseURL,
		PageLimit:      2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RequestsPerSec: 1000,
	}, NewWeightLimiter(6000, time.Minute), nil)
}

func klinePage(start time.Time, interval models.Interval, n int) string {
	page := "["
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * interval.Duration())
		if i > 0 {
			page += ","
		}
		page += fmt.Sprintf(`[%d,"50000","50500","49800","50200","120.5",%d,"6040000",4200,"60.2","3020000","0"]`,
			open.UnixMilli(), open.Add(interval.Duration()).UnixMilli()-1)
	}
	return page + "]"
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"ok":true}]`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	records, err := c.Fetch(context.Background(), "/test", nil, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpAfterAttemptBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Fetch(context.Background(), "/test", nil, 1)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindTransient, xerrors.KindOf(err))
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Fetch(context.Background(), "/test", nil, 1)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindInvalidRequest, xerrors.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestFetchRateLimitBudgetIsSeparate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		RateLimitAttempts: 1,
		InitialBackoff:    time.Millisecond,
		RequestsPerSec:    1000,
	}, NewWeightLimiter(6000, time.Minute), nil)

	_, err := c.Fetch(context.Background(), "/test", nil, 1)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindRateLimited, xerrors.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "rate-limit budget of 1 means no retry")
}

func TestFetchConsumesWeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	limiter := NewWeightLimiter(6000, time.Minute)
	c := NewClient(ClientConfig{BaseURL: srv.URL, RequestsPerSec: 1000}, limiter, nil)

	_, err := c.Fetch(context.Background(), "/test", nil, 5)
	require.NoError(t, err)
	used, _ := limiter.Window()
	assert.Equal(t, 5, used)
}

func TestFetchRetriesConsumeWeightEachAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	limiter := NewWeightLimiter(6000, time.Minute)
	c := NewClient(ClientConfig{
		BaseURL:        srv.URL,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RequestsPerSec: 1000,
	}, limiter, nil)

	_, err := c.Fetch(context.Background(), "/test", nil, 5)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())

	// Three physical requests, three grants.
	used, _ := limiter.Window()
	assert.Equal(t, 15, used)
}

func TestFetchKlineRangePagesByLastOpenTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	interval := models.Interval1h

	var starts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		require.NoError(t, err)
		cursor := time.UnixMilli(ms).UTC()
		starts = append(starts, cursor)

		// Serve two rows per page until the requested range is covered.
		remaining := int(start.Add(5 * time.Hour).Sub(cursor) / time.Hour)
		n := 2
		if remaining < n {
			n = remaining
		}
		fmt.Fprint(w, klinePage(cursor, interval, n))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	rows, err := c.FetchKlineRange(context.Background(), models.ExtractionRange{
		Symbol:   "BTCUSDT",
		Interval: interval,
		Start:    start,
		End:      start.Add(5 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	// Cursor always advances to last open time plus one interval.
	require.Len(t, starts, 3)
	assert.True(t, starts[0].Equal(start))
	assert.True(t, starts[1].Equal(start.Add(2*time.Hour)))
	assert.True(t, starts[2].Equal(start.Add(4*time.Hour)))
}

func TestFetchKlineRangeStopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows, err := c.FetchKlineRange(context.Background(), models.ExtractionRange{
		Symbol:   "BTCUSDT",
		Interval: models.Interval1h,
		Start:    start,
		End:      start.Add(10 * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, rows, "listing start later than range start yields an empty fetch")
}

func TestFetchKlineRangeDetectsStuckCursor(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always replay the same page regardless of the cursor.
		fmt.Fprint(w, klinePage(start.Add(-2*time.Hour), models.Interval1h, 1))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchKlineRange(context.Background(), models.ExtractionRange{
		Symbol:   "BTCUSDT",
		Interval: models.Interval1h,
		Start:    start,
		End:      start.Add(3 * time.Hour),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor did not advance")
}

func TestFetchFundingRangePagesByFundingTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pages.Add(1) == 1 {
			fmt.Fprintf(w, `[{"symbol":"BTCUSDT","fundingRate":"0.0001","fundingTime":%d}]`, start.UnixMilli())
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	rows, err := c.FetchFundingRange(context.Background(), "BTCUSDT", start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(2), pages.Load())
}

func TestFetchTradeRangePagesByAggTradeTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var paths []string
	var starts []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		ms, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		require.NoError(t, err)
		starts = append(starts, ms)

		if len(starts) == 1 {
			fmt.Fprintf(w, `[{"a":1,"p":"100","q":"2","f":1,"l":1,"T":%d,"m":false,"M":true}]`, start.UnixMilli())
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	rows, err := c.FetchTradeRange(context.Background(), "BTCUSDT", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.Len(t, paths, 2)
	assert.Equal(t, "/api/v3/aggTrades", paths[0])
	// The cursor is the last aggregate trade time plus one millisecond.
	assert.Equal(t, start.UnixMilli(), starts[0])
	assert.Equal(t, start.UnixMilli()+1, starts[1])
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestKlineWeightTiers(t *testing.T) {
	assert.Equal(t, 1, klineWeight(100))
	assert.Equal(t, 2, klineWeight(500))
	assert.Equal(t, 5, klineWeight(1000))
	assert.Equal(t, 10, klineWeight(1500))
}

func TestFetchKlineRangeRejectsBadRange(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:0")
	_, err := c.FetchKlineRange(context.Background(), models.ExtractionRange{
		Symbol:   "",
		Interval: models.Interval1h,
		Start:    time.Now(),
		End:      time.Now().Add(time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, xerrors.KindInvalidRequest, xerrors.KindOf(err))
}
