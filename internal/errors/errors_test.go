package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  Kind
		retryable bool
	}{
		{http.StatusInternalServerError, KindTransient, true},
		{http.StatusBadGateway, KindTransient, true},
		{http.StatusServiceUnavailable, KindTransient, true},
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusBadRequest, KindInvalidRequest, false},
		{http.StatusNotFound, KindInvalidRequest, false},
		{http.StatusTeapot, KindInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromStatus("fetch", tt.status, "body", 0)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}

	assert.NoError(t, FromStatus("fetch", http.StatusOK, "", 0))
	assert.NoError(t, FromStatus("fetch", http.StatusNoContent, "", 0))
}

func TestRetryAfterHint(t *testing.T) {
	err := FromStatus("fetch", http.StatusTooManyRequests, "slow down", 7*time.Second)
	assert.Equal(t, 7*time.Second, RetryAfterHint(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, 7*time.Second, RetryAfterHint(wrapped), "hint survives wrapping")

	assert.Equal(t, time.Duration(0), RetryAfterHint(stderrors.New("plain")))
}

func TestKindMatchingThroughWrapping(t *testing.T) {
	base := Transient("fetch", stderrors.New("connection reset"))
	wrapped := fmt.Errorf("page 3: %w", base)

	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, &Error{Kind: KindTransient}))
	assert.False(t, stderrors.Is(wrapped, &Error{Kind: KindRateLimited}))
}

func TestValidationIsNotRetryable(t *testing.T) {
	err := Validation("parse_candle", stderrors.New("negative volume"))
	assert.False(t, Retryable(err))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestStorageConflictIsRetryable(t *testing.T) {
	err := StorageConflict("write_candles", stderrors.New("duplicate key"))
	assert.True(t, Retryable(err))
}

func TestUnclassifiedErrors(t *testing.T) {
	plain := stderrors.New("something odd")
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.False(t, Retryable(plain))
}

func TestErrorMessageCarriesOpAndKind(t *testing.T) {
	err := RateLimited("fetch_klines", stderrors.New("429"), time.Second)
	assert.Contains(t, err.Error(), "fetch_klines")
	assert.Contains(t, err.Error(), "rate_limited")
}
