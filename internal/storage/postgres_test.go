package storage

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePerRecordDropsOnlyTheBadRecord(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	attempts := make(map[int]int)
	written, err := writePerRecord(log, "candles", 5, func(i int) error {
		attempts[i]++
		if i == 2 {
			return errors.New("numeric value out of range")
		}
		return nil
	})
	require.NoError(t, err, "a dropped record must not fail the batch")
	assert.Equal(t, 4, written, "count reflects the survivors")

	assert.Equal(t, perRecordAttempts, attempts[2], "the bad record is retried before dropping")
	for _, i := range []int{0, 1, 3, 4} {
		assert.Equal(t, 1, attempts[i])
	}

	assert.Contains(t, buf.String(), "dropping record after per-record retries")
	assert.Contains(t, buf.String(), "index=2")
}

func TestWritePerRecordCountsRecoveredRecords(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	failures := perRecordAttempts - 1
	written, err := writePerRecord(log, "trades", 1, func(i int) error {
		if failures > 0 {
			failures--
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, written, "a record that recovers within the attempt limit counts")
}

func TestWritePerRecordAllFailing(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	written, err := writePerRecord(log, "funding_rates", 3, func(i int) error {
		return errors.New("relation does not exist")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, written)
}
