package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestBulkWrittenCounting(t *testing.T) {
	// Three fresh upserts, two replays of existing documents (one of which
	// actually changed something).
	res := &mongo.BulkWriteResult{UpsertedCount: 3, MatchedCount: 2, ModifiedCount: 1}

	assert.Equal(t, 5, bulkWritten(res, true),
		"merge collections count replayed documents whether or not the merge changed them")
	assert.Equal(t, 3, bulkWritten(res, false),
		"insert-once collections count only new documents")
}

func TestBulkWrittenPartialBatch(t *testing.T) {
	// An unordered bulk that hit errors still reports what landed; the
	// count must reflect only those survivors.
	res := &mongo.BulkWriteResult{UpsertedCount: 4}
	assert.Equal(t, 4, bulkWritten(res, true))
	assert.Equal(t, 4, bulkWritten(res, false))
}
