package sync

import (
	"time"

	"crmsync/model"
)

// batchWriter buffers fetched records and applies them through the store
// in fixed-size staged batches. It tracks the ids written (for the
// deletion tie-break) and the maximum last_modified seen (the cursor
// candidate).
type batchWriter struct {
	store      RecordStore
	objectType string
	batchSize  int

	pending        []model.SourceRecord
	upsertedIDs    map[string]bool
	recordsSynced  int64
	latestModified time.Time
}

func newBatchWriter(store RecordStore, objectType string, batchSize int) *batchWriter {
	return &batchWriter{
		store:       store,
		objectType:  objectType,
		batchSize:   batchSize,
		pending:     make([]model.SourceRecord, 0, batchSize),
		upsertedIDs: make(map[string]bool),
	}
}

// Add buffers a page of records, flushing full batches as they fill.
func (writer *batchWriter) Add(records []model.SourceRecord) error {
	for i := range records {
		writer.pending = append(writer.pending, records[i])
		if len(writer.pending) >= writer.batchSize {
			if err := writer.flushPending(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush applies any remaining buffered records.
func (writer *batchWriter) Flush() error {
	if len(writer.pending) == 0 {
		return nil
	}
	return writer.flushPending()
}

func (writer *batchWriter) flushPending() error {
	if err := writer.store.UpsertBatch(writer.objectType, writer.pending); err != nil {
		return err
	}

	for i := range writer.pending {
		writer.upsertedIDs[writer.pending[i].ID] = true
		if writer.pending[i].LastModified.After(writer.latestModified) {
			writer.latestModified = writer.pending[i].LastModified
		}
	}
	writer.recordsSynced += int64(len(writer.pending))
	writer.pending = writer.pending[:0]
	return nil
}
