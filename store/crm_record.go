package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"crmsync/model"
)

// The staging table lives for one transaction: each upsert batch is
// staged and merged atomically, so readers never observe a partially
// applied batch.
const createStagingTableSQL = "CREATE TEMPORARY TABLE crm_records_stage" +
	" (LIKE crm_records INCLUDING DEFAULTS) ON COMMIT DROP"

const mergeStagingSQL = `INSERT INTO crm_records
	(object_type, external_id, properties, last_modified, synced_at, is_deleted, deleted_at)
SELECT object_type, external_id, properties, last_modified, synced_at, FALSE, NULL
FROM crm_records_stage
ON CONFLICT (object_type, external_id) DO UPDATE SET
	properties = EXCLUDED.properties,
	last_modified = EXCLUDED.last_modified,
	synced_at = EXCLUDED.synced_at,
	is_deleted = FALSE,
	deleted_at = NULL`

// The conditional on is_deleted keeps re-runs from advancing deleted_at
// on rows already marked.
const markDeletedSQL = `UPDATE crm_records
SET is_deleted = TRUE, deleted_at = ?
WHERE object_type = ? AND is_deleted = FALSE AND external_id IN (?)`

func stagingInsertSQL(rowCount int) string {
	values := make([]string, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		values = append(values, "(?, ?, ?, ?, ?)")
	}
	return "INSERT INTO crm_records_stage" +
		" (object_type, external_id, properties, last_modified, synced_at)" +
		" VALUES " + strings.Join(values, ", ")
}

// dedupeRecords keeps the last occurrence per id. The merge statement
// rejects a batch touching the same key twice.
func dedupeRecords(records []model.SourceRecord) []model.SourceRecord {
	seen := make(map[string]int, len(records))
	deduped := make([]model.SourceRecord, 0, len(records))
	for i := range records {
		if at, exists := seen[records[i].ID]; exists {
			deduped[at] = records[i]
			continue
		}
		seen[records[i].ID] = len(deduped)
		deduped = append(deduped, records[i])
	}
	return deduped
}

// UpsertBatch writes one batch of source records into a transient staging
// table and merges it into crm_records by primary key: matching rows are
// updated, others inserted. The merge clears is_deleted and deleted_at, so
// a previously soft-deleted record reappearing on the source is
// resurrected by the ordinary write path.
func (store *Store) UpsertBatch(objectType string, records []model.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}

	logCtx := log.WithFields(log.Fields{"object_type": objectType,
		"batch_size": len(records)})

	records = dedupeRecords(records)
	syncedAt := time.Now().UTC()

	args := make([]interface{}, 0, len(records)*5)
	for i := range records {
		properties, err := json.Marshal(records[i].Properties)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal properties for record %s", records[i].ID)
		}
		args = append(args, objectType, records[i].ID, string(properties),
			records[i].LastModified, syncedAt)
	}

	tx := store.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "failed to begin upsert transaction")
	}

	if err := tx.Exec(createStagingTableSQL).Error; err != nil {
		tx.Rollback()
		logCtx.WithError(err).Error("Failed to create staging table.")
		return errors.Wrap(err, "failed to create staging table")
	}

	if err := tx.Exec(stagingInsertSQL(len(records)), args...).Error; err != nil {
		tx.Rollback()
		logCtx.WithError(err).Error("Failed to insert records into staging table.")
		return errors.Wrap(err, "failed to stage records")
	}

	if err := tx.Exec(mergeStagingSQL).Error; err != nil {
		tx.Rollback()
		logCtx.WithError(err).Error("Failed to merge staged records.")
		return errors.Wrap(err, "failed to merge staged records")
	}

	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "failed to commit upsert batch")
	}
	return nil
}

// MarkDeleted flags the given ids as logically deleted in one bulk update,
// touching only rows still active. Returns the number of rows marked.
func (store *Store) MarkDeleted(objectType string, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	result := store.db.Exec(markDeletedSQL, time.Now().UTC(), objectType, externalIDs)
	if result.Error != nil {
		log.WithError(result.Error).WithField("object_type", objectType).
			Error("Failed to mark records as deleted.")
		return 0, errors.Wrap(result.Error, "failed to mark records as deleted")
	}
	return result.RowsAffected, nil
}

// ActiveIDs returns the set of external ids currently active, id
// projection only.
func (store *Store) ActiveIDs(objectType string) (map[string]bool, error) {
	var externalIDs []string
	err := store.db.Model(&model.CRMRecord{}).
		Where("object_type = ? AND is_deleted = ?", objectType, false).
		Pluck("external_id", &externalIDs).Error
	if err != nil {
		log.WithError(err).WithField("object_type", objectType).
			Error("Failed to get active record ids.")
		return nil, errors.Wrap(err, "failed to get active record ids")
	}

	ids := make(map[string]bool, len(externalIDs))
	for i := range externalIDs {
		ids[externalIDs[i]] = true
	}
	return ids, nil
}

// ActiveCount returns the number of active rows for the object type.
func (store *Store) ActiveCount(objectType string) (int64, error) {
	var count int64
	err := store.db.Model(&model.CRMRecord{}).
		Where("object_type = ? AND is_deleted = ?", objectType, false).
		Count(&count).Error
	if err != nil {
		log.WithError(err).WithField("object_type", objectType).
			Error("Failed to count active records.")
		return 0, errors.Wrap(err, "failed to count active records")
	}
	return count, nil
}
