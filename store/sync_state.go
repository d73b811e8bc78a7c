package store

import (
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"crmsync/model"
)

// GetSyncState returns the persisted sync state for the object type. A
// type that has never synced gets a fresh state with the zero cursor.
func (store *Store) GetSyncState(objectType string) (*model.SyncState, error) {
	var state model.SyncState
	err := store.db.Limit(1).Where("object_type = ?", objectType).
		Find(&state).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return &model.SyncState{ObjectType: objectType, CountsMatched: true}, nil
		}
		log.WithError(err).WithField("object_type", objectType).
			Error("Failed to get sync state.")
		return nil, errors.Wrap(err, "failed to get sync state")
	}
	return &state, nil
}

// SaveSyncState persists the state, creating the row on first save.
func (store *Store) SaveSyncState(state *model.SyncState) error {
	state.UpdatedAt = time.Now().UTC()

	var existing model.SyncState
	err := store.db.Limit(1).Where("object_type = ?", state.ObjectType).
		Find(&existing).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			if err := store.db.Create(state).Error; err != nil {
				return errors.Wrap(err, "failed to create sync state")
			}
			return nil
		}
		return errors.Wrap(err, "failed to check sync state existence")
	}

	if err := store.db.Save(state).Error; err != nil {
		log.WithError(err).WithField("object_type", state.ObjectType).
			Error("Failed to save sync state.")
		return errors.Wrap(err, "failed to save sync state")
	}
	return nil
}
