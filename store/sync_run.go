package store

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"crmsync/model"
)

// CreateSyncRun appends one run record to the audit log.
func (store *Store) CreateSyncRun(run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	if err := store.db.Create(run).Error; err != nil {
		log.WithError(err).WithFields(log.Fields{
			"object_type": run.ObjectType, "status": run.Status,
		}).Error("Failed to create sync run record.")
		return errors.Wrap(err, "failed to create sync run record")
	}
	return nil
}
