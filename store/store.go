package store

import (
	"github.com/jinzhu/gorm"
	log "github.com/sirupsen/logrus"

	"crmsync/model"
)

// Store is the destination side of the sync: a postgres database holding
// synchronized CRM records, the per-type sync cursor state and the
// append-only run log.
type Store struct {
	db *gorm.DB
}

// New returns a Store on the given database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the destination tables.
func (store *Store) Migrate() error {
	err := store.db.AutoMigrate(&model.CRMRecord{}, &model.SyncState{},
		&model.SyncRun{}).Error
	if err != nil {
		log.WithError(err).Error("Failed to migrate destination tables.")
		return err
	}
	return nil
}
