package model

import (
	"time"

	"github.com/jinzhu/gorm/dialects/postgres"
)

// SourceRecord is a single record as returned by the source CRM API.
// Property values are kept as strings the way the API returns them.
type SourceRecord struct {
	ID           string            `json:"id"`
	Properties   map[string]string `json:"properties"`
	LastModified time.Time         `json:"last_modified"`
}

// CRMRecord is an interface for the crm_records table. Rows are never
// physically removed once created; removals on the source side are
// represented by is_deleted/deleted_at.
type CRMRecord struct {
	ObjectType   string          `gorm:"primary_key:true;auto_increment:false" json:"object_type"`
	ExternalID   string          `gorm:"primary_key:true;auto_increment:false" json:"external_id"`
	Properties   *postgres.Jsonb `json:"properties"`
	LastModified time.Time       `json:"last_modified"`
	SyncedAt     time.Time       `json:"synced_at"`
	IsDeleted    bool            `gorm:"default:false;not null" json:"is_deleted"`
	DeletedAt    *time.Time      `gorm:"default:null" json:"deleted_at"`
}

// LatestModified returns the maximum last_modified among records,
// the zero time if none carries one.
func LatestModified(records []SourceRecord) time.Time {
	var latest time.Time
	for i := range records {
		if records[i].LastModified.After(latest) {
			latest = records[i].LastModified
		}
	}
	return latest
}
