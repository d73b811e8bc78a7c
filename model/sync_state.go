package model

import "time"

// SyncState is an interface for the sync_states table. One row per object
// type, owned by the sync engine. CursorTimestamp bounds the next
// incremental fetch window; the zero time means the type has never been
// synchronized and the next run performs a full fetch.
type SyncState struct {
	ObjectType        string    `gorm:"primary_key:true;auto_increment:false" json:"object_type"`
	CursorTimestamp   time.Time `json:"cursor_timestamp"`
	LastSourceCount   int64     `json:"last_source_count"`
	CountsMatched     bool      `gorm:"default:true;not null" json:"counts_matched"`
	RunsSinceFullPass int       `gorm:"default:0;not null" json:"runs_since_full_pass"`
	UpdatedAt         time.Time `json:"updated_at"`
}
