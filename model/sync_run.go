package model

import "time"

// Sync run status values. Mismatch and failed must propagate as erroring
// outcomes to the invoking layer.
const (
	SyncRunStatusOK       = "ok"
	SyncRunStatusMismatch = "mismatch"
	SyncRunStatusFailed   = "failed"
)

// SyncRun is an interface for the sync_runs table. Append-only audit log,
// one row per run, written at run end by the validator.
type SyncRun struct {
	ID                     string    `gorm:"primary_key:true" json:"id"`
	ObjectType             string    `json:"object_type"`
	StartedAt              time.Time `json:"started_at"`
	FinishedAt             time.Time `json:"finished_at"`
	RecordsSynced          int64     `json:"records_synced"`
	SourceCount            int64     `json:"source_count"`
	DestinationActiveCount int64     `json:"destination_active_count"`
	FullPass               bool      `gorm:"default:false;not null" json:"full_pass"`
	Status                 string    `json:"status"`
	Message                string    `gorm:"default:null" json:"message,omitempty"`
}
