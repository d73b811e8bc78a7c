package sync

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"crmsync/model"
)

// RecordSource is the paginated source API surface the engine needs: full
// and incremental record streams, batch reads by id, and the shared
// identity projection used for deletion detection and count validation.
type RecordSource interface {
	FetchAll(objectType model.ObjectType, page func([]model.SourceRecord) error) error
	FetchUpdated(objectType model.ObjectType, since time.Time, page func([]model.SourceRecord) error) error
	FetchByIDs(objectType model.ObjectType, ids []string, page func([]model.SourceRecord) error) error
	ListIDs(objectType model.ObjectType) (map[string]bool, error)
	Count(objectType model.ObjectType) (int64, error)
}

// RecordStore is the destination store surface: staged batch upserts,
// bulk soft deletes, identity/count projections and cross-run state.
type RecordStore interface {
	UpsertBatch(objectType string, records []model.SourceRecord) error
	MarkDeleted(objectType string, externalIDs []string) (int64, error)
	ActiveIDs(objectType string) (map[string]bool, error)
	ActiveCount(objectType string) (int64, error)
	GetSyncState(objectType string) (*model.SyncState, error)
	SaveSyncState(state *model.SyncState) error
	CreateSyncRun(run *model.SyncRun) error
}

const (
	defaultBatchSize             = 1000
	defaultReconcileEvery        = 10
	defaultMaxSourceDropFraction = 0.5
)

// Engine runs one synchronization pass per object type: incremental
// upserts, periodic full-identity reconciliation with soft deletes, and
// count validation. Runs are idempotent; the cursor only advances after
// validation succeeds, so a failed or killed run is safe to retry.
type Engine struct {
	source RecordSource
	store  RecordStore

	// BatchSize is the number of records staged and merged per batch.
	BatchSize int
	// ReconcileEvery is the number of incremental runs between
	// full-identity reconciliation passes.
	ReconcileEvery int
	// MaxSourceDropFraction bounds how far the source identity count may
	// fall versus the previous run before the deletion phase is aborted.
	MaxSourceDropFraction float64
}

// New returns an engine with default batching and reconciliation cadence.
func New(source RecordSource, store RecordStore) *Engine {
	return &Engine{
		source:                source,
		store:                 store,
		BatchSize:             defaultBatchSize,
		ReconcileEvery:        defaultReconcileEvery,
		MaxSourceDropFraction: defaultMaxSourceDropFraction,
	}
}

// Run synchronizes one object type and returns its run record. The
// returned error is non-nil for mismatch and failed outcomes; committed
// batches from a failed run stand and are safe to rerun.
func (engine *Engine) Run(objectType model.ObjectType) (*model.SyncRun, error) {
	logCtx := log.WithField("object_type", objectType.Name)
	startedAt := time.Now().UTC()

	state, err := engine.store.GetSyncState(objectType.Name)
	if err != nil {
		return engine.failRun(objectType, startedAt, false, err)
	}

	fullPass := needsFullPass(state, engine.ReconcileEvery)
	writer := newBatchWriter(engine.store, objectType.Name, engine.BatchSize)

	// Phase 1: incremental window, full fetch when never synced.
	if state.CursorTimestamp.IsZero() {
		logCtx.Info("No sync cursor found. Fetching all records.")
		err = engine.source.FetchAll(objectType, writer.Add)
	} else {
		logCtx.WithField("since", state.CursorTimestamp).
			Info("Fetching records modified since last sync.")
		err = engine.source.FetchUpdated(objectType, state.CursorTimestamp, writer.Add)
	}
	if err == nil {
		err = writer.Flush()
	}
	if err != nil {
		return engine.failRun(objectType, startedAt, fullPass, err)
	}

	// Phase 2: full-identity reconciliation, self-healing recovery and
	// soft delete of vanished records.
	guardTripped := false
	if fullPass {
		sourceIDs, err := engine.source.ListIDs(objectType)
		if err != nil {
			return engine.failRun(objectType, startedAt, fullPass, err)
		}
		// Captured right after the source snapshot to keep the window
		// for false-positive deletions small.
		destinationIDs, err := engine.store.ActiveIDs(objectType.Name)
		if err != nil {
			return engine.failRun(objectType, startedAt, fullPass, err)
		}

		missing := missingIDs(sourceIDs, destinationIDs)
		if len(missing) > 0 {
			logCtx.WithField("missing_count", len(missing)).Warn(
				"Found source records missing on destination. Recovering via batch read.")
			if err := engine.source.FetchByIDs(objectType, missing, writer.Add); err != nil {
				return engine.failRun(objectType, startedAt, fullPass, err)
			}
			if err := writer.Flush(); err != nil {
				return engine.failRun(objectType, startedAt, fullPass, err)
			}
		}

		if sourceCollapsed(len(sourceIDs), state.LastSourceCount, engine.MaxSourceDropFraction) {
			guardTripped = true
			logCtx.WithFields(log.Fields{
				"source_count":      len(sourceIDs),
				"last_source_count": state.LastSourceCount,
			}).Error("Source identity count collapsed. Skipping deletion phase.")
		} else {
			vanished := vanishedIDs(destinationIDs, sourceIDs, writer.upsertedIDs)
			if len(vanished) > 0 {
				marked, err := engine.store.MarkDeleted(objectType.Name, vanished)
				if err != nil {
					return engine.failRun(objectType, startedAt, fullPass, err)
				}
				logCtx.WithField("deleted_count", marked).
					Info("Marked vanished records as deleted.")
			}
		}
	}

	// Phase 3: validation against authoritative counts on both sides.
	sourceCount, err := engine.source.Count(objectType)
	if err != nil {
		return engine.failRun(objectType, startedAt, fullPass, err)
	}
	destinationCount, err := engine.store.ActiveCount(objectType.Name)
	if err != nil {
		return engine.failRun(objectType, startedAt, fullPass, err)
	}

	run := &model.SyncRun{
		ObjectType:             objectType.Name,
		StartedAt:              startedAt,
		FinishedAt:             time.Now().UTC(),
		RecordsSynced:          writer.recordsSynced,
		SourceCount:            sourceCount,
		DestinationActiveCount: destinationCount,
		FullPass:               fullPass,
		Status:                 model.SyncRunStatusOK,
	}

	var runErr error
	if guardTripped {
		run.Status = model.SyncRunStatusMismatch
		run.Message = fmt.Sprintf(
			"source identity count dropped to %d from %d, deletion phase aborted",
			sourceCount, state.LastSourceCount)
		runErr = ErrSanityGuardTripped
	} else if sourceCount != destinationCount {
		run.Status = model.SyncRunStatusMismatch
		run.Message = fmt.Sprintf("source has %d records, destination has %d active",
			sourceCount, destinationCount)
		runErr = ErrValidationMismatch
	}

	if err := engine.store.CreateSyncRun(run); err != nil {
		logCtx.WithError(err).Error("Failed to record sync run.")
	}

	if run.Status == model.SyncRunStatusOK {
		if !writer.latestModified.IsZero() {
			state.CursorTimestamp = writer.latestModified
		}
		state.LastSourceCount = sourceCount
		state.CountsMatched = true
		if fullPass {
			state.RunsSinceFullPass = 0
		} else {
			state.RunsSinceFullPass++
		}
		if err := engine.store.SaveSyncState(state); err != nil {
			return engine.failRun(objectType, startedAt, fullPass, err)
		}
		logCtx.WithFields(log.Fields{
			"records_synced": run.RecordsSynced,
			"source_count":   run.SourceCount,
		}).Info("Sync run completed. Counts match.")
		return run, nil
	}

	// Mismatch: leave the cursor untouched so the next run re-covers the
	// same window, and force a full pass on the next run.
	state.CountsMatched = false
	if err := engine.store.SaveSyncState(state); err != nil {
		logCtx.WithError(err).Error("Failed to save sync state after mismatch.")
	}
	logCtx.WithField("message", run.Message).Error("Sync run finished with count mismatch.")
	return run, runErr
}

// failRun records and returns a failed run: partial progress stands, the
// cursor is untouched and the next incremental window re-covers the gap.
func (engine *Engine) failRun(objectType model.ObjectType, startedAt time.Time,
	fullPass bool, cause error) (*model.SyncRun, error) {

	run := &model.SyncRun{
		ObjectType: objectType.Name,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		FullPass:   fullPass,
		Status:     model.SyncRunStatusFailed,
		Message:    cause.Error(),
	}

	if err := engine.store.CreateSyncRun(run); err != nil {
		log.WithError(err).WithField("object_type", objectType.Name).
			Error("Failed to record failed sync run.")
	}

	log.WithError(cause).WithField("object_type", objectType.Name).
		Error("Sync run failed.")
	return run, cause
}
