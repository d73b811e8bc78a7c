package sync

import "crmsync/model"

// needsFullPass decides whether this run performs a full-identity
// reconciliation: always for a type that has never synced, whenever the
// previous run's counts disagreed, and periodically every reconcileEvery
// runs to bound the API cost of full identity scans.
func needsFullPass(state *model.SyncState, reconcileEvery int) bool {
	if state.CursorTimestamp.IsZero() {
		return true
	}
	if !state.CountsMatched {
		return true
	}
	return state.RunsSinceFullPass >= reconcileEvery
}

// missingIDs returns source ids absent from the destination's active set:
// records past runs failed to land, recovered via batch read.
func missingIDs(sourceIDs, destinationIDs map[string]bool) []string {
	missing := make([]string, 0)
	for id := range sourceIDs {
		if !destinationIDs[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// vanishedIDs returns destination-active ids no longer present on the
// source. Ids upserted in this run are excluded: presence in the source
// always wins over a stale identity snapshot.
func vanishedIDs(destinationIDs, sourceIDs, upsertedIDs map[string]bool) []string {
	vanished := make([]string, 0)
	for id := range destinationIDs {
		if !sourceIDs[id] && !upsertedIDs[id] {
			vanished = append(vanished, id)
		}
	}
	return vanished
}

// sourceCollapsed reports whether the source identity set shrank by more
// than maxDropFraction versus the previous run's recorded count. A
// transient source outage returning few or zero records must not soft
// delete the world.
func sourceCollapsed(currentCount int, previousCount int64, maxDropFraction float64) bool {
	if previousCount <= 0 {
		return false
	}
	return float64(currentCount) < float64(previousCount)*(1-maxDropFraction)
}
