package platewatch

import "github.com/hazyhaar/plates/platewatch/internal/store"

// History is the snapshot and dispatch history database.
type History = store.Store

// SnapshotSummary describes a stored snapshot without its rows.
type SnapshotSummary = store.SnapshotSummary

// HistoryStats are aggregate history counters.
type HistoryStats = store.Stats

// OpenHistory opens the history database at path for reading while no
// Service holds it, or alongside one.
func OpenHistory(path string) (*History, error) {
	return store.Open(path)
}
