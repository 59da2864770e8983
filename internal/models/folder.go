package models

// Indexing priorities.  Higher-priority folders are swept first; a folder
// with PriorityNever is excluded from indexing entirely.
const (
	PriorityNever    = -1
	PriorityDefault  = 0
	PriorityCheckNew = 10
	PriorityFavored  = 100
)

// Folder is the index-side record for a real mail store folder.  The
// dirty status and indexing priority persist in the datastore; the
// remaining flags are transient per-process state.
type Folder struct {
	ID          int64
	URI         string
	DirtyStatus DirtyState
	Priority    int

	// Indexing is true while a job is actively working this folder.
	Indexing bool
	// Compacting is true between compaction start and finish; Compacted is
	// true after a finished compaction until the reconciliation pass clears
	// it.
	Compacting bool
	Compacted  bool
	// RebuildingSummary is true while an external folder repair is running.
	RebuildingSummary bool
	// Deleted is set when the underlying folder stops existing; the record
	// lingers only so queued jobs can notice and bail.
	Deleted bool
}

// ShouldIndex reports whether the folder is eligible for indexing at all.
func (f *Folder) ShouldIndex() bool {
	return !f.Deleted && f.Priority != PriorityNever
}
