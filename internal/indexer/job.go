package indexer

import (
	"fmt"

	"github.com/mattmanj17/msgindex/internal/mailstore"
)

// JobKind identifies what a queued job does.
type JobKind int

const (
	// JobSweep walks every known folder and queues folder jobs for the
	// dirty ones, best priority first.
	JobSweep JobKind = iota
	// JobFolder indexes one folder's messages.
	JobFolder
	// JobFolderCompact reconciles index records with a folder whose
	// message keys were renumbered by compaction.
	JobFolderCompact
	// JobMessage indexes an explicit list of messages.
	JobMessage
	// JobDelete processes tombstoned index records.
	JobDelete
	// JobMigrate re-dirties everything after a schema version bump.
	JobMigrate
)

func (k JobKind) String() string {
	switch k {
	case JobSweep:
		return "sweep"
	case JobFolder:
		return "folder"
	case JobFolderCompact:
		return "folderCompact"
	case JobMessage:
		return "message"
	case JobDelete:
		return "delete"
	case JobMigrate:
		return "migrate"
	}
	return fmt.Sprintf("job(%d)", int(k))
}

// headerRef pins down one message by location rather than by header
// pointer; the header is re-fetched when the job runs, since it can be
// invalidated while queued.
type headerRef struct {
	folder mailstore.Folder
	key    uint32
}

// Job is one unit of queued indexing work.  Offset/Goal expose rough
// progress to listeners.
type Job struct {
	Kind JobKind
	// FolderID is the datastore folder id for folder-scoped jobs.
	FolderID int64

	Offset int
	Goal   int

	refs   []headerRef
	killed bool
	// started flips once the worker has run at least one unit; new work may
	// only coalesce into jobs that have not started.
	started bool

	// force makes a folder job revisit every message regardless of its
	// indexed state.
	force bool
	// done, when set, is called as the job leaves the scheduler for good;
	// aborted reports whether it was killed or abandoned rather than
	// finishing.
	done func(aborted bool)

	// state carries the worker's resumable position between units.
	state any
}

// Kill flags the job so its worker stops at the next yield point.
func (j *Job) Kill() { j.killed = true }

// Killed reports whether the job was killed.
func (j *Job) Killed() bool { return j.killed }

func (j *Job) String() string {
	if j.FolderID != 0 {
		return fmt.Sprintf("%s job (folder %d) %d/%d", j.Kind, j.FolderID, j.Offset, j.Goal)
	}
	return fmt.Sprintf("%s job %d/%d", j.Kind, j.Offset, j.Goal)
}
