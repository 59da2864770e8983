package indexer

import (
	"errors"
	"fmt"
	"log"

	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

// badMessageError wraps a per-message indexing failure so the recovery
// hook can find the header and poison it instead of abandoning the whole
// folder.
type badMessageError struct {
	hdr mailstore.Header
	err error
}

func (e *badMessageError) Error() string {
	return fmt.Sprintf("indexing message %q failed: %v", e.hdr.MessageID(), e.err)
}

func (e *badMessageError) Unwrap() error { return e.err }

const (
	stageEnter = iota
	stageMark
	stageCount
	stageIndex
)

type folderJobState struct {
	rec    *models.Folder
	folder mailstore.Folder

	stage   int
	entered bool

	// marking pass position over the full header snapshot
	all     []mailstore.Header
	markPos int

	// main pass enumeration
	toIndex     []mailstore.Header
	pos         int
	sinceCommit int
}

// toIndexTerms matches headers that still need work: never indexed, dirty
// at the message level, or carrying the retryable pre-migration failure
// sentinel.  Expunged, pending-delete, and definite-spam messages are
// excluded; on a server-backed folder with an offline store only messages
// whose body was fetched qualify.
func (i *Indexer) toIndexTerms(f mailstore.Folder) []mailstore.TermGroup {
	groups := []mailstore.TermGroup{
		{
			{Field: mailstore.FieldIndexID, Op: mailstore.OpIs, Value: 0},
			{Field: mailstore.FieldDirtyState, Op: mailstore.OpGreaterThan, Value: uint32(models.Clean)},
			{Field: mailstore.FieldIndexID, Op: mailstore.OpIs, Value: i.cfg.OldBadIDSentinel},
		},
		{{Field: mailstore.FieldStatus, Op: mailstore.OpIsnt, Flag: mailstore.FlagExpunged}},
		{{Field: mailstore.FieldStatus, Op: mailstore.OpIsnt, Flag: mailstore.FlagIMAPDeleted}},
		{{Field: mailstore.FieldJunkScore, Op: mailstore.OpIsnt, Str: mailstore.JunkSpamScore}},
	}
	if !f.IsLocal() && f.Flags()&mailstore.FolderOffline != 0 {
		groups = append(groups, mailstore.TermGroup{
			{Field: mailstore.FieldStatus, Op: mailstore.OpIs, Flag: mailstore.FlagOffline},
		})
	}
	return groups
}

// enterFolder does the shared folder-job preamble: resolve the records,
// wait out summary reparses, and sign up for database-death notice.
func (i *Indexer) enterFolder(j *Job, st interface {
	setEntered(rec *models.Folder, folder mailstore.Folder)
}) (stepResult, error) {
	rec, ok := i.ds.FolderByID(j.FolderID)
	if !ok || rec.Deleted || !rec.ShouldIndex() {
		return stepDone, nil
	}
	folder, ok := i.storeFolder(rec)
	if !ok {
		log.Printf("Warning: no live folder for %s, skipping", rec.URI)
		return stepDone, nil
	}
	if err := folder.EnsureDatabase(); err != nil {
		if errors.Is(err, mailstore.ErrReparseInProgress) {
			rec.RebuildingSummary = true
			i.parked[rec.ID] = append(i.parked[rec.ID], j)
			return stepSuspend, nil
		}
		return stepDone, fmt.Errorf("open folder %s: %w", rec.URI, err)
	}
	folder.AddDatabaseListener(i)
	rec.Indexing = true
	st.setEntered(rec, folder)
	return stepMore, nil
}

func (st *folderJobState) setEntered(rec *models.Folder, folder mailstore.Folder) {
	st.rec = rec
	st.folder = folder
	st.entered = true
	if rec.DirtyStatus == models.Filthy {
		st.stage = stageMark
		st.all = folder.Messages()
	} else {
		st.stage = stageCount
	}
}

// folderWorker indexes one folder.  A filthy folder first gets a marking
// pass that pushes the distrust down to every message, then is demoted to
// dirty; the main pass then works exactly like any dirty folder.
func (i *Indexer) folderWorker(j *Job) (stepResult, error) {
	st, ok := j.state.(*folderJobState)
	if !ok {
		st = &folderJobState{}
		j.state = st
	}

	if !st.entered {
		rec, recOK := i.ds.FolderByID(j.FolderID)
		if recOK && rec.Compacted && !rec.Deleted && rec.ShouldIndex() {
			// Keys cannot be trusted until the compaction pass runs.
			i.sched.PushFront(&Job{Kind: JobFolderCompact, FolderID: rec.ID})
			return stepMore, nil
		}
		result, err := i.enterFolder(j, st)
		if result != stepMore || err != nil {
			return result, err
		}
		return stepMore, nil
	}

	switch st.stage {
	case stageMark:
		end := st.markPos + i.cfg.HeaderCheckBlockSize
		if end > len(st.all) {
			end = len(st.all)
		}
		for _, hdr := range st.all[st.markPos:end] {
			id, _ := hdr.IndexState()
			if id == 0 {
				continue
			}
			if err := hdr.SetIndexState(id, models.Filthy); err != nil {
				log.Printf("Warning: cannot mark %q filthy: %v", hdr.MessageID(), err)
			}
		}
		st.markPos = end
		if st.markPos >= len(st.all) {
			st.all = nil
			st.rec.DirtyStatus = models.Dirty
			if err := i.ds.UpdateFolderDirtyStatus(st.rec); err != nil {
				log.Printf("Warning: cannot persist dirty status for %s: %v", st.rec.URI, err)
			}
			st.stage = stageCount
		}
		return stepMore, nil

	case stageCount:
		terms := i.toIndexTerms(st.folder)
		if j.force {
			// Drop the needs-work group; the gating groups still apply.
			terms = terms[1:]
		}
		st.toIndex = st.folder.Search(terms, false)
		j.Goal = len(st.toIndex)
		st.stage = stageIndex
		return stepMore, nil

	case stageIndex:
		if st.pos >= len(st.toIndex) {
			return i.leaveFolder(j, st)
		}
		hdr := st.toIndex[st.pos]
		st.pos++
		j.Offset++

		if !hdr.Valid() {
			return stepMore, nil
		}
		// Not classified yet; it will be announced later and indexed then.
		if st.folder.ProcessingFlags(hdr.MessageKey())&mailstore.NotYetReported != 0 {
			return stepMore, nil
		}
		// The junk verdict can land after the snapshot was taken.
		if hdr.JunkScore() == mailstore.JunkSpamScore {
			return stepMore, nil
		}
		id, dirty := i.pending.State(hdr)
		if !j.force && int64(id) >= i.cfg.FirstValidID && dirty == models.Clean {
			return stepMore, nil
		}
		// This message already failed under the current schema; do not
		// burn cycles on it again until a migration resets the sentinel.
		if id == i.cfg.BadIDSentinel {
			return stepMore, nil
		}

		if err := i.indexMessage(hdr); err != nil {
			return stepMore, &badMessageError{hdr: hdr, err: err}
		}
		st.sinceCommit++
		if st.sinceCommit >= i.cfg.MessagesPerFolderCommit {
			st.sinceCommit = 0
			i.flush()
		}
		return stepMore, nil
	}
	return stepDone, fmt.Errorf("folder job in impossible stage %d", st.stage)
}

func (i *Indexer) leaveFolder(j *Job, st *folderJobState) (stepResult, error) {
	if !j.Killed() {
		st.rec.DirtyStatus = models.Clean
		if err := i.ds.UpdateFolderDirtyStatus(st.rec); err != nil {
			log.Printf("Warning: cannot persist clean status for %s: %v", st.rec.URI, err)
		}
	}
	return stepDone, nil
}

// recoverFolderJob poisons the failing message with the bad-id sentinel
// and lets the folder job continue; one broken message must not stall the
// folder behind it.
func (i *Indexer) recoverFolderJob(j *Job, err error) bool {
	var bad *badMessageError
	if !errors.As(err, &bad) {
		return false
	}
	log.Printf("Warning: %v", bad)
	if bad.hdr.Valid() {
		i.pending.Track(bad.hdr, i.cfg.BadIDSentinel, models.Clean)
	}
	return true
}

func (i *Indexer) cleanupFolderJob(j *Job) {
	var rec *models.Folder
	var folder mailstore.Folder
	switch st := j.state.(type) {
	case *folderJobState:
		if !st.entered {
			return
		}
		rec, folder = st.rec, st.folder
	case *compactJobState:
		if !st.entered {
			return
		}
		rec, folder = st.rec, st.folder
	default:
		return
	}
	folder.RemoveDatabaseListener(i)
	rec.Indexing = false
	// Whatever header writes happened before the job ended, complete or
	// not, get flushed to the folder database.
	folder.Commit()
}

// messageListWorker indexes an explicit list of messages, one per unit.
func (i *Indexer) messageListWorker(j *Job) (stepResult, error) {
	if len(j.refs) == 0 {
		return stepDone, nil
	}
	ref := j.refs[0]
	j.refs = j.refs[1:]
	j.Offset++

	if err := ref.folder.EnsureDatabase(); err != nil {
		// A reparse mid-list is rare enough that deferring the single
		// message to the next sweep beats suspending the whole list.
		if rec, ok := i.ds.FolderByURI(ref.folder.URI()); ok {
			i.raiseFolderDirty(rec, models.Dirty)
			i.scheduleSweep()
		}
		return stepMore, nil
	}
	hdr, ok := ref.folder.HeaderByKey(ref.key)
	if !ok || !hdr.Valid() {
		return stepMore, nil
	}
	if ref.folder.ProcessingFlags(ref.key)&mailstore.NotYetReported != 0 {
		return stepMore, nil
	}
	if hdr.JunkScore() == mailstore.JunkSpamScore {
		return stepMore, nil
	}
	id, dirty := i.pending.State(hdr)
	if int64(id) >= i.cfg.FirstValidID && dirty == models.Clean {
		return stepMore, nil
	}
	if id == i.cfg.BadIDSentinel {
		return stepMore, nil
	}
	if err := i.indexMessage(hdr); err != nil {
		return stepMore, &badMessageError{hdr: hdr, err: err}
	}
	return stepMore, nil
}

func (i *Indexer) recoverMessageListJob(j *Job, err error) bool {
	return i.recoverFolderJob(j, err)
}
