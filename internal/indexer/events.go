package indexer

import (
	"log"
	"strings"

	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

// The indexer hears about every store mutation through this listener.
// Handlers do datastore bookkeeping unconditionally so nothing is lost
// while indexing is disabled; they only queue work when enabled.

// MsgsClassified is the arrival signal for new messages: classification
// has run, so a spam verdict can no longer invalidate the work.
func (i *Indexer) MsgsClassified(hdrs []mailstore.Header) {
	if !i.enabled {
		return
	}
	var toIndex []mailstore.Header
	for _, hdr := range hdrs {
		if !i.shouldIndexFolder(hdr.Folder()) {
			continue
		}
		if hdr.JunkScore() == mailstore.JunkSpamScore {
			continue
		}
		id, dirty := i.pending.State(hdr)
		if int64(id) >= i.cfg.FirstValidID && dirty == models.Clean {
			continue
		}
		toIndex = append(toIndex, hdr)
	}
	if len(toIndex) > 0 {
		i.IndexMessages(toIndex)
	}
}

// MsgsJunkStatusChanged makes spam disappear from the index and brings
// reprieved messages back.
func (i *Indexer) MsgsJunkStatusChanged(hdrs []mailstore.Header) {
	var tombstones []int64
	var reprieve []mailstore.Header
	for _, hdr := range hdrs {
		spam := hdr.JunkScore() == mailstore.JunkSpamScore
		id, _ := i.pending.State(hdr)
		if spam {
			if int64(id) >= i.cfg.FirstValidID {
				tombstones = append(tombstones, int64(id))
				i.pending.Track(hdr, 0, models.Clean)
			}
			continue
		}
		reprieve = append(reprieve, hdr)
	}
	if len(tombstones) > 0 {
		if err := i.ds.MarkMessagesDeletedByIDs(tombstones); err != nil {
			log.Printf("Warning: tombstoning junked messages failed: %v", err)
		}
		i.pendingDeletions = true
	}
	if len(reprieve) > 0 {
		i.reindexChangedMessages(reprieve)
	}
}

// MsgsDeleted tombstones the records of deleted messages; the delete
// sweep sorts out ghosts and conversations later.
func (i *Indexer) MsgsDeleted(hdrs []mailstore.Header) {
	var tombstones []int64
	for _, hdr := range hdrs {
		id, _ := i.pending.State(hdr)
		i.pending.NoteBlindMove(hdr)
		if int64(id) >= i.cfg.FirstValidID {
			tombstones = append(tombstones, int64(id))
		}
	}
	if len(tombstones) == 0 {
		return
	}
	if err := i.ds.MarkMessagesDeletedByIDs(tombstones); err != nil {
		log.Printf("Warning: tombstoning deleted messages failed: %v", err)
		return
	}
	i.pendingDeletions = true
}

// MsgsMoveCopyCompleted keeps records pointing at the right folder.
// Moves into unindexed folders are deletions; blind moves (destination
// headers unknown) null the keys and let the destination sweep restore
// them; copies produce brand-new messages whose inherited index state
// must be scrubbed first.
func (i *Indexer) MsgsMoveCopyCompleted(move bool, srcHdrs []mailstore.Header, dest mailstore.Folder, destHdrs []mailstore.Header) {
	destRec, err := i.mapFolder(dest)
	if err != nil {
		log.Printf("Warning: cannot map move/copy destination %s: %v", dest.URI(), err)
		return
	}
	destIndexed := i.shouldIndexFolder(dest)

	if !move {
		for _, hdr := range destHdrs {
			// Copied headers inherit the source's index properties, which
			// belong to the source records.
			if err := hdr.SetIndexState(0, models.Clean); err != nil {
				log.Printf("Warning: cannot scrub copied header %q: %v", hdr.MessageID(), err)
			}
		}
		if destIndexed && i.enabled && len(destHdrs) > 0 {
			i.IndexMessages(destHdrs)
		}
		return
	}

	if !destIndexed {
		var tombstones []int64
		for _, hdr := range srcHdrs {
			id, _ := i.pending.State(hdr)
			i.pending.NoteBlindMove(hdr)
			if int64(id) >= i.cfg.FirstValidID {
				tombstones = append(tombstones, int64(id))
			}
		}
		if len(tombstones) > 0 {
			if err := i.ds.MarkMessagesDeletedByIDs(tombstones); err != nil {
				log.Printf("Warning: tombstoning moved messages failed: %v", err)
			}
			i.pendingDeletions = true
		}
		return
	}

	if len(destHdrs) == len(srcHdrs) && len(destHdrs) > 0 {
		var ids []int64
		var keys []uint32
		var hasKeys []bool
		var needIndexing []mailstore.Header
		for n, src := range srcHdrs {
			dst := destHdrs[n]
			id, dirty := i.pending.State(src)
			if int64(id) < i.cfg.FirstValidID {
				needIndexing = append(needIndexing, dst)
				continue
			}
			i.pending.NoteMove(src, dst)
			i.pending.Track(dst, id, dirty)
			ids = append(ids, int64(id))
			keys = append(keys, dst.MessageKey())
			hasKeys = append(hasKeys, true)
		}
		if len(ids) > 0 {
			if err := i.ds.UpdateMessageLocations(ids, keys, hasKeys, destRec.ID); err != nil {
				log.Printf("Warning: relocating moved messages failed: %v", err)
			}
		}
		if i.enabled && len(needIndexing) > 0 {
			i.IndexMessages(needIndexing)
		}
		return
	}

	// Blind move: the records keep the destination folder but lose their
	// keys until the destination folder is swept.
	var ids []int64
	var keys []uint32
	var hasKeys []bool
	for _, hdr := range srcHdrs {
		id, _ := i.pending.State(hdr)
		i.pending.NoteBlindMove(hdr)
		if int64(id) >= i.cfg.FirstValidID {
			ids = append(ids, int64(id))
			keys = append(keys, 0)
			hasKeys = append(hasKeys, false)
		}
	}
	if len(ids) > 0 {
		if err := i.ds.UpdateMessageLocations(ids, keys, hasKeys, destRec.ID); err != nil {
			log.Printf("Warning: relocating moved messages failed: %v", err)
		}
	}
	i.raiseFolderDirty(destRec, models.Dirty)
	if i.enabled {
		i.scheduleSweep()
	}
}

// MsgKeyChanged re-files pending state under the new key and batches the
// durable key rewrite.
func (i *Indexer) MsgKeyChanged(oldKey uint32, newHdr mailstore.Header) {
	i.pending.NoteKeyChange(oldKey, newHdr)
	id, _ := i.pending.State(newHdr)
	if int64(id) >= i.cfg.FirstValidID {
		i.noteKeyChange(int64(id), newHdr.MessageKey())
	}
}

// FolderAdded defers to the next sweep; an empty new folder has nothing
// to index yet anyway.
func (i *Indexer) FolderAdded(folder mailstore.Folder) {
	if !i.enabled || !i.shouldIndexFolder(folder) {
		return
	}
	if _, err := i.mapFolder(folder); err != nil {
		log.Printf("Warning: cannot map new folder %s: %v", folder.URI(), err)
		return
	}
	i.scheduleSweep()
}

// FolderDeleted tears down everything hanging off the folder record.
func (i *Indexer) FolderDeleted(folder mailstore.Folder) {
	rec, ok := i.ds.FolderByURI(folder.URI())
	if !ok {
		return
	}
	rec.Deleted = true
	i.sched.PurgeFolder(rec.ID, rec.URI)
	for _, j := range i.parked[rec.ID] {
		j.Kill()
	}
	delete(i.parked, rec.ID)
	i.pending.NoteFolderDatabaseDiscarded(rec.URI)
	if err := i.ds.MarkMessagesDeletedByFolderID(rec.ID); err != nil {
		log.Printf("Warning: tombstoning folder %s messages failed: %v", rec.URI, err)
	}
	if err := i.ds.DeleteFolderByID(rec.ID); err != nil {
		log.Printf("Warning: deleting folder record %s failed: %v", rec.URI, err)
	}
	delete(i.liveFolders, rec.URI)
	i.pendingDeletions = true
}

// FolderMoveCopyCompleted treats a folder move as a rename; a folder copy
// is a folder full of brand-new messages.
func (i *Indexer) FolderMoveCopyCompleted(move bool, srcURI string, folder mailstore.Folder) {
	if move {
		i.FolderRenamed(srcURI, folder)
		return
	}
	if !i.shouldIndexFolder(folder) {
		return
	}
	rec, err := i.mapFolder(folder)
	if err != nil {
		log.Printf("Warning: cannot map copied folder %s: %v", folder.URI(), err)
		return
	}
	i.raiseFolderDirty(rec, models.Dirty)
	if i.enabled {
		i.scheduleSweep()
	}
}

// FolderRenamed rewrites the URIs of the folder and its descendants.  A
// rename that lands the folder in Trash or Junk is the user throwing the
// whole folder away.
func (i *Indexer) FolderRenamed(oldURI string, folder mailstore.Folder) {
	newURI := folder.URI()
	oldPrefix := oldURI + "/"
	for _, rec := range i.ds.Folders() {
		var renamed string
		switch {
		case rec.URI == oldURI:
			renamed = newURI
		case strings.HasPrefix(rec.URI, oldPrefix):
			renamed = newURI + "/" + strings.TrimPrefix(rec.URI, oldPrefix)
		default:
			continue
		}
		delete(i.liveFolders, rec.URI)
		if err := i.ds.RenameFolder(rec, renamed); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	i.liveFolders[newURI] = folder

	if folder.Flags()&(mailstore.FolderTrash|mailstore.FolderJunk) != 0 {
		if err := i.SetFolderIndexingPriority(folder, models.PriorityNever); err != nil {
			log.Printf("Warning: %v", err)
		}
		if rec, ok := i.ds.FolderByURI(newURI); ok {
			if err := i.ds.MarkMessagesDeletedByFolderID(rec.ID); err != nil {
				log.Printf("Warning: %v", err)
			}
			i.pendingDeletions = true
		}
	}
}

// FolderCompactStart kills in-flight work on the folder; its database is
// about to be replaced.
func (i *Indexer) FolderCompactStart(folder mailstore.Folder) {
	rec, ok := i.ds.FolderByURI(folder.URI())
	if !ok {
		return
	}
	rec.Compacting = true
	i.sched.PurgeFolder(rec.ID, rec.URI)
	i.pending.NoteFolderDatabaseDiscarded(rec.URI)
}

// FolderCompactFinish schedules the reconciliation pass that repairs the
// renumbered keys.
func (i *Indexer) FolderCompactFinish(folder mailstore.Folder) {
	rec, ok := i.ds.FolderByURI(folder.URI())
	if !ok {
		return
	}
	rec.Compacting = false
	rec.Compacted = true
	if i.enabled && rec.ShouldIndex() {
		i.sched.PushBack(&Job{Kind: JobFolderCompact, FolderID: rec.ID})
	}
}

// FolderReindexTriggered means an external repair is rebuilding the
// folder summary: nothing about existing linkage can be trusted.
func (i *Indexer) FolderReindexTriggered(folder mailstore.Folder) {
	rec, err := i.mapFolder(folder)
	if err != nil {
		log.Printf("Warning: cannot map reindexed folder %s: %v", folder.URI(), err)
		return
	}
	rec.RebuildingSummary = true
	i.raiseFolderDirty(rec, models.Filthy)
	i.sched.PurgeFolder(rec.ID, rec.URI)
	i.pending.NoteFolderDatabaseDiscarded(rec.URI)
}

// FolderLoaded revives jobs parked on this folder's reparse.
func (i *Indexer) FolderLoaded(folder mailstore.Folder) {
	rec, ok := i.ds.FolderByURI(folder.URI())
	if !ok {
		return
	}
	rec.RebuildingSummary = false
	if jobs := i.parked[rec.ID]; len(jobs) > 0 {
		delete(i.parked, rec.ID)
		for n := len(jobs) - 1; n >= 0; n-- {
			i.sched.PushFront(jobs[n])
		}
		return
	}
	if i.enabled && rec.DirtyStatus != models.Clean && rec.ShouldIndex() {
		i.scheduleSweep()
	}
}

// FolderIntPropertyChanged reacts to special-use flag changes: a folder
// turned into Trash/Junk falls out of the index, one turned back gets its
// default priority recomputed.
func (i *Indexer) FolderIntPropertyChanged(folder mailstore.Folder, property string, oldValue, newValue uint32) {
	if property != "FolderFlag" {
		return
	}
	oldFlags := mailstore.FolderFlags(oldValue)
	newFlags := mailstore.FolderFlags(newValue)
	if oldFlags&mailstore.SpecialUseMask == newFlags&mailstore.SpecialUseMask {
		return
	}
	if err := i.ResetFolderIndexingPriority(folder); err != nil {
		log.Printf("Warning: %v", err)
		return
	}
	excluded := mailstore.FolderTrash | mailstore.FolderJunk
	if newFlags&excluded != 0 && oldFlags&excluded == 0 {
		if rec, ok := i.ds.FolderByURI(folder.URI()); ok {
			if err := i.ds.MarkMessagesDeletedByFolderID(rec.ID); err != nil {
				log.Printf("Warning: %v", err)
			}
			i.pendingDeletions = true
		}
	}
}

// FolderPropertyFlagChanged re-dirties messages whose indexed status
// properties changed.
func (i *Indexer) FolderPropertyFlagChanged(hdr mailstore.Header, property string, oldValue, newValue uint32) {
	switch property {
	case "Keywords", "Status", "Flagged":
		i.reindexChangedMessages([]mailstore.Header{hdr})
	}
}

// AnnouncerGoingAway implements mailstore.DatabaseListener: the database
// of a folder an active job is working is being discarded.
func (i *Indexer) AnnouncerGoingAway(folder mailstore.Folder) {
	i.pending.NoteFolderDatabaseDiscarded(folder.URI())
	if rec, ok := i.ds.FolderByURI(folder.URI()); ok {
		i.sched.PurgeFolder(rec.ID, rec.URI)
	}
}

// reindexChangedMessages marks already-indexed messages dirty again.  A
// handful becomes a message-list job; past the coalescing limit the whole
// thing collapses into dirty folders and one sweep.
func (i *Indexer) reindexChangedMessages(hdrs []mailstore.Header) {
	var eligible []mailstore.Header
	for _, hdr := range hdrs {
		folder := hdr.Folder()
		if !i.shouldIndexFolder(folder) {
			continue
		}
		if folder.ProcessingFlags(hdr.MessageKey())&mailstore.NotYetReported != 0 {
			continue
		}
		_, dirty := i.pending.State(hdr)
		if dirty == models.Clean {
			i.pending.MarkDirty(hdr)
		}
		eligible = append(eligible, hdr)
	}
	if len(eligible) == 0 || !i.enabled {
		return
	}
	if len(eligible) > i.cfg.EventCoalesceLimit {
		for _, hdr := range eligible {
			if rec, ok := i.ds.FolderByURI(hdr.Folder().URI()); ok {
				i.raiseFolderDirty(rec, models.Dirty)
			}
		}
		i.scheduleSweep()
		return
	}
	i.IndexMessages(eligible)
}
