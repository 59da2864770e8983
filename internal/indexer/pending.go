package indexer

import (
	"fmt"
	"log"
	"strings"

	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

// pendingState is the index state a header will carry once the next
// datastore flush lands.
type pendingState struct {
	id    uint32
	dirty models.DirtyState
}

// PendingCommitTracker defers header property writes until the datastore
// writes they describe are durable.  If the process dies in between, the
// header still looks unindexed and the message simply gets indexed again,
// which is safe; the reverse order would leave headers claiming records
// that never made it to disk.
//
// While a write is deferred the tracker's shadow copy, not the header, is
// the logical truth; all index-state reads go through State.
type PendingCommitTracker struct {
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	hdr   mailstore.Header
	state pendingState
}

func newPendingCommitTracker() *PendingCommitTracker {
	return &PendingCommitTracker{pending: make(map[string]*pendingEntry)}
}

func pendingKey(hdr mailstore.Header) string {
	return fmt.Sprintf("%s#%d", hdr.Folder().URI(), hdr.MessageKey())
}

// Track records that hdr's index state logically becomes (id, dirty),
// with the physical write deferred to the next commit.
func (t *PendingCommitTracker) Track(hdr mailstore.Header, id uint32, dirty models.DirtyState) {
	t.pending[pendingKey(hdr)] = &pendingEntry{hdr: hdr, state: pendingState{id, dirty}}
}

// State returns the logical index state of a header: the shadow copy when
// a write is pending, the header's own properties otherwise.
func (t *PendingCommitTracker) State(hdr mailstore.Header) (uint32, models.DirtyState) {
	if e, ok := t.pending[pendingKey(hdr)]; ok {
		return e.state.id, e.state.dirty
	}
	return hdr.IndexState()
}

// MarkDirty flags a header's logical state dirty: through the pending
// entry when one exists, directly on the header otherwise.  The direct
// write is safe to do eagerly; dirty only ever causes reindexing.
func (t *PendingCommitTracker) MarkDirty(hdr mailstore.Header) {
	if e, ok := t.pending[pendingKey(hdr)]; ok {
		e.state.dirty = models.Dirty
		return
	}
	id, _ := hdr.IndexState()
	if err := hdr.SetIndexState(id, models.Dirty); err != nil {
		log.Printf("Warning: cannot mark %q dirty: %v", hdr.MessageID(), err)
	}
}

// HasPending reports whether any writes are deferred.
func (t *PendingCommitTracker) HasPending() bool {
	return len(t.pending) > 0
}

// NoteMove transfers a pending entry from a message's old header to its
// new one after a move where the destination header is known.
func (t *PendingCommitTracker) NoteMove(oldHdr, newHdr mailstore.Header) {
	key := pendingKey(oldHdr)
	e, ok := t.pending[key]
	if !ok {
		return
	}
	delete(t.pending, key)
	e.hdr = newHdr
	t.pending[pendingKey(newHdr)] = e
}

// NoteBlindMove marks a pending entry dirty when its message went
// somewhere we cannot follow.  The id mapping is kept: if the source
// header outlives the move, the durable state says "look again"; if it
// does not, the write is skipped at commit and the destination copy looks
// unindexed anyway.
func (t *PendingCommitTracker) NoteBlindMove(hdr mailstore.Header) {
	if e, ok := t.pending[pendingKey(hdr)]; ok {
		e.state.dirty = models.Dirty
	}
}

// NoteKeyChange re-files a pending entry under a header's new key.
func (t *PendingCommitTracker) NoteKeyChange(oldKey uint32, hdr mailstore.Header) {
	key := fmt.Sprintf("%s#%d", hdr.Folder().URI(), oldKey)
	e, ok := t.pending[key]
	if !ok {
		return
	}
	delete(t.pending, key)
	e.hdr = hdr
	t.pending[pendingKey(hdr)] = e
}

// NoteFolderDatabaseDiscarded throws away every pending entry for a
// folder whose database is going away; the headers can no longer be
// written to.  Those messages get reindexed later, which is the safe
// direction.
func (t *PendingCommitTracker) NoteFolderDatabaseDiscarded(folderURI string) {
	prefix := folderURI + "#"
	for key := range t.pending {
		if strings.HasPrefix(key, prefix) {
			delete(t.pending, key)
		}
	}
}

// Commit writes every deferred header state and commits the touched
// folder databases.  It runs as a post-commit callback of the datastore,
// once the record writes are durable.
func (t *PendingCommitTracker) Commit() {
	touched := make(map[string]mailstore.Folder)
	for key, e := range t.pending {
		delete(t.pending, key)
		if !e.hdr.Valid() {
			continue
		}
		if err := e.hdr.SetIndexState(e.state.id, e.state.dirty); err != nil {
			log.Printf("Warning: failed to write index state for %s: %v", key, err)
			continue
		}
		folder := e.hdr.Folder()
		touched[folder.URI()] = folder
	}
	for _, folder := range touched {
		folder.Commit()
	}
}
