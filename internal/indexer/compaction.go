package indexer

import (
	"log"

	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

type compactJobState struct {
	rec    *models.Folder
	folder mailstore.Folder

	entered bool

	// live headers that carry an index id, in key order
	hdrs []mailstore.Header
	hpos int

	// durable location tuples, fetched in blocks in key order
	tuples    []datastore.Location
	tpos      int
	nextKey   uint32
	exhausted bool

	updateIDs  []int64
	updateKeys []uint32
	tombstones []int64
}

func (st *compactJobState) setEntered(rec *models.Folder, folder mailstore.Folder) {
	st.rec = rec
	st.folder = folder
	st.entered = true
	st.hdrs = folder.Search([]mailstore.TermGroup{
		{{Field: mailstore.FieldIndexID, Op: mailstore.OpGreaterThan, Value: 0}},
	}, false)
}

// flushBlock pushes accumulated key updates and tombstones to the
// datastore.  It must run before each tuple refetch; the refetch is keyed
// off message keys and stale keys would tear the cursor.
func (i *Indexer) flushCompactionBlock(st *compactJobState) error {
	if len(st.updateIDs) > 0 {
		if err := i.ds.UpdateMessageKeys(st.updateIDs, st.updateKeys); err != nil {
			return err
		}
		st.updateIDs = st.updateIDs[:0]
		st.updateKeys = st.updateKeys[:0]
	}
	if len(st.tombstones) > 0 {
		if err := i.ds.MarkMessagesDeletedByIDs(st.tombstones); err != nil {
			return err
		}
		i.pendingDeletions = true
		st.tombstones = st.tombstones[:0]
	}
	return nil
}

func (i *Indexer) refetchTuples(st *compactJobState) error {
	if err := i.flushCompactionBlock(st); err != nil {
		return err
	}
	tuples, err := i.ds.CompactionBlockFetch(st.rec.ID, st.nextKey, i.cfg.CompactionBlockSize)
	if err != nil {
		return err
	}
	st.tuples = tuples
	st.tpos = 0
	if len(tuples) == 0 {
		st.exhausted = true
	} else {
		st.nextKey = tuples[len(tuples)-1].MessageKey + 1
	}
	return nil
}

// nextTuple returns the tuple under the cursor, refetching as needed; nil
// when the durable side is exhausted.
func (i *Indexer) nextTuple(st *compactJobState) (*datastore.Location, error) {
	if st.tpos >= len(st.tuples) {
		if st.exhausted {
			return nil, nil
		}
		if err := i.refetchTuples(st); err != nil {
			return nil, err
		}
		if st.tpos >= len(st.tuples) {
			return nil, nil
		}
	}
	return &st.tuples[st.tpos], nil
}

// reconcileAheadTuple resolves a durable tuple whose id no live header at
// the cursor claims.  The tuple's header may have relocated earlier in the
// walk without its index id (a move or a failed write lost the property);
// looking it up by message-id and re-tracking it through the pending layer
// restores the association.  Only a tuple whose header is gone from the
// folder entirely becomes a tombstone.  Returns true when the tuple was
// consumed, false when it is retained for a later live header.
func (i *Indexer) reconcileAheadTuple(st *compactJobState, tuple *datastore.Location, liveKey uint32) bool {
	hdr := st.folder.HeaderByMessageID(tuple.HeaderMessageID)
	if hdr == nil {
		st.tpos++
		st.tombstones = append(st.tombstones, tuple.ID)
		return true
	}
	if hdr.MessageKey() >= liveKey {
		log.Printf("Warning: record %d for %q in %s sits ahead of the live cursor; retaining it",
			tuple.ID, tuple.HeaderMessageID, st.rec.URI)
		return false
	}
	if id, _ := hdr.IndexState(); int64(id) >= i.cfg.FirstValidID && int64(id) != tuple.ID {
		// The surviving header is a twin with its own record; whichever
		// header owned this tuple is gone.
		st.tpos++
		st.tombstones = append(st.tombstones, tuple.ID)
		return true
	}
	st.tpos++
	i.pending.Track(hdr, uint32(tuple.ID), models.Clean)
	if tuple.MessageKey != hdr.MessageKey() {
		st.updateIDs = append(st.updateIDs, tuple.ID)
		st.updateKeys = append(st.updateKeys, hdr.MessageKey())
	}
	return true
}

// compactionWorker reconciles the index with a folder whose message keys
// were renumbered.  Compaction only removes messages and shifts the rest
// down, so both the live headers and the durable tuples are still in the
// same relative order; one parallel walk fixes every key and finds every
// removed message.
func (i *Indexer) compactionWorker(j *Job) (stepResult, error) {
	st, ok := j.state.(*compactJobState)
	if !ok {
		st = &compactJobState{}
		j.state = st
	}

	if !st.entered {
		result, err := i.enterFolder(j, st)
		if result != stepMore || err != nil {
			return result, err
		}
		j.Goal = len(st.hdrs)
		return stepMore, nil
	}

	if st.rec.Compacting {
		// Another compaction started under us; wait for its finish event
		// to reschedule this pass.
		return stepDone, nil
	}

	limit := st.hpos + i.cfg.CompactionBlockSize
	for st.hpos < len(st.hdrs) && st.hpos < limit {
		hdr := st.hdrs[st.hpos]
		st.hpos++
		j.Offset++
		if !hdr.Valid() {
			continue
		}
		id, _ := hdr.IndexState()

		for {
			tuple, err := i.nextTuple(st)
			if err != nil {
				return stepDone, err
			}
			if tuple == nil {
				break
			}
			if int64(id) == tuple.ID {
				st.tpos++
				if tuple.MessageKey != hdr.MessageKey() {
					st.updateIDs = append(st.updateIDs, tuple.ID)
					st.updateKeys = append(st.updateKeys, hdr.MessageKey())
				}
				break
			}
			if int64(id) < i.cfg.FirstValidID && tuple.HeaderMessageID == hdr.MessageID() {
				// The header lost its id to a failure sentinel but the
				// record survived; give the id back.
				if err := hdr.SetIndexState(uint32(tuple.ID), models.Clean); err == nil {
					st.tpos++
					if tuple.MessageKey != hdr.MessageKey() {
						st.updateIDs = append(st.updateIDs, tuple.ID)
						st.updateKeys = append(st.updateKeys, hdr.MessageKey())
					}
					break
				}
			}
			// The durable side is ahead of the live cursor; reconcile the
			// tuple by header-id and re-compare this header.
			if i.reconcileAheadTuple(st, tuple, hdr.MessageKey()) {
				continue
			}
			// Tuple retained for a later live header; move the live cursor.
			break
		}
	}

	if st.hpos < len(st.hdrs) {
		return stepMore, nil
	}

	// Durable tuples past the last live header are relocated if their
	// header still exists somewhere in the folder, dead otherwise.
	for {
		tuple, err := i.nextTuple(st)
		if err != nil {
			return stepDone, err
		}
		if tuple == nil {
			break
		}
		if !i.reconcileAheadTuple(st, tuple, ^uint32(0)) {
			st.tpos++
		}
	}
	if err := i.flushCompactionBlock(st); err != nil {
		return stepDone, err
	}

	st.rec.Compacted = false
	log.Printf("Compaction pass for %s complete", st.rec.URI)
	return stepDone, nil
}
