// Package indexer is the incremental message indexing engine.  It keeps a
// datastore of message records, conversations and fulltext in sync with a
// live message store, driving all work through a cooperative job queue on
// a single goroutine.
package indexer

import (
	"fmt"
	"log"

	"github.com/mattmanj17/msgindex/internal/config"
	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

// Indexer owns the job queue, the pending-commit tracker and the mapping
// between live folders and their datastore records.  Everything runs on
// the goroutine that calls Step or Drain; the store delivers its events on
// that same goroutine.
type Indexer struct {
	cfg     config.IndexerConfig
	store   mailstore.Store
	ds      *datastore.Store
	sched   *Scheduler
	pending *PendingCommitTracker

	attributors []Attributor
	listeners   []ProgressListener

	enabled          bool
	initialSweepDone bool
	pendingDeletions bool

	// parked holds jobs suspended on a summary reparse, keyed by datastore
	// folder id, until FolderLoaded revives them.
	parked map[int64][]*Job

	// liveFolders maps folder URIs to their store folders so queued jobs
	// can find their way back.
	liveFolders map[string]mailstore.Folder

	// Key-change writes are batched; single-message renumbering arrives
	// in bursts when offline placeholders resolve.
	keyChangeIDs  []int64
	keyChangeKeys []uint32
}

// New creates an indexer over a store and datastore.  It installs itself
// as the store's event listener; call Enable to start indexing.
func New(store mailstore.Store, ds *datastore.Store, cfg config.IndexerConfig) *Indexer {
	i := &Indexer{
		cfg:         cfg,
		store:       store,
		ds:          ds,
		sched:       newScheduler(),
		pending:     newPendingCommitTracker(),
		parked:      make(map[int64][]*Job),
		liveFolders: make(map[string]mailstore.Folder),
	}
	i.attributors = []Attributor{&fulltextAttributor{}, &statusAttributor{}}

	i.sched.register(JobSweep, workerDef{work: i.sweepWorker})
	i.sched.register(JobFolder, workerDef{
		work:    i.folderWorker,
		recover: i.recoverFolderJob,
		cleanup: i.cleanupFolderJob,
	})
	i.sched.register(JobFolderCompact, workerDef{
		work:    i.compactionWorker,
		cleanup: i.cleanupFolderJob,
	})
	i.sched.register(JobMessage, workerDef{
		work:    i.messageListWorker,
		recover: i.recoverMessageListJob,
	})
	i.sched.register(JobDelete, workerDef{work: i.deleteWorker})
	i.sched.register(JobMigrate, workerDef{work: i.migrateWorker})

	i.sched.onProgress = i.notifyProgress
	store.SetListener(i)
	return i
}

// AddAttributor registers an additional attribute extractor.  Attributors
// run in registration order for every message indexed.
func (i *Indexer) AddAttributor(a Attributor) {
	i.attributors = append(i.attributors, a)
}

// AddProgressListener registers a progress listener.
func (i *Indexer) AddProgressListener(l ProgressListener) {
	i.listeners = append(i.listeners, l)
}

// Enable turns indexing on.  The first enable schedules the initial
// sweep that reconciles the datastore with whatever changed while the
// indexer was not running.
func (i *Indexer) Enable() {
	i.enabled = true
	if !i.initialSweepDone {
		i.initialSweepDone = true
		i.scheduleSweep()
	}
}

// Enabled reports whether indexing is on.
func (i *Indexer) Enabled() bool { return i.enabled }

// Step runs one unit of queued work; it returns false when the queue is
// empty.
func (i *Indexer) Step() bool {
	more := i.sched.Step()
	if !more {
		i.finishBatch()
	}
	return more
}

// Drain runs queued work to completion, including follow-on jobs that
// completing work schedules.
func (i *Indexer) Drain() {
	for {
		i.sched.Drain()
		i.finishBatch()
		if i.sched.Pending() == 0 {
			return
		}
	}
}

// finishBatch flushes stragglers once the queue goes idle: batched key
// changes, deferred header writes, and the delete sweep earned by
// tombstones written along the way.
func (i *Indexer) finishBatch() {
	i.flushKeyChanges()
	if i.pendingDeletions && !i.sched.HasJob(JobDelete) {
		i.pendingDeletions = false
		i.sched.PushBack(&Job{Kind: JobDelete})
	}
	i.flush()
}

// flush makes datastore writes durable and lets the pending-commit
// tracker move its shadow states onto the real headers.
func (i *Indexer) flush() {
	if i.pending.HasPending() {
		i.ds.RunPostCommit(i.pending.Commit)
	}
	if err := i.ds.Flush(); err != nil {
		log.Printf("Warning: datastore flush failed: %v", err)
	}
}

func (i *Indexer) scheduleSweep() {
	if !i.sched.HasJob(JobSweep) {
		i.sched.PushBack(&Job{Kind: JobSweep})
	}
}

func (i *Indexer) notifyProgress(j *Job) {
	if len(i.listeners) == 0 {
		return
	}
	p := Progress{
		JobKind:    j.Kind.String(),
		Offset:     j.Offset,
		Goal:       j.Goal,
		QueueDepth: i.sched.Pending(),
	}
	if rec, ok := i.ds.FolderByID(j.FolderID); ok {
		p.FolderURI = rec.URI
	}
	for _, l := range i.listeners {
		l.IndexingProgress(p)
	}
}

// IndexEverything dirties every known folder and sweeps.
func (i *Indexer) IndexEverything() {
	i.dirtyAllKnownFolders()
	i.scheduleSweep()
}

// IndexAccount dirties an account's folders and sweeps.
func (i *Indexer) IndexAccount(account mailstore.Account) {
	for _, f := range account.Folders() {
		if !i.shouldIndexFolder(f) {
			continue
		}
		rec, err := i.mapFolder(f)
		if err != nil {
			log.Printf("Warning: cannot map folder %s: %v", f.URI(), err)
			continue
		}
		i.raiseFolderDirty(rec, models.Dirty)
	}
	i.scheduleSweep()
}

// IndexFolder queues an indexing job for one folder.
func (i *Indexer) IndexFolder(f mailstore.Folder) error {
	return i.indexFolder(f, false, nil)
}

// ForceIndexFolder queues a pass that revisits every message in the
// folder, indexed or not.  done, if non-nil, runs when the job leaves the
// queue; aborted reports a kill or abandonment instead of completion.
func (i *Indexer) ForceIndexFolder(f mailstore.Folder, done func(aborted bool)) error {
	return i.indexFolder(f, true, done)
}

func (i *Indexer) indexFolder(f mailstore.Folder, force bool, done func(aborted bool)) error {
	if !i.shouldIndexFolder(f) {
		return fmt.Errorf("folder %s is not eligible for indexing", f.URI())
	}
	rec, err := i.mapFolder(f)
	if err != nil {
		return err
	}
	i.raiseFolderDirty(rec, models.Dirty)
	i.sched.PushBack(&Job{Kind: JobFolder, FolderID: rec.ID, force: force, done: done})
	return nil
}

// IndexMessages queues indexing for specific messages.  New work coalesces
// into a queued message job that has not started yet, up to the event
// budget; anything past the budget falls back to dirtying its folder for
// the next sweep.
func (i *Indexer) IndexMessages(hdrs []mailstore.Header) {
	job := i.sched.PendingJob(JobMessage)
	queued := job != nil
	if job == nil {
		job = &Job{Kind: JobMessage}
	}
	var overflow []mailstore.Header
	for _, hdr := range hdrs {
		if len(job.refs) >= i.cfg.EventCoalesceLimit {
			overflow = append(overflow, hdr)
			continue
		}
		job.refs = append(job.refs, headerRef{folder: hdr.Folder(), key: hdr.MessageKey()})
	}
	job.Goal = len(job.refs)
	if !queued && len(job.refs) > 0 {
		i.sched.PushBack(job)
	}
	for _, hdr := range overflow {
		rec, err := i.mapFolder(hdr.Folder())
		if err != nil {
			log.Printf("Warning: cannot map folder %s: %v", hdr.Folder().URI(), err)
			continue
		}
		i.raiseFolderDirty(rec, models.Dirty)
	}
	if len(overflow) > 0 {
		i.scheduleSweep()
	}
}

// Migrate queues the post-upgrade job that re-dirties every folder and
// records the new schema version.
func (i *Indexer) Migrate() {
	i.sched.PushBack(&Job{Kind: JobMigrate})
}

// IsMessageIndexed reports whether a header is fully indexed right now,
// consulting the pending-commit shadow state.
func (i *Indexer) IsMessageIndexed(hdr mailstore.Header) bool {
	id, dirty := i.pending.State(hdr)
	return int64(id) >= i.cfg.FirstValidID && dirty == models.Clean
}

// MessagesByHeaderIDs returns the known index records for each given
// message-id header value.
func (i *Indexer) MessagesByHeaderIDs(headerIDs []string) ([][]*models.Message, error) {
	return i.ds.MessagesByHeaderMessageID(headerIDs)
}

// SetFolderIndexingPriority pins a folder's priority.  Dropping a folder
// to never-index kills its queued work.
func (i *Indexer) SetFolderIndexingPriority(f mailstore.Folder, priority int) error {
	rec, err := i.mapFolder(f)
	if err != nil {
		return err
	}
	rec.Priority = priority
	if err := i.ds.UpdateFolderIndexingPriority(rec); err != nil {
		return err
	}
	if priority == models.PriorityNever {
		i.sched.PurgeFolder(rec.ID, rec.URI)
	}
	return nil
}

// ResetFolderIndexingPriority recomputes a folder's priority from its
// current flags.
func (i *Indexer) ResetFolderIndexingPriority(f mailstore.Folder) error {
	return i.SetFolderIndexingPriority(f, defaultFolderPriority(f))
}

// dirtyAllKnownFolders raises every known clean folder to dirty so the
// next sweep revisits it.
func (i *Indexer) dirtyAllKnownFolders() {
	for _, rec := range i.ds.Folders() {
		i.raiseFolderDirty(rec, models.Dirty)
	}
}

// raiseFolderDirty raises a folder's dirty status.  Dirty statuses only
// escalate here; filthy is cleared exclusively by the folder worker after
// its marking pass.
func (i *Indexer) raiseFolderDirty(rec *models.Folder, state models.DirtyState) {
	if rec.DirtyStatus >= state {
		return
	}
	rec.DirtyStatus = state
	if err := i.ds.UpdateFolderDirtyStatus(rec); err != nil {
		log.Printf("Warning: cannot persist dirty status for %s: %v", rec.URI, err)
	}
}

// mapFolder returns the datastore record for a live folder, creating it on
// first contact.
func (i *Indexer) mapFolder(f mailstore.Folder) (*models.Folder, error) {
	i.liveFolders[f.URI()] = f
	if rec, ok := i.ds.FolderByURI(f.URI()); ok {
		return rec, nil
	}
	return i.ds.MapFolder(f.URI(), defaultFolderPriority(f))
}

// storeFolder resolves a datastore folder record back to its live folder.
func (i *Indexer) storeFolder(rec *models.Folder) (mailstore.Folder, bool) {
	if f, ok := i.liveFolders[rec.URI]; ok {
		return f, true
	}
	for _, f := range i.store.AllFolders() {
		if f.URI() == rec.URI {
			i.liveFolders[rec.URI] = f
			return f, true
		}
	}
	return nil, false
}

// shouldIndexFolder is the folder-level eligibility check: real mail
// folders only, and not ones the user priced out.
func (i *Indexer) shouldIndexFolder(f mailstore.Folder) bool {
	flags := f.Flags()
	if flags&mailstore.FolderVirtual != 0 {
		return false
	}
	if flags&mailstore.FolderMail == 0 {
		return false
	}
	// A folder that cannot answer property reads does not really exist.
	if _, err := f.StringProperty("folderName"); err != nil {
		return false
	}
	if rec, ok := i.ds.FolderByURI(f.URI()); ok {
		return rec.ShouldIndex()
	}
	return defaultFolderPriority(f) != models.PriorityNever
}

// defaultFolderPriority derives a folder's starting priority from its
// special-use flags.
func defaultFolderPriority(f mailstore.Folder) int {
	flags := f.Flags()
	switch {
	case flags&(mailstore.FolderTrash|mailstore.FolderJunk|mailstore.FolderQueue) != 0:
		return models.PriorityNever
	case flags&mailstore.FolderVirtual != 0:
		return models.PriorityNever
	case flags&mailstore.FolderInbox != 0:
		return models.PriorityCheckNew
	default:
		return models.PriorityDefault
	}
}

// noteKeyChange batches a durable key rewrite for a record.
func (i *Indexer) noteKeyChange(id int64, newKey uint32) {
	i.keyChangeIDs = append(i.keyChangeIDs, id)
	i.keyChangeKeys = append(i.keyChangeKeys, newKey)
	if len(i.keyChangeIDs) >= i.cfg.HeaderCheckBlockSize {
		i.flushKeyChanges()
	}
}

func (i *Indexer) flushKeyChanges() {
	if len(i.keyChangeIDs) == 0 {
		return
	}
	if err := i.ds.UpdateMessageKeys(i.keyChangeIDs, i.keyChangeKeys); err != nil {
		log.Printf("Warning: key change flush failed: %v", err)
	}
	i.keyChangeIDs = i.keyChangeIDs[:0]
	i.keyChangeKeys = i.keyChangeKeys[:0]
}
