package indexer

import (
	"sort"
	"strconv"

	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/models"
)

func schemaVersionString() string {
	return strconv.Itoa(datastore.SchemaVersion)
}

// sweepState is the snapshot a sweep works through: the dirty folders as
// of sweep start, best priority first.  Folders dirtied while the sweep
// runs are picked up by the next sweep.
type sweepState struct {
	folderIDs []int64
}

// sweepWorker visits one folder per unit, pushing a folder job in front
// of itself so the folder is fully indexed before the sweep moves on.
func (i *Indexer) sweepWorker(j *Job) (stepResult, error) {
	st, ok := j.state.(*sweepState)
	if !ok {
		st = &sweepState{}
		recs := i.ds.Folders()
		sort.SliceStable(recs, func(a, b int) bool {
			return recs[a].Priority > recs[b].Priority
		})
		for _, rec := range recs {
			if rec.DirtyStatus == models.Clean || !rec.ShouldIndex() {
				continue
			}
			st.folderIDs = append(st.folderIDs, rec.ID)
		}
		j.Goal = len(st.folderIDs)
		j.state = st
	}

	// Discovery pass: make sure every eligible live folder has a record,
	// so a first-run sweep sees the whole store.  Already-mapped folders
	// are cheap lookups.
	if j.Offset == 0 {
		added := false
		for _, f := range i.store.AllFolders() {
			if _, known := i.ds.FolderByURI(f.URI()); known {
				continue
			}
			if !i.shouldIndexFolder(f) {
				continue
			}
			rec, err := i.mapFolder(f)
			if err != nil {
				continue
			}
			st.folderIDs = append(st.folderIDs, rec.ID)
			added = true
		}
		if added {
			sort.SliceStable(st.folderIDs, func(a, b int) bool {
				ra, _ := i.ds.FolderByID(st.folderIDs[a])
				rb, _ := i.ds.FolderByID(st.folderIDs[b])
				return ra.Priority > rb.Priority
			})
			j.Goal = len(st.folderIDs)
		}
	}

	if len(st.folderIDs) == 0 {
		return stepDone, nil
	}
	id := st.folderIDs[0]
	st.folderIDs = st.folderIDs[1:]
	j.Offset++

	rec, ok := i.ds.FolderByID(id)
	if !ok || rec.DirtyStatus == models.Clean || !rec.ShouldIndex() {
		return stepMore, nil
	}
	i.sched.PushFront(&Job{Kind: JobFolder, FolderID: id})
	return stepMore, nil
}

// migrateWorker runs after a schema upgrade: every known folder goes back
// to dirty, the new schema version is recorded, and a sweep rebuilds from
// there.
func (i *Indexer) migrateWorker(j *Job) (stepResult, error) {
	i.dirtyAllKnownFolders()
	if err := i.ds.SetMetaValue("schemaVersion", schemaVersionString()); err != nil {
		return stepDone, err
	}
	i.scheduleSweep()
	return stepDone, nil
}
