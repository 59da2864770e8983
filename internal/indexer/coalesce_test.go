package indexer

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mattmanj17/msgindex/internal/config"
	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

// coalesceFixture wires an indexer that is not enabled, so queued jobs can
// be inspected without anything running them.
func coalesceFixture(t *testing.T) (*Indexer, *mailstore.MemFolder) {
	t.Helper()
	cfg := config.DefaultIndexer()
	cfg.EventCoalesceLimit = 3
	ds, err := datastore.Open(filepath.Join(t.TempDir(), "index.db"), cfg.FirstValidID)
	if err != nil {
		t.Fatalf("Failed to open test datastore: %v", err)
	}
	t.Cleanup(func() {
		if err := ds.Close(); err != nil {
			t.Errorf("Failed to close test datastore: %v", err)
		}
	})
	store := mailstore.NewMemStore()
	idx := New(store, ds, cfg)
	account := store.AddAccount("test@example.com")
	inbox := account.AddFolder("INBOX", mailstore.FolderMail|mailstore.FolderInbox, true)
	return idx, inbox
}

func classifiedHeaders(f *mailstore.MemFolder, n int) []mailstore.Header {
	hdrs := make([]mailstore.Header, 0, n)
	for k := 0; k < n; k++ {
		h := f.AddMessage(mailstore.MessageSpec{MessageID: fmt.Sprintf("<c%d@x>", k), Subject: "s"})
		f.Classify(h)
		hdrs = append(hdrs, h)
	}
	return hdrs
}

func TestIndexMessagesCoalescesIntoQueuedJob(t *testing.T) {
	idx, inbox := coalesceFixture(t)
	hdrs := classifiedHeaders(inbox, 2)

	idx.IndexMessages(hdrs[:1])
	idx.IndexMessages(hdrs[1:])

	job := idx.sched.PendingJob(JobMessage)
	if job == nil {
		t.Fatal("Expected a queued message job")
	}
	if len(job.refs) != 2 || job.Goal != 2 {
		t.Errorf("Both requests should land in one job, got refs=%d goal=%d", len(job.refs), job.Goal)
	}
	if idx.sched.Pending() != 1 {
		t.Errorf("Expected a single queued job, got %d", idx.sched.Pending())
	}
}

func TestIndexMessagesOverflowFallsBackToSweep(t *testing.T) {
	idx, inbox := coalesceFixture(t)
	hdrs := classifiedHeaders(inbox, idx.cfg.EventCoalesceLimit+2)

	idx.IndexMessages(hdrs)

	job := idx.sched.PendingJob(JobMessage)
	if job == nil {
		t.Fatal("Expected a queued message job")
	}
	if len(job.refs) != idx.cfg.EventCoalesceLimit {
		t.Errorf("The job holds at most the budget, got %d refs", len(job.refs))
	}
	if !idx.sched.HasJob(JobSweep) {
		t.Error("Overflow should request a sweep")
	}
	rec, ok := idx.ds.FolderByURI(inbox.URI())
	if !ok || rec.DirtyStatus != models.Dirty {
		t.Error("Overflow should dirty the folder so the sweep picks it up")
	}
}

func TestIndexMessagesDoesNotJoinStartedJob(t *testing.T) {
	idx, inbox := coalesceFixture(t)
	hdrs := classifiedHeaders(inbox, 2)

	idx.IndexMessages(hdrs[:1])
	first := idx.sched.PendingJob(JobMessage)
	if first == nil {
		t.Fatal("Expected a queued message job")
	}
	first.started = true

	idx.IndexMessages(hdrs[1:])
	second := idx.sched.PendingJob(JobMessage)
	if second == nil || second == first {
		t.Fatal("A job already running must not absorb new refs")
	}
	if len(first.refs) != 1 || len(second.refs) != 1 {
		t.Errorf("Each job keeps its own refs, got %d and %d", len(first.refs), len(second.refs))
	}
}
