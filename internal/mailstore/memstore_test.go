package mailstore

import (
	"testing"
	"time"

	"github.com/mattmanj17/msgindex/internal/models"
)

// eventRecorder captures listener callbacks in order.
type eventRecorder struct {
	events []string
	moves  []moveEvent
}

type moveEvent struct {
	move     bool
	srcHdrs  []Header
	dest     Folder
	destHdrs []Header
}

func (r *eventRecorder) MsgsClassified(hdrs []Header)      { r.events = append(r.events, "classified") }
func (r *eventRecorder) MsgsJunkStatusChanged(hdrs []Header) { r.events = append(r.events, "junk") }
func (r *eventRecorder) MsgsDeleted(hdrs []Header)         { r.events = append(r.events, "deleted") }
func (r *eventRecorder) MsgsMoveCopyCompleted(move bool, srcHdrs []Header, dest Folder, destHdrs []Header) {
	r.events = append(r.events, "movecopy")
	r.moves = append(r.moves, moveEvent{move, srcHdrs, dest, destHdrs})
}
func (r *eventRecorder) MsgKeyChanged(oldKey uint32, newHdr Header) {
	r.events = append(r.events, "keychanged")
}
func (r *eventRecorder) FolderAdded(folder Folder)   { r.events = append(r.events, "added:"+folder.Name()) }
func (r *eventRecorder) FolderDeleted(folder Folder) { r.events = append(r.events, "folderdeleted:"+folder.Name()) }
func (r *eventRecorder) FolderMoveCopyCompleted(move bool, srcURI string, folder Folder) {
	r.events = append(r.events, "foldermovecopy")
}
func (r *eventRecorder) FolderRenamed(oldURI string, folder Folder) {
	r.events = append(r.events, "renamed:"+oldURI)
}
func (r *eventRecorder) FolderCompactStart(folder Folder)  { r.events = append(r.events, "compactstart") }
func (r *eventRecorder) FolderCompactFinish(folder Folder) { r.events = append(r.events, "compactfinish") }
func (r *eventRecorder) FolderReindexTriggered(folder Folder) {
	r.events = append(r.events, "reindex")
}
func (r *eventRecorder) FolderLoaded(folder Folder) { r.events = append(r.events, "loaded") }
func (r *eventRecorder) FolderIntPropertyChanged(folder Folder, property string, oldValue, newValue uint32) {
	r.events = append(r.events, "intprop:"+property)
}
func (r *eventRecorder) FolderPropertyFlagChanged(hdr Header, property string, oldValue, newValue uint32) {
	r.events = append(r.events, "flagprop:"+property)
}

func (r *eventRecorder) last() string {
	if len(r.events) == 0 {
		return ""
	}
	return r.events[len(r.events)-1]
}

func newTestFolder(t *testing.T) (*MemStore, *MemFolder, *eventRecorder) {
	t.Helper()
	store := NewMemStore()
	rec := &eventRecorder{}
	store.SetListener(rec)
	account := store.AddAccount("test@example.com")
	folder := account.AddFolder("INBOX", FolderMail|FolderInbox, true)
	return store, folder, rec
}

func addMessage(f *MemFolder, messageID string) *MemHeader {
	return f.AddMessage(MessageSpec{
		MessageID: messageID,
		Subject:   "subject",
		Date:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestAddMessageAssignsSequentialKeys(t *testing.T) {
	_, folder, _ := newTestFolder(t)

	a := addMessage(folder, "<a@x>")
	b := addMessage(folder, "<b@x>")

	if a.MessageKey() != 1 || b.MessageKey() != 2 {
		t.Errorf("Expected keys 1 and 2, got %d and %d", a.MessageKey(), b.MessageKey())
	}
	if folder.ProcessingFlags(a.MessageKey())&NotYetReported == 0 {
		t.Error("New message should start awaiting classification")
	}

	folder.Classify(a)
	if folder.ProcessingFlags(a.MessageKey())&NotYetReported != 0 {
		t.Error("Classify should clear the pending flag")
	}
}

func TestDeleteAnnouncesBeforeRemoval(t *testing.T) {
	store, folder, _ := newTestFolder(t)

	h := addMessage(folder, "<a@x>")
	folder.Classify(h)

	var sawValid bool
	probe := &eventRecorder{}
	store.SetListener(listenerFunc{probe, func(hdrs []Header) {
		sawValid = len(hdrs) == 1 && hdrs[0].Valid()
	}})
	folder.Delete(h)

	if !sawValid {
		t.Error("MsgsDeleted must fire while the header is still valid")
	}
	if h.Valid() {
		t.Error("Header should be invalid after deletion")
	}
	if err := h.SetIndexState(5, models.Clean); err != ErrHeaderGone {
		t.Errorf("Expected ErrHeaderGone, got %v", err)
	}
	if len(folder.Messages()) != 0 {
		t.Error("Folder should be empty")
	}
}

// listenerFunc overrides MsgsDeleted on an embedded recorder.
type listenerFunc struct {
	*eventRecorder
	onDeleted func(hdrs []Header)
}

func (l listenerFunc) MsgsDeleted(hdrs []Header) { l.onDeleted(hdrs) }

func TestMoveClonesIndexState(t *testing.T) {
	_, folder, rec := newTestFolder(t)
	dest := folder.account.AddFolder("Archive", FolderMail|FolderArchive, true)

	h := addMessage(folder, "<a@x>")
	folder.Classify(h)
	if err := h.SetIndexState(40, models.Clean); err != nil {
		t.Fatalf("SetIndexState failed: %v", err)
	}

	destHdrs := folder.Move(dest, true, h)
	if len(destHdrs) != 1 {
		t.Fatalf("Expected 1 destination header, got %d", len(destHdrs))
	}
	id, dirty := destHdrs[0].IndexState()
	if id != 40 || dirty != models.Clean {
		t.Errorf("Destination header should inherit index state, got id=%d dirty=%v", id, dirty)
	}
	if h.Valid() {
		t.Error("Source header should be gone after a move")
	}

	last := rec.moves[len(rec.moves)-1]
	if !last.move || len(last.destHdrs) != 1 {
		t.Errorf("Expected move event with destination headers, got %+v", last)
	}
}

func TestBlindMoveAnnouncesNoDestHeaders(t *testing.T) {
	_, folder, rec := newTestFolder(t)
	dest := folder.account.AddFolder("Remote", FolderMail, false)

	h := addMessage(folder, "<a@x>")
	folder.Classify(h)
	if err := h.SetIndexState(40, models.Clean); err != nil {
		t.Fatalf("SetIndexState failed: %v", err)
	}
	folder.Move(dest, false, h)

	last := rec.moves[len(rec.moves)-1]
	if len(last.destHdrs) != 0 {
		t.Errorf("Blind move must announce no destination headers, got %d", len(last.destHdrs))
	}
	if len(dest.Messages()) != 1 {
		t.Error("Destination should still have received the message")
	}
	if dest.ProcessingFlags(1)&NotYetReported == 0 {
		t.Error("Blind-move destination header should await classification")
	}
	if id, _ := dest.Messages()[0].IndexState(); id != 0 {
		t.Error("Index state is a local property and must not survive a server-side move")
	}
}

func TestCompactRenumbersKeys(t *testing.T) {
	_, folder, rec := newTestFolder(t)

	a := addMessage(folder, "<a@x>")
	b := addMessage(folder, "<b@x>")
	c := addMessage(folder, "<c@x>")
	folder.Classify(a, b, c)
	folder.Delete(b)

	folder.Compact()

	if a.MessageKey() != 1 || c.MessageKey() != 2 {
		t.Errorf("Expected compacted keys 1 and 2, got %d and %d", a.MessageKey(), c.MessageKey())
	}
	if rec.last() != "compactfinish" {
		t.Errorf("Expected compactfinish last, got %v", rec.events)
	}
}

func TestRenameCascadesToDescendants(t *testing.T) {
	_, folder, rec := newTestFolder(t)
	child := folder.account.AddFolder("INBOX/sub", FolderMail, true)

	oldChildURI := child.URI()
	folder.Rename("Mailbox")

	if folder.URI() != "mem://test@example.com/Mailbox" {
		t.Errorf("Unexpected renamed URI %q", folder.URI())
	}
	if child.URI() != folder.URI()+"/sub" {
		t.Errorf("Descendant URI should follow, got %q (was %q)", child.URI(), oldChildURI)
	}
	if rec.last() != "renamed:mem://test@example.com/INBOX" {
		t.Errorf("Expected rename event with old URI, got %q", rec.last())
	}
}

func TestRemoveDeletesDescendants(t *testing.T) {
	store, folder, rec := newTestFolder(t)
	child := folder.account.AddFolder("INBOX/sub", FolderMail, true)
	h := addMessage(child, "<a@x>")
	child.Classify(h)

	folder.Remove()

	if h.Valid() {
		t.Error("Headers in removed descendants should be invalid")
	}
	deleted := 0
	for _, e := range rec.events {
		if e == "folderdeleted:INBOX" || e == "folderdeleted:INBOX/sub" {
			deleted++
		}
	}
	if deleted != 2 {
		t.Errorf("Expected FolderDeleted for folder and descendant, got events %v", rec.events)
	}
	if len(store.AllFolders()) != 0 {
		t.Errorf("Removed folders should not be listed, got %d", len(store.AllFolders()))
	}
}

func TestReparseLifecycle(t *testing.T) {
	_, folder, rec := newTestFolder(t)

	folder.SetNeedsReparse()
	if err := folder.EnsureDatabase(); err != ErrReparseInProgress {
		t.Fatalf("Expected ErrReparseInProgress, got %v", err)
	}

	folder.FinishReparse()
	if err := folder.EnsureDatabase(); err != nil {
		t.Fatalf("Expected database ready after reparse, got %v", err)
	}
	if rec.last() != "loaded" {
		t.Errorf("Expected FolderLoaded event, got %q", rec.last())
	}
}

func TestSearchWithTermGroups(t *testing.T) {
	_, folder, _ := newTestFolder(t)

	a := addMessage(folder, "<a@x>")
	b := addMessage(folder, "<b@x>")
	c := addMessage(folder, "<c@x>")
	folder.Classify(a, b, c)

	_ = a.SetIndexState(40, models.Clean)
	_ = b.SetIndexState(0, models.Clean)
	_ = c.SetIndexState(41, models.Dirty)

	groups := []TermGroup{{
		{Field: FieldIndexID, Op: OpIs, Value: 0},
		{Field: FieldDirtyState, Op: OpGreaterThan, Value: uint32(models.Clean)},
	}}
	got := folder.Search(groups, false)
	if len(got) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(got))
	}
	if got[0].MessageID() != "<b@x>" || got[1].MessageID() != "<c@x>" {
		t.Errorf("Unexpected match order: %s, %s", got[0].MessageID(), got[1].MessageID())
	}

	reversed := folder.Search(groups, true)
	if reversed[0].MessageID() != "<c@x>" {
		t.Error("Expected reversed order")
	}
}

func TestChangeKeyReorders(t *testing.T) {
	_, folder, rec := newTestFolder(t)

	a := addMessage(folder, "<a@x>")
	b := addMessage(folder, "<b@x>")
	folder.Classify(a, b)

	folder.ChangeKey(a, 10)

	if rec.last() != "keychanged" {
		t.Errorf("Expected key change event, got %q", rec.last())
	}
	msgs := folder.Messages()
	if msgs[0].MessageKey() != 2 || msgs[1].MessageKey() != 10 {
		t.Errorf("Headers should be re-sorted by key, got %d, %d", msgs[0].MessageKey(), msgs[1].MessageKey())
	}
	next := addMessage(folder, "<c@x>")
	if next.MessageKey() != 11 {
		t.Errorf("Next key should follow the raised key, got %d", next.MessageKey())
	}
}

func TestBrokenPropertiesAndRawErrors(t *testing.T) {
	_, folder, _ := newTestFolder(t)

	if _, err := folder.StringProperty("folderName"); err != nil {
		t.Fatalf("Expected working properties, got %v", err)
	}
	folder.BreakProperties()
	if _, err := folder.StringProperty("folderName"); err == nil {
		t.Fatal("Expected property access failure")
	}

	h := addMessage(folder, "<a@x>")
	if _, err := h.Raw(); err == nil {
		t.Error("Expected Raw error when no body is stored")
	}
}
