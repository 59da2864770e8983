package mailstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattmanj17/msgindex/internal/models"
)

// MemStore is an in-memory Store.  It backs the unit tests and serves as
// the landing zone for IMAP ingest in the daemon.  It is not safe for
// concurrent use; the indexer and everything that mutates the store run on
// one goroutine.
type MemStore struct {
	accounts []*MemAccount
	listener Listener
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// SetListener installs the lifecycle listener.
func (s *MemStore) SetListener(l Listener) { s.listener = l }

// Accounts implements Store.
func (s *MemStore) Accounts() []Account {
	out := make([]Account, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = a
	}
	return out
}

// AllFolders implements Store.
func (s *MemStore) AllFolders() []Folder {
	var out []Folder
	for _, a := range s.accounts {
		out = append(out, a.Folders()...)
	}
	return out
}

// AddAccount creates an account with the given key.
func (s *MemStore) AddAccount(key string) *MemAccount {
	a := &MemAccount{store: s, key: key}
	s.accounts = append(s.accounts, a)
	return a
}

func (s *MemStore) notify(fn func(l Listener)) {
	if s.listener != nil {
		fn(s.listener)
	}
}

// MemAccount is an in-memory account.
type MemAccount struct {
	store   *MemStore
	key     string
	folders []*MemFolder
}

// Key implements Account.
func (a *MemAccount) Key() string { return a.key }

// Folders implements Account.
func (a *MemAccount) Folders() []Folder {
	out := make([]Folder, 0, len(a.folders))
	for _, f := range a.folders {
		if !f.removed {
			out = append(out, f)
		}
	}
	return out
}

// AddFolder creates a folder and announces it.  The name may contain '/'
// separators to build a hierarchy.
func (a *MemAccount) AddFolder(name string, flags FolderFlags, local bool) *MemFolder {
	f := &MemFolder{
		account: a,
		name:    name,
		uri:     fmt.Sprintf("mem://%s/%s", a.key, name),
		flags:   flags,
		local:   local,
		nextKey: 1,
	}
	a.folders = append(a.folders, f)
	a.store.notify(func(l Listener) { l.FolderAdded(f) })
	return f
}

// MemFolder is an in-memory folder.
type MemFolder struct {
	account *MemAccount
	name    string
	uri     string
	flags   FolderFlags
	local   bool
	removed bool

	headers      []*MemHeader
	nextKey      uint32
	needsReparse bool
	brokenProps  bool
	commits      int

	dbListeners []DatabaseListener
}

// URI implements Folder.
func (f *MemFolder) URI() string { return f.uri }

// Name implements Folder.
func (f *MemFolder) Name() string { return f.name }

// Flags implements Folder.
func (f *MemFolder) Flags() FolderFlags { return f.flags }

// IsLocal implements Folder.
func (f *MemFolder) IsLocal() bool { return f.local }

// StringProperty implements Folder.
func (f *MemFolder) StringProperty(string) (string, error) {
	if f.brokenProps {
		return "", fmt.Errorf("folder %s: property access failed", f.uri)
	}
	return "", nil
}

// BreakProperties makes StringProperty fail, simulating a folder that does
// not really exist.
func (f *MemFolder) BreakProperties() { f.brokenProps = true }

// EnsureDatabase implements Folder.
func (f *MemFolder) EnsureDatabase() error {
	if f.needsReparse {
		return ErrReparseInProgress
	}
	return nil
}

// SetNeedsReparse makes the next EnsureDatabase call report a pending
// reparse; FinishReparse completes it.
func (f *MemFolder) SetNeedsReparse() { f.needsReparse = true }

// FinishReparse completes a pending reparse and fires FolderLoaded.
func (f *MemFolder) FinishReparse() {
	f.needsReparse = false
	f.account.store.notify(func(l Listener) { l.FolderLoaded(f) })
}

// Commit implements Folder.
func (f *MemFolder) Commit() { f.commits++ }

// Commits returns how many times the folder database was committed.
func (f *MemFolder) Commits() int { return f.commits }

// AddDatabaseListener implements Folder.
func (f *MemFolder) AddDatabaseListener(l DatabaseListener) {
	f.dbListeners = append(f.dbListeners, l)
}

// RemoveDatabaseListener implements Folder.
func (f *MemFolder) RemoveDatabaseListener(l DatabaseListener) {
	for i, cur := range f.dbListeners {
		if cur == l {
			f.dbListeners = append(f.dbListeners[:i], f.dbListeners[i+1:]...)
			return
		}
	}
}

func (f *MemFolder) announceGoingAway() {
	// Copy first; listeners may deregister themselves while being told.
	listeners := append([]DatabaseListener(nil), f.dbListeners...)
	for _, l := range listeners {
		l.AnnouncerGoingAway(f)
	}
}

// Messages implements Folder.
func (f *MemFolder) Messages() []Header {
	out := make([]Header, len(f.headers))
	for i, h := range f.headers {
		out[i] = h
	}
	return out
}

// Search implements Folder.
func (f *MemFolder) Search(groups []TermGroup, reverse bool) []Header {
	var out []Header
	for _, h := range f.headers {
		if MatchGroups(h, groups) {
			out = append(out, h)
		}
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// HeaderByKey implements Folder.
func (f *MemFolder) HeaderByKey(key uint32) (Header, bool) {
	for _, h := range f.headers {
		if h.key == key {
			return h, true
		}
	}
	return nil, false
}

// HeaderByMessageID implements Folder.
func (f *MemFolder) HeaderByMessageID(messageID string) Header {
	for _, h := range f.headers {
		if h.messageID == messageID {
			return h
		}
	}
	return nil
}

// ProcessingFlags implements Folder.
func (f *MemFolder) ProcessingFlags(key uint32) ProcessingFlags {
	for _, h := range f.headers {
		if h.key == key {
			return h.processing
		}
	}
	return 0
}

// MessageSpec describes a message to add to a MemFolder.
type MessageSpec struct {
	MessageID  string
	Subject    string
	References []string
	Date       time.Time
	Flags      MessageFlags
	Raw        []byte
}

// AddMessage appends a header with the next message key.  The header
// starts out awaiting classification; call Classify to announce it.
func (f *MemFolder) AddMessage(spec MessageSpec) *MemHeader {
	h := &MemHeader{
		folder:     f,
		key:        f.nextKey,
		messageID:  spec.MessageID,
		subject:    spec.Subject,
		references: append([]string(nil), spec.References...),
		date:       spec.Date,
		flags:      spec.Flags,
		raw:        spec.Raw,
		processing: NotYetReported,
		valid:      true,
	}
	f.nextKey++
	f.headers = append(f.headers, h)
	return h
}

// Classify clears the processing flags on the headers and announces them.
func (f *MemFolder) Classify(hdrs ...*MemHeader) {
	announced := make([]Header, 0, len(hdrs))
	for _, h := range hdrs {
		h.processing = 0
		announced = append(announced, h)
	}
	f.account.store.notify(func(l Listener) { l.MsgsClassified(announced) })
}

// SetJunk flips the junk score on the headers and fires the junk event.
func (f *MemFolder) SetJunk(spam bool, hdrs ...*MemHeader) {
	changed := make([]Header, 0, len(hdrs))
	for _, h := range hdrs {
		if spam {
			h.junkScore = JunkSpamScore
		} else {
			h.junkScore = "0"
		}
		changed = append(changed, h)
	}
	f.account.store.notify(func(l Listener) { l.MsgsJunkStatusChanged(changed) })
}

// Delete removes the headers for good, announcing the deletion first
// (listeners need the headers while they are still readable).
func (f *MemFolder) Delete(hdrs ...*MemHeader) {
	gone := make([]Header, 0, len(hdrs))
	for _, h := range hdrs {
		gone = append(gone, h)
	}
	f.account.store.notify(func(l Listener) { l.MsgsDeleted(gone) })
	for _, h := range hdrs {
		f.remove(h)
	}
}

func (f *MemFolder) remove(h *MemHeader) {
	for i, cur := range f.headers {
		if cur == h {
			f.headers = append(f.headers[:i], f.headers[i+1:]...)
			h.valid = false
			return
		}
	}
}

// Move transfers headers to dest.  When withDestHeaders is set the
// destination headers are created immediately (the local-store case) and
// handed to the listener; otherwise the destination headers appear later,
// unclassified, as on a server-side move.
func (f *MemFolder) Move(dest *MemFolder, withDestHeaders bool, hdrs ...*MemHeader) []*MemHeader {
	src := make([]Header, 0, len(hdrs))
	destHdrs := make([]*MemHeader, 0, len(hdrs))
	announced := []Header{}
	for _, h := range hdrs {
		src = append(src, h)
		nh := dest.cloneIn(h)
		if withDestHeaders {
			nh.processing = 0
			announced = append(announced, nh)
		} else {
			// Server-side move; custom header properties do not survive.
			nh.indexID = 0
			nh.dirty = models.Clean
		}
		destHdrs = append(destHdrs, nh)
	}
	f.account.store.notify(func(l Listener) {
		l.MsgsMoveCopyCompleted(true, src, dest, announced)
	})
	for _, h := range hdrs {
		f.remove(h)
	}
	return destHdrs
}

// Copy duplicates headers into dest.  Destination headers inherit all the
// source properties, index state included; sorting that out is the
// listener's problem.
func (f *MemFolder) Copy(dest *MemFolder, hdrs ...*MemHeader) []*MemHeader {
	src := make([]Header, 0, len(hdrs))
	destHdrs := make([]*MemHeader, 0, len(hdrs))
	announced := []Header{}
	for _, h := range hdrs {
		src = append(src, h)
		nh := dest.cloneIn(h)
		nh.processing = 0
		destHdrs = append(destHdrs, nh)
		announced = append(announced, nh)
	}
	f.account.store.notify(func(l Listener) {
		l.MsgsMoveCopyCompleted(false, src, dest, announced)
	})
	return destHdrs
}

func (f *MemFolder) cloneIn(h *MemHeader) *MemHeader {
	nh := &MemHeader{
		folder:     f,
		key:        f.nextKey,
		messageID:  h.messageID,
		subject:    h.subject,
		references: append([]string(nil), h.references...),
		date:       h.date,
		flags:      h.flags,
		junkScore:  h.junkScore,
		indexID:    h.indexID,
		dirty:      h.dirty,
		raw:        h.raw,
		valid:      true,
	}
	f.nextKey++
	f.headers = append(f.headers, nh)
	return nh
}

// ChangeKey renumbers a single header in place, as happens when an offline
// placeholder header turns into the real one.
func (f *MemFolder) ChangeKey(h *MemHeader, newKey uint32) {
	oldKey := h.key
	h.key = newKey
	if newKey >= f.nextKey {
		f.nextKey = newKey + 1
	}
	sort.SliceStable(f.headers, func(i, j int) bool { return f.headers[i].key < f.headers[j].key })
	f.account.store.notify(func(l Listener) { l.MsgKeyChanged(oldKey, h) })
}

// Compact renumbers the folder's message keys to close gaps, discarding
// the folder database in the process.  Keys never grow.
func (f *MemFolder) Compact() {
	f.account.store.notify(func(l Listener) { l.FolderCompactStart(f) })
	f.announceGoingAway()
	next := uint32(1)
	for _, h := range f.headers {
		h.key = next
		next++
	}
	f.nextKey = next
	f.account.store.notify(func(l Listener) { l.FolderCompactFinish(f) })
}

// Rename changes the folder's name and URI; descendants follow.
func (f *MemFolder) Rename(newName string) {
	oldURI := f.uri
	f.announceGoingAway()
	oldPrefix := f.uri + "/"
	f.name = newName
	f.uri = fmt.Sprintf("mem://%s/%s", f.account.key, newName)
	for _, sub := range f.account.folders {
		if strings.HasPrefix(sub.uri, oldPrefix) {
			sub.uri = f.uri + "/" + strings.TrimPrefix(sub.uri, oldPrefix)
		}
	}
	f.account.store.notify(func(l Listener) { l.FolderRenamed(oldURI, f) })
}

// Remove deletes the folder and its descendants, announcing each.
func (f *MemFolder) Remove() {
	victims := []*MemFolder{f}
	prefix := f.uri + "/"
	for _, sub := range f.account.folders {
		if strings.HasPrefix(sub.uri, prefix) {
			victims = append(victims, sub)
		}
	}
	for _, v := range victims {
		v.announceGoingAway()
		v.removed = true
		for _, h := range v.headers {
			h.valid = false
		}
		v.headers = nil
		f.account.store.notify(func(l Listener) { l.FolderDeleted(v) })
	}
}

// TriggerReindex simulates the user asking for a folder repair; the
// summary rebuild completes on FinishReparse.
func (f *MemFolder) TriggerReindex() {
	f.announceGoingAway()
	f.needsReparse = true
	f.account.store.notify(func(l Listener) { l.FolderReindexTriggered(f) })
}

// SetFlags changes the folder flags and announces the property change.
func (f *MemFolder) SetFlags(flags FolderFlags) {
	old := f.flags
	f.flags = flags
	f.account.store.notify(func(l Listener) {
		l.FolderIntPropertyChanged(f, "FolderFlag", uint32(old), uint32(flags))
	})
}

// MarkFlagged toggles the flagged star on a header and announces it.
func (f *MemFolder) MarkFlagged(h *MemHeader, flagged bool) {
	old := h.flags
	if flagged {
		h.flags |= FlagFlagged
	} else {
		h.flags &^= FlagFlagged
	}
	f.account.store.notify(func(l Listener) {
		l.FolderPropertyFlagChanged(h, "Flagged", uint32(old), uint32(h.flags))
	})
}

// MemHeader is an in-memory message header.
type MemHeader struct {
	folder     *MemFolder
	key        uint32
	messageID  string
	subject    string
	references []string
	date       time.Time
	flags      MessageFlags
	junkScore  string
	processing ProcessingFlags
	raw        []byte
	valid      bool

	indexID uint32
	dirty   models.DirtyState
}

// Folder implements Header.
func (h *MemHeader) Folder() Folder { return h.folder }

// MessageKey implements Header.
func (h *MemHeader) MessageKey() uint32 { return h.key }

// MessageID implements Header.
func (h *MemHeader) MessageID() string { return h.messageID }

// Subject implements Header.
func (h *MemHeader) Subject() string { return h.subject }

// Date implements Header.
func (h *MemHeader) Date() time.Time { return h.date }

// References implements Header.
func (h *MemHeader) References() []string {
	return append([]string(nil), h.references...)
}

// Flags implements Header.
func (h *MemHeader) Flags() MessageFlags { return h.flags }

// JunkScore implements Header.
func (h *MemHeader) JunkScore() string { return h.junkScore }

// IndexState implements Header.
func (h *MemHeader) IndexState() (uint32, models.DirtyState) {
	return h.indexID, h.dirty
}

// SetIndexState implements Header.
func (h *MemHeader) SetIndexState(id uint32, dirty models.DirtyState) error {
	if !h.valid {
		return ErrHeaderGone
	}
	h.indexID = id
	h.dirty = dirty
	return nil
}

// Raw implements Header.
func (h *MemHeader) Raw() ([]byte, error) {
	if h.raw == nil {
		return nil, fmt.Errorf("message %s: no local copy of body", h.messageID)
	}
	return h.raw, nil
}

// Valid implements Header.
func (h *MemHeader) Valid() bool { return h.valid }
