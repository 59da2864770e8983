// Package mailstore defines the contract between the indexer and the
// underlying message store: folder/header access, the small search-term
// algebra used to enumerate candidate messages, and the lifecycle events
// the store delivers as it is mutated.  An in-memory implementation lives
// in memstore.go; it backs the tests and the daemon's ingest path.
package mailstore

import (
	"errors"
	"time"

	"github.com/mattmanj17/msgindex/internal/models"
)

// ErrReparseInProgress is returned by Folder.EnsureDatabase when the
// folder's summary needs to be rebuilt before it can be read.  The caller
// must wait for the FolderLoaded event before retrying.
var ErrReparseInProgress = errors.New("folder summary reparse in progress")

// ErrHeaderGone is returned when writing state to a header whose backing
// database has been discarded.
var ErrHeaderGone = errors.New("message header no longer valid")

// FolderFlags describes what kind of folder this is.
type FolderFlags uint32

const (
	FolderMail FolderFlags = 1 << iota
	FolderVirtual
	FolderOffline
	FolderInbox
	FolderSent
	FolderArchive
	FolderTrash
	FolderJunk
	FolderQueue
)

// SpecialUseMask covers the flags that determine a folder's default
// indexing priority.
const SpecialUseMask = FolderInbox | FolderSent | FolderArchive | FolderTrash | FolderJunk | FolderQueue

// MessageFlags is the per-message status bitfield.
type MessageFlags uint32

const (
	FlagOffline MessageFlags = 1 << iota
	FlagExpunged
	FlagNew
	FlagIMAPDeleted
	FlagFlagged
)

// ProcessingFlags track pipeline stages a newly arrived message has not
// cleared yet.  A message still carrying any of these must not be indexed;
// the classification verdict could still turn it into spam.
type ProcessingFlags uint32

const (
	ProcessingClassification ProcessingFlags = 1 << iota
	ProcessingFilters
)

// NotYetReported is the set of processing flags that mean a message has
// not yet been announced via MsgsClassified.
const NotYetReported = ProcessingClassification | ProcessingFilters

// JunkSpamScore is the junk-score property value meaning "definitely spam".
const JunkSpamScore = "100"

// Header is a single message header in a folder's database.
type Header interface {
	Folder() Folder
	MessageKey() uint32
	MessageID() string
	Subject() string
	Date() time.Time
	// References returns ancestor message-ids, oldest first.
	References() []string
	Flags() MessageFlags
	JunkScore() string

	// IndexState reads the two index properties stored on the header: the
	// index record id (0 = never indexed) and the dirty state.  During the
	// pending-commit window these raw values lag the logical state; go
	// through the pending-commit tracker instead of calling this directly.
	IndexState() (id uint32, dirty models.DirtyState)
	// SetIndexState writes both index properties.  The write is queued
	// synchronously; durability follows on the next folder commit.
	SetIndexState(id uint32, dirty models.DirtyState) error

	// Raw returns the full RFC822 bytes when the message body is available
	// locally (local folder or offline-fetched).
	Raw() ([]byte, error)
	// Valid reports whether the header's backing database still exists.
	Valid() bool
}

// DatabaseListener is notified when a folder's database is about to be
// discarded out from under its users (compaction, rename, repair).
type DatabaseListener interface {
	AnnouncerGoingAway(folder Folder)
}

// Folder is one folder of one account.
type Folder interface {
	URI() string
	Name() string
	Flags() FolderFlags
	// IsLocal distinguishes local-store folders (bodies always readable,
	// keys are storage offsets subject to compaction) from server-backed
	// ones.
	IsLocal() bool

	// StringProperty reads a named folder property.  Folders that error
	// here do not really exist and must not be indexed.
	StringProperty(name string) (string, error)

	// EnsureDatabase makes sure a valid per-folder database exists,
	// triggering a background reparse if needed (ErrReparseInProgress).
	EnsureDatabase() error
	// Commit flushes the folder database.
	Commit()
	AddDatabaseListener(l DatabaseListener)
	RemoveDatabaseListener(l DatabaseListener)

	// Messages enumerates every header in message-key order.
	Messages() []Header
	// Search enumerates headers matching the term groups (see filter.go),
	// in key order, or reversed when reverse is set.
	Search(groups []TermGroup, reverse bool) []Header
	HeaderByKey(key uint32) (Header, bool)
	// HeaderByMessageID returns any header carrying the message-id, or nil.
	HeaderByMessageID(messageID string) Header
	ProcessingFlags(key uint32) ProcessingFlags
}

// Account owns a folder subtree.
type Account interface {
	Key() string
	Folders() []Folder
}

// Store is the root of the message store.
type Store interface {
	Accounts() []Account
	// AllFolders enumerates every folder of every account.
	AllFolders() []Folder
	// SetListener installs the single lifecycle-event listener.  Events are
	// delivered synchronously on the mutating goroutine; the whole
	// store+indexer system is driven from one goroutine.
	SetListener(l Listener)
}
