package models

import (
	"fmt"
	"time"
)

// DirtyState tracks how much (re)indexing a folder or message needs.  The
// same three values are used at both levels.
type DirtyState uint32

const (
	// Clean means fully indexed; nothing to do.
	Clean DirtyState = 0
	// Dirty means some messages need indexing, but existing index linkage
	// is still usable as a starting point.
	Dirty DirtyState = 1
	// Filthy means the existing index linkage cannot be trusted at all and
	// must be rebuilt from scratch.  Filthy is strictly worse than Dirty; a
	// folder only moves filthy->dirty after every message in it has been
	// defensively marked filthy at the message level.
	Filthy DirtyState = 2
)

func (d DirtyState) String() string {
	switch d {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Filthy:
		return "filthy"
	}
	return fmt.Sprintf("dirty(%d)", uint32(d))
}

// Message is an index record.  Every persisted message belongs to exactly
// one conversation.  A message is either live (has a folder and a message
// key), a ghost (no folder/key; exists only so thread linkage to a
// never-seen ancestor has something to hang off of), or deleted (tombstoned
// awaiting the delete sweep).
type Message struct {
	ID              int64
	FolderID        int64 // 0 for ghosts
	MessageKey      uint32
	HasMessageKey   bool
	ConversationID  int64
	HeaderMessageID string
	Date            time.Time
	Deleted         bool

	// Transient indexing scratch.  Populated while a message is being run
	// through attribute extraction and discarded afterwards.
	Subject         string
	BodyLines       []string
	AttachmentNames []string
	Notability      int

	purged bool
}

// IsGhost reports whether the record is a thread placeholder with no real
// backing header.
func (m *Message) IsGhost() bool {
	return m.FolderID == 0 && !m.HasMessageKey
}

// Ghost strips the record down to a thread placeholder: conversation
// linkage stays, folder/key/tombstone go.
func (m *Message) Ghost() {
	m.FolderID = 0
	m.MessageKey = 0
	m.HasMessageKey = false
	m.Deleted = false
}

// EnsureNotDeleted clears the tombstone flag when a record is being reused
// for a message that turned out to still exist.
func (m *Message) EnsureNotDeleted() {
	m.Deleted = false
}

// MarkPurged poisons the in-memory record once its row has been removed, so
// later accidental use is detectable as a bug rather than silent corruption.
func (m *Message) MarkPurged() {
	m.purged = true
}

// Purged reports whether MarkPurged was called on this record.
func (m *Message) Purged() bool {
	return m.purged
}

func (m *Message) String() string {
	switch {
	case m.purged:
		return fmt.Sprintf("message:%d [purged]", m.ID)
	case m.IsGhost():
		return fmt.Sprintf("message:%d ghost %q conv:%d", m.ID, m.HeaderMessageID, m.ConversationID)
	default:
		return fmt.Sprintf("message:%d folder:%d key:%d conv:%d", m.ID, m.FolderID, m.MessageKey, m.ConversationID)
	}
}

// Conversation groups messages that belong to one thread.  A conversation
// whose only members are ghosts is garbage and gets deleted together with
// those ghosts.
type Conversation struct {
	ID      int64
	Subject string
}
