package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/mattmanj17/msgindex/internal/config"
	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/indexer"
	"github.com/mattmanj17/msgindex/internal/mailstore"
)

// TestIndexerConfig returns the production tuning shrunk so tests cross
// block boundaries with few messages.
func TestIndexerConfig() config.IndexerConfig {
	cfg := config.DefaultIndexer()
	cfg.HeaderCheckBlockSize = 4
	cfg.MessagesPerFolderCommit = 5
	cfg.CompactionBlockSize = 4
	cfg.DeletionBlockSize = 4
	cfg.EventCoalesceLimit = 5
	return cfg
}

// Env is a fully wired store + datastore + indexer for tests.
type Env struct {
	Store   *mailstore.MemStore
	DS      *datastore.Store
	Account *mailstore.MemAccount
	Inbox   *mailstore.MemFolder
	Indexer *indexer.Indexer
}

// NewEnv builds an environment with one account and an inbox, indexing
// enabled, initial sweep drained.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	store := mailstore.NewMemStore()
	ds := NewTestDatastore(t)
	idx := indexer.New(store, ds, TestIndexerConfig())

	account := store.AddAccount("test@example.com")
	inbox := account.AddFolder("INBOX", mailstore.FolderMail|mailstore.FolderInbox, true)

	idx.Enable()
	idx.Drain()

	return &Env{Store: store, DS: ds, Account: account, Inbox: inbox, Indexer: idx}
}

// RawMessage builds minimal RFC822 bytes for a message.
func RawMessage(messageID, subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"Message-ID: %s\r\nSubject: %s\r\nFrom: sender@example.com\r\nTo: recipient@example.com\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		messageID, subject, body))
}

// Deliver adds a classified message to a folder and returns its header.
func Deliver(f *mailstore.MemFolder, messageID, subject string, refs ...string) *mailstore.MemHeader {
	hdr := f.AddMessage(mailstore.MessageSpec{
		MessageID:  messageID,
		Subject:    subject,
		References: refs,
		Date:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Raw:        RawMessage(messageID, subject, "Test message body."),
	})
	f.Classify(hdr)
	return hdr
}
