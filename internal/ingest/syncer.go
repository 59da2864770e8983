// Package ingest pulls mail from an IMAP server into the in-memory store
// the indexer watches.  The network work happens on the syncer's own
// goroutine; every store mutation is handed to the indexing goroutine
// through the Apply hook.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/mattmanj17/msgindex/internal/mailstore"
)

// Syncer mirrors one IMAP account into a MemStore account.
type Syncer struct {
	store   *mailstore.MemStore
	account *mailstore.MemAccount

	addr     string
	username string
	password string
	useTLS   bool

	// Apply runs store mutations on the indexing goroutine.  The daemon
	// wires this to its event loop; tests leave it nil and mutate inline.
	Apply func(fn func())

	client *client.Client

	// lastSeen tracks, per folder name, the highest message sequence
	// number already ingested.
	lastSeen map[string]uint32
	folders  map[string]*mailstore.MemFolder
}

// NewSyncer creates a syncer for one account.
func NewSyncer(store *mailstore.MemStore, accountKey, addr, username, password string, useTLS bool) *Syncer {
	return &Syncer{
		store:    store,
		account:  store.AddAccount(accountKey),
		addr:     addr,
		username: username,
		password: password,
		useTLS:   useTLS,
		lastSeen: make(map[string]uint32),
		folders:  make(map[string]*mailstore.MemFolder),
	}
}

func (s *Syncer) apply(fn func()) {
	if s.Apply != nil {
		s.Apply(fn)
		return
	}
	fn()
}

// Connect dials and authenticates.
func (s *Syncer) Connect() error {
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var c *client.Client
	var err error
	if s.useTLS {
		c, err = client.DialWithDialerTLS(dialer, s.addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, s.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.addr, err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	s.client = c
	return nil
}

// Close logs out.
func (s *Syncer) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Logout()
}

// SyncAll lists every mailbox and ingests its new messages.
func (s *Syncer) SyncAll() error {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to list mailboxes: %w", err)
	}

	for _, info := range infos {
		if hasAttr(info.Attributes, imap.NoSelectAttr) {
			continue
		}
		if err := s.SyncFolder(info.Name, folderFlags(info)); err != nil {
			log.Printf("Warning: sync of %s failed: %v", info.Name, err)
		}
	}
	return nil
}

// SyncFolder ingests messages that arrived in one mailbox since the last
// sync.
func (s *Syncer) SyncFolder(name string, flags mailstore.FolderFlags) error {
	status, err := s.client.Select(name, true)
	if err != nil {
		return fmt.Errorf("failed to select %s: %w", name, err)
	}

	folder := s.folders[name]
	if folder == nil {
		s.apply(func() {
			folder = s.account.AddFolder(name, flags, false)
		})
		s.folders[name] = folder
	}

	from := s.lastSeen[name] + 1
	if status.Messages == 0 || from > status.Messages {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, status.Messages)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- s.client.Fetch(seqSet, items, messages)
	}()

	for msg := range messages {
		s.ingestMessage(folder, section, msg)
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	s.lastSeen[name] = status.Messages
	return nil
}

func (s *Syncer) ingestMessage(folder *mailstore.MemFolder, section *imap.BodySectionName, msg *imap.Message) {
	spec := mailstore.MessageSpec{}
	if msg.Envelope != nil {
		spec.MessageID = msg.Envelope.MessageId
		spec.Subject = msg.Envelope.Subject
		spec.Date = msg.Envelope.Date
		if msg.Envelope.InReplyTo != "" {
			spec.References = append(spec.References, msg.Envelope.InReplyTo)
		}
	}
	for _, flag := range msg.Flags {
		if flag == imap.FlaggedFlag {
			spec.Flags |= mailstore.FlagFlagged
		}
		if flag == imap.DeletedFlag {
			spec.Flags |= mailstore.FlagIMAPDeleted
		}
	}
	if body := msg.GetBody(section); body != nil {
		raw, err := io.ReadAll(body)
		if err == nil {
			spec.Raw = raw
			spec.Flags |= mailstore.FlagOffline
			if refs := referencesFromRaw(raw); refs != nil {
				spec.References = refs
			}
		}
	}
	if spec.MessageID == "" {
		return
	}
	s.apply(func() {
		hdr := folder.AddMessage(spec)
		folder.Classify(hdr)
	})
}

// referencesFromRaw pulls the References header out of the raw message;
// the IMAP envelope only carries In-Reply-To.
func referencesFromRaw(raw []byte) []string {
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		headerEnd = len(raw)
	}
	lines := strings.Split(string(raw[:headerEnd]), "\r\n")
	var value string
	collecting := false
	for _, line := range lines {
		if collecting {
			if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
				value += " " + strings.TrimSpace(line)
				continue
			}
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "references:") {
			value = strings.TrimSpace(line[len("references:"):])
			collecting = true
		}
	}
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}

// folderFlags maps IMAP special-use attributes onto store folder flags.
func folderFlags(info *imap.MailboxInfo) mailstore.FolderFlags {
	flags := mailstore.FolderMail
	switch {
	case strings.EqualFold(info.Name, "INBOX"):
		flags |= mailstore.FolderInbox
	case hasAttr(info.Attributes, imap.SentAttr):
		flags |= mailstore.FolderSent
	case hasAttr(info.Attributes, imap.ArchiveAttr):
		flags |= mailstore.FolderArchive
	case hasAttr(info.Attributes, imap.TrashAttr):
		flags |= mailstore.FolderTrash
	case hasAttr(info.Attributes, imap.JunkAttr):
		flags |= mailstore.FolderJunk
	}
	return flags
}
