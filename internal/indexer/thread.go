package indexer

import (
	"fmt"
	"log"

	"github.com/mattmanj17/msgindex/internal/mailstore"
	"github.com/mattmanj17/msgindex/internal/models"
)

// indexMessage runs one message through the full pipeline: conversation
// resolution via the references chain, ghost creation for never-seen
// ancestors, reconciliation against whatever records already claim this
// message-id, attribute extraction, and the deferred header write.
func (i *Indexer) indexMessage(hdr mailstore.Header) error {
	folderRec, err := i.mapFolder(hdr.Folder())
	if err != nil {
		return fmt.Errorf("map folder: %w", err)
	}

	ancestors := hdr.References()
	headerIDs := append(append([]string(nil), ancestors...), hdr.MessageID())
	lists, err := i.ds.MessagesByHeaderMessageID(headerIDs)
	if err != nil {
		return fmt.Errorf("reference lookup: %w", err)
	}
	selfList := lists[len(lists)-1]
	ancestorLists := lists[:len(lists)-1]

	candidate := pickCandidate(selfList, folderRec.ID, hdr.MessageKey())

	// Conversation: any prior record for this message-id wins, whichever
	// copy it is; else adopt from the nearest known ancestor, else start a
	// new one.
	var conversationID int64
	switch {
	case len(selfList) > 0:
		conversationID = selfList[0].ConversationID
	default:
		for a := len(ancestorLists) - 1; a >= 0; a-- {
			if len(ancestorLists[a]) > 0 {
				conversationID = ancestorLists[a][0].ConversationID
				break
			}
		}
		if conversationID == 0 {
			conv, err := i.ds.CreateConversation(hdr.Subject())
			if err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
			conversationID = conv.ID
		}
	}

	// Ancestors disagreeing about the conversation is a known
	// inconsistency; record it, do not repair it.
	for a := range ancestorLists {
		if len(ancestorLists[a]) > 0 && ancestorLists[a][0].ConversationID != conversationID {
			log.Printf("Warning: ancestor %q of %q belongs to conversation %d, not %d; leaving it",
				ancestors[a], hdr.MessageID(), ancestorLists[a][0].ConversationID, conversationID)
		}
	}

	// Ancestors nobody has seen yet become ghosts so later arrivals can
	// find the conversation through them.
	seen := map[string]bool{hdr.MessageID(): true}
	for a, list := range ancestorLists {
		msgID := ancestors[a]
		if msgID == "" || seen[msgID] || len(list) > 0 {
			continue
		}
		seen[msgID] = true
		if _, err := i.ds.CreateMessage(0, 0, false, conversationID, hdr.Date(), msgID); err != nil {
			return fmt.Errorf("create ghost for %q: %w", msgID, err)
		}
	}

	isRecordNew := candidate == nil
	isConceptuallyNew := candidate == nil || candidate.IsGhost()

	var m *models.Message
	if isRecordNew {
		m, err = i.ds.CreateMessage(folderRec.ID, hdr.MessageKey(), true, conversationID, hdr.Date(), hdr.MessageID())
		if err != nil {
			return fmt.Errorf("create message record: %w", err)
		}
	} else {
		m = candidate
		m.FolderID = folderRec.ID
		m.MessageKey = hdr.MessageKey()
		m.HasMessageKey = true
		m.Date = hdr.Date()
		m.EnsureNotDeleted()
	}

	raw, rawErr := hdr.Raw()
	if rawErr != nil {
		// No local body is not a failure; the header-level data still gets
		// indexed and a later offline fetch dirties the message again.
		raw = nil
	}

	m.Subject = hdr.Subject()
	m.BodyLines = nil
	m.AttachmentNames = nil
	m.Notability = 0
	collected, err := i.runAttributors(m, hdr, raw)
	if err != nil {
		return err
	}
	if err := i.ds.SetMessageAttributes(m, collected); err != nil {
		return fmt.Errorf("store attributes: %w", err)
	}

	if !isConceptuallyNew {
		if err := i.ds.DeleteMessageTextByID(m.ID); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	if err := i.ds.InsertMessageText(m); err != nil {
		return fmt.Errorf("store fulltext: %w", err)
	}

	if !isRecordNew {
		if err := i.ds.UpdateMessage(m); err != nil {
			return fmt.Errorf("update message record: %w", err)
		}
	}

	// Clear the indexing scratch; it has been persisted.
	m.BodyLines = nil
	m.AttachmentNames = nil

	i.pending.Track(hdr, uint32(m.ID), models.Clean)
	return nil
}

// pickCandidate chooses which existing record, if any, this header is.
// Preference order: the record already at this exact location; a record in
// this folder that lost its key to a blind move; a record in this folder
// with a stale key; any ghost.  A live record in another folder is a
// different copy of the message and stays untouched.
func pickCandidate(candidates []*models.Message, folderID int64, key uint32) *models.Message {
	var exact, keyless, stale, ghost *models.Message
	for _, m := range candidates {
		switch {
		case m.FolderID == folderID && m.HasMessageKey && m.MessageKey == key:
			if exact == nil {
				exact = m
			}
		case m.FolderID == folderID && !m.HasMessageKey:
			if keyless == nil {
				keyless = m
			}
		case m.FolderID == folderID:
			if stale == nil {
				stale = m
			}
		case m.IsGhost():
			if ghost == nil {
				ghost = m
			}
		}
	}
	switch {
	case exact != nil:
		return exact
	case keyless != nil:
		return keyless
	case stale != nil:
		return stale
	default:
		return ghost
	}
}
