package indexer

import (
	"fmt"
	"log"

	"github.com/mattmanj17/msgindex/internal/models"
)

// deleteWorker drains tombstoned records in blocks.  Deletion is always
// deferred: event handlers only mark records deleted, and this job decides
// per record whether deletion means purging it, turning it into a ghost,
// or taking the whole conversation down with it.
func (i *Indexer) deleteWorker(j *Job) (stepResult, error) {
	if j.Goal == 0 && j.Offset == 0 {
		n, err := i.ds.CountDeletedMessages()
		if err != nil {
			return stepDone, err
		}
		j.Goal = n
	}
	block, err := i.ds.FetchDeletedBlock(i.cfg.DeletionBlockSize)
	if err != nil {
		return stepDone, err
	}
	if len(block) == 0 {
		return stepDone, nil
	}
	for _, m := range block {
		if err := i.deleteMessage(m); err != nil {
			log.Printf("Warning: deleting %s failed: %v", m, err)
			// Purge anyway so the sweep cannot spin on this record.
			if err := i.purgeMessage(m); err != nil {
				return stepDone, err
			}
		}
		j.Offset++
	}
	// Processing a record can tombstone more (conversation obliteration);
	// re-count when the sweep overruns its goal.
	if j.Offset > j.Goal {
		n, err := i.ds.CountDeletedMessages()
		if err != nil {
			return stepDone, err
		}
		j.Goal = j.Offset + n
	}
	return stepMore, nil
}

// deleteMessage processes one tombstoned record.
//
// If the conversation has no other live messages left, the conversation
// itself is dead: its ghosts serve no one and everything goes.  If another
// live record carries the same message-id, this record was a redundant
// copy and is purged outright.  Otherwise the record becomes a ghost, so
// that replies threading through its message-id still find the
// conversation.
func (i *Indexer) deleteMessage(m *models.Message) error {
	convMsgs, err := i.ds.MessagesByConversationID(m.ConversationID, true)
	if err != nil {
		return err
	}

	var liveOthers, rest []*models.Message
	var twin *models.Message
	for _, other := range convMsgs {
		if other.ID == m.ID {
			continue
		}
		if !other.Deleted && !other.IsGhost() {
			liveOthers = append(liveOthers, other)
			if other.HeaderMessageID == m.HeaderMessageID {
				twin = other
			}
		} else {
			rest = append(rest, other)
		}
	}

	if len(liveOthers) == 0 {
		// Nothing real left; obliterate the conversation.
		for _, other := range rest {
			if err := i.purgeMessage(other); err != nil {
				return err
			}
		}
		if err := i.ds.DeleteConversationByID(m.ConversationID); err != nil {
			return err
		}
		return i.purgeMessage(m)
	}

	if twin != nil {
		return i.purgeMessage(m)
	}

	if err := i.ds.ClearMessageAttributes(m.ID); err != nil {
		return err
	}
	if err := i.ds.DeleteMessageTextByID(m.ID); err != nil {
		return err
	}
	m.Ghost()
	if err := i.ds.UpdateMessage(m); err != nil {
		return fmt.Errorf("ghost %s: %w", m, err)
	}
	return nil
}

// purgeMessage removes every trace of a record and poisons the in-memory
// copy.
func (i *Indexer) purgeMessage(m *models.Message) error {
	if err := i.ds.DeleteMessageTextByID(m.ID); err != nil {
		return err
	}
	if err := i.ds.ClearMessageAttributes(m.ID); err != nil {
		return err
	}
	if err := i.ds.DeleteMessageByID(m.ID); err != nil {
		return err
	}
	m.MarkPurged()
	return nil
}
