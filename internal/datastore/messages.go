package datastore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattmanj17/msgindex/internal/models"
)

const messageColumns = "id, folder_id, message_key, conversation_id, date, header_message_id, deleted"

func scanMessage(scan func(dest ...any) error) (*models.Message, error) {
	m := &models.Message{}
	var folderID, key, date sql.NullInt64
	var deleted int
	if err := scan(&m.ID, &folderID, &key, &m.ConversationID, &date, &m.HeaderMessageID, &deleted); err != nil {
		return nil, err
	}
	if folderID.Valid {
		m.FolderID = folderID.Int64
	}
	if key.Valid {
		m.MessageKey = uint32(key.Int64)
		m.HasMessageKey = true
	}
	if date.Valid {
		m.Date = time.Unix(0, date.Int64)
	}
	m.Deleted = deleted != 0
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullKey(m *models.Message) any {
	if !m.HasMessageKey {
		return nil
	}
	return int64(m.MessageKey)
}

func nullFolder(m *models.Message) any {
	if m.FolderID == 0 {
		return nil
	}
	return m.FolderID
}

func nullDate(m *models.Message) any {
	if m.Date.IsZero() {
		return nil
	}
	return m.Date.UnixNano()
}

// CreateMessage allocates an id and inserts a message record.  Pass
// folderID 0 and hasKey false to create a ghost.
func (s *Store) CreateMessage(folderID int64, key uint32, hasKey bool, conversationID int64, date time.Time, headerMessageID string) (*models.Message, error) {
	m := &models.Message{
		ID:              s.nextMessageID,
		FolderID:        folderID,
		MessageKey:      key,
		HasMessageKey:   hasKey,
		ConversationID:  conversationID,
		HeaderMessageID: headerMessageID,
		Date:            date,
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, folder_id, message_key, conversation_id, date, header_message_id, deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		m.ID, nullFolder(m), nullKey(m), m.ConversationID, nullDate(m), m.HeaderMessageID)
	if err != nil {
		return nil, fmt.Errorf("insert message %q: %w", headerMessageID, err)
	}
	s.nextMessageID++
	return m, nil
}

// UpdateMessage rewrites a record's location, conversation, date and
// tombstone flag from the in-memory copy.
func (s *Store) UpdateMessage(m *models.Message) error {
	deleted := 0
	if m.Deleted {
		deleted = 1
	}
	_, err := s.db.Exec(`
		UPDATE messages
		SET folder_id = ?, message_key = ?, conversation_id = ?, date = ?, deleted = ?
		WHERE id = ?`,
		nullFolder(m), nullKey(m), m.ConversationID, nullDate(m), deleted, m.ID)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.ID, err)
	}
	return nil
}

// MessageByID fetches a single record.
func (s *Store) MessageByID(id int64) (*models.Message, error) {
	row := s.db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", id, err)
	}
	return m, nil
}

// MessagesByHeaderMessageID fetches all non-tombstoned records (live and
// ghost) for each of the given message-ids.  The result is parallel to the
// input: one slice per requested id, empty when nothing is known.
func (s *Store) MessagesByHeaderMessageID(headerIDs []string) ([][]*models.Message, error) {
	out := make([][]*models.Message, len(headerIDs))
	if len(headerIDs) == 0 {
		return out, nil
	}
	slot := make(map[string]int, len(headerIDs))
	placeholders := make([]string, len(headerIDs))
	args := make([]any, len(headerIDs))
	for i, id := range headerIDs {
		slot[id] = i
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE header_message_id IN ("+
			strings.Join(placeholders, ",")+") AND deleted = 0", args...)
	if err != nil {
		return nil, fmt.Errorf("fetch messages by header id: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch messages by header id: %w", err)
	}
	for _, m := range msgs {
		i := slot[m.HeaderMessageID]
		out[i] = append(out[i], m)
	}
	return out, nil
}

// MessagesByConversationID fetches every record in a conversation,
// optionally including tombstoned ones.
func (s *Store) MessagesByConversationID(conversationID int64, includeDeleted bool) ([]*models.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE conversation_id = ?"
	if !includeDeleted {
		query += " AND deleted = 0"
	}
	rows, err := s.db.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %d: %w", conversationID, err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %d: %w", conversationID, err)
	}
	return msgs, nil
}

// UpdateMessageLocations points existing records at a new folder and new
// keys.  ids and keys are parallel; a false in hasKeys nulls the key
// (destination unknown).
func (s *Store) UpdateMessageLocations(ids []int64, keys []uint32, hasKeys []bool, folderID int64) error {
	stmt, err := s.db.Prepare(
		"UPDATE messages SET folder_id = ?, message_key = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("update message locations: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		var key any
		if hasKeys[i] {
			key = int64(keys[i])
		}
		if _, err := stmt.Exec(folderID, key, id); err != nil {
			return fmt.Errorf("update message %d location: %w", id, err)
		}
	}
	return nil
}

// UpdateMessageKeys rewrites message keys in place; ids and keys are
// parallel.  Used when compaction shifts messages within a folder.
func (s *Store) UpdateMessageKeys(ids []int64, keys []uint32) error {
	stmt, err := s.db.Prepare("UPDATE messages SET message_key = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("update message keys: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.Exec(int64(keys[i]), id); err != nil {
			return fmt.Errorf("update message %d key: %w", id, err)
		}
	}
	return nil
}

// GhostMessagesByIDs strips the given records down to ghosts (no folder,
// no key) in the database.
func (s *Store) GhostMessagesByIDs(ids []int64) error {
	stmt, err := s.db.Prepare(
		"UPDATE messages SET folder_id = NULL, message_key = NULL WHERE id = ?")
	if err != nil {
		return fmt.Errorf("ghost messages: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("ghost message %d: %w", id, err)
		}
	}
	return nil
}

// MarkMessagesDeletedByIDs tombstones the given records.
func (s *Store) MarkMessagesDeletedByIDs(ids []int64) error {
	stmt, err := s.db.Prepare("UPDATE messages SET deleted = 1 WHERE id = ?")
	if err != nil {
		return fmt.Errorf("mark messages deleted: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("mark message %d deleted: %w", id, err)
		}
	}
	return nil
}

// MarkMessagesDeletedByFolderID tombstones every record in a folder, as
// when the folder itself is deleted.
func (s *Store) MarkMessagesDeletedByFolderID(folderID int64) error {
	_, err := s.db.Exec("UPDATE messages SET deleted = 1 WHERE folder_id = ?", folderID)
	if err != nil {
		return fmt.Errorf("mark folder %d messages deleted: %w", folderID, err)
	}
	return nil
}

// CountDeletedMessages returns how many tombstoned records await the
// delete sweep.
func (s *Store) CountDeletedMessages() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE deleted = 1").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deleted messages: %w", err)
	}
	return n, nil
}

// FetchDeletedBlock returns up to limit tombstoned records.
func (s *Store) FetchDeletedBlock(limit int) ([]*models.Message, error) {
	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE deleted = 1 LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("fetch deleted block: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch deleted block: %w", err)
	}
	return msgs, nil
}

// DeleteMessageByID removes a record's row entirely.
func (s *Store) DeleteMessageByID(id int64) error {
	if _, err := s.db.Exec("DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

// Location is one durable (key, record) pair inside a folder, as consumed
// by the compaction reconciliation pass.
type Location struct {
	ID              int64
	MessageKey      uint32
	HeaderMessageID string
}

// CompactionBlockFetch returns up to limit live records in a folder with
// message keys at or above startKey, in key order.
func (s *Store) CompactionBlockFetch(folderID int64, startKey uint32, limit int) ([]Location, error) {
	rows, err := s.db.Query(`
		SELECT id, message_key, header_message_id FROM messages
		WHERE folder_id = ? AND message_key >= ? AND deleted = 0
		ORDER BY message_key LIMIT ?`,
		folderID, int64(startKey), limit)
	if err != nil {
		return nil, fmt.Errorf("compaction fetch folder %d: %w", folderID, err)
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var loc Location
		var key int64
		if err := rows.Scan(&loc.ID, &key, &loc.HeaderMessageID); err != nil {
			return nil, fmt.Errorf("compaction fetch folder %d: %w", folderID, err)
		}
		loc.MessageKey = uint32(key)
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compaction fetch folder %d: %w", folderID, err)
	}
	return out, nil
}

// InsertMessageText writes the fulltext row for a message from its
// transient indexing scratch.
func (s *Store) InsertMessageText(m *models.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages_text (rowid, subject, body, attachment_names)
		VALUES (?, ?, ?, ?)`,
		m.ID, m.Subject, strings.Join(m.BodyLines, "\n"), strings.Join(m.AttachmentNames, "\n"))
	if err != nil {
		return fmt.Errorf("insert fulltext for message %d: %w", m.ID, err)
	}
	return nil
}

// DeleteMessageTextByID removes a message's fulltext row.
func (s *Store) DeleteMessageTextByID(id int64) error {
	if _, err := s.db.Exec("DELETE FROM messages_text WHERE rowid = ?", id); err != nil {
		return fmt.Errorf("delete fulltext for message %d: %w", id, err)
	}
	return nil
}

// HasMessageText reports whether a fulltext row exists for the message.
func (s *Store) HasMessageText(id int64) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages_text WHERE rowid = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check fulltext for message %d: %w", id, err)
	}
	return n > 0, nil
}

// SearchMessageText runs an FTS query and returns matching records.
func (s *Store) SearchMessageText(query string) ([]*models.Message, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE id IN (SELECT rowid FROM messages_text WHERE messages_text MATCH ?)
		AND deleted = 0`, query)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	return msgs, nil
}

// Attribute is one extracted (name, value) pair on a message.
type Attribute struct {
	Name  string
	Value string
}

// SetMessageAttributes replaces a message's attribute rows.
func (s *Store) SetMessageAttributes(m *models.Message, attrs []Attribute) error {
	if err := s.ClearMessageAttributes(m.ID); err != nil {
		return err
	}
	stmt, err := s.db.Prepare(`
		INSERT INTO message_attributes (message_id, conversation_id, name, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("set attributes for message %d: %w", m.ID, err)
	}
	defer stmt.Close()
	for _, a := range attrs {
		if _, err := stmt.Exec(m.ID, m.ConversationID, a.Name, a.Value); err != nil {
			return fmt.Errorf("set attributes for message %d: %w", m.ID, err)
		}
	}
	return nil
}

// MessageAttributes reads a message's attribute rows.
func (s *Store) MessageAttributes(id int64) ([]Attribute, error) {
	rows, err := s.db.Query(
		"SELECT name, value FROM message_attributes WHERE message_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("read attributes for message %d: %w", id, err)
	}
	defer rows.Close()
	var out []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, fmt.Errorf("read attributes for message %d: %w", id, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClearMessageAttributes removes all attribute rows for a message.
func (s *Store) ClearMessageAttributes(id int64) error {
	if _, err := s.db.Exec("DELETE FROM message_attributes WHERE message_id = ?", id); err != nil {
		return fmt.Errorf("clear attributes for message %d: %w", id, err)
	}
	return nil
}
