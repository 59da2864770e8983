package datastore

import (
	"database/sql"
	"fmt"

	"github.com/mattmanj17/msgindex/internal/models"
)

// CreateConversation inserts a conversation record.
func (s *Store) CreateConversation(subject string) (*models.Conversation, error) {
	res, err := s.db.Exec("INSERT INTO conversations (subject) VALUES (?)", subject)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &models.Conversation{ID: id, Subject: subject}, nil
}

// ConversationByID fetches a conversation record, nil when unknown.
func (s *Store) ConversationByID(id int64) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := s.db.QueryRow(
		"SELECT id, subject FROM conversations WHERE id = ?", id).Scan(&c.ID, &c.Subject)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %d: %w", id, err)
	}
	return c, nil
}

// DeleteConversationByID removes a conversation record.
func (s *Store) DeleteConversationByID(id int64) error {
	if _, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return nil
}
