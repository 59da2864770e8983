package models

import "testing"

func TestDirtyStateString(t *testing.T) {
	cases := []struct {
		state DirtyState
		want  string
	}{
		{Clean, "clean"},
		{Dirty, "dirty"},
		{Filthy, "filthy"},
		{DirtyState(7), "dirty(7)"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("Expected %q, got %q", c.want, got)
		}
	}
}

func TestMessageGhost(t *testing.T) {
	m := &Message{
		ID:              100,
		FolderID:        3,
		MessageKey:      42,
		HasMessageKey:   true,
		ConversationID:  7,
		HeaderMessageID: "<a@example.com>",
		Deleted:         true,
	}

	if m.IsGhost() {
		t.Fatal("Message with a location should not be a ghost")
	}

	m.Ghost()

	if !m.IsGhost() {
		t.Fatal("Expected message to be a ghost after Ghost()")
	}
	if m.Deleted {
		t.Error("Ghost() should clear the tombstone flag")
	}
	if m.ConversationID != 7 {
		t.Error("Ghost() must keep conversation linkage")
	}
	if m.HeaderMessageID != "<a@example.com>" {
		t.Error("Ghost() must keep the message-id")
	}
}

func TestMessagePurged(t *testing.T) {
	m := &Message{ID: 100}
	if m.Purged() {
		t.Fatal("New message should not be purged")
	}
	m.MarkPurged()
	if !m.Purged() {
		t.Fatal("Expected purged after MarkPurged")
	}
}

func TestFolderShouldIndex(t *testing.T) {
	f := &Folder{Priority: PriorityDefault}
	if !f.ShouldIndex() {
		t.Error("Default-priority folder should be indexable")
	}
	f.Priority = PriorityNever
	if f.ShouldIndex() {
		t.Error("Never-priority folder should not be indexable")
	}
	f.Priority = PriorityFavored
	f.Deleted = true
	if f.ShouldIndex() {
		t.Error("Deleted folder should not be indexable")
	}
}
