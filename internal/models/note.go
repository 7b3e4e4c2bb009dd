package models

import (
	"time"
)

// EntryType is the classification label of a dump.
type EntryType string

const (
	IdeaEntry     EntryType = "idea"
	DecisionEntry EntryType = "decision"
	QuestionEntry EntryType = "question"
	BlockerEntry  EntryType = "blocker"
	ActionEntry   EntryType = "action"
	NoteEntry     EntryType = "note"
)

// EntryTypes lists every valid label in prompt order.
var EntryTypes = []EntryType{IdeaEntry, DecisionEntry, QuestionEntry, BlockerEntry, ActionEntry, NoteEntry}

// Valid reports whether t is one of the six labels.
func (t EntryType) Valid() bool {
	for _, v := range EntryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Entry is one unit of raw text submitted to a session (a "dump").
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	Type      EntryType `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry creates an unclassified entry.
func NewEntry(id, sessionID, authorID, content string) *Entry {
	return &Entry{
		ID:        id,
		SessionID: sessionID,
		AuthorID:  authorID,
		Content:   content,
		Type:      NoteEntry,
		CreatedAt: time.Now(),
	}
}

// Unclassified reports whether the entry still has the default type.
func (e *Entry) Unclassified() bool {
	return e.Type == NoteEntry
}
