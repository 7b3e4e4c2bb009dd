package models

import "time"

// Priority of an action item
type Priority string

const (
	HighPriority   Priority = "high"
	MediumPriority Priority = "medium"
	LowPriority    Priority = "low"
)

// Valid reports whether p is high, medium or low.
func (p Priority) Valid() bool {
	return p == HighPriority || p == MediumPriority || p == LowPriority
}

// DefaultOwner is assigned to extracted action items.
const DefaultOwner = "Unassigned"

// Theme is a recurring topic inferred across entries of a session.
type Theme struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Title          string    `json:"title"`
	Tags           []string  `json:"tags"`
	Confidence     int       `json:"confidence"`
	LinkedEntryIDs []string  `json:"linked_entry_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// ActionItem is a task extracted from a dump.
type ActionItem struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Text           string    `json:"text"`
	Owner          string    `json:"owner"`
	Priority       Priority  `json:"priority"`
	Done           bool      `json:"done"`
	SourceEntryIDs []string  `json:"source_entry_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// Question is an open question extracted from a dump.
type Question struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Text           string    `json:"text"`
	Votes          int       `json:"votes"`
	Answered       bool      `json:"answered"`
	SourceEntryIDs []string  `json:"source_entry_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

// Aggregate is a full read of a session's entities.
type Aggregate struct {
	SessionID string        `json:"session_id"`
	Entries   []*Entry      `json:"entries"`
	Themes    []*Theme      `json:"themes"`
	Actions   []*ActionItem `json:"actions"`
	Questions []*Question   `json:"questions"`
}
