package storage

import (
	"context"

	"github.com/xaenox/dump-bot/internal/models"
)

// Storage is the session aggregate store: dumps, themes, actions and questions per session.
// Reads reflect every completed write for the same session.
type Storage interface {
	EntryStorage
	ThemeStorage
	ExtractionStorage
	Close() error
}

type EntryStorage interface {
	CreateEntry(ctx context.Context, entry *models.Entry) error
	GetEntry(ctx context.Context, entryID string) (*models.Entry, error)
	// ListEntries returns a session's entries oldest first.
	ListEntries(ctx context.Context, sessionID string) ([]*models.Entry, error)
	UpdateEntryType(ctx context.Context, entryID string, t models.EntryType) error
}

type ThemeStorage interface {
	ListThemes(ctx context.Context, sessionID string) ([]*models.Theme, error)
	// InsertTheme stores a theme without links and returns its id.
	InsertTheme(ctx context.Context, theme *models.Theme) (string, error)
	// LinkEntryToTheme is idempotent.
	LinkEntryToTheme(ctx context.Context, entryID, themeID string) error
	// RaiseThemeConfidence never lowers the stored value.
	RaiseThemeConfidence(ctx context.Context, themeID string, confidence int) error
	// AddThemeTags unions tags into the theme's tag set.
	AddThemeTags(ctx context.Context, themeID string, tags []string) error
}

type ExtractionStorage interface {
	InsertActions(ctx context.Context, actions []*models.ActionItem) error
	ListActions(ctx context.Context, sessionID string) ([]*models.ActionItem, error)
	InsertQuestions(ctx context.Context, questions []*models.Question) error
	ListQuestions(ctx context.Context, sessionID string) ([]*models.Question, error)
	// IncrementVotes adds one vote atomically.
	IncrementVotes(ctx context.Context, questionID string) error
	// ToggleDone flips an action's done flag atomically.
	ToggleDone(ctx context.Context, actionID string) error
}

// LoadAggregate re-reads every entity of a session.
func LoadAggregate(ctx context.Context, s Storage, sessionID string) (*models.Aggregate, error) {
	entries, err := s.ListEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	themes, err := s.ListThemes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	actions, err := s.ListActions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.Aggregate{
		SessionID: sessionID,
		Entries:   entries,
		Themes:    themes,
		Actions:   actions,
		Questions: questions,
	}, nil
}

func unionTags(existing, add []string) []string {
	out := append([]string{}, existing...)
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t] = struct{}{}
	}
	for _, t := range add {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
