package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
)

// MemoryStorage keeps every session in process memory. Returned records are copies.
type MemoryStorage struct {
	mu        sync.RWMutex
	entries   map[string]*models.Entry
	themes    map[string]*models.Theme
	actions   map[string]*models.ActionItem
	questions map[string]*models.Question

	// insertion order per session
	entryOrder    map[string][]string
	themeOrder    map[string][]string
	actionOrder   map[string][]string
	questionOrder map[string][]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries:       make(map[string]*models.Entry),
		themes:        make(map[string]*models.Theme),
		actions:       make(map[string]*models.ActionItem),
		questions:     make(map[string]*models.Question),
		entryOrder:    make(map[string][]string),
		themeOrder:    make(map[string][]string),
		actionOrder:   make(map[string][]string),
		questionOrder: make(map[string][]string),
	}
}

// Entry methods
func (s *MemoryStorage) CreateEntry(ctx context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Type == "" {
		entry.Type = models.NoteEntry
	}
	if _, exists := s.entries[entry.ID]; exists {
		return errors.NewStorage("create entry: duplicate id "+entry.ID, nil)
	}

	e := *entry
	s.entries[e.ID] = &e
	s.entryOrder[e.SessionID] = append(s.entryOrder[e.SessionID], e.ID)
	return nil
}

func (s *MemoryStorage) GetEntry(ctx context.Context, entryID string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, exists := s.entries[entryID]; exists {
		e := *entry
		return &e, nil
	}
	return nil, errors.NewNotFound("dump", entryID)
}

func (s *MemoryStorage) ListEntries(ctx context.Context, sessionID string) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.entryOrder[sessionID]
	result := make([]*models.Entry, 0, len(ids))
	for _, id := range ids {
		e := *s.entries[id]
		result = append(result, &e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStorage) UpdateEntryType(ctx context.Context, entryID string, t models.EntryType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[entryID]
	if !exists {
		return errors.NewNotFound("dump", entryID)
	}
	entry.Type = t
	return nil
}

// Theme methods
func (s *MemoryStorage) ListThemes(ctx context.Context, sessionID string) ([]*models.Theme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.themeOrder[sessionID]
	result := make([]*models.Theme, 0, len(ids))
	for _, id := range ids {
		result = append(result, copyTheme(s.themes[id]))
	}
	return result, nil
}

func (s *MemoryStorage) InsertTheme(ctx context.Context, theme *models.Theme) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := copyTheme(theme)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	t.LinkedEntryIDs = []string{}

	s.themes[t.ID] = t
	s.themeOrder[t.SessionID] = append(s.themeOrder[t.SessionID], t.ID)
	return t.ID, nil
}

func (s *MemoryStorage) LinkEntryToTheme(ctx context.Context, entryID, themeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, exists := s.themes[themeID]
	if !exists {
		return errors.NewNotFound("theme", themeID)
	}
	for _, id := range theme.LinkedEntryIDs {
		if id == entryID {
			return nil
		}
	}
	theme.LinkedEntryIDs = append(theme.LinkedEntryIDs, entryID)
	return nil
}

func (s *MemoryStorage) RaiseThemeConfidence(ctx context.Context, themeID string, confidence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, exists := s.themes[themeID]
	if !exists {
		return errors.NewNotFound("theme", themeID)
	}
	if confidence > theme.Confidence {
		theme.Confidence = confidence
	}
	return nil
}

func (s *MemoryStorage) AddThemeTags(ctx context.Context, themeID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, exists := s.themes[themeID]
	if !exists {
		return errors.NewNotFound("theme", themeID)
	}
	theme.Tags = unionTags(theme.Tags, tags)
	return nil
}

// Action and question methods
func (s *MemoryStorage) InsertActions(ctx context.Context, actions []*models.ActionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, action := range actions {
		a := *action
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		a.SourceEntryIDs = append([]string{}, action.SourceEntryIDs...)
		s.actions[a.ID] = &a
		s.actionOrder[a.SessionID] = append(s.actionOrder[a.SessionID], a.ID)
	}
	return nil
}

func (s *MemoryStorage) ListActions(ctx context.Context, sessionID string) ([]*models.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.actionOrder[sessionID]
	result := make([]*models.ActionItem, 0, len(ids))
	for _, id := range ids {
		a := *s.actions[id]
		a.SourceEntryIDs = append([]string{}, a.SourceEntryIDs...)
		result = append(result, &a)
	}
	return result, nil
}

func (s *MemoryStorage) InsertQuestions(ctx context.Context, questions []*models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, question := range questions {
		q := *question
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now()
		}
		q.SourceEntryIDs = append([]string{}, question.SourceEntryIDs...)
		s.questions[q.ID] = &q
		s.questionOrder[q.SessionID] = append(s.questionOrder[q.SessionID], q.ID)
	}
	return nil
}

func (s *MemoryStorage) ListQuestions(ctx context.Context, sessionID string) ([]*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.questionOrder[sessionID]
	result := make([]*models.Question, 0, len(ids))
	for _, id := range ids {
		q := *s.questions[id]
		q.SourceEntryIDs = append([]string{}, q.SourceEntryIDs...)
		result = append(result, &q)
	}
	return result, nil
}

func (s *MemoryStorage) IncrementVotes(ctx context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	question, exists := s.questions[questionID]
	if !exists {
		return errors.NewNotFound("question", questionID)
	}
	question.Votes++
	return nil
}

func (s *MemoryStorage) ToggleDone(ctx context.Context, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, exists := s.actions[actionID]
	if !exists {
		return errors.NewNotFound("action", actionID)
	}
	action.Done = !action.Done
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyTheme(t *models.Theme) *models.Theme {
	c := *t
	c.Tags = append([]string{}, t.Tags...)
	c.LinkedEntryIDs = append([]string{}, t.LinkedEntryIDs...)
	return &c
}
