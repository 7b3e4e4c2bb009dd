package workspace

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/pipeline"
	"github.com/xaenox/dump-bot/internal/processor"
	"github.com/xaenox/dump-bot/internal/storage"
	"go.uber.org/zap"
)

// Service is what front ends call: submit dumps, process them and read the session back.
// Processing is serialized per session so theme merges never interleave.
type Service struct {
	store    storage.Storage
	proc     *processor.Processor
	pipeline *pipeline.Pipeline
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

func New(store storage.Storage, proc *processor.Processor, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		proc:     proc,
		pipeline: pipeline.New(proc, store, logger),
		logger:   logger,
		sessions: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lock(sessionID string) func() {
	s.mu.Lock()
	m, ok := s.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessions[sessionID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// SubmitDump stores content as a new unclassified dump.
func (s *Service) SubmitDump(ctx context.Context, sessionID, authorID, content string) (*models.Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.NewValidation("dump content is required")
	}
	if sessionID == "" {
		return nil, errors.NewValidation("session id is required")
	}

	entry := models.NewEntry(uuid.New().String(), sessionID, authorID, content)
	entry.CreatedAt = time.Now().UTC()
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Debug("Stored dump",
		zap.String("session_id", sessionID),
		zap.String("dump_id", entry.ID))
	return entry, nil
}

// ProcessNow classifies a single dump of the session. The dump is read under
// the session lock so a batch that finished in the meantime is visible.
func (s *Service) ProcessNow(ctx context.Context, sessionID, entryID string) (*processor.Outcome, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	entry, err := s.sessionEntry(ctx, sessionID, entryID)
	if err != nil {
		return nil, err
	}
	return s.proc.ProcessEntry(ctx, entry)
}

// ProcessUnclassified runs a batch over every dump still at the default type.
// The set is picked under the session lock, after any processing already in flight.
func (s *Service) ProcessUnclassified(ctx context.Context, sessionID string, observe pipeline.Observer) (*pipeline.Report, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	entries, err := s.store.ListEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Unclassified() {
			pending = append(pending, e)
		}
	}
	return s.pipeline.Run(ctx, sessionID, pending, observe), nil
}

// ProcessEntries runs a batch over an explicit set of dumps, in the given order.
func (s *Service) ProcessEntries(ctx context.Context, sessionID string, entryIDs []string, observe pipeline.Observer) (*pipeline.Report, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	entries := make([]*models.Entry, 0, len(entryIDs))
	for _, id := range entryIDs {
		e, err := s.sessionEntry(ctx, sessionID, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return s.pipeline.Run(ctx, sessionID, entries, observe), nil
}

// Aggregate re-reads the whole session from storage.
func (s *Service) Aggregate(ctx context.Context, sessionID string) (*models.Aggregate, error) {
	return storage.LoadAggregate(ctx, s.store, sessionID)
}

// VoteQuestion and ToggleAction touch single fields atomically in storage and
// do not take the session lock.
func (s *Service) VoteQuestion(ctx context.Context, questionID string) error {
	return s.store.IncrementVotes(ctx, questionID)
}

func (s *Service) ToggleAction(ctx context.Context, actionID string) error {
	return s.store.ToggleDone(ctx, actionID)
}

func (s *Service) sessionEntry(ctx context.Context, sessionID, entryID string) (*models.Entry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.SessionID != sessionID {
		return nil, errors.NewNotFound("dump", entryID)
	}
	return entry, nil
}
