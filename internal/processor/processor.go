package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/dump-bot/internal/classifier"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultContextWindow = 20
	DefaultTimeout       = 30 * time.Second
)

type Config struct {
	// ContextWindow is how many recent session entries the oracle sees.
	ContextWindow int
	// Timeout bounds the oracle call.
	Timeout time.Duration
	// UnionTags adds newly extracted tags to matched themes.
	UnionTags bool
}

// Outcome is the applied result of one classification pass.
type Outcome struct {
	EntryID string
	// Type is the entry's type after the pass.
	Type models.EntryType
	// SuggestedType is the label the oracle returned, valid or not.
	SuggestedType models.EntryType
	Actions       []*models.ActionItem
	Questions     []*models.Question
	Themes        []*MergeResult
	Reasoning     []string
}

// Processor runs one dump through the oracle and applies the result.
type Processor struct {
	oracle        classifier.Oracle
	store         storage.Storage
	merger        *ThemeMerger
	unionTags     bool
	contextWindow int
	timeout       time.Duration
	logger        *zap.Logger
}

func New(oracle classifier.Oracle, store storage.Storage, cfg Config, logger *zap.Logger) *Processor {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Processor{
		oracle:        oracle,
		store:         store,
		merger:        NewThemeMerger(store, cfg.UnionTags, logger),
		unionTags:     cfg.UnionTags,
		contextWindow: cfg.ContextWindow,
		timeout:       cfg.Timeout,
		logger:        logger,
	}
}

// Merger exposes the theme merger used by the processor.
func (p *Processor) Merger() *ThemeMerger {
	return p.merger
}

// ProcessEntry loads the session context for entry from the store and processes it.
func (p *Processor) ProcessEntry(ctx context.Context, entry *models.Entry) (*Outcome, error) {
	entries, err := p.store.ListEntries(ctx, entry.SessionID)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, entry, BuildContext(entries, entry.ID, p.contextWindow))
}

// Process classifies entry and applies the result. Nothing is written unless the
// oracle call succeeds and its reply is fully valid. A context cancelled while
// the call is in flight discards the reply. Once applying starts, cancellation
// is ignored so writes are not cut short.
func (p *Processor) Process(ctx context.Context, entry *models.Entry, sessionContext []models.ContextEntry) (*Outcome, error) {
	result, err := p.classify(ctx, entry, sessionContext)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return p.apply(context.WithoutCancel(ctx), entry, result)
}

func (p *Processor) classify(ctx context.Context, entry *models.Entry, sessionContext []models.ContextEntry) (*models.Classification, error) {
	if len(sessionContext) > p.contextWindow {
		sessionContext = sessionContext[len(sessionContext)-p.contextWindow:]
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := p.oracle.Classify(callCtx, classifier.Request{
		EntryText: entry.Content,
		Context:   sessionContext,
	})
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.NewOracleTimeout(p.timeout, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewOracleUnavailable(0, err)
	}
	if result == nil {
		return nil, errors.NewMalformedResponse("empty classification", "")
	}

	return normalize(result)
}

// apply writes one classification. Stores implementing storage.Transactor get
// all of the dump's writes in one transaction, so a failure leaves nothing behind.
func (p *Processor) apply(ctx context.Context, entry *models.Entry, result *models.Classification) (*Outcome, error) {
	outcome := &Outcome{
		EntryID:       entry.ID,
		Type:          entry.Type,
		SuggestedType: result.Type,
		Actions:       []*models.ActionItem{},
		Questions:     []*models.Question{},
		Themes:        []*MergeResult{},
		Reasoning:     result.Reasoning,
	}

	if result.Type.Valid() {
		outcome.Type = result.Type
	} else if result.Type != "" {
		p.logger.Debug("Dropping unknown dump type",
			zap.String("dump_id", entry.ID),
			zap.String("type", string(result.Type)))
	}
	for _, a := range result.Actions {
		outcome.Actions = append(outcome.Actions, &models.ActionItem{
			ID:             uuid.New().String(),
			SessionID:      entry.SessionID,
			Text:           a.Text,
			Owner:          models.DefaultOwner,
			Priority:       a.Priority,
			SourceEntryIDs: []string{entry.ID},
		})
	}
	for _, q := range result.Questions {
		outcome.Questions = append(outcome.Questions, &models.Question{
			ID:             uuid.New().String(),
			SessionID:      entry.SessionID,
			Text:           q.Text,
			SourceEntryIDs: []string{entry.ID},
		})
	}

	var err error
	if tx, ok := p.store.(storage.Transactor); ok {
		err = tx.WithTx(ctx, func(s storage.Storage) error {
			return p.write(ctx, s, NewThemeMerger(s, p.unionTags, p.logger), entry, result, outcome)
		})
	} else {
		err = p.write(ctx, p.store, p.merger, entry, result, outcome)
	}
	if err != nil {
		return nil, err
	}
	entry.Type = outcome.Type

	p.logger.Info("Processed dump",
		zap.String("dump_id", entry.ID),
		zap.String("session_id", entry.SessionID),
		zap.String("type", string(outcome.Type)),
		zap.Int("actions", len(outcome.Actions)),
		zap.Int("questions", len(outcome.Questions)),
		zap.Int("themes", len(outcome.Themes)))
	return outcome, nil
}

func (p *Processor) write(ctx context.Context, store storage.Storage, merger *ThemeMerger, entry *models.Entry, result *models.Classification, outcome *Outcome) error {
	if result.Type.Valid() {
		if err := store.UpdateEntryType(ctx, entry.ID, result.Type); err != nil {
			return fmt.Errorf("update type of dump %s: %w", entry.ID, err)
		}
	}
	if len(outcome.Actions) > 0 {
		if err := store.InsertActions(ctx, outcome.Actions); err != nil {
			return fmt.Errorf("insert actions of dump %s: %w", entry.ID, err)
		}
	}
	if len(outcome.Questions) > 0 {
		if err := store.InsertQuestions(ctx, outcome.Questions); err != nil {
			return fmt.Errorf("insert questions of dump %s: %w", entry.ID, err)
		}
	}

	// Sequential: each merge must see the themes created by the previous one.
	for _, draft := range result.Themes {
		merged, err := merger.Merge(ctx, entry.SessionID, entry, draft)
		if err != nil {
			return fmt.Errorf("merge theme %q of dump %s: %w", draft.Title, entry.ID, err)
		}
		outcome.Themes = append(outcome.Themes, merged)
	}
	return nil
}

// normalize re-checks a classification from an arbitrary oracle so a bad item
// fails the whole reply before anything is written.
func normalize(c *models.Classification) (*models.Classification, error) {
	out := &models.Classification{
		Type:      models.EntryType(strings.TrimSpace(string(c.Type))),
		Actions:   make([]models.ActionDraft, 0, len(c.Actions)),
		Questions: make([]models.QuestionDraft, 0, len(c.Questions)),
		Themes:    make([]models.ThemeDraft, 0, len(c.Themes)),
		Reasoning: c.Reasoning,
	}
	for i, a := range c.Actions {
		if strings.TrimSpace(a.Text) == "" {
			return nil, errors.NewMalformedResponse(fmt.Sprintf("actions[%d].text is missing or empty", i), "")
		}
		if !a.Priority.Valid() {
			a.Priority = models.MediumPriority
		}
		out.Actions = append(out.Actions, a)
	}
	for i, q := range c.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return nil, errors.NewMalformedResponse(fmt.Sprintf("questions[%d].text is missing or empty", i), "")
		}
		out.Questions = append(out.Questions, q)
	}
	for i, th := range c.Themes {
		if strings.TrimSpace(th.Title) == "" {
			return nil, errors.NewMalformedResponse(fmt.Sprintf("themes[%d].title is missing or empty", i), "")
		}
		th.Confidence = classifier.ClampConfidence(float64(th.Confidence))
		out.Themes = append(out.Themes, th)
	}
	return out, nil
}
