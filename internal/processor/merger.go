package processor

import (
	"context"
	"strings"

	"github.com/xaenox/dump-bot/internal/classifier"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/storage"
	"go.uber.org/zap"
)

// MergeResult reports what ThemeMerger did with one extracted theme.
type MergeResult struct {
	ThemeID    string
	Title      string
	Created    bool
	Confidence int
}

// ThemeMerger links entries to session themes, matching titles case-insensitively.
//
// Matching is exact string equality after case folding: "Pricing Strategy" and
// "pricing strategy" merge, "Pricing  Strategy" (two spaces) and
// "Pricing Strategies" do not.
//
// The read-match-write sequence is not atomic. Callers serialize merges per session.
type ThemeMerger struct {
	store     storage.ThemeStorage
	unionTags bool
	logger    *zap.Logger
}

func NewThemeMerger(store storage.ThemeStorage, unionTags bool, logger *zap.Logger) *ThemeMerger {
	return &ThemeMerger{
		store:     store,
		unionTags: unionTags,
		logger:    logger,
	}
}

// Merge links entry to the session theme titled like draft, creating it when none exists.
// Existing confidence is raised to the draft's when higher and never lowered.
// Existing tags are left alone unless tag union is enabled, in which case tags are only added.
func (m *ThemeMerger) Merge(ctx context.Context, sessionID string, entry *models.Entry, draft models.ThemeDraft) (*MergeResult, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return nil, errors.NewValidation("theme title is required")
	}
	confidence := classifier.ClampConfidence(float64(draft.Confidence))

	themes, err := m.store.ListThemes(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if existing := findTheme(themes, draft.Title); existing != nil {
		if err := m.store.LinkEntryToTheme(ctx, entry.ID, existing.ID); err != nil {
			return nil, err
		}

		result := &MergeResult{ThemeID: existing.ID, Title: existing.Title, Confidence: existing.Confidence}
		if confidence > existing.Confidence {
			if err := m.store.RaiseThemeConfidence(ctx, existing.ID, confidence); err != nil {
				return nil, err
			}
			result.Confidence = confidence
		}

		if m.unionTags && len(draft.Tags) > 0 {
			if err := m.store.AddThemeTags(ctx, existing.ID, draft.Tags); err != nil {
				return nil, err
			}
		}

		m.logger.Debug("Linked dump to existing theme",
			zap.String("dump_id", entry.ID),
			zap.String("theme_id", existing.ID),
			zap.Int("confidence", result.Confidence))
		return result, nil
	}

	tags := append([]string{}, draft.Tags...)
	themeID, err := m.store.InsertTheme(ctx, &models.Theme{
		SessionID:  sessionID,
		Title:      draft.Title,
		Tags:       tags,
		Confidence: confidence,
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.LinkEntryToTheme(ctx, entry.ID, themeID); err != nil {
		return nil, err
	}

	m.logger.Debug("Created theme",
		zap.String("dump_id", entry.ID),
		zap.String("theme_id", themeID),
		zap.String("title", draft.Title))
	return &MergeResult{ThemeID: themeID, Title: draft.Title, Created: true, Confidence: confidence}, nil
}

func findTheme(themes []*models.Theme, title string) *models.Theme {
	want := strings.ToLower(title)
	for _, t := range themes {
		if strings.ToLower(t.Title) == want {
			return t
		}
	}
	return nil
}
