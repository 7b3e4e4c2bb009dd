package classifier

import (
	"context"
	"strings"

	"github.com/xaenox/dump-bot/internal/models"
)

// Request is what the oracle sees for one dump.
type Request struct {
	EntryText string
	Context   []models.ContextEntry
}

// Oracle labels a dump and extracts actions, questions and themes from it.
// Implementations return *errors.DumpError values on failure.
type Oracle interface {
	Classify(ctx context.Context, req Request) (*models.Classification, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, req Request) (*models.Classification, error)

func (f OracleFunc) Classify(ctx context.Context, req Request) (*models.Classification, error) {
	return f(ctx, req)
}

// KeywordClassifier is an offline oracle built on keyword heuristics.
// It is used when no model API key is configured.
type KeywordClassifier struct {
	maxTags int
}

func NewKeywordClassifier(maxTags int) *KeywordClassifier {
	if maxTags <= 0 {
		maxTags = 5
	}
	return &KeywordClassifier{maxTags: maxTags}
}

// Checked in order; the first bucket with a hit decides the type.
var typeKeywords = []struct {
	typ      models.EntryType
	keywords []string
}{
	{models.BlockerEntry, []string{"blocked", "blocker", "stuck", "can't", "cannot", "waiting on"}},
	{models.DecisionEntry, []string{"decided", "decision", "we will", "let's go with", "agreed"}},
	{models.ActionEntry, []string{"need to", "todo", "must", "should", "check with", "follow up"}},
	{models.IdeaEntry, []string{"what if", "maybe", "idea", "could", "how about"}},
}

// Classify never fails; it only reads the entry text.
func (c *KeywordClassifier) Classify(ctx context.Context, req Request) (*models.Classification, error) {
	content := strings.TrimSpace(req.EntryText)
	lower := strings.ToLower(content)

	result := &models.Classification{
		Type:      models.NoteEntry,
		Actions:   []models.ActionDraft{},
		Questions: []models.QuestionDraft{},
		Themes:    []models.ThemeDraft{},
	}

	if strings.HasSuffix(content, "?") {
		result.Type = models.QuestionEntry
		result.Questions = append(result.Questions, models.QuestionDraft{Text: content})
	} else {
		for _, bucket := range typeKeywords {
			if containsAny(lower, bucket.keywords) {
				result.Type = bucket.typ
				break
			}
		}
		if result.Type == models.ActionEntry {
			result.Actions = append(result.Actions, models.ActionDraft{Text: content, Priority: models.MediumPriority})
		}
	}

	// Hashtags become themes
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(content) {
		if !strings.HasPrefix(word, "#") {
			continue
		}
		tag := strings.ToLower(strings.Trim(strings.TrimPrefix(word, "#"), ".,;:!?"))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result.Themes = append(result.Themes, models.ThemeDraft{
			Title:      tag,
			Tags:       []string{tag},
			Confidence: 60,
		})
		if len(result.Themes) >= c.maxTags {
			break
		}
	}

	result.Reasoning = []string{"Classified offline by keyword rules"}
	return result, nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
