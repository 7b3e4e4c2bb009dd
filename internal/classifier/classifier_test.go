package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/dump-bot/internal/models"
)

func TestKeywordClassifier_Types(t *testing.T) {
	clf := NewKeywordClassifier(5)
	tests := []struct {
		content string
		want    models.EntryType
	}{
		{"Should we offer annual billing discounts?", models.QuestionEntry},
		{"We're blocked on the Stripe sandbox", models.BlockerEntry},
		{"Decided: start at $75 and iterate", models.DecisionEntry},
		{"Need to check with finance team first", models.ActionEntry},
		{"What if we do usage-based pricing", models.IdeaEntry},
		{"Launch target is end of Q2", models.NoteEntry},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, err := clf.Classify(context.Background(), Request{EntryText: tt.content})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestKeywordClassifier_Extractions(t *testing.T) {
	clf := NewKeywordClassifier(2)

	got, err := clf.Classify(context.Background(), Request{EntryText: "Need to validate #Pricing with #finance #pricing #q2"})
	require.NoError(t, err)

	require.Len(t, got.Actions, 1)
	assert.Equal(t, models.MediumPriority, got.Actions[0].Priority)
	require.Len(t, got.Themes, 2)
	assert.Equal(t, "pricing", got.Themes[0].Title)
	assert.Equal(t, "finance", got.Themes[1].Title)
	assert.Equal(t, 60, got.Themes[0].Confidence)

	got, err = clf.Classify(context.Background(), Request{EntryText: "Is usage-based pricing feasible?"})
	require.NoError(t, err)
	require.Len(t, got.Questions, 1)
	assert.Empty(t, got.Actions)
}

func TestOracleFunc(t *testing.T) {
	var seen Request
	oracle := OracleFunc(func(ctx context.Context, req Request) (*models.Classification, error) {
		seen = req
		return &models.Classification{Type: models.IdeaEntry}, nil
	})

	got, err := oracle.Classify(context.Background(), Request{EntryText: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.IdeaEntry, got.Type)
	assert.Equal(t, "x", seen.EntryText)
}

func TestReplySchema(t *testing.T) {
	schema, err := ReplySchema()
	require.NoError(t, err)

	assert.Contains(t, schema, `"themes"`)
	assert.Contains(t, schema, `"blocker"`)
	assert.Contains(t, schema, `"maximum": 100`)
}
