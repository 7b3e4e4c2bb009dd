package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/pipeline"
)

func TestFormatUpdate(t *testing.T) {
	steps := []pipeline.Step{
		{Preview: "need enterprise pricing", Status: pipeline.StatusDone, Result: &pipeline.StepResult{Type: models.IdeaEntry, ThemesCount: 1}},
		{Preview: "broken", Status: pipeline.StatusError, Reasoning: []string{"MALFORMED_RESPONSE: failed to parse AI response"}},
	}

	assert.Equal(t,
		"[1/2] done       need enterprise pricing\n         -> idea, 0 actions, 0 questions, 1 themes",
		formatUpdate(pipeline.Update{Index: 0, Steps: steps}))
	assert.Equal(t,
		"[2/2] error      broken\n         -> MALFORMED_RESPONSE: failed to parse AI response",
		formatUpdate(pipeline.Update{Index: 1, Steps: steps}))
}

func TestParseIndex(t *testing.T) {
	i, err := parseIndex("3", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = parseIndex("nope", 3)
	assert.Error(t, err)
	_, err = parseIndex("0", 3)
	assert.Error(t, err)
	_, err = parseIndex("2abc", 3)
	assert.Error(t, err, "trailing garbage is not an index")
	_, err = parseIndex("4", 3)
	assert.Error(t, err)
}
