package pipeline

import (
	"github.com/xaenox/dump-bot/internal/models"
)

// PreviewLength is how many characters of a dump a step shows.
const PreviewLength = 60

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal reports whether a step in this status is finished for the run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// StepResult summarizes what a successful pass applied.
type StepResult struct {
	Type           models.EntryType
	ActionsCount   int
	QuestionsCount int
	ThemesCount    int
}

// Step is the in-memory progress record of one dump in a batch. It is never persisted.
type Step struct {
	EntryID   string
	Preview   string
	Status    Status
	Reasoning []string
	Result    *StepResult
}

func newStep(entry *models.Entry) Step {
	return Step{
		EntryID:   entry.ID,
		Preview:   Preview(entry.Content),
		Status:    StatusPending,
		Reasoning: []string{},
	}
}

func (s Step) clone() Step {
	c := s
	c.Reasoning = append([]string{}, s.Reasoning...)
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return c
}

// Preview returns the first PreviewLength characters of content, with "..." when cut.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}

func snapshot(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.clone()
	}
	return out
}
