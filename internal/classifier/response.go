package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
)

// DefaultConfidence is used for themes extracted without a confidence.
const DefaultConfidence = 50

// Wire shape of the model reply. Pointers distinguish absent fields from zero values.
type wireResponse struct {
	Type      *string         `json:"type"`
	Actions   []wireAction    `json:"actions"`
	Questions []wireQuestion  `json:"questions"`
	Themes    []wireTheme     `json:"themes"`
	Reasoning json.RawMessage `json:"reasoning"`
}

type wireAction struct {
	Text     *string `json:"text"`
	Priority *string `json:"priority"`
}

type wireQuestion struct {
	Text *string `json:"text"`
}

type wireTheme struct {
	Title      *string   `json:"title"`
	Tags       []*string `json:"tags"`
	Confidence *float64  `json:"confidence"`
}

// StripFences removes a leading ```/```json marker and a trailing ``` marker.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "\n")
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseResponse validates a raw model reply and returns the classification.
// Anything that is not a JSON object of the expected shape is a MALFORMED_RESPONSE.
// An unknown type label is kept as-is; callers decide whether to apply it.
func ParseResponse(raw string) (*models.Classification, error) {
	cleaned := StripFences(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, errors.NewMalformedResponse("expected a JSON object", raw)
	}

	var wire wireResponse
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&wire); err != nil {
		return nil, errors.NewMalformedResponse(err.Error(), raw)
	}
	if dec.More() {
		return nil, errors.NewMalformedResponse("trailing data after JSON object", raw)
	}

	result := &models.Classification{
		Actions:   make([]models.ActionDraft, 0, len(wire.Actions)),
		Questions: make([]models.QuestionDraft, 0, len(wire.Questions)),
		Themes:    make([]models.ThemeDraft, 0, len(wire.Themes)),
	}
	if wire.Type != nil {
		result.Type = models.EntryType(strings.TrimSpace(*wire.Type))
	}

	for i, a := range wire.Actions {
		text, err := requiredText(a.Text, fmt.Sprintf("actions[%d].text", i), raw)
		if err != nil {
			return nil, err
		}
		priority := models.MediumPriority
		if a.Priority != nil {
			if p := models.Priority(strings.ToLower(strings.TrimSpace(*a.Priority))); p.Valid() {
				priority = p
			}
		}
		result.Actions = append(result.Actions, models.ActionDraft{Text: text, Priority: priority})
	}

	for i, q := range wire.Questions {
		text, err := requiredText(q.Text, fmt.Sprintf("questions[%d].text", i), raw)
		if err != nil {
			return nil, err
		}
		result.Questions = append(result.Questions, models.QuestionDraft{Text: text})
	}

	for i, th := range wire.Themes {
		title, err := requiredText(th.Title, fmt.Sprintf("themes[%d].title", i), raw)
		if err != nil {
			return nil, err
		}
		tags := make([]string, 0, len(th.Tags))
		for _, tag := range th.Tags {
			if tag != nil && strings.TrimSpace(*tag) != "" {
				tags = append(tags, *tag)
			}
		}
		confidence := DefaultConfidence
		if th.Confidence != nil {
			confidence = ClampConfidence(*th.Confidence)
		}
		result.Themes = append(result.Themes, models.ThemeDraft{Title: title, Tags: tags, Confidence: confidence})
	}

	reasoning, err := parseReasoning(wire.Reasoning, raw)
	if err != nil {
		return nil, err
	}
	result.Reasoning = reasoning

	return result, nil
}

// ClampConfidence rounds c and pins it into [0,100].
func ClampConfidence(c float64) int {
	if math.IsNaN(c) {
		return DefaultConfidence
	}
	c = math.Round(c)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return int(c)
}

func requiredText(v *string, field, raw string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", errors.NewMalformedResponse(field+" is missing or empty", raw)
	}
	return *v, nil
}

// reasoning may be a string or an array of strings
func parseReasoning(msg json.RawMessage, raw string) ([]string, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil, nil
	}

	var one string
	if err := json.Unmarshal(msg, &one); err == nil {
		if strings.TrimSpace(one) == "" {
			return nil, nil
		}
		return []string{one}, nil
	}

	var many []string
	if err := json.Unmarshal(msg, &many); err != nil {
		return nil, errors.NewMalformedResponse("reasoning must be a string or an array of strings", raw)
	}
	out := many[:0]
	for _, r := range many {
		if strings.TrimSpace(r) != "" {
			out = append(out, r)
		}
	}
	return out, nil
}
