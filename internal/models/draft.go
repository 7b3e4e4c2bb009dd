package models

// ActionDraft is an action item as extracted by the oracle, before it is stored.
type ActionDraft struct {
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
}

// QuestionDraft is an extracted question before it is stored.
type QuestionDraft struct {
	Text string `json:"text"`
}

// ThemeDraft is an extracted theme before it is merged.
type ThemeDraft struct {
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Confidence int      `json:"confidence"`
}

// ContextEntry is one line of session context handed to the oracle.
type ContextEntry struct {
	Type    EntryType `json:"type"`
	Content string    `json:"content"`
}

// Classification is a validated oracle reply.
// Type holds the raw label; check Type.Valid before applying it.
type Classification struct {
	Type      EntryType       `json:"type"`
	Actions   []ActionDraft   `json:"actions"`
	Questions []QuestionDraft `json:"questions"`
	Themes    []ThemeDraft    `json:"themes"`
	Reasoning []string        `json:"reasoning,omitempty"`
}
