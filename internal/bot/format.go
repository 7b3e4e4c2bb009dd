package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/pipeline"
	"github.com/xaenox/dump-bot/internal/processor"
)

const historyLimit = 5

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func hashtag(tag string) string {
	return escapeMarkdown("#" + strings.ReplaceAll(tag, " ", "_"))
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func statusIcon(s pipeline.Status) string {
	switch s {
	case pipeline.StatusProcessing:
		return "🔄"
	case pipeline.StatusDone:
		return "✅"
	case pipeline.StatusError:
		return "❌"
	default:
		return "⏳"
	}
}

func resultSummary(r *pipeline.StepResult) string {
	return fmt.Sprintf("%s · %s, %s, %s", r.Type,
		plural(r.ActionsCount, "action"),
		plural(r.QuestionsCount, "question"),
		plural(r.ThemesCount, "theme"))
}

func formatOutcome(out *processor.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Type:* %s\n", hashtag(string(out.Type)))

	if len(out.Actions) > 0 {
		b.WriteString("\n*Actions:*\n")
		for _, a := range out.Actions {
			fmt.Fprintf(&b, "• %s \\[%s\\]\n", escapeMarkdown(a.Text), escapeMarkdown(string(a.Priority)))
		}
	}
	if len(out.Questions) > 0 {
		b.WriteString("\n*Questions:*\n")
		for _, q := range out.Questions {
			fmt.Fprintf(&b, "• %s\n", escapeMarkdown(q.Text))
		}
	}
	if len(out.Themes) > 0 {
		b.WriteString("\n*Themes:*\n")
		for _, th := range out.Themes {
			marker := "linked"
			if th.Created {
				marker = "new"
			}
			fmt.Fprintf(&b, "• %s \\(%d%%, %s\\)\n", escapeMarkdown(th.Title), th.Confidence, marker)
		}
	}
	if len(out.Reasoning) > 0 {
		fmt.Fprintf(&b, "\n_%s_", escapeMarkdown(strings.Join(out.Reasoning, " ")))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Telegram rejects messages longer than maxMessageLength characters. Progress
// leaves room for the report footer.
const (
	maxMessageLength = 4096
	progressLimit    = 3500
	reasonLength     = 200
)

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func stepBlock(s pipeline.Step) string {
	block := fmt.Sprintf("%s %s\n", statusIcon(s.Status), escapeMarkdown(s.Preview))
	switch {
	case s.Status == pipeline.StatusDone && s.Result != nil:
		block += fmt.Sprintf("     _%s_\n", escapeMarkdown(resultSummary(s.Result)))
	case s.Status == pipeline.StatusError && len(s.Reasoning) > 0:
		block += fmt.Sprintf("     _%s_\n", escapeMarkdown(truncate(s.Reasoning[0], reasonLength)))
	}
	return block
}

// formatProgress renders one block per step. Past progressLimit, the leading
// finished steps collapse into a count and the tail is cut to "and N more".
func formatProgress(steps []pipeline.Step) string {
	blocks := make([]string, len(steps))
	size := 0
	for i, s := range steps {
		blocks[i] = stepBlock(s)
		size += utf8.RuneCountInString(blocks[i])
	}

	start, done, failed := 0, 0, 0
	for start < len(steps) && size > progressLimit && steps[start].Status.Terminal() {
		if steps[start].Status == pipeline.StatusDone {
			done++
		} else {
			failed++
		}
		size -= utf8.RuneCountInString(blocks[start])
		start++
	}
	end := len(steps)
	for end > start+1 && size > progressLimit {
		end--
		size -= utf8.RuneCountInString(blocks[end])
	}

	var b strings.Builder
	b.WriteString("*Processing dumps*\n\n")
	if start > 0 {
		fmt.Fprintf(&b, "%s\n", escapeMarkdown(fmt.Sprintf("%d finished: %d done, %d failed", start, done, failed)))
	}
	for _, block := range blocks[start:end] {
		b.WriteString(block)
	}
	if end < len(steps) {
		fmt.Fprintf(&b, "%s\n", escapeMarkdown(fmt.Sprintf("...and %d more", len(steps)-end)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatReport(r *pipeline.Report) string {
	if len(r.Steps) == 0 {
		return escapeMarkdown("No unclassified dumps. Send me some text first.")
	}

	var b strings.Builder
	b.WriteString(formatProgress(r.Steps))
	fmt.Fprintf(&b, "\n\n*Done:* %d, *failed:* %d", r.Done, r.Failed)
	if r.Cancelled {
		fmt.Fprintf(&b, "\n%s", escapeMarkdown(fmt.Sprintf("Stopped early, %d left pending.", r.Pending())))
	}
	if r.Failed > 0 {
		fmt.Fprintf(&b, "\n%s", escapeMarkdown("Run /process again to retry failed dumps."))
	}
	if r.RefreshErr != nil {
		fmt.Fprintf(&b, "\n⚠️ %s", escapeMarkdown("Could not refresh the session: "+truncate(r.RefreshErr.Error(), reasonLength)))
	}
	return b.String()
}

func formatThemes(themes []*models.Theme) string {
	if len(themes) == 0 {
		return escapeMarkdown("No themes yet.")
	}
	var b strings.Builder
	b.WriteString("*Themes:*\n")
	for _, th := range themes {
		fmt.Fprintf(&b, "• *%s* \\(%d%%\\) · %s", escapeMarkdown(th.Title), th.Confidence, plural(len(th.LinkedEntryIDs), "dump"))
		if len(th.Tags) > 0 {
			tags := make([]string, len(th.Tags))
			for i, tag := range th.Tags {
				tags[i] = hashtag(tag)
			}
			fmt.Fprintf(&b, "\n   %s", strings.Join(tags, " "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatActions(actions []*models.ActionItem) string {
	if len(actions) == 0 {
		return escapeMarkdown("No action items yet.")
	}
	var b strings.Builder
	b.WriteString("*Actions:*\n")
	for i, a := range actions {
		box := "☐"
		text := escapeMarkdown(a.Text)
		if a.Done {
			box = "☑"
			text = "~" + text + "~"
		}
		fmt.Fprintf(&b, "%d\\. %s %s \\[%s\\] · %s\n", i+1, box, text, escapeMarkdown(string(a.Priority)), escapeMarkdown(a.Owner))
	}
	b.WriteString(escapeMarkdown("\nUse /done N to toggle an item."))
	return b.String()
}

func formatQuestions(questions []*models.Question) string {
	if len(questions) == 0 {
		return escapeMarkdown("No open questions yet.")
	}
	var b strings.Builder
	b.WriteString("*Questions:*\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d\\. %s · 👍 %d\n", i+1, escapeMarkdown(q.Text), q.Votes)
	}
	b.WriteString(escapeMarkdown("\nUse /vote N to upvote a question."))
	return b.String()
}

// formatHistory shows the most recent dumps, newest first.
func formatHistory(entries []*models.Entry) string {
	if len(entries) == 0 {
		return escapeMarkdown("You don't have any dumps yet.")
	}
	var b strings.Builder
	b.WriteString("*Your recent dumps:*\n\n")
	for i := len(entries) - 1; i >= 0 && i >= len(entries)-historyLimit; i-- {
		e := entries[i]
		fmt.Fprintf(&b, "%s\n_%s_\n\n", hashtag(string(e.Type)), escapeMarkdown(e.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseIndex reads a 1-based list position out of command arguments.
func parseIndex(args string, n int) (int, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return 0, fmt.Errorf("give the item number, e.g. 2")
	}
	i, err := strconv.Atoi(args)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args)
	}
	if i < 1 || i > n {
		return 0, fmt.Errorf("no item %d, the list has %d", i, n)
	}
	return i - 1, nil
}
