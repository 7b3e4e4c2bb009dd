package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/pipeline"
	"github.com/xaenox/dump-bot/internal/workspace"
	"go.uber.org/zap"
)

// Bot maps every chat to one dump session.
type Bot struct {
	api       *tgbotapi.BotAPI
	workspace *workspace.Service
	logger    *zap.Logger
}

func New(token string, ws *workspace.Service, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:       api,
		workspace: ws,
		logger:    logger,
	}, nil
}

func sessionID(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

// Start polls for updates until ctx is cancelled, then waits for in-flight handlers.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	// Get content from message
	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}

	session := sessionID(message.Chat.ID)
	authorID := ""
	if message.From != nil {
		authorID = strconv.FormatInt(message.From.ID, 10)
	}

	entry, err := b.workspace.SubmitDump(ctx, session, authorID, content)
	if err != nil {
		if errors.Is(err, errors.KindValidation) {
			b.sendMessage(message.Chat.ID, "Send me some text to dump.")
			return
		}
		b.logger.Error("Failed to save dump",
			zap.Error(err),
			zap.String("session_id", session))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your dump. Please try again.")
		return
	}

	outcome, err := b.workspace.ProcessNow(ctx, session, entry.ID)
	if err != nil {
		b.logger.Warn("Failed to process dump",
			zap.Error(err),
			zap.String("session_id", session),
			zap.String("dump_id", entry.ID))
		b.sendErrorMessage(message.Chat.ID, fmt.Sprintf("Saved, but classification failed (%s). Use /process to retry.", errors.KindOf(err)))
		return
	}

	b.sendMarkdown(message.Chat.ID, message.MessageID, formatOutcome(outcome))
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "process":
		b.handleProcess(ctx, message)
	case "themes", "actions", "questions", "history":
		b.handleList(ctx, message)
	case "vote":
		b.handleVote(ctx, message)
	case "done":
		b.handleDone(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to DumpBot! 🧠
Dump any thought here as a plain message. I'll classify it and collect themes, action items and open questions for this chat.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/process - Classify every dump that is still unclassified
/themes - Show recurring themes
/actions - Show action items
/questions - Show open questions
/vote N - Upvote question N
/done N - Toggle action item N
/history - Show your recent dumps

Every text message you send is saved as a dump and classified right away.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleProcess(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	session := sessionID(chatID)

	progress, err := b.api.Send(tgbotapi.NewMessage(chatID, "Looking for unclassified dumps..."))
	progressID := progress.MessageID
	if err != nil {
		b.logger.Error("Failed to send progress message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		progressID = 0
	}

	report, err := b.workspace.ProcessUnclassified(ctx, session, func(u pipeline.Update) {
		if progressID != 0 {
			b.editMarkdown(chatID, progressID, formatProgress(u.Steps))
		}
	})
	if err != nil {
		b.logger.Error("Failed to start batch",
			zap.Error(err),
			zap.String("session_id", session))
		b.sendErrorMessage(chatID, "Sorry, I couldn't load your dumps. Please try again later.")
		return
	}

	if progressID != 0 {
		b.editMarkdown(chatID, progressID, formatReport(report))
		return
	}
	b.sendMarkdown(chatID, 0, formatReport(report))
}

func (b *Bot) handleList(ctx context.Context, message *tgbotapi.Message) {
	session := sessionID(message.Chat.ID)
	agg, err := b.workspace.Aggregate(ctx, session)
	if err != nil {
		b.logger.Error("Failed to load session",
			zap.Error(err),
			zap.String("session_id", session))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't load this session. Please try again later.")
		return
	}

	var text string
	switch message.Command() {
	case "themes":
		text = formatThemes(agg.Themes)
	case "actions":
		text = formatActions(agg.Actions)
	case "questions":
		text = formatQuestions(agg.Questions)
	default:
		text = formatHistory(agg.Entries)
	}
	b.sendMarkdown(message.Chat.ID, 0, text)
}

func (b *Bot) handleVote(ctx context.Context, message *tgbotapi.Message) {
	session := sessionID(message.Chat.ID)
	agg, err := b.workspace.Aggregate(ctx, session)
	if err != nil {
		b.logger.Error("Failed to load session", zap.Error(err), zap.String("session_id", session))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't load this session. Please try again later.")
		return
	}

	i, err := parseIndex(message.CommandArguments(), len(agg.Questions))
	if err != nil {
		b.sendMessage(message.Chat.ID, "Can't vote: "+err.Error()+". See /questions.")
		return
	}
	q := agg.Questions[i]
	if err := b.workspace.VoteQuestion(ctx, q.ID); err != nil {
		b.logger.Error("Failed to vote",
			zap.Error(err),
			zap.String("question_id", q.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't record your vote.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("👍 %s (%d votes)", q.Text, q.Votes+1))
}

func (b *Bot) handleDone(ctx context.Context, message *tgbotapi.Message) {
	session := sessionID(message.Chat.ID)
	agg, err := b.workspace.Aggregate(ctx, session)
	if err != nil {
		b.logger.Error("Failed to load session", zap.Error(err), zap.String("session_id", session))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't load this session. Please try again later.")
		return
	}

	i, err := parseIndex(message.CommandArguments(), len(agg.Actions))
	if err != nil {
		b.sendMessage(message.Chat.ID, "Can't toggle: "+err.Error()+". See /actions.")
		return
	}
	a := agg.Actions[i]
	if err := b.workspace.ToggleAction(ctx, a.ID); err != nil {
		b.logger.Error("Failed to toggle action",
			zap.Error(err),
			zap.String("action_id", a.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't update that action item.")
		return
	}
	if a.Done {
		b.sendMessage(message.Chat.ID, "Reopened: "+a.Text)
		return
	}
	b.sendMessage(message.Chat.ID, "☑ Done: "+a.Text)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.ReplyToMessageID = replyToID

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) editMarkdown(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Warn("Failed to edit progress message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
