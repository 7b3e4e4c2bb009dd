package classifier

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.x.ai/v1"
	DefaultModel   = "grok-3-mini-fast"
	DefaultTimeout = 30 * time.Second
)

const systemPromptHeader = `You are an AI assistant that analyzes brain dumps. Given a new dump and session context, you must:
1. Classify the dump type as one of: idea, decision, question, blocker, action, note
2. Extract any action items (tasks to do)
3. Extract any questions raised
4. Identify themes/topics, reusing the exact title of a theme from the context when it is the same topic
5. Optionally explain your classification in a few short sentences under "reasoning"

Respond with a JSON object only (no markdown):
{
  "type": "idea|decision|question|blocker|action|note",
  "actions": [{"text": "...", "priority": "high|medium|low"}],
  "questions": [{"text": "..."}],
  "themes": [{"title": "...", "tags": ["tag1"], "confidence": 80}],
  "reasoning": ["..."]
}`

// GPTConfig configures a GPTClassifier.
type GPTConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// GPTClassifier is an Oracle backed by an OpenAI-compatible chat completions API.
type GPTClassifier struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float64
	timeout      time.Duration
	systemPrompt string
	logger       *zap.Logger
}

func NewGPTClassifier(cfg GPTConfig, logger *zap.Logger) *GPTClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	prompt := systemPromptHeader
	if schema, err := ReplySchema(); err != nil {
		logger.Warn("Failed to build reply schema", zap.Error(err))
	} else {
		prompt += "\n\nThe reply must validate against this JSON schema:\n" + schema
	}

	return &GPTClassifier{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		timeout:      timeout,
		systemPrompt: prompt,
		logger:       logger,
	}
}

// Classify makes one chat completion call bounded by the configured timeout.
func (c *GPTClassifier) Classify(ctx context.Context, req Request) (*models.Classification, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(
		callCtx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: c.systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: BuildUserPrompt(req),
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		mapped := c.mapError(callCtx, err)
		c.logger.Error("Failed to get GPT response", zap.Error(mapped))
		return nil, mapped
	}

	if len(resp.Choices) == 0 {
		return nil, errors.NewMalformedResponse("response has no choices", "")
	}

	content := resp.Choices[0].Message.Content
	result, err := ParseResponse(content)
	if err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", content))
		return nil, err
	}

	return result, nil
}

func (c *GPTClassifier) mapError(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewOracleTimeout(c.timeout, err)
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return errors.NewOracleUnavailable(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return errors.NewOracleUnavailable(reqErr.HTTPStatusCode, err)
	}
	return errors.NewOracleUnavailable(0, err)
}

// BuildUserPrompt renders the session context and the new dump.
func BuildUserPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Session context:\n")
	sb.WriteString(FormatContext(req.Context))
	sb.WriteString("\n\nNew dump to analyze:\n")
	sb.WriteString(req.EntryText)
	return sb.String()
}

// FormatContext reduces each context entry to a "[type] content" line.
func FormatContext(entries []models.ContextEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s] %s", e.Type, e.Content)
	}
	return strings.Join(lines, "\n")
}
