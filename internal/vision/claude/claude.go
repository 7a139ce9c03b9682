// Package claude implements vision.Backend on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
)

const DefaultModel = "claude-sonnet-4-5"

// maxTokens bounds both the analysis JSON and chat replies; a full analysis
// with three stories and references stays well under it.
const maxTokens = 4096

type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
}

type ClaudeBackend struct {
	client      *anthropic.Client
	model       string
	temperature float32
}

var _ vision.Backend = (*ClaudeBackend)(nil)

func NewClaudeBackend(opts Options) *ClaudeBackend {
	var clientOpts []anthropic.ClientOption
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(opts.BaseURL))
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = vision.DefaultTemperature
	}
	return &ClaudeBackend{
		client:      anthropic.NewClient(opts.APIKey, clientOpts...),
		model:       model,
		temperature: temp,
	}
}

func (b *ClaudeBackend) Name() string { return "claude" }

// Analyze sends the image with the analysis prompt. The Messages API cannot
// constrain output to a schema, so the schema goes into the system prompt and
// the reply is validated locally.
func (b *ClaudeBackend) Analyze(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, error) {
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(b.model),
		System:      vision.SchemaPrompt(),
		MaxTokens:   maxTokens,
		Temperature: &b.temperature,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(img.MediaType),
					img.Data,
				)),
				anthropic.NewTextMessageContent(vision.AnalysisPrompt),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("claude create message: %w", err)
	}
	return vision.DecodeValidatedAnalysis(resp.GetFirstContentText())
}

func (b *ClaudeBackend) StartChat(_ context.Context, systemInstruction string) (vision.Conversation, error) {
	return &conversation{backend: b, system: systemInstruction}, nil
}

type conversation struct {
	backend *ClaudeBackend
	system  string

	mu      sync.Mutex
	history []anthropic.Message
}

// SendStream runs the streaming request in the background. Deltas are
// forwarded as they arrive; the turn pair joins the history only when the
// stream completes.
func (c *conversation) SendStream(ctx context.Context, message string) (<-chan vision.StreamEvent, error) {
	user := anthropic.NewUserTextMessage(message)

	c.mu.Lock()
	messages := append(append([]anthropic.Message(nil), c.history...), user)
	c.mu.Unlock()

	ch := make(chan vision.StreamEvent, 16)
	go func() {
		defer close(ch)

		var reply strings.Builder
		_, err := c.backend.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
			MessagesRequest: anthropic.MessagesRequest{
				Model:       anthropic.Model(c.backend.model),
				System:      c.system,
				MaxTokens:   maxTokens,
				Temperature: &c.backend.temperature,
				Messages:    messages,
			},
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				if text := data.Delta.GetText(); text != "" {
					reply.WriteString(text)
					ch <- vision.StreamEvent{Text: text}
				}
			},
		})
		if err != nil {
			ch <- vision.StreamEvent{Err: fmt.Errorf("claude stream: %w", err)}
			return
		}

		c.mu.Lock()
		c.history = append(c.history, user, anthropic.NewAssistantTextMessage(reply.String()))
		c.mu.Unlock()
	}()
	return ch, nil
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
// Unknown types are coerced to jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
