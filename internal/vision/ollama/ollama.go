// Package ollama implements vision.Backend against a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	client "github.com/mutablelogic/go-client"

	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llava"
)

type Options struct {
	Host        string
	Model       string
	Temperature float32
}

type message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []message       `json:"messages"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
	Stream   bool            `json:"stream"`
}

type chatResponse struct {
	Model   string  `json:"model"`
	Message message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

type OllamaBackend struct {
	*client.Client
	model       string
	temperature float32
}

var _ vision.Backend = (*OllamaBackend)(nil)

func NewOllamaBackend(opts Options) (*OllamaBackend, error) {
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	c, err := client.New(client.OptEndpoint(strings.TrimSuffix(host, "/") + "/api"))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = vision.DefaultTemperature
	}
	return &OllamaBackend{Client: c, model: model, temperature: temp}, nil
}

func (b *OllamaBackend) Name() string { return "ollama" }

// Analyze asks the model for JSON matching the analysis schema. Ollama's
// structured output is best effort, so the reply is validated locally.
func (b *OllamaBackend) Analyze(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, error) {
	schema, err := json.Marshal(vision.AnalysisSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal analysis schema: %w", err)
	}

	req, err := client.NewJSONRequest(chatRequest{
		Model: b.model,
		Messages: []message{{
			Role:    "user",
			Content: vision.AnalysisPrompt,
			Images:  []string{img.Data},
		}},
		Format:  schema,
		Options: b.options(),
	})
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := b.DoWithContext(ctx, req, &resp, client.OptPath("chat")); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama chat: %s", resp.Error)
	}
	return vision.DecodeValidatedAnalysis(resp.Message.Content)
}

func (b *OllamaBackend) StartChat(_ context.Context, systemInstruction string) (vision.Conversation, error) {
	return &conversation{
		backend: b,
		history: []message{{Role: "system", Content: systemInstruction}},
	}, nil
}

func (b *OllamaBackend) options() map[string]any {
	return map[string]any{"temperature": b.temperature}
}

type conversation struct {
	backend *OllamaBackend

	mu      sync.Mutex
	history []message
}

func (c *conversation) SendStream(ctx context.Context, text string) (<-chan vision.StreamEvent, error) {
	user := message{Role: "user", Content: text}

	c.mu.Lock()
	messages := append(append([]message(nil), c.history...), user)
	c.mu.Unlock()

	req, err := client.NewJSONRequest(chatRequest{
		Model:    c.backend.model,
		Messages: messages,
		Options:  c.backend.options(),
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan vision.StreamEvent, 16)
	go func() {
		defer close(ch)

		var reply strings.Builder
		var delta chatResponse
		err := c.backend.DoWithContext(ctx, req, &delta, client.OptPath("chat"), client.OptJsonStreamCallback(func(v any) error {
			r, ok := v.(*chatResponse)
			if !ok || r == nil {
				return fmt.Errorf("unexpected stream response %T", v)
			}
			if r.Error != "" {
				return fmt.Errorf("ollama: %s", r.Error)
			}
			if r.Message.Content != "" {
				reply.WriteString(r.Message.Content)
				ch <- vision.StreamEvent{Text: r.Message.Content}
			}
			return nil
		}))
		if err != nil {
			ch <- vision.StreamEvent{Err: fmt.Errorf("ollama chat stream: %w", err)}
			return
		}

		c.mu.Lock()
		c.history = append(c.history, user, message{Role: "assistant", Content: reply.String()})
		c.mu.Unlock()
	}()
	return ch, nil
}
