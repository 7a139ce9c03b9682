// Package gemini implements vision.Backend on the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
)

const DefaultModel = "gemini-2.5-flash"

type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
}

type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ vision.Backend = (*GeminiBackend)(nil)

func NewGeminiBackend(ctx context.Context, opts Options) (*GeminiBackend, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = vision.DefaultTemperature
	}
	return &GeminiBackend{client: client, model: model, temperature: temp}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

// Analyze sends the image with the analysis prompt and asks for a JSON reply
// constrained to the analysis schema.
func (b *GeminiBackend) Analyze(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, error) {
	data, err := img.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	contents := []*genai.Content{{
		Role: string(genai.RoleUser),
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: img.MediaType, Data: data}},
			{Text: vision.AnalysisPrompt},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(vision.AnalysisSchema()),
		Temperature:      genai.Ptr(b.temperature),
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return vision.DecodeAnalysis(resp.Text())
}

func (b *GeminiBackend) StartChat(_ context.Context, systemInstruction string) (vision.Conversation, error) {
	return &conversation{
		backend: b,
		config: &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		},
	}, nil
}

// conversation keeps the turn history locally and replays it on each send.
// A turn pair is only recorded once the reply has streamed completely.
type conversation struct {
	backend *GeminiBackend
	config  *genai.GenerateContentConfig

	mu      sync.Mutex
	history []*genai.Content
}

func (c *conversation) SendStream(ctx context.Context, message string) (<-chan vision.StreamEvent, error) {
	user := genai.NewContentFromText(message, genai.RoleUser)

	c.mu.Lock()
	contents := append(append([]*genai.Content(nil), c.history...), user)
	c.mu.Unlock()

	stream := c.backend.client.Models.GenerateContentStream(ctx, c.backend.model, contents, c.config)

	ch := make(chan vision.StreamEvent, 16)
	go func() {
		defer close(ch)

		var reply strings.Builder
		for resp, err := range stream {
			if err != nil {
				ch <- vision.StreamEvent{Err: fmt.Errorf("gemini stream: %w", err)}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			reply.WriteString(text)
			ch <- vision.StreamEvent{Text: text}
		}

		c.mu.Lock()
		c.history = append(c.history, user, genai.NewContentFromText(reply.String(), genai.RoleModel))
		c.mu.Unlock()
	}()
	return ch, nil
}

// toGenaiSchema converts the JSON schema into the OpenAPI subset the Gemini
// API takes as a response schema.
func toGenaiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
		Items:       toGenaiSchema(s.Items),
	}
	if s.MinItems != nil {
		out.MinItems = genai.Ptr(int64(*s.MinItems))
	}
	if s.MaxItems != nil {
		out.MaxItems = genai.Ptr(int64(*s.MaxItems))
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenaiSchema(p)
		}
	}
	return out
}
