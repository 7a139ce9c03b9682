package vision

import (
	"context"
	"errors"

	"github.com/vbonduro/minerallens/internal/domain"
)

// AnalysisPrompt is the shared instruction sent alongside the image by every
// backend.
const AnalysisPrompt = `Analyze this image and identify the mineral. Provide the output strictly in Traditional Chinese (繁體中文) (except for English name and Formula) according to the JSON schema. Ensure historical stories includes 2-3 distinct items. Ensure you list 3 other possible minerals.`

// DefaultTemperature keeps identifications factual.
const DefaultTemperature = 0.4

var (
	ErrEmptyResponse     = errors.New("empty response from model")
	ErrMalformedResponse = errors.New("malformed analysis response")
)

type Analyzer interface {
	Analyze(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, error)
}

// Conversation is a stateful chat held by a backend. Each SendStream call
// adds the message and the model's reply to the conversation history.
type Conversation interface {
	// SendStream sends message and returns a channel of text fragments. The
	// channel is closed when the reply is complete. A failure after the
	// stream started is delivered as a final StreamEvent with Err set.
	SendStream(ctx context.Context, message string) (<-chan StreamEvent, error)
}

type ChatStarter interface {
	StartChat(ctx context.Context, systemInstruction string) (Conversation, error)
}

// Backend is an AI service able to both identify and converse.
type Backend interface {
	Analyzer
	ChatStarter
	Name() string
}

// StreamEvent is either a text fragment or an error emitted during streaming.
type StreamEvent struct {
	Text string
	Err  error
}
