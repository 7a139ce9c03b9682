// Package visiontest provides a scripted vision.Backend and sample analysis
// fixtures for tests.
package visiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
)

// AnalysisJSON is a schema-conformant model reply.
const AnalysisJSON = `{
  "nameChinese": "紫水晶",
  "nameEnglish": "Amethyst",
  "chemicalFormula": "SiO2",
  "confidenceLevel": 87,
  "description": "紫水晶是石英的紫色變種。",
  "historicalStories": ["古希臘人相信紫水晶能防止醉酒。", "中世紀主教佩戴紫水晶戒指。"],
  "socialMediaTopics": ["療癒能量", "染色假貨"],
  "identificationReasons": ["紫色調", "六方柱狀晶體", "玻璃光澤"],
  "otherCandidates": [
    {"name": "螢石", "confidence": 40},
    {"name": "紫鋰輝石", "confidence": 20},
    {"name": "方鈉石", "confidence": 10}
  ],
  "references": [
    {"url": "https://www.mindat.org/min-198.html", "title": "Amethyst - Mindat", "description": "礦物資料庫"}
  ]
}`

// Analysis returns the decoded form of AnalysisJSON.
func Analysis() *domain.MineralAnalysis {
	return &domain.MineralAnalysis{
		NameChinese:       "紫水晶",
		NameEnglish:       "Amethyst",
		ChemicalFormula:   "SiO2",
		ConfidenceLevel:   87,
		Description:       "紫水晶是石英的紫色變種。",
		HistoricalStories: []string{"古希臘人相信紫水晶能防止醉酒。", "中世紀主教佩戴紫水晶戒指。"},
		SocialMediaTopics: []string{"療癒能量", "染色假貨"},
		IdentificationReasons: []string{
			"紫色調", "六方柱狀晶體", "玻璃光澤",
		},
		OtherCandidates: []domain.Candidate{
			{Name: "螢石", Confidence: 40},
			{Name: "紫鋰輝石", Confidence: 20},
			{Name: "方鈉石", Confidence: 10},
		},
		References: []domain.Reference{
			{URL: "https://www.mindat.org/min-198.html", Title: "Amethyst - Mindat", Description: "礦物資料庫"},
		},
	}
}

// Image returns a tiny PNG-signature payload, already encoded.
func Image() *domain.EncodedImage {
	return &domain.EncodedImage{Data: "iVBORw0KGgoAAAANSUhEUg==", MediaType: "image/png"}
}

// Reply scripts one model reply: the fragments are streamed in order and, if
// Err is set, the stream fails after them. StartErr fails SendStream itself.
type Reply struct {
	Fragments []string
	Err       error
	StartErr  error
}

// Backend is a scripted vision.Backend. Analyze returns Result/AnalyzeErr;
// each conversation consumes Replies in order. Gate, when non-nil, blocks
// Analyze until it is closed.
type Backend struct {
	mu sync.Mutex

	Result     *domain.MineralAnalysis
	AnalyzeErr error
	StartErr   error
	Replies    []Reply
	Gate       chan struct{}

	analyzeCalls int
	lastImage    *domain.EncodedImage
	instructions []string
	sent         []string
}

var _ vision.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Analyze(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, error) {
	b.mu.Lock()
	b.analyzeCalls++
	b.lastImage = img
	gate := b.Gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AnalyzeErr != nil {
		return nil, b.AnalyzeErr
	}
	if b.Result == nil {
		return nil, errors.New("visiontest: no result scripted")
	}
	return b.Result, nil
}

func (b *Backend) StartChat(_ context.Context, systemInstruction string) (vision.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.StartErr != nil {
		return nil, b.StartErr
	}
	b.instructions = append(b.instructions, systemInstruction)
	return &conversation{backend: b}, nil
}

func (b *Backend) AnalyzeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analyzeCalls
}

func (b *Backend) LastImage() *domain.EncodedImage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastImage
}

// Instructions returns the system instruction of every chat started so far.
func (b *Backend) Instructions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.instructions...)
}

// Sent returns every message sent across all conversations.
func (b *Backend) Sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

func (b *Backend) nextReply(message string) Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, message)
	if len(b.Replies) == 0 {
		return Reply{}
	}
	r := b.Replies[0]
	b.Replies = b.Replies[1:]
	return r
}

type conversation struct {
	backend *Backend
}

func (c *conversation) SendStream(_ context.Context, message string) (<-chan vision.StreamEvent, error) {
	reply := c.backend.nextReply(message)
	if reply.StartErr != nil {
		return nil, reply.StartErr
	}

	ch := make(chan vision.StreamEvent, len(reply.Fragments)+1)
	for _, f := range reply.Fragments {
		ch <- vision.StreamEvent{Text: f}
	}
	if reply.Err != nil {
		ch <- vision.StreamEvent{Err: reply.Err}
	}
	close(ch)
	return ch, nil
}
