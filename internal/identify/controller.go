// Package identify drives one identification cycle: upload, analysis, and the
// result with its follow-up chat.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vbonduro/minerallens/internal/chat"
	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
)

var (
	ErrBusy              = errors.New("analysis in progress")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAnalysisFailed    = errors.New("analysis failed")
)

var tracer = otel.Tracer("github.com/vbonduro/minerallens/internal/identify")

type Controller struct {
	backend vision.Backend
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

func NewController(backend vision.Backend, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{backend: backend, logger: logger, state: Upload{}}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identify moves Upload → Analyzing, runs the analysis, then either opens the
// chat and enters Result or drops the image and returns to Upload. The call
// is not cancelled with ctx.
func (c *Controller) Identify(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrInvalidTransition)
	}

	c.mu.Lock()
	switch c.state.(type) {
	case Analyzing:
		c.mu.Unlock()
		return nil, ErrBusy
	case Result:
		c.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	c.state = Analyzing{Image: img}
	c.mu.Unlock()

	ctx, span := tracer.Start(context.WithoutCancel(ctx), "identify.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("vision.backend", c.backend.Name()),
		attribute.String("image.media_type", img.MediaType),
	)

	start := time.Now()
	analysis, session, err := c.analyze(ctx, img)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = Upload{}
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		c.logger.Error("analysis failed",
			"backend", c.backend.Name(),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	c.state = Result{Image: img, Analysis: analysis, Chat: session}
	span.SetAttributes(attribute.String("mineral.name", analysis.NameEnglish))
	c.logger.Info("analysis complete",
		"backend", c.backend.Name(),
		"mineral", analysis.NameEnglish,
		"confidence", analysis.ConfidenceLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return analysis, nil
}

func (c *Controller) analyze(ctx context.Context, img *domain.EncodedImage) (*domain.MineralAnalysis, *chat.Session, error) {
	analysis, err := c.backend.Analyze(ctx, img)
	if err != nil {
		return nil, nil, err
	}
	if conflicts := vision.CandidateConflicts(analysis); len(conflicts) > 0 {
		c.logger.Warn("alternative candidate not below primary confidence",
			"mineral", analysis.NameEnglish,
			"confidence", analysis.ConfidenceLevel,
			"candidates", conflicts,
		)
	}

	session, err := chat.Open(ctx, c.backend, analysis, c.logger)
	if err != nil {
		return nil, nil, err
	}
	return analysis, session, nil
}

// Reset returns Result to Upload, dropping the image, analysis and chat.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.(type) {
	case Analyzing:
		return ErrBusy
	case Result:
		c.state = Upload{}
		c.logger.Info("session reset")
	}
	return nil
}

// Send forwards a follow-up question to the chat of the current result.
func (c *Controller) Send(ctx context.Context, message string) (<-chan chat.Update, error) {
	c.mu.Lock()
	r, ok := c.state.(Result)
	c.mu.Unlock()
	if !ok {
		return nil, chat.ErrNoSession
	}
	return r.Chat.Send(ctx, message)
}

// Image returns the image held in Analyzing or Result, or nil.
func (c *Controller) Image() *domain.EncodedImage {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s := c.state.(type) {
	case Analyzing:
		return s.Image
	case Result:
		return s.Image
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	snap := Snapshot{State: state.View(), Messages: []domain.ChatMessage{}}
	switch s := state.(type) {
	case Analyzing:
		snap.HasImage = true
		snap.ImageMediaType = s.Image.MediaType
	case Result:
		snap.HasImage = true
		snap.ImageMediaType = s.Image.MediaType
		snap.Analysis = s.Analysis
		if msgs := s.Chat.Messages(); msgs != nil {
			snap.Messages = msgs
		}
		snap.ChatBusy = s.Chat.Busy()
	}
	return snap
}
