// Package chat holds the follow-up conversation about one identified mineral.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
)

// ApologyText replaces a model reply whose stream failed.
const ApologyText = "抱歉，發生錯誤，請稍後再試。"

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a reply is still streaming")
	ErrNoSession    = errors.New("no chat session")
)

var tracer = otel.Tracer("github.com/vbonduro/minerallens/internal/chat")

// SystemInstruction builds the context the conversation is seeded with.
func SystemInstruction(a *domain.MineralAnalysis) string {
	candidates := make([]string, 0, len(a.OtherCandidates))
	for _, c := range a.OtherCandidates {
		candidates = append(candidates, fmt.Sprintf("%s (%d%%)", c.Name, c.Confidence))
	}

	var sb strings.Builder
	sb.WriteString("You are an expert mineralogist and geologist assistant.\n")
	fmt.Fprintf(&sb, "The user has just analyzed an image which was identified as %s (%s).\n\n", a.NameEnglish, a.NameChinese)
	sb.WriteString("Here is the analysis context:\n")
	fmt.Fprintf(&sb, "- Description: %s\n", a.Description)
	fmt.Fprintf(&sb, "- Formula: %s\n", a.ChemicalFormula)
	fmt.Fprintf(&sb, "- History: %s\n", strings.Join(a.HistoricalStories, "; "))
	fmt.Fprintf(&sb, "- Social Topics: %s\n", strings.Join(a.SocialMediaTopics, "; "))
	fmt.Fprintf(&sb, "- Other Possibilities: %s\n\n", strings.Join(candidates, ", "))
	sb.WriteString("Answer the user's follow-up questions about this specific mineral clearly and concisely in Traditional Chinese (繁體中文).\n")
	sb.WriteString("Be helpful, educational, and friendly.")
	return sb.String()
}

// Update is one step of a reply as seen by the caller. Text is always the
// cumulative reply so far; Delta is the fragment that produced it. The last
// Update of a send has Done set, and Err set if the stream failed.
type Update struct {
	Delta string
	Text  string
	Done  bool
	Err   error
}

// Session is a conversation plus its transcript. One reply streams at a time.
type Session struct {
	conv   vision.Conversation
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	events     []Event
	transcript Transcript
	busy       bool
}

// Open starts a backend conversation seeded with the analysis.
func Open(ctx context.Context, starter vision.ChatStarter, a *domain.MineralAnalysis, logger *slog.Logger) (*Session, error) {
	conv, err := starter.StartChat(ctx, SystemInstruction(a))
	if err != nil {
		return nil, fmt.Errorf("start chat: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{conv: conv, logger: logger, now: time.Now}, nil
}

// Send appends the user message and a placeholder reply, then streams the
// model's answer into the placeholder. The returned channel must be drained;
// it is closed after the Done update. The stream is not cancelled when ctx is.
func (s *Session) Send(ctx context.Context, message string) (<-chan Update, error) {
	if s == nil {
		return nil, ErrNoSession
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.applyLocked(Event{Type: EventUserMessage, Text: message})
	s.applyLocked(Event{Type: EventStreamStarted})
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "chat.send")
	span.SetAttributes(attribute.Int("chat.message_chars", len([]rune(message))))

	updates := make(chan Update, 16)
	start := s.now()

	stream, err := s.conv.SendStream(ctx, message)
	if err != nil {
		go func() {
			defer span.End()
			defer close(updates)
			updates <- s.fail(err, span, start)
		}()
		return updates, nil
	}

	go func() {
		defer span.End()
		defer close(updates)

		for ev := range stream {
			if ev.Err != nil {
				updates <- s.fail(ev.Err, span, start)
				// Drain whatever the backend still sends.
				for range stream {
				}
				return
			}
			if ev.Text == "" {
				continue
			}
			text := s.apply(Event{Type: EventDeltaReceived, Text: ev.Text})
			updates <- Update{Delta: ev.Text, Text: text}
		}

		s.mu.Lock()
		text := s.applyLocked(Event{Type: EventStreamEnded})
		s.busy = false
		s.mu.Unlock()

		s.logger.Info("chat reply complete",
			"reply_chars", len([]rune(text)),
			"duration_ms", s.now().Sub(start).Milliseconds(),
		)
		updates <- Update{Text: text, Done: true}
	}()
	return updates, nil
}

func (s *Session) fail(err error, span trace.Span, start time.Time) Update {
	s.mu.Lock()
	text := s.applyLocked(Event{Type: EventStreamFailed})
	s.busy = false
	s.mu.Unlock()

	span.RecordError(err)
	span.SetStatus(codes.Error, "chat stream failed")
	s.logger.Error("chat reply failed", "error", err, "duration_ms", s.now().Sub(start).Milliseconds())
	return Update{Text: text, Done: true, Err: err}
}

func (s *Session) apply(evt Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(evt)
}

// applyLocked records evt and returns the text of the last message.
func (s *Session) applyLocked(evt Event) string {
	evt.At = s.now()
	s.events = append(s.events, evt)
	s.transcript = Reduce(s.transcript, evt)
	if n := len(s.transcript.Messages); n > 0 {
		return s.transcript.Messages[n-1].Text
	}
	return ""
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcript.Messages)
}

// Events returns a copy of the event log.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}
