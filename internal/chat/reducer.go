package chat

import (
	"slices"
	"time"

	"github.com/vbonduro/minerallens/internal/domain"
)

type EventType string

const (
	EventUserMessage   EventType = "user-message"
	EventStreamStarted EventType = "stream-started"
	EventDeltaReceived EventType = "delta-received"
	EventStreamEnded   EventType = "stream-ended"
	EventStreamFailed  EventType = "stream-failed"
)

// Event is one entry of a session's ordered log. Text is the user message for
// EventUserMessage and the fragment for EventDeltaReceived.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at"`
}

// Transcript is the visible conversation. While Streaming is set the last
// message is the model reply still being accumulated.
type Transcript struct {
	Messages  []domain.ChatMessage
	Streaming bool
}

// Reduce folds one event into the transcript and returns the new transcript.
// The input is never modified.
func Reduce(t Transcript, evt Event) Transcript {
	msgs := slices.Clone(t.Messages)

	switch evt.Type {
	case EventUserMessage:
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Text: evt.Text})
	case EventStreamStarted:
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleModel})
		return Transcript{Messages: msgs, Streaming: true}
	case EventDeltaReceived:
		// Deltas outside a stream are dropped.
		if t.Streaming && len(msgs) > 0 {
			msgs[len(msgs)-1].Text += evt.Text
		}
		return Transcript{Messages: msgs, Streaming: t.Streaming}
	case EventStreamEnded:
		return Transcript{Messages: msgs}
	case EventStreamFailed:
		if t.Streaming && len(msgs) > 0 {
			msgs[len(msgs)-1].Text = ApologyText
		} else {
			msgs = append(msgs, domain.ChatMessage{Role: domain.RoleModel, Text: ApologyText})
		}
		return Transcript{Messages: msgs}
	}
	return Transcript{Messages: msgs, Streaming: t.Streaming}
}

// Replay rebuilds a transcript from an event log.
func Replay(events []Event) Transcript {
	var t Transcript
	for _, evt := range events {
		t = Reduce(t, evt)
	}
	return t
}
