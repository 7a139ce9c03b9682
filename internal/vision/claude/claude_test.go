package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/minerallens/internal/vision"
	"github.com/vbonduro/minerallens/internal/vision/visiontest"
)

// fakeClaude answers /messages with either a single JSON message or an SSE
// stream of text deltas, and records the request bodies.
type fakeClaude struct {
	mu     sync.Mutex
	bodies []map[string]any
	reply  string
	deltas []string
	status int
}

func (f *fakeClaude) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	status := f.status
	f.mu.Unlock()

	if !strings.HasSuffix(r.URL.Path, "/messages") {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
		return
	}

	if stream, _ := body["stream"].(bool); !stream {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       body["model"],
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": f.reply}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	event := func(name string, payload any) {
		b, _ := json.Marshal(payload)
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	}
	event("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": "msg_2", "type": "message", "role": "assistant", "content": []any{},
			"model": body["model"], "usage": map[string]any{"input_tokens": 1, "output_tokens": 1},
		},
	})
	event("content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
	for _, d := range f.deltas {
		event("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": d},
		})
	}
	event("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
	event("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn"},
		"usage": map[string]any{"output_tokens": len(f.deltas)},
	})
	event("message_stop", map[string]any{"type": "message_stop"})
}

func (f *fakeClaude) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeClaude) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func newTestBackend(t *testing.T, f *fakeClaude) *ClaudeBackend {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClaudeBackend(Options{APIKey: "sk-test", BaseURL: srv.URL})
}

func drain(ch <-chan vision.StreamEvent) (string, error) {
	var sb strings.Builder
	var err error
	for ev := range ch {
		if ev.Err != nil {
			err = ev.Err
			continue
		}
		sb.WriteString(ev.Text)
	}
	return sb.String(), err
}

func TestClaudeAnalyze(t *testing.T) {
	f := &fakeClaude{reply: visiontest.AnalysisJSON}
	b := newTestBackend(t, f)

	got, err := b.Analyze(context.Background(), visiontest.Image())
	require.NoError(t, err)
	assert.Equal(t, visiontest.Analysis(), got)

	body := f.lastBody()
	assert.Equal(t, DefaultModel, body["model"])
	assert.Contains(t, body["system"], `"historicalStories"`)
	assert.InDelta(t, 0.4, body["temperature"], 1e-6)

	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), visiontest.Image().Data)
	assert.Contains(t, string(raw), `"media_type":"image/png"`)
}

func TestClaudeAnalyzeFencedReply(t *testing.T) {
	b := newTestBackend(t, &fakeClaude{reply: "```json\n" + visiontest.AnalysisJSON + "\n```"})

	got, err := b.Analyze(context.Background(), visiontest.Image())
	require.NoError(t, err)
	assert.Equal(t, "Amethyst", got.NameEnglish)
}

func TestClaudeAnalyzeRejectsSchemaViolation(t *testing.T) {
	b := newTestBackend(t, &fakeClaude{reply: `{"nameEnglish": "Quartz", "historicalStories": ["one"]}`})

	_, err := b.Analyze(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)
}

func TestClaudeAnalyzeAPIError(t *testing.T) {
	b := newTestBackend(t, &fakeClaude{status: http.StatusTooManyRequests})

	_, err := b.Analyze(context.Background(), visiontest.Image())
	assert.Error(t, err)
}

func TestClaudeChat(t *testing.T) {
	f := &fakeClaude{deltas: []string{"紫水晶", "是石英。"}}
	b := newTestBackend(t, f)

	conv, err := b.StartChat(context.Background(), "mineral expert")
	require.NoError(t, err)

	ch, err := conv.SendStream(context.Background(), "這是什麼？")
	require.NoError(t, err)
	text, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "紫水晶是石英。", text)
	assert.Equal(t, "mineral expert", f.lastBody()["system"])

	ch, err = conv.SendStream(context.Background(), "還有呢？")
	require.NoError(t, err)
	_, err = drain(ch)
	require.NoError(t, err)

	msgs, ok := f.lastBody()["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func TestClaudeChatFailureLeavesHistory(t *testing.T) {
	f := &fakeClaude{deltas: []string{"ok"}}
	b := newTestBackend(t, f)

	conv, err := b.StartChat(context.Background(), "sys")
	require.NoError(t, err)

	f.setStatus(http.StatusInternalServerError)
	ch, err := conv.SendStream(context.Background(), "first")
	require.NoError(t, err)
	_, err = drain(ch)
	assert.Error(t, err)

	f.setStatus(0)
	ch, err = conv.SendStream(context.Background(), "second")
	require.NoError(t, err)
	_, err = drain(ch)
	require.NoError(t, err)

	msgs, _ := f.lastBody()["messages"].([]any)
	assert.Len(t, msgs, 1)
}

func TestNormaliseMIME(t *testing.T) {
	assert.Equal(t, "image/png", normaliseMIME("image/png"))
	assert.Equal(t, "image/webp", normaliseMIME("image/webp"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/heic"))
}
