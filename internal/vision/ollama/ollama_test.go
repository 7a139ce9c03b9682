package ollama

import (
	"context"
	"encoding/json"
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

// fakeOllama mimics /api/chat in both buffered and NDJSON streaming modes.
type fakeOllama struct {
	mu       sync.Mutex
	requests []chatRequest
	reply    string
	chunks   []string
	status   int
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req chatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"error":"model not found"}`, status)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			Model:   req.Model,
			Message: message{Role: "assistant", Content: f.reply},
			Done:    true,
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, c := range f.chunks {
		_ = enc.Encode(chatResponse{Model: req.Model, Message: message{Role: "assistant", Content: c}})
	}
	_ = enc.Encode(chatResponse{Model: req.Model, Message: message{Role: "assistant"}, Done: true})
}

func (f *fakeOllama) last() chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestBackend(t *testing.T, f *fakeOllama) *OllamaBackend {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	b, err := NewOllamaBackend(Options{Host: srv.URL, Model: "llava"})
	require.NoError(t, err)
	return b
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

func TestOllamaAnalyze(t *testing.T) {
	f := &fakeOllama{reply: visiontest.AnalysisJSON}
	b := newTestBackend(t, f)

	got, err := b.Analyze(context.Background(), visiontest.Image())
	require.NoError(t, err)
	assert.Equal(t, visiontest.Analysis(), got)

	req := f.last()
	assert.Equal(t, "llava", req.Model)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, []string{visiontest.Image().Data}, req.Messages[0].Images)
	assert.Equal(t, vision.AnalysisPrompt, req.Messages[0].Content)
	assert.Contains(t, string(req.Format), `"otherCandidates"`)
	assert.InDelta(t, 0.4, req.Options["temperature"], 1e-6)
}

func TestOllamaAnalyzeRejectsSchemaViolation(t *testing.T) {
	b := newTestBackend(t, &fakeOllama{reply: `{"nameEnglish": "Quartz"}`})

	_, err := b.Analyze(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)
}

func TestOllamaAnalyzeEmptyReply(t *testing.T) {
	b := newTestBackend(t, &fakeOllama{})

	_, err := b.Analyze(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, vision.ErrEmptyResponse)
}

func TestOllamaAnalyzeServerError(t *testing.T) {
	b := newTestBackend(t, &fakeOllama{status: http.StatusNotFound})

	_, err := b.Analyze(context.Background(), visiontest.Image())
	assert.Error(t, err)
}

func TestOllamaChat(t *testing.T) {
	f := &fakeOllama{chunks: []string{"It is ", "quartz."}}
	b := newTestBackend(t, f)

	conv, err := b.StartChat(context.Background(), "mineral expert")
	require.NoError(t, err)

	ch, err := conv.SendStream(context.Background(), "what is it?")
	require.NoError(t, err)
	text, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "It is quartz.", text)

	ch, err = conv.SendStream(context.Background(), "sure?")
	require.NoError(t, err)
	_, err = drain(ch)
	require.NoError(t, err)

	req := f.last()
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, message{Role: "system", Content: "mineral expert"}, req.Messages[0])
	assert.Equal(t, message{Role: "assistant", Content: "It is quartz."}, req.Messages[2])
	assert.Equal(t, "sure?", req.Messages[3].Content)
}

func TestOllamaChatServerError(t *testing.T) {
	b := newTestBackend(t, &fakeOllama{status: http.StatusInternalServerError})

	conv, err := b.StartChat(context.Background(), "sys")
	require.NoError(t, err)
	ch, err := conv.SendStream(context.Background(), "hi")
	require.NoError(t, err)
	_, err = drain(ch)
	assert.Error(t, err)
}
