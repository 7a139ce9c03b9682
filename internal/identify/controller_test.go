package identify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/minerallens/internal/chat"
	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/vision"
	"github.com/vbonduro/minerallens/internal/vision/visiontest"
)

func drain(t *testing.T, ch <-chan chat.Update) chat.Update {
	t.Helper()
	var last chat.Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return last
			}
			last = u
		case <-timeout:
			t.Fatal("timed out draining chat updates")
		}
	}
}

func TestNewControllerStartsInUpload(t *testing.T) {
	c := NewController(&visiontest.Backend{}, nil)
	assert.Equal(t, Upload{}, c.State())
	assert.Nil(t, c.Image())

	snap := c.Snapshot()
	assert.Equal(t, domain.ViewUpload, snap.State)
	assert.False(t, snap.HasImage)
	assert.Nil(t, snap.Analysis)
	assert.Empty(t, snap.Messages)
}

func TestIdentifySuccess(t *testing.T) {
	b := &visiontest.Backend{Result: visiontest.Analysis()}
	c := NewController(b, nil)
	img := visiontest.Image()

	got, err := c.Identify(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, visiontest.Analysis(), got)

	r, ok := c.State().(Result)
	require.True(t, ok)
	assert.Same(t, img, r.Image)
	assert.NotNil(t, r.Chat)
	assert.Equal(t, 1, b.AnalyzeCalls())
	assert.Same(t, img, b.LastImage())
	assert.Len(t, b.Instructions(), 1)
}

func TestSnapshotRoundTripsAnalysis(t *testing.T) {
	c := NewController(&visiontest.Backend{Result: visiontest.Analysis()}, nil)
	_, err := c.Identify(context.Background(), visiontest.Image())
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, domain.ViewResult, snap.State)
	assert.True(t, snap.HasImage)
	assert.Equal(t, "image/png", snap.ImageMediaType)
	assert.Equal(t, visiontest.Analysis(), snap.Analysis)
}

func TestIdentifyFailureReturnsToUpload(t *testing.T) {
	cause := vision.ErrEmptyResponse
	b := &visiontest.Backend{AnalyzeErr: cause}
	c := NewController(b, nil)

	_, err := c.Identify(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, Upload{}, c.State())
	assert.Nil(t, c.Image())
	assert.Empty(t, b.Instructions())
}

func TestIdentifyChatOpenFailureReturnsToUpload(t *testing.T) {
	c := NewController(&visiontest.Backend{Result: visiontest.Analysis(), StartErr: errors.New("quota")}, nil)

	_, err := c.Identify(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.Equal(t, Upload{}, c.State())
}

func TestIdentifyNilImage(t *testing.T) {
	b := &visiontest.Backend{Result: visiontest.Analysis()}
	c := NewController(b, nil)

	_, err := c.Identify(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, b.AnalyzeCalls())
}

func TestIdentifyWhileAnalyzing(t *testing.T) {
	b := &visiontest.Backend{Result: visiontest.Analysis(), Gate: make(chan struct{})}
	c := NewController(b, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Identify(context.Background(), visiontest.Image())
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := c.State().(Analyzing)
		return ok
	}, time.Second, time.Millisecond)
	assert.NotNil(t, c.Image())
	assert.Equal(t, domain.ViewAnalyzing, c.Snapshot().State)

	_, err := c.Identify(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.Reset(), ErrBusy)

	close(b.Gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.AnalyzeCalls())
}

func TestIdentifyFromResultRequiresReset(t *testing.T) {
	c := NewController(&visiontest.Backend{Result: visiontest.Analysis()}, nil)
	_, err := c.Identify(context.Background(), visiontest.Image())
	require.NoError(t, err)

	_, err = c.Identify(context.Background(), visiontest.Image())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResetClearsEverything(t *testing.T) {
	b := &visiontest.Backend{
		Result:  visiontest.Analysis(),
		Replies: []visiontest.Reply{{Fragments: []string{"first answer"}}, {Fragments: []string{"second"}}},
	}
	c := NewController(b, nil)

	_, err := c.Identify(context.Background(), visiontest.Image())
	require.NoError(t, err)
	first := c.State().(Result).Chat

	ch, err := c.Send(context.Background(), "question")
	require.NoError(t, err)
	drain(t, ch)
	require.Len(t, c.Snapshot().Messages, 2)

	require.NoError(t, c.Reset())
	assert.Equal(t, Upload{}, c.State())
	assert.Nil(t, c.Image())
	snap := c.Snapshot()
	assert.Nil(t, snap.Analysis)
	assert.Empty(t, snap.Messages)

	_, err = c.Send(context.Background(), "anyone?")
	assert.ErrorIs(t, err, chat.ErrNoSession)

	_, err = c.Identify(context.Background(), visiontest.Image())
	require.NoError(t, err)
	second := c.State().(Result).Chat
	assert.NotSame(t, first, second)
	assert.Empty(t, second.Messages())
	assert.Len(t, b.Instructions(), 2)
}

func TestResetFromUploadIsNoop(t *testing.T) {
	c := NewController(&visiontest.Backend{}, nil)
	assert.NoError(t, c.Reset())
	assert.Equal(t, Upload{}, c.State())
}

func TestSendBeforeResult(t *testing.T) {
	c := NewController(&visiontest.Backend{}, nil)
	_, err := c.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, chat.ErrNoSession)
}

func TestSendStreamsIntoSnapshot(t *testing.T) {
	b := &visiontest.Backend{
		Result:  visiontest.Analysis(),
		Replies: []visiontest.Reply{{Fragments: []string{"水", "晶"}}},
	}
	c := NewController(b, nil)
	_, err := c.Identify(context.Background(), visiontest.Image())
	require.NoError(t, err)

	ch, err := c.Send(context.Background(), "是什麼？")
	require.NoError(t, err)
	last := drain(t, ch)
	assert.Equal(t, "水晶", last.Text)

	snap := c.Snapshot()
	assert.False(t, snap.ChatBusy)
	assert.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Text: "是什麼？"},
		{Role: domain.RoleModel, Text: "水晶"},
	}, snap.Messages)
}
