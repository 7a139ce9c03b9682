package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vbonduro/minerallens/internal/chat"
	"github.com/vbonduro/minerallens/internal/identify"
	"github.com/vbonduro/minerallens/internal/ingest"
	"github.com/vbonduro/minerallens/internal/session"
)

var ErrNotFound = errors.New("not found")

// sessionStore is the subset of session.Store that IdentifyService requires.
type sessionStore interface {
	Create() (string, *identify.Controller)
	Get(id string) (*identify.Controller, error)
}

// SessionView is a controller snapshot tagged with its session id.
type SessionView struct {
	ID string `json:"id"`
	identify.Snapshot
}

type IdentifyService struct {
	sessions       sessionStore
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewIdentifyService(sessions sessionStore, maxUploadBytes int64, logger *slog.Logger) *IdentifyService {
	return &IdentifyService{
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (s *IdentifyService) CreateSession(_ context.Context) *SessionView {
	id, ctrl := s.sessions.Create()
	s.logger.Info("session created", "session_id", id)
	return &SessionView{ID: id, Snapshot: ctrl.Snapshot()}
}

func (s *IdentifyService) controller(id string) (*identify.Controller, error) {
	ctrl, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return ctrl, err
}

func (s *IdentifyService) Snapshot(_ context.Context, id string) (*SessionView, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return nil, err
	}
	return &SessionView{ID: id, Snapshot: ctrl.Snapshot()}, nil
}

// UploadImage validates and encodes the upload, then runs the identification
// cycle. A rejected upload leaves the session untouched.
func (s *IdentifyService) UploadImage(ctx context.Context, id string, r io.Reader, declaredType string) (*SessionView, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return nil, err
	}

	img, err := ingest.Encode(r, declaredType, s.maxUploadBytes)
	if err != nil {
		s.logger.Warn("upload rejected", "session_id", id, "mime_type", declaredType, "error", err)
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	s.logger.Info("identification started", "session_id", id, "mime_type", img.MediaType, "encoded_bytes", len(img.Data))

	if _, err := ctrl.Identify(ctx, img); err != nil {
		return nil, err
	}
	return &SessionView{ID: id, Snapshot: ctrl.Snapshot()}, nil
}

func (s *IdentifyService) SendMessage(ctx context.Context, id, message string) (<-chan chat.Update, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return nil, err
	}
	return ctrl.Send(ctx, message)
}

func (s *IdentifyService) Reset(_ context.Context, id string) (*SessionView, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Reset(); err != nil {
		return nil, err
	}
	return &SessionView{ID: id, Snapshot: ctrl.Snapshot()}, nil
}

// Image returns the decoded image of the session with its media type.
func (s *IdentifyService) Image(_ context.Context, id string) ([]byte, string, error) {
	ctrl, err := s.controller(id)
	if err != nil {
		return nil, "", err
	}
	img := ctrl.Image()
	if img == nil {
		return nil, "", fmt.Errorf("%w: no image in session %s", ErrNotFound, id)
	}
	data, err := img.Bytes()
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return data, img.MediaType, nil
}
