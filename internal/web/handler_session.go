package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/minerallens/internal/identify"
	"github.com/vbonduro/minerallens/internal/ingest"
	"github.com/vbonduro/minerallens/internal/service"
)

const (
	// Notices shown to the user as-is.
	msgNotImage       = "Please upload an image file."
	msgAnalysisFailed = "鑑定失敗，請檢查網路連線或更換圖片再試一次。"

	// multipartOverhead is the allowance for form boundaries and headers on
	// top of the image itself.
	multipartOverhead = 1 << 20
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, s.static, "index.html")
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	view := s.service.CreateSession(r.Context())
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, msgNotImage)
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	view, err := s.service.UploadImage(r.Context(), id, file, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, mediaType, err := s.service.Image(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write image failed", "session_id", r.PathValue("id"), "error", err)
	}
}

// writeServiceError maps service and domain errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ingest.ErrNotImage), errors.Is(err, ingest.ErrEmpty):
		s.writeError(w, http.StatusBadRequest, msgNotImage)
	case errors.Is(err, ingest.ErrTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, "image too large")
	case errors.Is(err, identify.ErrBusy), errors.Is(err, identify.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, identify.ErrAnalysisFailed):
		s.writeError(w, http.StatusBadGateway, msgAnalysisFailed)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
