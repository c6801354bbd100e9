package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-receptionist/internal/speech"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

const defaultMaxUploadBytes int64 = 10 << 20

// Service is the part of the Orchestrator the HTTP layer drives.
type Service interface {
	Greet(ctx context.Context, sessionID string) (*Greeting, error)
	ProcessVoice(ctx context.Context, sessionID string, audio []byte, mimeType string) (*Turn, error)
	ProcessText(ctx context.Context, sessionID, message string) (*Turn, error)
}

// Handler exposes the conversation endpoints.
type Handler struct {
	service        Service
	audio          speech.AudioStore
	logger         *logging.Logger
	maxUploadBytes int64
}

// NewHandler wires the conversation endpoints. maxUploadBytes <= 0 uses 10 MiB.
func NewHandler(service Service, audio speech.AudioStore, maxUploadBytes int64, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{service: service, audio: audio, logger: logger, maxUploadBytes: maxUploadBytes}
}

// Greeting starts a session.
// GET /api/conversation/greeting?session_id=...
func (h *Handler) Greeting(w http.ResponseWriter, r *http.Request) {
	greeting, err := h.service.Greet(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		h.writeError(w, "greeting", err)
		return
	}
	writeJSON(w, http.StatusOK, greeting)
}

// ProcessVoice runs one spoken turn.
// POST /api/conversation/process-voice (multipart: audio, session_id)
func (h *Handler) ProcessVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "audio upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form with an audio file"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio file is required"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read audio"})
		return
	}

	turn, err := h.service.ProcessVoice(r.Context(), r.FormValue("session_id"), audio, header.Header.Get("Content-Type"))
	if err != nil {
		h.writeError(w, "process-voice", err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

type textRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ProcessText runs one typed turn.
// POST /api/conversation/process-text
func (h *Handler) ProcessText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	turn, err := h.service.ProcessText(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.writeError(w, "process-text", err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// Audio streams a synthesized reply.
// GET /api/conversation/audio/{filename}
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if h.audio == nil || !speech.ValidAudioName(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audio file not found"})
		return
	}
	rc, err := h.audio.Open(r.Context(), name)
	if errors.Is(err, speech.ErrAudioNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audio file not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to open audio", "file", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("audio stream interrupted", "file", name, "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("conversation request failed", "op", op, "error", err)
	} else {
		h.logger.Warn("conversation request rejected", "op", op, "error", err)
	}
	msg := http.StatusText(status)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		msg = "message is required"
	case errors.Is(err, speech.ErrEmptyAudio):
		msg = "audio is empty"
	case errors.Is(err, speech.ErrUnintelligibleAudio):
		msg = "could not understand the audio, please try again"
	case errors.Is(err, speech.ErrTranscriptionUnavailable):
		msg = "speech recognition is unavailable"
	}
	writeJSON(w, status, map[string]string{"error": strings.ToLower(msg)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, speech.ErrEmptyAudio):
		return http.StatusBadRequest
	case errors.Is(err, speech.ErrUnintelligibleAudio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, speech.ErrTranscriptionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
