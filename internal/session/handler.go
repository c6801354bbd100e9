package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Handler serves read-only views of the session store.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

// NewHandler creates a session read handler.
func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// AppointmentRoutes returns the /api/appointments router.
func (h *Handler) AppointmentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/list", h.ListAppointments)
	r.Get("/{session_id}", h.GetAppointments)
	return r
}

// GetHistory returns the full session.
// GET /api/conversation/history/{session_id}
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	sess, err := h.store.Get(id)
	if errors.Is(err, ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListAppointments returns every appointment with its session id.
// GET /api/appointments/list
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	appts := h.store.ListAppointments()
	writeJSON(w, http.StatusOK, map[string]any{
		"appointments": appts,
		"count":        len(appts),
	})
}

// GetAppointments returns the appointments of one session.
// GET /api/appointments/{session_id}
func (h *Handler) GetAppointments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	appts, err := h.store.Appointments(id)
	if errors.Is(err, ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load appointments", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
