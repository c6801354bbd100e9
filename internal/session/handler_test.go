package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*Store, http.Handler) {
	t.Helper()
	store := newTestStore(t, &memoryBackend{})
	h := NewHandler(store, nil)
	r := chi.NewRouter()
	r.Get("/api/conversation/history/{session_id}", h.GetHistory)
	r.Mount("/api/appointments", h.AppointmentRoutes())
	return store, r
}

func TestHandler_GetHistory(t *testing.T) {
	store, router := newTestRouter(t)
	_ = store.AppendMessage(context.Background(), "s1", RoleAssistant, "Hello!")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversation/history/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		CreatedAt string    `json:"created_at"`
		Messages  []Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CreatedAt == "" || len(body.Messages) != 1 || body.Messages[0].Content != "Hello!" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversation/history/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Appointments(t *testing.T) {
	store, router := newTestRouter(t)
	ctx := context.Background()
	_, _ = store.AppendAppointment(ctx, "s1", Appointment{Name: "John", Service: "Root Canal"})
	_ = store.CreateSession(ctx, "empty")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/appointments/list", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Appointments []map[string]any `json:"appointments"`
		Count        int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Appointments[0]["session_id"] != "s1" || list.Appointments[0]["name"] != "John" {
		t.Fatalf("unexpected list %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/appointments/empty", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty session, got %d", rec.Code)
	}
	var one struct {
		Appointments []Appointment `json:"appointments"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &one)
	if one.Appointments == nil || len(one.Appointments) != 0 {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/appointments/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
