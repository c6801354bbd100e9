package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-receptionist/internal/audit"
	"github.com/wolfman30/dental-receptionist/internal/conversation"
	httpmiddleware "github.com/wolfman30/dental-receptionist/internal/http/middleware"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/internal/webchat"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Version is reported by the root banner.
const Version = "1.0.0"

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ServiceName         string
	ConversationHandler *conversation.Handler
	SessionHandler      *session.Handler
	AuditHandler        *audit.Handler
	WebChatHandler      *webchat.Handler
	StatsHandler        http.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// Per-IP limit on the endpoints that call the LLM or speech services.
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	name := cfg.ServiceName
	if name == "" {
		name = "AI Receptionist API - SmileCare Dental"
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": name,
			"status":  "active",
			"version": Version,
		})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/conversation", func(conv chi.Router) {
			if cfg.ConversationHandler != nil {
				conv.Get("/audio/{filename}", cfg.ConversationHandler.Audio)
				conv.Group(func(limited chi.Router) {
					if cfg.RateLimitRPS > 0 {
						limited.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
					}
					limited.Get("/greeting", cfg.ConversationHandler.Greeting)
					limited.Post("/process-voice", cfg.ConversationHandler.ProcessVoice)
					limited.Post("/process-text", cfg.ConversationHandler.ProcessText)
					if cfg.WebChatHandler != nil {
						limited.Get("/ws", cfg.WebChatHandler.HandleWebSocket)
					}
				})
			}
			if cfg.SessionHandler != nil {
				conv.Get("/history/{session_id}", cfg.SessionHandler.GetHistory)
			}
		})
		if cfg.SessionHandler != nil {
			api.Mount("/appointments", cfg.SessionHandler.AppointmentRoutes())
		}
		if cfg.AuditHandler != nil {
			api.Get("/audit/events", cfg.AuditHandler.ListEvents)
		}
		if cfg.StatsHandler != nil {
			api.Handle("/stats", cfg.StatsHandler)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
