// Package webchat carries typed conversation turns over a WebSocket so a
// browser widget can chat with the receptionist without polling.
package webchat

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/wolfman30/dental-receptionist/internal/conversation"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Frame types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeSession = "session"
	TypeHistory = "history"
	TypeTyping  = "typing"
	TypeError   = "error"
)

// History reads the transcript of a session.
type History interface {
	History(id string) []session.HistoryEntry
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Role      string                 `json:"role,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Intent    string                 `json:"intent,omitempty"`
	AudioURL  string                 `json:"audio_url,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	Messages  []session.HistoryEntry `json:"messages,omitempty"`
}

// Handler serves /api/conversation/ws.
type Handler struct {
	service conversation.Service
	history History
	logger  *logging.Logger
	limit   rate.Limit
	burst   int
}

// NewHandler creates a web chat handler. Each connection may send at most
// rps turns per second after an initial burst; rps <= 0 disables the limit.
func NewHandler(service conversation.Service, history History, rps float64, burst int, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Handler{service: service, history: history, logger: logger, limit: limit, burst: burst}
}

// HandleWebSocket upgrades the request and runs turns until the socket closes.
// GET /api/conversation/ws?session_id=...
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(r.Context(), conn, strings.TrimSpace(r.URL.Query().Get("session_id")))
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(ctx context.Context, conn *websocket.Conn, sessionID string) {
	var entries []session.HistoryEntry
	if sessionID != "" && h.history != nil {
		entries = h.history.History(sessionID)
	}

	// A resumed session replays its transcript; a new one is greeted.
	if len(entries) > 0 {
		h.send(conn, OutboundMessage{Type: TypeSession, SessionID: sessionID})
		h.send(conn, OutboundMessage{Type: TypeHistory, Messages: entries})
	} else {
		greeting, err := h.service.Greet(ctx, sessionID)
		if err != nil {
			h.logger.Error("webchat: greeting failed", "error", err)
			h.send(conn, OutboundMessage{Type: TypeError, Text: "Sorry, something went wrong. Please try again."})
			return
		}
		sessionID = greeting.SessionID
		h.send(conn, OutboundMessage{Type: TypeSession, SessionID: sessionID})
		h.send(conn, OutboundMessage{
			Type:     TypeMessage,
			Role:     session.RoleAssistant,
			Text:     greeting.Text,
			AudioURL: greeting.AudioURL,
		})
	}

	h.logger.Info("webchat: connection opened", "session_id", sessionID)
	limiter := rate.NewLimiter(h.limit, h.burst)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "session_id", sessionID, "error", err)
			return
		}

		switch msg.Type {
		case TypePing:
			h.send(conn, OutboundMessage{Type: TypePong})
			continue
		case TypeMessage:
		default:
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		if !limiter.Allow() {
			h.send(conn, OutboundMessage{Type: TypeError, Text: "You're sending messages too quickly. Please wait a moment."})
			continue
		}

		h.send(conn, OutboundMessage{Type: TypeTyping})
		turn, err := h.service.ProcessText(ctx, sessionID, text)
		if err != nil {
			h.logger.Error("webchat: turn failed", "session_id", sessionID, "error", err)
			h.send(conn, OutboundMessage{Type: TypeError, Text: "Sorry, something went wrong. Please try again."})
			continue
		}
		h.send(conn, OutboundMessage{
			Type:      TypeMessage,
			SessionID: turn.SessionID,
			Role:      session.RoleAssistant,
			Text:      turn.AssistantText,
			Intent:    turn.Intent,
			AudioURL:  turn.AudioURL,
			Metadata:  turn.Metadata,
		})
	}
}

func (h *Handler) send(conn *websocket.Conn, msg OutboundMessage) {
	if err := websocket.JSON.Send(conn, msg); err != nil {
		h.logger.Debug("webchat: send failed", "type", msg.Type, "error", err)
	}
}
