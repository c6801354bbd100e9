// Package audit records an append-only trail of booking decisions in Postgres.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a booking decision.
type EventType string

const (
	// EventBookingConfirmed is logged when an appointment is persisted.
	EventBookingConfirmed EventType = "booking.confirmed"
	// EventBookingBlocked is logged when slot validation refuses a booking.
	EventBookingBlocked EventType = "booking.blocked"
	// EventBookingIncomplete is logged when the assistant emitted a block with missing slots.
	EventBookingIncomplete EventType = "booking.incomplete"
	// EventNotificationFailed is logged when the confirmation email could not be sent.
	EventNotificationFailed EventType = "notification.failed"
	// EventLLMFallback is logged when a turn was answered with the canned fallback reply.
	EventLLMFallback EventType = "llm.fallback"
)

// Event is an immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	SessionID string          `json:"session_id"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Details holds event-specific fields. Patient contact data is never stored here.
type Details struct {
	AppointmentID string   `json:"appointment_id,omitempty"`
	Service       string   `json:"service,omitempty"`
	Date          string   `json:"date,omitempty"`
	Time          string   `json:"time,omitempty"`
	Dentist       string   `json:"dentist,omitempty"`
	InvalidFields []string `json:"invalid_fields,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Lenient       bool     `json:"lenient,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// Service writes and reads audit events.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates an audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Enabled reports whether events will be written.
func (s *Service) Enabled() bool {
	return s != nil && s.db != nil
}

// LogEvent records an audit event. It is a no-op on a disabled service.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if !s.Enabled() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	details := event.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_audit_events (id, event_type, session_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, string(event.EventType), event.SessionID, []byte(details), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

func (s *Service) log(ctx context.Context, eventType EventType, sessionID string, details Details) error {
	detailsJSON, _ := json.Marshal(details)
	return s.LogEvent(ctx, Event{
		EventType: eventType,
		SessionID: sessionID,
		Details:   detailsJSON,
	})
}

// BookingConfirmed logs a persisted appointment.
func (s *Service) BookingConfirmed(ctx context.Context, sessionID, appointmentID string, slots map[string]string, invalid []string) error {
	return s.log(ctx, EventBookingConfirmed, sessionID, Details{
		AppointmentID: appointmentID,
		Service:       slots["service"],
		Date:          slots["date"],
		Time:          slots["time"],
		Dentist:       slots["dentist"],
		InvalidFields: invalid,
		Lenient:       len(invalid) > 0,
	})
}

// BookingBlocked logs a booking refused by slot validation.
func (s *Service) BookingBlocked(ctx context.Context, sessionID string, invalid []string) error {
	return s.log(ctx, EventBookingBlocked, sessionID, Details{InvalidFields: invalid})
}

// BookingIncomplete logs a slot block that lacked required keys.
func (s *Service) BookingIncomplete(ctx context.Context, sessionID string, missing []string) error {
	return s.log(ctx, EventBookingIncomplete, sessionID, Details{MissingFields: missing})
}

// NotificationFailed logs a confirmation email that was not delivered.
func (s *Service) NotificationFailed(ctx context.Context, sessionID, appointmentID, reason string) error {
	return s.log(ctx, EventNotificationFailed, sessionID, Details{AppointmentID: appointmentID, Reason: reason})
}

// LLMFallback logs a turn answered with the fallback reply.
func (s *Service) LLMFallback(ctx context.Context, sessionID, reason string) error {
	return s.log(ctx, EventLLMFallback, sessionID, Details{Reason: reason})
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	SessionID string
	EventType EventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// QueryEvents retrieves audit events, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	if !s.Enabled() {
		return []Event{}, nil
	}
	query := `
		SELECT id, event_type, session_id, details, created_at
		FROM booking_audit_events
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var eventType string
		var details []byte
		if err := rows.Scan(&e.ID, &eventType, &e.SessionID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}
