package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one caller's conversation: history, collected slots and booked appointments.
type Session struct {
	CreatedAt    Timestamp         `json:"created_at"`
	Messages     []Message         `json:"messages"`
	Metadata     map[string]string `json:"metadata"`
	Appointments []Appointment     `json:"appointments"`
}

// Message is a single utterance. It is never modified after it is appended.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

// HistoryEntry is the role/content pair used to build LLM context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Appointment is a finalized snapshot of the session slots. Keys outside the
// known slot set are kept in Extra.
type Appointment struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Service  string    `json:"service"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	Dentist  string    `json:"dentist"`
	Phone    string            `json:"phone,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	BookedAt Timestamp         `json:"booked_at"`
}

var appointmentKeys = map[string]bool{
	"name": true, "email": true, "service": true, "date": true,
	"time": true, "dentist": true, "phone": true,
}

// AppointmentFromSlots copies slots into an Appointment. Unknown keys go to Extra.
func AppointmentFromSlots(slots map[string]string) Appointment {
	appt := Appointment{
		Name:    slots["name"],
		Email:   slots["email"],
		Service: slots["service"],
		Date:    slots["date"],
		Time:    slots["time"],
		Dentist: slots["dentist"],
		Phone:   slots["phone"],
	}
	for k, v := range slots {
		if appointmentKeys[k] {
			continue
		}
		if appt.Extra == nil {
			appt.Extra = make(map[string]string)
		}
		appt.Extra[k] = v
	}
	return appt
}

// Slots returns the appointment as a slot map.
func (a Appointment) Slots() map[string]string {
	out := map[string]string{
		"name":    a.Name,
		"email":   a.Email,
		"service": a.Service,
		"date":    a.Date,
		"time":    a.Time,
		"dentist": a.Dentist,
	}
	if a.Phone != "" {
		out["phone"] = a.Phone
	}
	for k, v := range a.Extra {
		out[k] = v
	}
	return out
}

// SessionAppointment pairs an appointment with the session that booked it.
type SessionAppointment struct {
	SessionID string `json:"session_id"`
	Appointment
}

func (s *Session) clone() *Session {
	cp := &Session{
		CreatedAt:    s.CreatedAt,
		Messages:     make([]Message, len(s.Messages)),
		Metadata:     make(map[string]string, len(s.Metadata)),
		Appointments: make([]Appointment, len(s.Appointments)),
	}
	copy(cp.Messages, s.Messages)
	copy(cp.Appointments, s.Appointments)
	for k, v := range s.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

func (s *Session) normalize() {
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	if s.Appointments == nil {
		s.Appointments = []Appointment{}
	}
}

// Timestamp marshals as RFC 3339 and also accepts zone-less ISO 8601 values,
// which older stores wrote.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("session: timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("session: unrecognized timestamp %q", raw)
}
