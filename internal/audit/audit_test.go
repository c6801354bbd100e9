package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "booking confirmed",
			event: Event{EventType: EventBookingConfirmed, SessionID: "s1", Details: json.RawMessage(`{"service":"Root Canal"}`)},
		},
		{
			name:  "empty details default to object",
			event: Event{EventType: EventLLMFallback, SessionID: "s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO booking_audit_events").
				WithArgs(sqlmock.AnyArg(), string(tt.event.EventType), tt.event.SessionID, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			assert.NoError(t, service.LogEvent(context.Background(), tt.event))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_LogEventError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO booking_audit_events").WillReturnError(errors.New("db down"))

	err = NewService(db).BookingBlocked(context.Background(), "s1", []string{"date"})
	assert.ErrorContains(t, err, "db down")
}

func TestService_BookingConfirmedOmitsContactData(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var captured []byte
	mock.ExpectExec("INSERT INTO booking_audit_events").
		WithArgs(sqlmock.AnyArg(), string(EventBookingConfirmed), "s1", detailsCapture{&captured}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewService(db).BookingConfirmed(context.Background(), "s1", "appt-1", map[string]string{
		"name": "John", "email": "john@x.com", "service": "Root Canal",
		"date": "2025-01-02", "time": "10:00", "dentist": "Dr. James Wilson",
	}, nil)
	require.NoError(t, err)

	var details Details
	require.NoError(t, json.Unmarshal(captured, &details))
	assert.Equal(t, "appt-1", details.AppointmentID)
	assert.Equal(t, "Root Canal", details.Service)
	assert.False(t, details.Lenient)
	assert.NotContains(t, string(captured), "john@x.com")
}

type detailsCapture struct{ dst *[]byte }

func (d detailsCapture) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if ok {
		*d.dst = b
	}
	return ok
}

func TestService_Disabled(t *testing.T) {
	service := NewService(nil)
	assert.False(t, service.Enabled())
	assert.NoError(t, service.LLMFallback(context.Background(), "s1", "timeout"))

	events, err := service.QueryEvents(context.Background(), Filter{})
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "event_type", "session_id", "details", "created_at"}).
		AddRow(uuid.NewString(), string(EventBookingBlocked), "s1", []byte(`{"invalid_fields":["date"]}`), now)

	mock.ExpectQuery(`SELECT (.+) FROM booking_audit_events WHERE 1 = 1 AND session_id = \$1 AND event_type = \$2`).
		WithArgs("s1", string(EventBookingBlocked)).
		WillReturnRows(rows)

	events, err := NewService(db).QueryEvents(context.Background(), Filter{
		SessionID: "s1",
		EventType: EventBookingBlocked,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventBookingBlocked, events[0].EventType)
	assert.JSONEq(t, `{"invalid_fields":["date"]}`, string(events[0].Details))
}

func TestHandler_ListEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM booking_audit_events").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "session_id", "details", "created_at"}))

	h := NewHandler(NewService(db), nil)

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/audit/events?session_id=s1&limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[],"count":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/audit/events?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/audit/events?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
