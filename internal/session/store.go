// Package session owns per-caller conversation state: message history,
// collected booking slots and finalized appointments. Every mutation rewrites
// the whole store to a single durable artifact through a Backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// ErrSessionNotFound is returned by lookups of an unknown session id.
var ErrSessionNotFound = errors.New("session: not found")

// Backend persists the serialized store. Load returns nil bytes and a nil
// error when nothing has been saved yet.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Store keeps all sessions in memory and writes through to a Backend.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	backend  Backend
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides appointment id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewStore loads the prior store from backend. An unreadable or corrupt store
// is logged and replaced by an empty one.
func NewStore(ctx context.Context, backend Backend, logger *logging.Logger, opts ...Option) *Store {
	if backend == nil {
		panic("session: backend cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		sessions: make(map[string]*Session),
		backend:  backend,
		logger:   logger,
		tracer:   otel.Tracer("dental.internal.session"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.backend.Load(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("session store unreadable, starting empty", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	var loaded map[string]*Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		span.RecordError(err)
		s.logger.Warn("session store corrupt, starting empty", "error", err, "bytes", len(data))
		return
	}
	for id, sess := range loaded {
		if sess == nil {
			continue
		}
		sess.normalize()
		s.sessions[id] = sess
	}
	span.SetAttributes(attribute.Int("session.count", len(s.sessions)))
	s.logger.Info("session store loaded", "sessions", len(s.sessions))
}

// CreateSession initializes an empty session. It is a no-op when id exists.
func (s *Store) CreateSession(ctx context.Context, id string) error {
	s.mu.Lock()
	_, exists := s.sessions[id]
	s.mu.Unlock()
	if exists {
		return nil
	}
	return s.mutate(ctx, "session.create", id, func(*Session) {})
}

// AppendMessage records a message, creating the session if needed.
func (s *Store) AppendMessage(ctx context.Context, id, role, content string) error {
	return s.mutate(ctx, "session.append_message", id, func(sess *Session) {
		sess.Messages = append(sess.Messages, Message{
			Role:      role,
			Content:   content,
			Timestamp: Timestamp{s.now()},
		})
	})
}

// MergeMetadata shallow-merges partial into the session slots. Existing keys are overwritten.
func (s *Store) MergeMetadata(ctx context.Context, id string, partial map[string]string) error {
	return s.mutate(ctx, "session.merge_metadata", id, func(sess *Session) {
		for k, v := range partial {
			sess.Metadata[k] = v
		}
	})
}

// AppendAppointment stamps booked_at and an id on appt and appends it.
// The stored copy is returned.
func (s *Store) AppendAppointment(ctx context.Context, id string, appt Appointment) (Appointment, error) {
	appt.BookedAt = Timestamp{s.now()}
	if appt.ID == "" {
		appt.ID = s.newID()
	}
	err := s.mutate(ctx, "session.append_appointment", id, func(sess *Session) {
		sess.Appointments = append(sess.Appointments, appt)
	})
	if err != nil {
		return Appointment{}, err
	}
	return appt, nil
}

// History returns role/content pairs in insertion order. Unknown ids yield an empty slice.
func (s *Store) History(id string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return []HistoryEntry{}
	}
	out := make([]HistoryEntry, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

// Get returns a copy of the session or ErrSessionNotFound.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess.clone(), nil
}

// Appointments returns the appointments of one session or ErrSessionNotFound.
func (s *Store) Appointments(id string) ([]Appointment, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Appointments, nil
}

// ListAppointments returns every appointment across sessions, oldest booking first.
func (s *Store) ListAppointments() []SessionAppointment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SessionAppointment
	for id, sess := range s.sessions {
		for _, appt := range sess.Appointments {
			out = append(out, SessionAppointment{SessionID: id, Appointment: appt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BookedAt.Equal(out[j].BookedAt.Time) {
			return out[i].BookedAt.Before(out[j].BookedAt.Time)
		}
		return out[i].SessionID < out[j].SessionID
	})
	if out == nil {
		out = []SessionAppointment{}
	}
	return out
}

// mutate applies fn to a copy of the session and persists the whole store.
// On a persistence failure the in-memory state is left as it was.
func (s *Store) mutate(ctx context.Context, op, id string, fn func(*Session)) error {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.sessions[id]
	next := s.ensureSession(id)
	fn(next)
	s.sessions[id] = next

	if err := s.persist(ctx); err != nil {
		if existed {
			s.sessions[id] = prev
		} else {
			delete(s.sessions, id)
		}
		span.RecordError(err)
		s.logger.Error("session persist failed", "session_id", id, "op", op, "error", err)
		return err
	}
	return nil
}

// ensureSession returns a private copy of the session, or a fresh one. Callers hold s.mu.
func (s *Store) ensureSession(id string) *Session {
	if sess, ok := s.sessions[id]; ok {
		return sess.clone()
	}
	sess := &Session{CreatedAt: Timestamp{s.now()}}
	sess.normalize()
	return sess
}

// persist writes the full store. Callers hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal store: %w", err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("session: persist store: %w", err)
	}
	return nil
}
