package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// memoryBackend keeps the last saved payload and can be told to fail.
type memoryBackend struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	failErr error
	loadErr error
}

func (m *memoryBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data, nil
}

func (m *memoryBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func newTestStore(t *testing.T, backend Backend) *Store {
	t.Helper()
	clock := &fixedClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	n := 0
	return NewStore(context.Background(), backend, logging.Default(),
		WithClock(clock.Now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("appt-%d", n) }),
	)
}

func TestStore_RoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "conversations.json")
	store := newTestStore(t, NewFileBackend(path))

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := store.AppendMessage(ctx, "s1", role, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	reloaded := newTestStore(t, NewFileBackend(path))
	history := reloaded.History("s1")
	if len(history) != 5 {
		t.Fatalf("expected 5 messages after reload, got %d", len(history))
	}
	for i, m := range history {
		if m.Content != fmt.Sprintf("message %d", i) {
			t.Fatalf("message %d out of order: %q", i, m.Content)
		}
	}
	if history[1].Role != RoleAssistant {
		t.Fatalf("expected assistant role, got %s", history[1].Role)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestStore_CreateSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	store := newTestStore(t, backend)

	if err := store.CreateSession(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.AppendMessage(ctx, "s1", RoleAssistant, "Hello!")
	_ = store.MergeMetadata(ctx, "s1", map[string]string{"name": "John"})
	if _, err := store.AppendAppointment(ctx, "s1", Appointment{Name: "John"}); err != nil {
		t.Fatalf("append appointment: %v", err)
	}
	before, _ := store.Get("s1")
	saves := backend.saves

	if err := store.CreateSession(ctx, "s1"); err != nil {
		t.Fatalf("second create: %v", err)
	}

	after, _ := store.Get("s1")
	if len(after.Messages) != 1 || after.Metadata["name"] != "John" || len(after.Appointments) != 1 {
		t.Fatalf("create reset the session: %+v", after)
	}
	if !after.CreatedAt.Equal(before.CreatedAt.Time) {
		t.Fatal("created_at changed on second create")
	}
	if backend.saves != saves {
		t.Fatal("idempotent create should not persist")
	}
}

func TestStore_HistoryUnknownSessionIsEmpty(t *testing.T) {
	store := newTestStore(t, &memoryBackend{})
	history := store.History("missing")
	if history == nil || len(history) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", history)
	}
	if _, err := store.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.Appointments("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_EmptySessionDistinctFromMissing(t *testing.T) {
	store := newTestStore(t, &memoryBackend{})
	_ = store.CreateSession(context.Background(), "s1")

	sess, err := store.Get("s1")
	if err != nil {
		t.Fatalf("expected empty session, got %v", err)
	}
	if sess.Messages == nil || sess.Metadata == nil || sess.Appointments == nil {
		t.Fatalf("expected initialized collections, got %+v", sess)
	}
}

func TestStore_MergeMetadataLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, &memoryBackend{})

	_ = store.MergeMetadata(ctx, "s1", map[string]string{"name": "Jon", "service": "Root Canal"})
	_ = store.MergeMetadata(ctx, "s1", map[string]string{"name": "John", "email": "john@x.com"})

	sess, _ := store.Get("s1")
	want := map[string]string{"name": "John", "service": "Root Canal", "email": "john@x.com"}
	if len(sess.Metadata) != len(want) {
		t.Fatalf("unexpected metadata %v", sess.Metadata)
	}
	for k, v := range want {
		if sess.Metadata[k] != v {
			t.Fatalf("metadata[%s] = %q, want %q", k, sess.Metadata[k], v)
		}
	}
}

func TestStore_AppendAppointmentStampsAndOrders(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, &memoryBackend{})

	first, err := store.AppendAppointment(ctx, "b", Appointment{Name: "Bea", Service: "Root Canal"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID != "appt-1" || first.BookedAt.IsZero() {
		t.Fatalf("expected id and booked_at stamped, got %+v", first)
	}
	_, _ = store.AppendAppointment(ctx, "a", Appointment{Name: "Al"})

	list := store.ListAppointments()
	if len(list) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(list))
	}
	if list[0].SessionID != "b" || list[1].SessionID != "a" {
		t.Fatalf("expected booking order b,a got %s,%s", list[0].SessionID, list[1].SessionID)
	}
}

func TestStore_PersistFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	store := newTestStore(t, backend)
	_ = store.AppendMessage(ctx, "s1", RoleUser, "hi")

	backend.failErr = errors.New("disk full")

	if err := store.AppendMessage(ctx, "s1", RoleUser, "lost"); err == nil {
		t.Fatal("expected persist error")
	}
	if err := store.AppendMessage(ctx, "s2", RoleUser, "lost"); err == nil {
		t.Fatal("expected persist error for new session")
	}
	if got := store.History("s1"); len(got) != 1 {
		t.Fatalf("failed append leaked into memory: %v", got)
	}
	if _, err := store.Get("s2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("failed create leaked into memory")
	}
}

func TestStore_CorruptStoreStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t, NewFileBackend(path))
	if got := store.ListAppointments(); len(got) != 0 {
		t.Fatalf("expected empty store, got %v", got)
	}
	if err := store.AppendMessage(context.Background(), "s1", RoleUser, "hi"); err != nil {
		t.Fatalf("expected writes to recover the store, got %v", err)
	}
}

func TestStore_UnreadableBackendStartsEmpty(t *testing.T) {
	store := newTestStore(t, &memoryBackend{loadErr: errors.New("connection refused")})
	if got := store.History("s1"); len(got) != 0 {
		t.Fatalf("expected empty store, got %v", got)
	}
}

func TestStore_LoadsZoneLessTimestamps(t *testing.T) {
	legacy := `{
  "abc": {
    "created_at": "2024-01-15T10:30:00.123456",
    "messages": [{"role": "user", "content": "hi", "timestamp": "2024-01-15T10:30:01.5"}],
    "metadata": {"name": "John"},
    "appointments": [{"name": "John", "email": "john@x.com", "service": "Root Canal", "date": "2024-01-20", "time": "10:00", "dentist": "Dr. James Wilson", "booked_at": "2024-01-15T10:31:00"}]
  }
}`
	store := newTestStore(t, &memoryBackend{data: []byte(legacy)})

	sess, err := store.Get("abc")
	if err != nil {
		t.Fatalf("expected legacy session, got %v", err)
	}
	if sess.CreatedAt.Year() != 2024 || sess.Messages[0].Timestamp.Second() != 1 {
		t.Fatalf("timestamps not parsed: %+v", sess)
	}
	if sess.Appointments[0].BookedAt.Minute() != 31 {
		t.Fatalf("booked_at not parsed: %+v", sess.Appointments[0])
	}
}

func TestStore_ConcurrentSessionsSerializeWrites(t *testing.T) {
	ctx := context.Background()
	backend := &memoryBackend{}
	store := newTestStore(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.AppendMessage(ctx, fmt.Sprintf("s%d", i), RoleUser, "hi")
		}(i)
	}
	wg.Wait()

	reloaded := newTestStore(t, &memoryBackend{data: backend.data})
	for i := 0; i < 10; i++ {
		if got := reloaded.History(fmt.Sprintf("s%d", i)); len(got) != 1 {
			t.Fatalf("session s%d missing from final artifact", i)
		}
	}
}

func TestAppointmentSlotsRoundTrip(t *testing.T) {
	slots := map[string]string{
		"name": "John", "email": "john@x.com", "service": "Root Canal",
		"date": "2025-01-02", "time": "10:00", "dentist": "Dr. James Wilson",
	}
	appt := AppointmentFromSlots(slots)
	got := appt.Slots()
	if len(got) != len(slots) {
		t.Fatalf("unexpected slots %v", got)
	}
	for k, v := range slots {
		if got[k] != v {
			t.Fatalf("slot %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestAppointmentFromSlotsKeepsExtraKeys(t *testing.T) {
	slots := map[string]string{
		"name": "John", "email": "john@x.com", "service": "Root Canal",
		"date": "2025-01-02", "time": "10:00", "dentist": "Dr. James Wilson",
		"insurance": "Delta Dental", "notes": "prefers window seat",
	}
	appt := AppointmentFromSlots(slots)
	if appt.Extra["insurance"] != "Delta Dental" || appt.Extra["notes"] != "prefers window seat" {
		t.Fatalf("extra keys dropped: %v", appt.Extra)
	}
	if _, ok := appt.Extra["name"]; ok {
		t.Fatalf("known slot leaked into extra: %v", appt.Extra)
	}

	slots["insurance"] = "changed"
	if appt.Extra["insurance"] != "Delta Dental" {
		t.Fatalf("appointment aliases the input map")
	}

	got := appt.Slots()
	if got["notes"] != "prefers window seat" || len(got) != 8 {
		t.Fatalf("unexpected slots %v", got)
	}

	raw, err := json.Marshal(appt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"extra":{"insurance":"Delta Dental"`) {
		t.Fatalf("extra not serialized: %s", raw)
	}
	plain, _ := json.Marshal(AppointmentFromSlots(map[string]string{"name": "Al"}))
	if strings.Contains(string(plain), "extra") {
		t.Fatalf("empty extra should be omitted: %s", plain)
	}
}
