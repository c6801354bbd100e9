package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-receptionist/internal/booking"
	"github.com/wolfman30/dental-receptionist/internal/clinic"
	"github.com/wolfman30/dental-receptionist/internal/observability/metrics"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/internal/speech"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Friday.
var testNow = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

const bookingReply = `Perfect, Jane! You're booked for a teeth cleaning on Monday at 2 PM with Dr. Emily Chen.

APPOINTMENT_READY
name: Jane Doe
email: jane@example.com
service: teeth cleaning
date: 2026-10-19
time: 14:00
dentist: Dr. Emily Chen
END_APPOINTMENT`

type scriptedLLM struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []LLMRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return LLMResponse{}, s.errs[i]
	}
	if i >= len(s.replies) {
		return LLMResponse{}, errors.New("no scripted reply")
	}
	return LLMResponse{Text: s.replies[i], Model: "scripted", Usage: TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (s *scriptedLLM) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	req := s.requests[len(s.requests)-1]
	return req.Messages[len(req.Messages)-1].Content
}

type memBackend struct {
	mu   sync.Mutex
	data []byte
}

func (m *memBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return s.text, s.err
}

type stubSynth struct {
	err   error
	texts []string
}

func (s *stubSynth) Synthesize(_ context.Context, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.texts = append(s.texts, text)
	return speech.AudioName(text), nil
}

type recordingNotifier struct {
	err   error
	to    []string
	slots []map[string]string
}

func (n *recordingNotifier) SendAppointmentConfirmation(_ context.Context, to string, slots map[string]string) error {
	n.to = append(n.to, to)
	n.slots = append(n.slots, slots)
	return n.err
}

type recordingAudit struct {
	events []string
}

func (a *recordingAudit) BookingConfirmed(_ context.Context, _, _ string, _ map[string]string, _ []string) error {
	a.events = append(a.events, "booking.confirmed")
	return nil
}

func (a *recordingAudit) BookingBlocked(context.Context, string, []string) error {
	a.events = append(a.events, "booking.blocked")
	return nil
}

func (a *recordingAudit) BookingIncomplete(context.Context, string, []string) error {
	a.events = append(a.events, "booking.incomplete")
	return nil
}

func (a *recordingAudit) NotificationFailed(context.Context, string, string, string) error {
	a.events = append(a.events, "notification.failed")
	return nil
}

func (a *recordingAudit) LLMFallback(context.Context, string, string) error {
	a.events = append(a.events, "llm.fallback")
	return nil
}

type fixture struct {
	orch     *Orchestrator
	llm      *scriptedLLM
	store    *session.Store
	synth    *stubSynth
	notifier *recordingNotifier
	audit    *recordingAudit
	registry *prometheus.Registry
}

func newFixture(t *testing.T, mode booking.Mode, replies ...string) *fixture {
	t.Helper()
	logger := logging.NewWithWriter("error", &strings.Builder{})
	f := &fixture{
		llm:      &scriptedLLM{replies: replies},
		store:    session.NewStore(context.Background(), &memBackend{}, logger, session.WithClock(func() time.Time { return testNow })),
		synth:    &stubSynth{},
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		registry: prometheus.NewRegistry(),
	}
	profile := clinic.DefaultProfile()
	policy := booking.NewPolicy(profile, clinic.DefaultHorizonDays, mode)
	policy.Now = func() time.Time { return testNow }

	ids := 0
	f.orch = NewOrchestrator(Deps{
		LLM:         f.llm,
		Store:       f.store,
		Transcriber: stubTranscriber{text: "I'd like a cleaning"},
		Synthesizer: f.synth,
		Notifier:    f.notifier,
		Audit:       f.audit,
		Profile:     profile,
		Policy:      policy,
		Metrics:     metrics.NewConversationMetrics(f.registry),
	}, Options{
		ContextWindow: 4,
		Now:           func() time.Time { return testNow },
		NewSessionID: func() string {
			ids++
			return fmt.Sprintf("generated-%d", ids)
		},
	}, logger)
	return f
}

func TestGreet(t *testing.T) {
	f := newFixture(t, booking.ModeStrict)

	g, err := f.orch.Greet(context.Background(), "s1")
	require.NoError(t, err)

	want := "Hello! I'm Sarah, the AI receptionist at SmileCare Dental. How may I help you today?"
	assert.Equal(t, "s1", g.SessionID)
	assert.Equal(t, want, g.Text)
	assert.Equal(t, "/api/conversation/audio/"+speech.AudioName(want), g.AudioURL)
	assert.Equal(t, []session.HistoryEntry{{Role: session.RoleAssistant, Content: want}}, f.store.History("s1"))
}

func TestGreet_GeneratesSessionID(t *testing.T) {
	f := newFixture(t, booking.ModeStrict)

	g, err := f.orch.Greet(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "generated-1", g.SessionID)
}

func TestProcessText_Conversational(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, "Sure! What day works best for you?")
	ctx := context.Background()
	_, err := f.orch.Greet(ctx, "s1")
	require.NoError(t, err)

	turn, err := f.orch.ProcessText(ctx, "s1", "  I need a cleaning ")
	require.NoError(t, err)

	assert.Equal(t, "I need a cleaning", turn.UserText)
	assert.Equal(t, "Sure! What day works best for you?", turn.AssistantText)
	assert.Equal(t, IntentConversation, turn.Intent)
	assert.Nil(t, turn.Metadata)
	assert.Equal(t, []State{StateAwaitingInput, StateGenerating, StateExtracting, StateSynthesizing, StateDone}, turn.States)

	prompt := f.llm.lastPrompt()
	assert.Equal(t, "Previous conversation:\nSarah: "+greeting(clinic.DefaultProfile())+"\n\nPatient: I need a cleaning\nSarah:", prompt)

	req := f.llm.requests[0]
	require.Len(t, req.System, 1)
	assert.Equal(t, f.orch.SystemPrompt(), req.System[0])
	assert.Equal(t, generationMaxTokens, req.MaxTokens)
	assert.Equal(t, generationTemperature, req.Temperature)
	assert.Equal(t, generationTopP, req.TopP)

	history := f.store.History("s1")
	require.Len(t, history, 3)
	assert.Equal(t, session.RoleUser, history[1].Role)
	assert.Equal(t, session.RoleAssistant, history[2].Role)
}

func TestProcessText_Booking(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, bookingReply)
	ctx := context.Background()

	turn, err := f.orch.ProcessText(ctx, "s1", "My email is jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, IntentBookAppointment, turn.Intent)
	assert.NotContains(t, turn.AssistantText, booking.OpenSentinel)
	assert.True(t, strings.HasPrefix(turn.AssistantText, "Perfect, Jane!"))
	assert.Equal(t, "Teeth Cleaning", turn.Metadata["service"])
	assert.Contains(t, turn.States, StateBooking)
	assert.NotEmpty(t, turn.AppointmentID)

	appts, err := f.store.Appointments("s1")
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "Jane Doe", appts[0].Name)
	assert.Equal(t, "2026-10-19", appts[0].Date)
	assert.Equal(t, "14:00", appts[0].Time)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", sess.Metadata["email"])

	assert.Equal(t, []string{"jane@example.com"}, f.notifier.to)
	assert.Equal(t, []string{"booking.confirmed"}, f.audit.events)

	history := f.store.History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, turn.AssistantText, history[1].Content)
}

func TestProcessText_BookingWithoutVisibleText(t *testing.T) {
	raw := bookingReply[strings.Index(bookingReply, booking.OpenSentinel):]
	f := newFixture(t, booking.ModeStrict, raw)

	turn, err := f.orch.ProcessText(context.Background(), "s1", "book it")
	require.NoError(t, err)
	assert.Equal(t, IntentBookAppointment, turn.Intent)
	assert.Equal(t, bookedWithoutTextReply, turn.AssistantText)
}

func TestProcessText_StrictBlocksInvalidSlots(t *testing.T) {
	raw := strings.Replace(bookingReply, "time: 14:00", "time: 20:00", 1)
	f := newFixture(t, booking.ModeStrict, raw)

	turn, err := f.orch.ProcessText(context.Background(), "s1", "8 PM please")
	require.NoError(t, err)

	assert.Equal(t, IntentConversation, turn.Intent)
	assert.Contains(t, turn.AssistantText, "preferred time")
	assert.NotContains(t, turn.States, StateBooking)
	assert.Empty(t, f.notifier.to)
	assert.Equal(t, []string{"booking.blocked"}, f.audit.events)

	appts, err := f.store.Appointments("s1")
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestProcessText_StrictBlocksClosedDay(t *testing.T) {
	raw := strings.Replace(bookingReply, "date: 2026-10-19", "date: 2026-10-18", 1)
	f := newFixture(t, booking.ModeStrict, raw)

	turn, err := f.orch.ProcessText(context.Background(), "s1", "Sunday")
	require.NoError(t, err)
	assert.Equal(t, IntentConversation, turn.Intent)
	assert.Contains(t, turn.AssistantText, "closed on Sundays")
}

func TestProcessText_LenientBooksInvalidSlots(t *testing.T) {
	raw := strings.Replace(bookingReply, "time: 14:00", "time: 20:00", 1)
	f := newFixture(t, booking.ModeLenient, raw)

	turn, err := f.orch.ProcessText(context.Background(), "s1", "8 PM please")
	require.NoError(t, err)
	assert.Equal(t, IntentBookAppointment, turn.Intent)
	assert.Equal(t, "20:00", turn.Metadata["time"])
	assert.Len(t, f.notifier.to, 1)
}

func TestProcessText_IncompleteBlock(t *testing.T) {
	raw := "Let me get that booked.\n\nAPPOINTMENT_READY\nname: Jane\nemail: jane@example.com"
	f := newFixture(t, booking.ModeStrict, raw)

	turn, err := f.orch.ProcessText(context.Background(), "s1", "book it")
	require.NoError(t, err)
	assert.Equal(t, IntentConversation, turn.Intent)
	assert.Equal(t, "Let me get that booked.", turn.AssistantText)
	assert.Equal(t, []string{"booking.incomplete"}, f.audit.events)
}

func TestProcessText_LLMFailureUsesFallbackReply(t *testing.T) {
	f := newFixture(t, booking.ModeStrict)
	f.llm.errs = []error{errors.New("upstream 500")}

	turn, err := f.orch.ProcessText(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, IntentError, turn.Intent)
	assert.Equal(t, fallbackReply, turn.AssistantText)
	assert.Equal(t, "/api/conversation/audio/"+speech.AudioName(fallbackReply), turn.AudioURL)
	assert.Equal(t, []string{"llm.fallback"}, f.audit.events)

	history := f.store.History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, fallbackReply, history[1].Content)
}

func TestProcessText_EmptyCompletionUsesFallbackReply(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, "   ")

	turn, err := f.orch.ProcessText(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, IntentError, turn.Intent)
	assert.Equal(t, fallbackReply, turn.AssistantText)
}

func TestProcessText_NotificationFailureStillBooks(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, bookingReply)
	f.notifier.err = errors.New("smtp down")

	turn, err := f.orch.ProcessText(context.Background(), "s1", "book it")
	require.NoError(t, err)
	assert.Equal(t, IntentBookAppointment, turn.Intent)
	assert.Equal(t, []string{"booking.confirmed", "notification.failed"}, f.audit.events)

	appts, err := f.store.Appointments("s1")
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestProcessText_EmptyMessage(t *testing.T) {
	f := newFixture(t, booking.ModeStrict)

	turn, err := f.orch.ProcessText(context.Background(), "s1", "  ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, StateError, turn.State())
	assert.Empty(t, f.llm.requests)
}

func TestProcessText_SynthesisFailure(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, "Hi there!")
	f.synth.err = errors.New("polly throttled")

	turn, err := f.orch.ProcessText(context.Background(), "s1", "hello")
	require.Error(t, err)
	assert.Equal(t, StateError, turn.State())
}

func TestProcessVoice(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, "Happy to help with a cleaning.")

	turn, err := f.orch.ProcessVoice(context.Background(), "s1", []byte("RIFF"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "I'd like a cleaning", turn.UserText)
	assert.Equal(t, StateTranscribing, turn.States[1])
	assert.Equal(t, StateDone, turn.State())
}

func TestProcessVoice_TranscriptionFailure(t *testing.T) {
	f := newFixture(t, booking.ModeStrict)
	f.orch.deps.Transcriber = stubTranscriber{err: speech.ErrUnintelligibleAudio}

	turn, err := f.orch.ProcessVoice(context.Background(), "s1", []byte("noise"), "audio/wav")
	require.ErrorIs(t, err, speech.ErrUnintelligibleAudio)
	assert.Equal(t, StateError, turn.State())
	assert.Empty(t, f.store.History("s1"))
	assert.Empty(t, f.llm.requests)
}

func TestBuildPrompt_Window(t *testing.T) {
	history := []session.HistoryEntry{
		{Role: session.RoleAssistant, Content: "a1"},
		{Role: session.RoleUser, Content: "u1"},
		{Role: session.RoleAssistant, Content: "a2"},
		{Role: session.RoleUser, Content: "u2"},
		{Role: session.RoleAssistant, Content: "a3"},
	}

	got := buildPrompt("Sarah", history, "u3", 2)
	assert.Equal(t, "Previous conversation:\nPatient: u2\nSarah: a3\n\nPatient: u3\nSarah:", got)

	assert.Equal(t, "Patient: hi\nSarah:", buildPrompt("Sarah", nil, "hi", 6))
}

func TestTurnMetrics(t *testing.T) {
	f := newFixture(t, booking.ModeStrict, bookingReply)

	_, err := f.orch.ProcessText(context.Background(), "s1", "book it")
	require.NoError(t, err)

	snap := metrics.TakeSnapshot(f.registry)
	assert.Equal(t, int64(1), snap.TurnsByIntent[IntentBookAppointment])
	assert.Equal(t, int64(1), snap.ExtractionOutcomes["booking_ready"])
	assert.Equal(t, int64(1), snap.Notifications["sent"])
}
