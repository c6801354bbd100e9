// Package conversation runs the voice booking dialogue: it transcribes the
// caller, asks the LLM for a reply, turns any appointment block in that reply
// into a booking, and voices the answer.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-receptionist/internal/booking"
	"github.com/wolfman30/dental-receptionist/internal/clinic"
	"github.com/wolfman30/dental-receptionist/internal/observability/metrics"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/internal/speech"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Turn intents reported to clients.
const (
	IntentConversation    = "conversation"
	IntentBookAppointment = "book_appointment"
	IntentError           = "error"
)

// Generation settings for every completion.
const (
	generationTemperature float32 = 0.7
	generationTopP        float32 = 0.95
	generationMaxTokens   int32   = 400

	defaultContextWindow = 6
	defaultLLMTimeout    = 60 * time.Second
	audioRoute           = "/api/conversation/audio/"
)

// ErrEmptyMessage is returned for a blank text utterance.
var ErrEmptyMessage = errors.New("conversation: message is empty")

// State is a step of a single turn.
type State string

const (
	StateAwaitingInput State = "AWAITING_INPUT"
	StateTranscribing  State = "TRANSCRIBING"
	StateGenerating    State = "GENERATING"
	StateExtracting    State = "EXTRACTING"
	StateBooking       State = "BOOKING"
	StateSynthesizing  State = "SYNTHESIZING"
	StateDone          State = "DONE"
	StateError         State = "ERROR"
)

// Turn is the outcome of one caller utterance.
type Turn struct {
	SessionID     string            `json:"session_id"`
	UserText      string            `json:"user_text"`
	AssistantText string            `json:"assistant_text"`
	Intent        string            `json:"intent"`
	Metadata      map[string]string `json:"metadata"`
	AudioURL      string            `json:"audio_url"`

	// AudioFile is the synthesized artifact name.
	AudioFile string `json:"-"`
	// AppointmentID is set when the turn booked an appointment.
	AppointmentID string `json:"-"`
	// States records every state the turn passed through, in order.
	States []State `json:"-"`
}

// State returns the last state the turn reached.
func (t *Turn) State() State {
	if len(t.States) == 0 {
		return StateAwaitingInput
	}
	return t.States[len(t.States)-1]
}

func (t *Turn) enter(s State) {
	t.States = append(t.States, s)
}

// Greeting is the opening message of a session.
type Greeting struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	AudioURL  string `json:"audio_url"`
}

// Notifier delivers booking confirmations.
type Notifier interface {
	SendAppointmentConfirmation(ctx context.Context, to string, slots map[string]string) error
}

// AuditTrail records booking decisions.
type AuditTrail interface {
	BookingConfirmed(ctx context.Context, sessionID, appointmentID string, slots map[string]string, invalid []string) error
	BookingBlocked(ctx context.Context, sessionID string, invalid []string) error
	BookingIncomplete(ctx context.Context, sessionID string, missing []string) error
	NotificationFailed(ctx context.Context, sessionID, appointmentID, reason string) error
	LLMFallback(ctx context.Context, sessionID, reason string) error
}

// Deps are the collaborators of an Orchestrator. LLM, Store and Synthesizer are required.
type Deps struct {
	LLM         LLMClient
	Store       *session.Store
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Notifier    Notifier
	Audit       AuditTrail
	Profile     *clinic.Profile
	Policy      *booking.Policy
	Metrics     *metrics.ConversationMetrics
}

// Options tune an Orchestrator.
type Options struct {
	// ContextWindow is how many prior messages are sent to the LLM.
	ContextWindow int
	// LLMTimeout bounds a single completion.
	LLMTimeout time.Duration
	// AudioBaseURL is prefixed to audio links, e.g. "https://api.example.com".
	AudioBaseURL string
	// Model labels LLM metrics.
	Model string
	// Now is the clock used for the system prompt date.
	Now func() time.Time
	// NewSessionID generates ids for callers that did not send one.
	NewSessionID func() string
}

// Orchestrator drives a turn through the booking dialogue. It keeps no state
// between turns beyond what it writes to the session store.
type Orchestrator struct {
	deps         Deps
	opts         Options
	systemPrompt string
	logger       *logging.Logger
	tracer       trace.Tracer
}

// NewOrchestrator builds the system prompt once, with the construction-time date.
func NewOrchestrator(deps Deps, opts Options, logger *logging.Logger) *Orchestrator {
	if deps.LLM == nil {
		panic("conversation: llm client cannot be nil")
	}
	if deps.Store == nil {
		panic("conversation: session store cannot be nil")
	}
	if deps.Synthesizer == nil {
		panic("conversation: synthesizer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Profile == nil {
		deps.Profile = clinic.DefaultProfile()
	}
	if deps.Policy == nil {
		deps.Policy = booking.NewPolicy(deps.Profile, clinic.DefaultHorizonDays, booking.ModeStrict)
	}
	if deps.Audit == nil {
		deps.Audit = noopAudit{}
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = defaultContextWindow
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = defaultLLMTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Model == "" {
		opts.Model = "default"
	}
	opts.AudioBaseURL = strings.TrimRight(opts.AudioBaseURL, "/")

	return &Orchestrator{
		deps:         deps,
		opts:         opts,
		systemPrompt: buildSystemPrompt(deps.Profile, opts.Now()),
		logger:       logger,
		tracer:       otel.Tracer("dental.internal.conversation"),
	}
}

// SystemPrompt returns the instruction sent with every completion.
func (o *Orchestrator) SystemPrompt() string {
	return o.systemPrompt
}

// Greet creates the session if needed and records and voices the greeting.
func (o *Orchestrator) Greet(ctx context.Context, sessionID string) (*Greeting, error) {
	sessionID = o.sessionID(sessionID)
	ctx, span := o.tracer.Start(ctx, "conversation.greet", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	text := greeting(o.deps.Profile)
	if err := o.deps.Store.CreateSession(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.deps.Store.AppendMessage(ctx, sessionID, session.RoleAssistant, text); err != nil {
		span.RecordError(err)
		return nil, err
	}
	audio, err := o.synthesize(ctx, text)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.logger.Info("session greeted", "session_id", sessionID)
	return &Greeting{SessionID: sessionID, Text: text, AudioURL: o.audioURL(audio)}, nil
}

// ProcessVoice transcribes audio and runs the resulting utterance as a turn.
// Transcription errors are returned wrapped around the speech sentinel errors.
func (o *Orchestrator) ProcessVoice(ctx context.Context, sessionID string, audio []byte, mimeType string) (*Turn, error) {
	turn := &Turn{SessionID: o.sessionID(sessionID)}
	turn.enter(StateAwaitingInput)

	if o.deps.Transcriber == nil {
		turn.enter(StateError)
		return turn, fmt.Errorf("%w: no transcriber configured", speech.ErrTranscriptionUnavailable)
	}

	ctx, span := o.tracer.Start(ctx, "conversation.process_voice", trace.WithAttributes(attribute.String("session.id", turn.SessionID)))
	defer span.End()

	turn.enter(StateTranscribing)
	start := time.Now()
	text, err := o.deps.Transcriber.Transcribe(ctx, audio, mimeType)
	o.deps.Metrics.ObserveStage("transcribing", time.Since(start).Seconds(), err)
	if err != nil {
		turn.enter(StateError)
		span.RecordError(err)
		o.logger.Warn("transcription failed", "session_id", turn.SessionID, "error", err)
		return turn, err
	}
	turn.UserText = text
	return turn, o.runTurn(ctx, turn)
}

// ProcessText runs a typed utterance as a turn.
func (o *Orchestrator) ProcessText(ctx context.Context, sessionID, message string) (*Turn, error) {
	turn := &Turn{SessionID: o.sessionID(sessionID), UserText: strings.TrimSpace(message)}
	turn.enter(StateAwaitingInput)
	if turn.UserText == "" {
		turn.enter(StateError)
		return turn, ErrEmptyMessage
	}

	ctx, span := o.tracer.Start(ctx, "conversation.process_text", trace.WithAttributes(attribute.String("session.id", turn.SessionID)))
	defer span.End()
	return turn, o.runTurn(ctx, turn)
}

func (o *Orchestrator) runTurn(ctx context.Context, turn *Turn) error {
	store := o.deps.Store
	o.logger.Debug("user utterance", "session_id", turn.SessionID, "text", turn.UserText)

	if err := store.AppendMessage(ctx, turn.SessionID, session.RoleUser, turn.UserText); err != nil {
		turn.enter(StateError)
		return err
	}
	history := store.History(turn.SessionID)
	if n := len(history); n > 0 {
		history = history[:n-1]
	}

	turn.enter(StateGenerating)
	raw, genErr := o.generate(ctx, history, turn.UserText)

	var review booking.Review
	if genErr != nil {
		turn.Intent = IntentError
		turn.AssistantText = fallbackReply
		o.logger.Warn("llm unavailable, using fallback reply", "session_id", turn.SessionID, "error", genErr)
		o.auditErr(o.deps.Audit.LLMFallback(ctx, turn.SessionID, genErr.Error()))
	} else {
		turn.enter(StateExtracting)
		turn.AssistantText, turn.Intent, review = o.extract(ctx, turn.SessionID, raw)
	}

	if err := store.AppendMessage(ctx, turn.SessionID, session.RoleAssistant, turn.AssistantText); err != nil {
		turn.enter(StateError)
		return err
	}

	if turn.Intent == IntentBookAppointment {
		turn.enter(StateBooking)
		if err := o.book(ctx, turn, review); err != nil {
			turn.enter(StateError)
			return err
		}
	}

	turn.enter(StateSynthesizing)
	audio, err := o.synthesize(ctx, turn.AssistantText)
	if err != nil {
		turn.enter(StateError)
		return err
	}
	turn.AudioFile = audio
	turn.AudioURL = o.audioURL(audio)
	turn.enter(StateDone)

	o.deps.Metrics.ObserveTurn(turn.Intent)
	o.logger.Info("turn completed",
		"session_id", turn.SessionID,
		"intent", turn.Intent,
		"appointment_id", turn.AppointmentID,
	)
	return nil
}

// generate asks the LLM for a reply to utterance given prior history.
func (o *Orchestrator) generate(ctx context.Context, history []session.HistoryEntry, utterance string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.llm")
	defer span.End()

	req := LLMRequest{
		System:      []string{o.systemPrompt},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: buildPrompt(o.deps.Profile.AssistantName, history, utterance, o.opts.ContextWindow)}},
		MaxTokens:   generationMaxTokens,
		Temperature: generationTemperature,
		TopP:        generationTopP,
	}
	callCtx, cancel := context.WithTimeout(ctx, o.opts.LLMTimeout)
	defer cancel()

	start := time.Now()
	resp, err := o.deps.LLM.Complete(callCtx, req)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errEmptyCompletion
	}

	model := resp.Model
	if model == "" {
		model = o.opts.Model
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmLatency.WithLabelValues(model, status).Observe(latency.Seconds())
	o.deps.Metrics.ObserveStage("generating", latency.Seconds(), err)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Float64("dental.llm.latency_ms", float64(latency.Milliseconds())),
			attribute.String("dental.llm.model", model),
			attribute.Int("dental.llm.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("dental.llm.output_tokens", int(resp.Usage.OutputTokens)),
			attribute.String("dental.llm.stop_reason", resp.StopReason),
		)
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("conversation: llm completion failed: %w", err)
	}
	observeUsage(model, resp.Usage)
	o.logger.Info("llm completion finished",
		"model", model,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp.Text, nil
}

// extract turns raw LLM output into the visible reply, the intent and, for a
// bookable reply, the slot review.
func (o *Orchestrator) extract(ctx context.Context, sessionID, raw string) (string, string, booking.Review) {
	ext := booking.Extract(raw)
	o.deps.Metrics.ObserveExtraction(ext.Outcome.String())

	reply := ext.Reply
	switch ext.Outcome {
	case booking.BookingIncomplete:
		o.logger.Warn("appointment block incomplete", "session_id", sessionID, "missing", ext.Missing)
		o.auditErr(o.deps.Audit.BookingIncomplete(ctx, sessionID, ext.Missing))
	case booking.BookingReady:
		review := o.deps.Policy.Review(ext.Slots)
		if review.Blocked {
			o.logger.Warn("booking blocked by slot validation", "session_id", sessionID, "invalid", review.Invalid)
			o.auditErr(o.deps.Audit.BookingBlocked(ctx, sessionID, review.Invalid))
			return o.deps.Policy.Clarification(review), IntentConversation, booking.Review{}
		}
		if len(review.Invalid) > 0 {
			o.logger.Warn("booking with invalid slots", "session_id", sessionID, "invalid", review.Invalid)
		}
		if reply == "" {
			reply = bookedWithoutTextReply
		}
		return reply, IntentBookAppointment, review
	}
	if reply == "" {
		reply = fallbackReply
	}
	return reply, IntentConversation, booking.Review{}
}

// book persists the slots and appointment, then sends the confirmation.
// Only store failures are returned; notification is best-effort.
func (o *Orchestrator) book(ctx context.Context, turn *Turn, review booking.Review) error {
	store := o.deps.Store
	slots := review.Slots
	if err := store.MergeMetadata(ctx, turn.SessionID, slots); err != nil {
		return err
	}
	appt, err := store.AppendAppointment(ctx, turn.SessionID, session.AppointmentFromSlots(slots))
	if err != nil {
		return err
	}
	turn.Metadata = slots
	turn.AppointmentID = appt.ID
	o.auditErr(o.deps.Audit.BookingConfirmed(ctx, turn.SessionID, appt.ID, slots, review.Invalid))

	email := strings.TrimSpace(slots["email"])
	if email == "" || o.deps.Notifier == nil {
		return nil
	}
	start := time.Now()
	err = o.deps.Notifier.SendAppointmentConfirmation(ctx, email, slots)
	o.deps.Metrics.ObserveStage("notifying", time.Since(start).Seconds(), err)
	o.deps.Metrics.ObserveNotification(err == nil)
	if err != nil {
		o.logger.Error("appointment confirmation not sent", "session_id", turn.SessionID, "appointment_id", appt.ID, "error", err)
		o.auditErr(o.deps.Audit.NotificationFailed(ctx, turn.SessionID, appt.ID, err.Error()))
	}
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (string, error) {
	start := time.Now()
	name, err := o.deps.Synthesizer.Synthesize(ctx, text)
	o.deps.Metrics.ObserveStage("synthesizing", time.Since(start).Seconds(), err)
	if err != nil {
		o.logger.Error("speech synthesis failed", "error", err)
		return "", err
	}
	return name, nil
}

func (o *Orchestrator) sessionID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return o.opts.NewSessionID()
}

func (o *Orchestrator) audioURL(name string) string {
	return o.opts.AudioBaseURL + audioRoute + name
}

type noopAudit struct{}

func (noopAudit) BookingConfirmed(context.Context, string, string, map[string]string, []string) error {
	return nil
}
func (noopAudit) BookingBlocked(context.Context, string, []string) error { return nil }
func (noopAudit) BookingIncomplete(context.Context, string, []string) error { return nil }
func (noopAudit) NotificationFailed(context.Context, string, string, string) error { return nil }
func (noopAudit) LLMFallback(context.Context, string, string) error { return nil }

func (o *Orchestrator) auditErr(err error) {
	if err != nil {
		o.logger.Warn("audit event not recorded", "error", err)
	}
}

// buildPrompt renders the last window messages of history followed by the
// new utterance, labelled the way the assistant is told to read them.
func buildPrompt(assistantName string, history []session.HistoryEntry, utterance string, window int) string {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, msg := range history {
			speaker := "Patient"
			if msg.Role == session.RoleAssistant {
				speaker = assistantName
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Patient: %s\n%s:", utterance, assistantName)
	return b.String()
}
