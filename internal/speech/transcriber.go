// Package speech adapts external speech services: Gemini for transcription and
// Polly for synthesis, with synthesized audio cached by content hash.
package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

var (
	// ErrEmptyAudio is returned for a zero-length upload.
	ErrEmptyAudio = errors.New("speech: audio file is empty")
	// ErrUnintelligibleAudio is returned when no words could be recognized.
	ErrUnintelligibleAudio = errors.New("speech: could not understand audio")
	// ErrTranscriptionUnavailable is returned when the transcription service failed.
	ErrTranscriptionUnavailable = errors.New("speech: transcription service unavailable")
	// ErrEmptyText is returned when asked to synthesize blank text.
	ErrEmptyText = errors.New("speech: text is empty")
)

// unintelligibleMarker is what the model is told to answer when it hears no speech.
const unintelligibleMarker = "UNINTELLIGIBLE"

const transcribePrompt = "Transcribe the speech in this audio recording exactly as spoken, in English. " +
	"Return only the transcript text with no commentary. " +
	"If there is no intelligible speech, return the single word " + unintelligibleMarker + "."

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// contentGenerator is the subset of *genai.GenerativeModel used for transcription.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiTranscriber sends audio to Gemini as an inline blob.
type GeminiTranscriber struct {
	client *genai.Client
	model  contentGenerator
	logger *logging.Logger
}

// NewGeminiTranscriber creates a transcriber backed by the given Gemini model.
func NewGeminiTranscriber(ctx context.Context, apiKey, modelID string, logger *logging.Logger) (*GeminiTranscriber, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("speech: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("speech: failed to create gemini client: %w", err)
	}
	model := client.GenerativeModel(modelID)
	model.SetTemperature(0)

	t := newGeminiTranscriber(model, logger)
	t.client = client
	return t, nil
}

func newGeminiTranscriber(model contentGenerator, logger *logging.Logger) *GeminiTranscriber {
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiTranscriber{model: model, logger: logger}
}

// Transcribe implements Transcriber. An empty mimeType is sniffed from the audio.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	mimeType = normalizeAudioMIME(mimeType, audio)

	resp, err := t.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: audio},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		t.logger.Error("transcription request failed", "error", err, "mime_type", mimeType, "bytes", len(audio))
		return "", fmt.Errorf("%w: %v", ErrTranscriptionUnavailable, err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" || strings.EqualFold(strings.Trim(text, ". "), unintelligibleMarker) {
		return "", ErrUnintelligibleAudio
	}
	t.logger.Debug("audio transcribed", "chars", len(text))
	return text, nil
}

// Close releases the underlying client.
func (t *GeminiTranscriber) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// normalizeAudioMIME drops parameters such as ";codecs=opus" and falls back to
// content sniffing when the client sent nothing useful.
func normalizeAudioMIME(mimeType string, audio []byte) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if strings.HasPrefix(mimeType, "audio/") {
		return mimeType
	}
	sniffed := http.DetectContentType(audio)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	if strings.HasPrefix(sniffed, "audio/") {
		return sniffed
	}
	if sniffed == "video/webm" {
		return "audio/webm"
	}
	return "audio/wav"
}
