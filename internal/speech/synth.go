package speech

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Synthesizer renders reply text to an audio artifact and returns its file name.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// SpeechEngine produces MP3 audio for text.
type SpeechEngine interface {
	Render(ctx context.Context, text string) ([]byte, error)
}

// AudioName is the content-addressed file name for text.
func AudioName(text string) string {
	sum := md5.Sum([]byte(text))
	return "response_" + hex.EncodeToString(sum[:])[:10] + ".mp3"
}

// CachingSynthesizer renders through engine only when store lacks the artifact.
type CachingSynthesizer struct {
	engine SpeechEngine
	store  AudioStore
	logger *logging.Logger
	tracer trace.Tracer
}

// NewCachingSynthesizer wires an engine to an artifact store.
func NewCachingSynthesizer(engine SpeechEngine, store AudioStore, logger *logging.Logger) *CachingSynthesizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &CachingSynthesizer{
		engine: engine,
		store:  store,
		logger: logger,
		tracer: otel.Tracer("dental.internal.speech"),
	}
}

// Synthesize implements Synthesizer.
func (s *CachingSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	name := AudioName(text)

	ctx, span := s.tracer.Start(ctx, "speech.synthesize", trace.WithAttributes(attribute.String("audio.name", name)))
	defer span.End()

	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Bool("audio.cached", exists))
	if exists {
		return name, nil
	}

	audio, err := s.engine.Render(ctx, text)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("speech: synthesis failed: %w", err)
	}
	if err := s.store.Put(ctx, name, audio); err != nil {
		span.RecordError(err)
		return "", err
	}
	s.logger.Debug("audio synthesized", "audio_name", name, "bytes", len(audio))
	return name, nil
}

// PollyAPI is the subset of the Polly client used by PollyEngine.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyEngine renders MP3 through Amazon Polly.
type PollyEngine struct {
	client  PollyAPI
	voiceID string
	engine  string
}

// NewPollyEngine creates a Polly engine. Empty voice and engine default to Joanna and neural.
func NewPollyEngine(client PollyAPI, voiceID, engine string) *PollyEngine {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = "Joanna"
	}
	if strings.TrimSpace(engine) == "" {
		engine = "neural"
	}
	return &PollyEngine{client: client, voiceID: voiceID, engine: strings.ToLower(engine)}
}

// Render implements SpeechEngine.
func (e *PollyEngine) Render(ctx context.Context, text string) ([]byte, error) {
	out, err := e.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: pollytypes.OutputFormatMp3,
		VoiceId:      pollytypes.VoiceId(e.voiceID),
		Engine:       pollytypes.Engine(e.engine),
		LanguageCode: pollytypes.LanguageCodeEnUs,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("speech: read polly stream: %w", err)
	}
	return audio, nil
}
