package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"

	appconfig "github.com/wolfman30/dental-receptionist/internal/config"
	"github.com/wolfman30/dental-receptionist/internal/speech"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// BuildAudioStore keeps synthesized replies in S3 when AUDIO_S3_BUCKET is set,
// otherwise in AUDIO_DIR.
func BuildAudioStore(cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (speech.AudioStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if bucket := strings.TrimSpace(cfg.AudioS3Bucket); bucket != "" {
		ac, err := awsCfg()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info("audio store", "backend", "s3", "bucket", bucket)
		return speech.NewS3AudioStore(NewS3Client(ac, cfg), bucket, "audio"), nil
	}
	store, err := speech.NewDirAudioStore(cfg.AudioDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: audio dir: %w", err)
	}
	logger.Info("audio store", "backend", "dir", "path", cfg.AudioDir)
	return store, nil
}

// BuildSynthesizer renders replies through Polly and caches them in store.
func BuildSynthesizer(cfg *appconfig.Config, awsCfg func() (aws.Config, error), store speech.AudioStore, logger *logging.Logger) (speech.Synthesizer, error) {
	ac, err := awsCfg()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	engine := speech.NewPollyEngine(polly.NewFromConfig(ac), cfg.PollyVoiceID, cfg.PollyEngine)
	return speech.NewCachingSynthesizer(engine, store, logger), nil
}

// BuildTranscriber returns the Gemini transcriber, or nil when no API key is
// configured, in which case voice turns answer 503.
func BuildTranscriber(ctx context.Context, cfg *appconfig.Config, res *Resources, logger *logging.Logger) (speech.Transcriber, error) {
	if logger == nil {
		logger = logging.Default()
	}
	key := strings.TrimSpace(cfg.GeminiAPIKey)
	if key == "" {
		logger.Warn("GEMINI_API_KEY not set; voice transcription disabled")
		return nil, nil
	}
	t, err := speech.NewGeminiTranscriber(ctx, key, cfg.GeminiModelID, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: gemini transcriber: %w", err)
	}
	res.Add(func() { _ = t.Close() })
	return t, nil
}
