package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/dental-receptionist/internal/booking"
	"github.com/wolfman30/dental-receptionist/internal/clinic"
	appconfig "github.com/wolfman30/dental-receptionist/internal/config"
	"github.com/wolfman30/dental-receptionist/internal/conversation"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// BuildLLMClient wires Gemini as the primary model and Bedrock as the
// fallback. Either alone is accepted; neither is an error. The returned model
// name labels metrics.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg func() (aws.Config, error), res *Resources, logger *logging.Logger) (conversation.LLMClient, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var primary, fallback conversation.LLMClient
	model := ""
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		gemini, err := conversation.NewGeminiLLMClient(ctx, key, cfg.GeminiModelID)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		res.Add(func() { _ = gemini.Close() })
		primary = gemini
		model = cfg.GeminiModelID
	}
	if modelID := strings.TrimSpace(cfg.BedrockModelID); modelID != "" {
		ac, err := awsCfg()
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		fallback = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(ac), modelID)
		if model == "" {
			model = modelID
		}
	}

	switch {
	case primary == nil && fallback == nil:
		return nil, "", fmt.Errorf("bootstrap: no LLM configured, set GEMINI_API_KEY or BEDROCK_MODEL_ID")
	case primary == nil:
		logger.Info("using LLM", "model", model, "fallback", false)
		return fallback, model, nil
	}
	logger.Info("using LLM", "model", model, "fallback", fallback != nil)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), model, nil
}

// BuildProfile applies the configured booking window to the default clinic profile.
func BuildProfile(cfg *appconfig.Config) *clinic.Profile {
	return clinic.DefaultProfile().WithWindow(cfg.BusinessHoursStart, cfg.BusinessHoursEnd)
}

// BuildPolicy returns the slot validation policy for profile.
func BuildPolicy(cfg *appconfig.Config, profile *clinic.Profile) *booking.Policy {
	return booking.NewPolicy(profile, cfg.BookingHorizonDays, booking.ParseMode(cfg.BookingValidation))
}

// OrchestratorOptions maps config onto orchestrator tuning.
func OrchestratorOptions(cfg *appconfig.Config, model string) conversation.Options {
	return conversation.Options{
		ContextWindow: cfg.ContextWindow,
		LLMTimeout:    cfg.LLMTimeout,
		AudioBaseURL:  cfg.PublicBaseURL,
		Model:         model,
	}
}
