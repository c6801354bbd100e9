package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/dental-receptionist/internal/clinic"
	appconfig "github.com/wolfman30/dental-receptionist/internal/config"
	"github.com/wolfman30/dental-receptionist/internal/notify"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Email providers accepted by EMAIL_PROVIDER.
const (
	EmailAuto     = "auto"
	EmailSendGrid = "sendgrid"
	EmailSES      = "ses"
	EmailStub     = "stub"
)

// BuildEmailSender picks the confirmation email transport. "auto" prefers
// SendGrid when an API key is set, then SES when a from address is set, and
// otherwise logs messages through the stub. The provider name is returned.
func BuildEmailSender(cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (notify.EmailSender, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	provider := cfg.EmailProvider
	if provider == "" || provider == EmailAuto {
		switch {
		case strings.TrimSpace(cfg.SendGridAPIKey) != "":
			provider = EmailSendGrid
		case strings.TrimSpace(cfg.EmailFromAddress) != "":
			provider = EmailSES
		default:
			provider = EmailStub
		}
	}

	switch provider {
	case EmailSendGrid:
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return nil, "", fmt.Errorf("bootstrap: SENDGRID_API_KEY is required for the sendgrid email provider")
		}
		return sender, provider, nil
	case EmailSES:
		ac, err := awsCfg()
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(ac), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		return sender, provider, nil
	case EmailStub:
		return notify.NewStubEmailSender(logger), provider, nil
	}
	return nil, "", fmt.Errorf("bootstrap: unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
}

// BuildNotifier wraps the selected sender with the confirmation template.
func BuildNotifier(cfg *appconfig.Config, awsCfg func() (aws.Config, error), profile *clinic.Profile, logger *logging.Logger) (*notify.AppointmentNotifier, error) {
	sender, provider, err := BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("confirmation email provider", "provider", provider)
	}
	return notify.NewAppointmentNotifier(sender, profile, logger), nil
}
