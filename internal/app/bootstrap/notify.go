package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/notify"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// BuildEmailSender picks the lead email provider from EMAIL_PROVIDER. awsCfg is
// only consulted for "ses". A provider without its credentials falls back to the
// logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return nil
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid but SENDGRID_API_KEY is empty; using stub email sender")
	case "ses":
		if awsCfg != nil && cfg.SESFromEmail != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.EmailFromName,
			}, logger)
		}
		logger.Warn("EMAIL_PROVIDER=ses but AWS config or SES_FROM_EMAIL is missing; using stub email sender")
	case "", "none":
		return nil
	default:
		logger.Warn("unknown EMAIL_PROVIDER; using stub email sender", "provider", cfg.EmailProvider)
	}
	return notify.NewStubEmailSender(logger)
}

// BuildLeadNotifier returns the finalization notifier, or nil when no sender is configured.
func BuildLeadNotifier(cfg *appconfig.Config, sender notify.EmailSender, logger *logging.Logger) *notify.LeadNotifier {
	if cfg == nil || sender == nil {
		return nil
	}
	return notify.NewLeadNotifier(sender, cfg.NotifyEmailTo, cfg.DealershipName, cfg.AgentName, logger)
}
