package bootstrap

import (
	"strings"

	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/messaging"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// BuildOutboundMessenger creates the Twilio reply sender. When credentials are
// missing it returns nil and the reason, and replies are logged instead of sent.
func BuildOutboundMessenger(cfg *appconfig.Config, logger *logging.Logger) (conversation.ReplyMessenger, string) {
	if cfg == nil {
		return nil, "missing config"
	}
	if strings.TrimSpace(cfg.TwilioAccountSID) == "" || strings.TrimSpace(cfg.TwilioAuthToken) == "" {
		return nil, "twilio credentials not configured"
	}
	if strings.TrimSpace(cfg.TwilioFromNumber) == "" {
		return nil, "TWILIO_FROM_NUMBER not configured"
	}
	return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), ""
}
